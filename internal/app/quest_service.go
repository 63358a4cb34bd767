package app

import (
	"context"
	"fmt"
	"time"

	"quest-engine/internal/domain"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// QuestDraft is the teacher input for a new quest.
type QuestDraft struct {
	Title       string           `json:"title" validate:"required"`
	Description string           `json:"description"`
	Type        domain.QuestType `json:"questType" validate:"required"`
	TargetValue float64          `json:"targetValue" validate:"gt=0"`
	Points      int              `json:"points" validate:"gte=0"`
	ExpiresAt   *time.Time       `json:"expiresAt,omitempty"`
}

// QuestProgress is one entry of a student's progress report.
type QuestProgress struct {
	QuestID     string           `json:"questId"`
	Title       string           `json:"title"`
	Type        domain.QuestType `json:"questType"`
	TargetValue float64          `json:"targetValue"`
	Points      int              `json:"points"`
	ExpiresAt   *time.Time       `json:"expiresAt,omitempty"`
	Progress
}

// ProgressStats aggregates a progress report.
type ProgressStats struct {
	TotalQuests       int `json:"totalQuests"`
	CompletedQuests   int `json:"completedQuests"`
	ClaimableQuests   int `json:"claimableQuests"`
	QuestPointsEarned int `json:"questPointsEarned"`
	Points            int `json:"points"`
	PointsEarned      int `json:"pointsEarned"`
}

// ProgressReport is the response of a progress query.
type ProgressReport struct {
	StudentID     string          `json:"studentId"`
	TeacherID     string          `json:"teacherId"`
	QuestProgress []QuestProgress `json:"questProgress"`
	Stats         ProgressStats   `json:"stats"`
}

// ClaimResult is the outcome of a successful claim.
type ClaimResult struct {
	Quest         domain.Quest `json:"quest"`
	PointsAwarded int          `json:"pointsAwarded"`
	TotalPoints   int          `json:"totalPoints"`
}

// QuestService owns the quest lifecycle, progress reporting and reward claims.
type QuestService struct {
	store     Store
	evaluator *Evaluator
	events    EventPublisher
	validate  *validator.Validate
	now       func() time.Time
}

func NewQuestService(store Store, events EventPublisher) *QuestService {
	return NewQuestServiceWithClock(store, events, time.Now)
}

// NewQuestServiceWithClock allows deterministic timestamps in tests.
func NewQuestServiceWithClock(store Store, events EventPublisher, now func() time.Time) *QuestService {
	return &QuestService{
		store:     store,
		evaluator: NewEvaluator(store, now),
		events:    events,
		validate:  validator.New(),
		now:       now,
	}
}

// CreateQuest stores a new Active quest owned by teacherID. Its creation time
// opens the progress window.
func (s *QuestService) CreateQuest(ctx context.Context, teacherID string, draft QuestDraft) (domain.Quest, error) {
	if teacherID == "" {
		return domain.Quest{}, fmt.Errorf("%w: teacher id required", domain.ErrInvalid)
	}
	if err := s.validate.Struct(draft); err != nil {
		return domain.Quest{}, fmt.Errorf("%w: %v", domain.ErrInvalid, err)
	}
	if !draft.Type.Valid() {
		return domain.Quest{}, fmt.Errorf("%w %q", domain.ErrQuestType, draft.Type)
	}
	if draft.Type == domain.QuestScorePercentage && draft.TargetValue > 100 {
		return domain.Quest{}, fmt.Errorf("%w: score percentage target above 100", domain.ErrInvalid)
	}
	now := s.now().UTC()
	if draft.ExpiresAt != nil && !draft.ExpiresAt.After(now) {
		return domain.Quest{}, fmt.Errorf("%w: expiry must be in the future", domain.ErrInvalid)
	}

	quest := domain.Quest{
		ID:          uuid.New().String(),
		TeacherID:   teacherID,
		Title:       draft.Title,
		Description: draft.Description,
		Type:        draft.Type,
		TargetValue: draft.TargetValue,
		Points:      draft.Points,
		Status:      domain.QuestStatusActive,
		CreatedAt:   now,
		ExpiresAt:   draft.ExpiresAt,
		Completions: []domain.Completion{},
	}
	if err := s.store.CreateQuest(ctx, quest); err != nil {
		return domain.Quest{}, domain.NewStorageError("create quest", err)
	}
	publish(ctx, s.events, domain.Event{
		Type:       domain.EventQuestCreated,
		TeacherID:  teacherID,
		QuestID:    quest.ID,
		Points:     quest.Points,
		OccurredAt: now,
	})
	return quest, nil
}

// ArchiveQuest moves an Active quest to Archived. Only the owning teacher may do so.
func (s *QuestService) ArchiveQuest(ctx context.Context, questID, teacherID string) (domain.Quest, error) {
	quest, err := s.store.GetQuest(ctx, questID)
	if err != nil {
		return domain.Quest{}, domain.NewStorageError("get quest", err)
	}
	if quest.TeacherID != teacherID {
		return domain.Quest{}, fmt.Errorf("%w: quest belongs to another teacher", domain.ErrUnauthorized)
	}
	archived, err := s.store.ArchiveQuest(ctx, questID)
	if err != nil {
		return domain.Quest{}, domain.NewStorageError("archive quest", err)
	}
	publish(ctx, s.events, domain.Event{
		Type:       domain.EventQuestArchived,
		TeacherID:  teacherID,
		QuestID:    questID,
		OccurredAt: s.now().UTC(),
	})
	return archived, nil
}

// Progress reports the student's progress on every non-archived quest of
// their teacher.
func (s *QuestService) Progress(ctx context.Context, studentID string) (ProgressReport, error) {
	student, err := s.store.GetStudent(ctx, studentID)
	if err != nil {
		return ProgressReport{}, domain.NewStorageError("get student", err)
	}
	all, err := s.store.ListQuests(ctx, student.TeacherID)
	if err != nil {
		return ProgressReport{}, domain.NewStorageError("list quests", err)
	}
	quests := make([]domain.Quest, 0, len(all))
	for _, q := range all {
		if q.Status == domain.QuestStatusActive {
			quests = append(quests, q)
		}
	}

	evaluated, err := s.evaluator.EvaluateAll(ctx, student, quests)
	if err != nil {
		return ProgressReport{}, err
	}

	report := ProgressReport{
		StudentID:     student.ID,
		TeacherID:     student.TeacherID,
		QuestProgress: make([]QuestProgress, len(quests)),
		Stats: ProgressStats{
			TotalQuests:  len(quests),
			Points:       student.Points,
			PointsEarned: student.PointsEarned,
		},
	}
	for i, q := range quests {
		p := evaluated[i]
		report.QuestProgress[i] = QuestProgress{
			QuestID:     q.ID,
			Title:       q.Title,
			Type:        q.Type,
			TargetValue: q.TargetValue,
			Points:      q.Points,
			ExpiresAt:   q.ExpiresAt,
			Progress:    p,
		}
		switch {
		case p.IsCompleted:
			report.Stats.CompletedQuests++
			if c, ok := q.CompletionFor(student.ID); ok {
				report.Stats.QuestPointsEarned += c.PointsAwarded
			}
		case p.RequirementsMet && !p.IsExpired:
			report.Stats.ClaimableQuests++
		}
	}
	return report, nil
}

// ListActive returns the teacher's quests the student can still work towards:
// Active, not expired and not yet completed by the student.
func (s *QuestService) ListActive(ctx context.Context, studentID, teacherID string) ([]domain.Quest, error) {
	student, err := s.store.GetStudent(ctx, studentID)
	if err != nil {
		return nil, domain.NewStorageError("get student", err)
	}
	if student.TeacherID != teacherID {
		return nil, fmt.Errorf("%w: student belongs to another teacher", domain.ErrUnauthorized)
	}
	all, err := s.store.ListQuests(ctx, teacherID)
	if err != nil {
		return nil, domain.NewStorageError("list quests", err)
	}

	now := s.now()
	out := make([]domain.Quest, 0, len(all))
	for _, q := range all {
		if q.Status != domain.QuestStatusActive || q.ExpiredAt(now) {
			continue
		}
		if _, done := q.CompletionFor(studentID); done {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

// Claim awards the quest's points to the student exactly once, after
// re-evaluating the requirements from fresh state.
func (s *QuestService) Claim(ctx context.Context, questID, studentID string) (ClaimResult, error) {
	quest, err := s.store.GetQuest(ctx, questID)
	if err != nil {
		return ClaimResult{}, domain.NewStorageError("get quest", err)
	}
	now := s.now().UTC()
	if quest.Status != domain.QuestStatusActive {
		return ClaimResult{}, domain.ErrQuestInactive
	}
	if quest.ExpiredAt(now) {
		return ClaimResult{}, domain.ErrQuestExpired
	}

	student, err := s.store.GetStudent(ctx, studentID)
	if err != nil {
		return ClaimResult{}, domain.NewStorageError("get student", err)
	}
	if student.TeacherID != quest.TeacherID {
		return ClaimResult{}, fmt.Errorf("%w: student belongs to another teacher", domain.ErrUnauthorized)
	}
	if _, done := quest.CompletionFor(studentID); done {
		return ClaimResult{}, domain.ErrAlreadyCompleted
	}

	progress, err := s.evaluator.Evaluate(ctx, student, quest)
	if err != nil {
		return ClaimResult{}, err
	}
	if !progress.RequirementsMet {
		return ClaimResult{}, fmt.Errorf("%w: progress %d%%", domain.ErrRequirementsNotMet, progress.ProgressPercent)
	}

	// The store re-checks "no completion yet" and "still active" atomically with
	// the append and the ledger credit.
	completion := domain.Completion{
		ID:            uuid.New().String(),
		StudentID:     studentID,
		PointsAwarded: quest.Points,
		CompletedAt:   now,
	}
	updated, credited, err := s.store.RecordCompletion(ctx, questID, completion)
	if err != nil {
		return ClaimResult{}, domain.NewStorageError("record completion", err)
	}

	publish(ctx, s.events, domain.Event{
		Type:       domain.EventQuestCompleted,
		StudentID:  studentID,
		TeacherID:  quest.TeacherID,
		QuestID:    questID,
		Points:     quest.Points,
		Balance:    credited.Points,
		OccurredAt: now,
	})

	return ClaimResult{Quest: updated, PointsAwarded: quest.Points, TotalPoints: credited.Points}, nil
}
