package postgres

import (
	"time"

	"quest-engine/internal/domain"

	"github.com/uptrace/bun"
)

type studentRow struct {
	bun.BaseModel `bun:"table:students,alias:s"`

	ID           string    `bun:"id,pk"`
	TeacherID    string    `bun:"teacher_id,notnull"`
	Name         string    `bun:"name,notnull"`
	Code         string    `bun:"code,notnull"`
	PasswordHash string    `bun:"password_hash,notnull"`
	Points       int       `bun:"points,notnull"`
	PointsEarned int       `bun:"points_earned,notnull"`
	PointsSpent  int       `bun:"points_spent,notnull"`
	CreatedAt    time.Time `bun:"created_at,notnull"`
}

type quizRow struct {
	bun.BaseModel `bun:"table:quizzes,alias:q"`

	ID           string            `bun:"id,pk"`
	TeacherID    string            `bun:"teacher_id,notnull"`
	Title        string            `bun:"title,notnull"`
	Introduction string            `bun:"introduction,notnull"`
	Questions    []domain.Question `bun:"questions,type:jsonb,notnull"`
	TotalPoints  int               `bun:"total_points,notnull"`
	Status       string            `bun:"status,notnull"`
	CreatedAt    time.Time         `bun:"created_at,notnull"`
}

type answerRow struct {
	bun.BaseModel `bun:"table:quiz_answers,alias:qa"`

	ID          string                   `bun:"id,pk"`
	QuizID      string                   `bun:"quiz_id,notnull"`
	StudentID   string                   `bun:"student_id,notnull"`
	Selections  []domain.GradedSelection `bun:"selections,type:jsonb,notnull"`
	TotalScore  int                      `bun:"total_score,notnull"`
	Status      string                   `bun:"status,notnull"`
	SubmittedAt time.Time                `bun:"submitted_at,notnull"`
}

type attemptRow struct {
	QuizID          string    `bun:"quiz_id"`
	TotalScore      int       `bun:"total_score"`
	Status          string    `bun:"status"`
	SubmittedAt     time.Time `bun:"submitted_at"`
	QuizTotalPoints int       `bun:"quiz_total_points"`
	QuizCreatedAt   time.Time `bun:"quiz_created_at"`
}

type questRow struct {
	bun.BaseModel `bun:"table:quests,alias:qs"`

	ID          string     `bun:"id,pk"`
	TeacherID   string     `bun:"teacher_id,notnull"`
	Title       string     `bun:"title,notnull"`
	Description string     `bun:"description,notnull"`
	QuestType   string     `bun:"quest_type,notnull"`
	TargetValue float64    `bun:"target_value,notnull"`
	Points      int        `bun:"points,notnull"`
	Status      string     `bun:"status,notnull"`
	CreatedAt   time.Time  `bun:"created_at,notnull"`
	ExpiresAt   *time.Time `bun:"expires_at"`
}

type completionRow struct {
	bun.BaseModel `bun:"table:quest_completions,alias:qc"`

	ID            string    `bun:"id,pk"`
	QuestID       string    `bun:"quest_id,notnull"`
	StudentID     string    `bun:"student_id,notnull"`
	PointsAwarded int       `bun:"points_awarded,notnull"`
	CompletedAt   time.Time `bun:"completed_at,notnull"`
}

func (r studentRow) toDomain() domain.Student {
	return domain.Student{
		ID:           r.ID,
		TeacherID:    r.TeacherID,
		Name:         r.Name,
		Code:         r.Code,
		PasswordHash: r.PasswordHash,
		Ledger: domain.Ledger{
			Points:       r.Points,
			PointsEarned: r.PointsEarned,
			PointsSpent:  r.PointsSpent,
		},
		CreatedAt: r.CreatedAt,
	}
}

func newStudentRow(s domain.Student) studentRow {
	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return studentRow{
		ID:           s.ID,
		TeacherID:    s.TeacherID,
		Name:         s.Name,
		Code:         s.Code,
		PasswordHash: s.PasswordHash,
		Points:       s.Points,
		PointsEarned: s.PointsEarned,
		PointsSpent:  s.PointsSpent,
		CreatedAt:    createdAt,
	}
}

func newQuizRow(q domain.Quiz) quizRow {
	return quizRow{
		ID:           q.ID,
		TeacherID:    q.TeacherID,
		Title:        q.Title,
		Introduction: q.Introduction,
		Questions:    q.Questions,
		TotalPoints:  q.TotalPoints,
		Status:       q.Status,
		CreatedAt:    q.CreatedAt,
	}
}

func (r questRow) toDomain(completions []completionRow) domain.Quest {
	quest := domain.Quest{
		ID:          r.ID,
		TeacherID:   r.TeacherID,
		Title:       r.Title,
		Description: r.Description,
		Type:        domain.QuestType(r.QuestType),
		TargetValue: r.TargetValue,
		Points:      r.Points,
		Status:      r.Status,
		CreatedAt:   r.CreatedAt,
		ExpiresAt:   r.ExpiresAt,
		Completions: make([]domain.Completion, 0, len(completions)),
	}
	for _, c := range completions {
		quest.Completions = append(quest.Completions, domain.Completion{
			ID:            c.ID,
			StudentID:     c.StudentID,
			PointsAwarded: c.PointsAwarded,
			CompletedAt:   c.CompletedAt,
		})
	}
	return quest
}

func newQuestRow(q domain.Quest) questRow {
	return questRow{
		ID:          q.ID,
		TeacherID:   q.TeacherID,
		Title:       q.Title,
		Description: q.Description,
		QuestType:   string(q.Type),
		TargetValue: q.TargetValue,
		Points:      q.Points,
		Status:      q.Status,
		CreatedAt:   q.CreatedAt,
		ExpiresAt:   q.ExpiresAt,
	}
}
