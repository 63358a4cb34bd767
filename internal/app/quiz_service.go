package app

import (
	"context"
	"fmt"
	"time"

	"quest-engine/internal/domain"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// QuizDraft is the teacher input for a new quiz.
type QuizDraft struct {
	Title        string            `json:"title" validate:"required"`
	Introduction string            `json:"introduction"`
	Questions    []domain.Question `json:"questions" validate:"required,min=1,dive"`
}

// AttemptResult summarizes a graded submission.
type AttemptResult struct {
	TotalScore    int                  `json:"totalScore"`
	UpdatedPoints int                  `json:"updatedPoints"`
	Answer        domain.StudentAnswer `json:"answer"`
}

// QuizService grades quiz attempts and credits the point ledger.
type QuizService struct {
	store    Store
	quizzes  QuizRepository
	events   EventPublisher
	validate *validator.Validate
	now      func() time.Time
}

func NewQuizService(store Store, quizzes QuizRepository, events EventPublisher) *QuizService {
	return NewQuizServiceWithClock(store, quizzes, events, time.Now)
}

// NewQuizServiceWithClock allows deterministic timestamps in tests.
func NewQuizServiceWithClock(store Store, quizzes QuizRepository, events EventPublisher, now func() time.Time) *QuizService {
	return &QuizService{
		store:    store,
		quizzes:  quizzes,
		events:   events,
		validate: validator.New(),
		now:      now,
	}
}

// CreateQuiz stores a new quiz owned by teacherID with its point total computed.
func (s *QuizService) CreateQuiz(ctx context.Context, teacherID string, draft QuizDraft) (domain.Quiz, error) {
	if teacherID == "" {
		return domain.Quiz{}, fmt.Errorf("%w: teacher id required", domain.ErrInvalid)
	}
	if err := s.validate.Struct(draft); err != nil {
		return domain.Quiz{}, fmt.Errorf("%w: %v", domain.ErrInvalid, err)
	}
	for i, q := range draft.Questions {
		if len(q.Choices) > 0 && !containsString(q.Choices, q.CorrectAnswer) {
			return domain.Quiz{}, fmt.Errorf("%w: question %d correct answer is not one of its choices", domain.ErrInvalid, i)
		}
	}

	quiz := domain.Quiz{
		ID:           uuid.New().String(),
		TeacherID:    teacherID,
		Title:        draft.Title,
		Introduction: draft.Introduction,
		Questions:    draft.Questions,
		TotalPoints:  domain.SumPoints(draft.Questions),
		Status:       domain.QuizStatusCurrent,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateQuiz(ctx, quiz); err != nil {
		return domain.Quiz{}, domain.NewStorageError("create quiz", err)
	}
	return quiz, nil
}

// SubmitAttempt grades the student's single attempt at a quiz, records it and
// credits the score to the student's ledger.
func (s *QuizService) SubmitAttempt(ctx context.Context, quizID, studentID string, selections []string) (AttemptResult, error) {
	if studentID == "" {
		return AttemptResult{}, fmt.Errorf("%w: student id required", domain.ErrInvalid)
	}
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return AttemptResult{}, domain.NewStorageError("load quiz", err)
	}

	graded, total, err := scoreAttempt(quiz, selections)
	if err != nil {
		return AttemptResult{}, err
	}

	status := domain.AnswerStatusCompleted
	for _, sel := range selections {
		if sel == "" {
			status = domain.AnswerStatusNotCompleted
			break
		}
	}

	answer := domain.StudentAnswer{
		ID:          uuid.New().String(),
		QuizID:      quiz.ID,
		StudentID:   studentID,
		Selections:  graded,
		TotalScore:  total,
		Status:      status,
		SubmittedAt: s.now().UTC(),
	}
	student, err := s.store.RecordAttempt(ctx, answer)
	if err != nil {
		return AttemptResult{}, domain.NewStorageError("record attempt", err)
	}

	publish(ctx, s.events, domain.Event{
		Type:       domain.EventAttemptSubmitted,
		StudentID:  studentID,
		TeacherID:  quiz.TeacherID,
		QuizID:     quiz.ID,
		Points:     total,
		Balance:    student.Points,
		OccurredAt: answer.SubmittedAt,
	})

	return AttemptResult{TotalScore: total, UpdatedPoints: student.Points, Answer: answer}, nil
}

// scoreAttempt grades selections positionally: selection i answers question i.
// A correct answer earns the question's points; there is no partial or negative credit.
func scoreAttempt(quiz domain.Quiz, selections []string) ([]domain.GradedSelection, int, error) {
	if len(selections) != len(quiz.Questions) {
		return nil, 0, fmt.Errorf("%w: got %d answers for %d questions", domain.ErrAnswerCount, len(selections), len(quiz.Questions))
	}

	graded := make([]domain.GradedSelection, len(selections))
	total := 0
	for i, q := range quiz.Questions {
		correct := selections[i] == q.CorrectAnswer
		graded[i] = domain.GradedSelection{
			QuestionIndex:  i,
			SelectedAnswer: selections[i],
			IsCorrect:      correct,
		}
		if correct {
			total += q.Points
		}
	}
	return graded, total, nil
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
