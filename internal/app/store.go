package app

import (
	"context"
	"log"
	"time"

	"quest-engine/internal/domain"
)

// AttemptFilter selects graded attempts for quest evaluation.
type AttemptFilter struct {
	StudentID string
	TeacherID string

	// CreatedSince keeps attempts whose parent quiz was created at or after this instant.
	CreatedSince  time.Time
	CompletedOnly bool
}

// StudentStore reads and creates students. Point fields are only written
// through RecordAttempt and RecordCompletion.
type StudentStore interface {
	GetStudent(ctx context.Context, studentID string) (domain.Student, error)
	CreateStudent(ctx context.Context, student domain.Student) error
}

// QuizStore persists quizzes and their single-attempt answers.
type QuizStore interface {
	CreateQuiz(ctx context.Context, quiz domain.Quiz) error
	ListAttempts(ctx context.Context, filter AttemptFilter) ([]domain.AttemptSummary, error)
	// RecordAttempt appends the answer unless the student already answered the quiz
	// (domain.ErrAlreadyAnswered) and credits answer.TotalScore to the student in the same
	// atomic unit. It returns the student with the updated ledger.
	RecordAttempt(ctx context.Context, answer domain.StudentAnswer) (domain.Student, error)
}

// QuestStore persists quests and their completions.
type QuestStore interface {
	CreateQuest(ctx context.Context, quest domain.Quest) error
	GetQuest(ctx context.Context, questID string) (domain.Quest, error)
	// ListQuests returns every quest of the teacher ordered by creation time.
	ListQuests(ctx context.Context, teacherID string) ([]domain.Quest, error)
	// ArchiveQuest flips an Active quest to Archived; an already archived quest
	// yields domain.ErrAlreadyArchived.
	ArchiveQuest(ctx context.Context, questID string) (domain.Quest, error)
	// RecordCompletion appends the completion if the quest is still Active and the
	// student has none yet (domain.ErrAlreadyCompleted), crediting PointsAwarded
	// in the same atomic unit.
	RecordCompletion(ctx context.Context, questID string, completion domain.Completion) (domain.Quest, domain.Student, error)
}

// Store is the record store the engine runs against.
type Store interface {
	StudentStore
	QuizStore
	QuestStore
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// EventPublisher receives events after their mutation committed.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Publishers fans an event out to every publisher. A failing publisher does
// not stop the others; the first error is returned.
type Publishers []EventPublisher

func (p Publishers) Publish(ctx context.Context, event domain.Event) error {
	var first error
	for _, pub := range p {
		if pub == nil {
			continue
		}
		if err := pub.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// publish is best effort: the mutation is already committed.
func publish(ctx context.Context, events EventPublisher, event domain.Event) {
	if events == nil {
		return
	}
	if err := events.Publish(ctx, event); err != nil {
		log.Printf("publish %s event: %v", event.Type, err)
	}
}
