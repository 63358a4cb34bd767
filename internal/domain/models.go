package domain

import "time"

// Quiz display classification. It does not lock the quiz.
const (
	QuizStatusCurrent   = "Current"
	QuizStatusCompleted = "Completed"
)

// StudentAnswer statuses.
const (
	AnswerStatusCompleted    = "Completed"
	AnswerStatusNotCompleted = "Not Completed"
)

// Student is a learner owned by exactly one teacher.
type Student struct {
	ID           string    `json:"id" yaml:"id"`
	TeacherID    string    `json:"teacherId" yaml:"teacherId"`
	Name         string    `json:"name" yaml:"name"`
	Code         string    `json:"studentCode" yaml:"code"`
	PasswordHash string    `json:"-" yaml:"passwordHash"`
	Ledger       `yaml:",inline"`
	CreatedAt    time.Time `json:"createdAt" yaml:"createdAt"`
}

// Question models a single quiz item. Choices is empty for free-response questions.
type Question struct {
	Prompt        string   `json:"prompt" yaml:"prompt" validate:"required"`
	Choices       []string `json:"choices" yaml:"choices"`
	CorrectAnswer string   `json:"correctAnswer" yaml:"correctAnswer" validate:"required"`
	Opponent      string   `json:"opponent,omitempty" yaml:"opponent"`
	Points        int      `json:"points" yaml:"points" validate:"gte=0"`
}

// Quiz is a teacher-owned ordered list of questions. Answers holds at most one
// StudentAnswer per student; cached quiz content never carries them.
type Quiz struct {
	ID           string          `json:"id"`
	TeacherID    string          `json:"teacherId"`
	Title        string          `json:"title"`
	Introduction string          `json:"introduction"`
	Questions    []Question      `json:"questions"`
	TotalPoints  int             `json:"totalPoints"`
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"createdAt"`
	Answers      []StudentAnswer `json:"answers,omitempty"`
}

// SumPoints returns the total of all question point values.
func SumPoints(questions []Question) int {
	total := 0
	for _, q := range questions {
		total += q.Points
	}
	return total
}

// GradedSelection is the outcome for one question position.
type GradedSelection struct {
	QuestionIndex  int    `json:"questionIndex"`
	SelectedAnswer string `json:"selectedAnswer"`
	IsCorrect      bool   `json:"isCorrect"`
}

// StudentAnswer is a student's single graded attempt at a quiz. Never mutated after creation.
type StudentAnswer struct {
	ID          string            `json:"id"`
	QuizID      string            `json:"quizId"`
	StudentID   string            `json:"studentId"`
	Selections  []GradedSelection `json:"selections"`
	TotalScore  int               `json:"totalScore"`
	Status      string            `json:"status"`
	SubmittedAt time.Time         `json:"submittedAt"`
}

// AttemptSummary is the projection of a StudentAnswer joined with its parent quiz,
// as needed by quest evaluation.
type AttemptSummary struct {
	QuizID          string
	TotalScore      int
	QuizTotalPoints int
	Status          string
	QuizCreatedAt   time.Time
	SubmittedAt     time.Time
}

// Completion records a student's claim of a quest reward.
type Completion struct {
	ID            string    `json:"id"`
	StudentID     string    `json:"studentId"`
	PointsAwarded int       `json:"pointsAwarded"`
	CompletedAt   time.Time `json:"completedAt"`
}

// Quest statuses.
const (
	QuestStatusActive   = "Active"
	QuestStatusArchived = "Archived"
)

// Quest is a teacher-owned standing goal with a one-time point reward.
type Quest struct {
	ID          string       `json:"id"`
	TeacherID   string       `json:"teacherId"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Type        QuestType    `json:"questType"`
	TargetValue float64      `json:"targetValue"`
	Points      int          `json:"points"`
	Status      string       `json:"status"`
	CreatedAt   time.Time    `json:"createdAt"`
	ExpiresAt   *time.Time   `json:"expiresAt,omitempty"`
	Completions []Completion `json:"completions"`
}

// CompletionFor returns the student's completion, if any.
func (q Quest) CompletionFor(studentID string) (Completion, bool) {
	for _, c := range q.Completions {
		if c.StudentID == studentID {
			return c, true
		}
	}
	return Completion{}, false
}

// ExpiredAt reports whether the quest is past its expiry at the given instant.
func (q Quest) ExpiredAt(now time.Time) bool {
	return q.ExpiresAt != nil && now.After(*q.ExpiresAt)
}
