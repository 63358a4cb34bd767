package domain

import "time"

// Event types published after a committed mutation.
const (
	EventAttemptSubmitted = "quiz.attempt_submitted"
	EventQuestCreated     = "quest.created"
	EventQuestCompleted   = "quest.completed"
	EventQuestArchived    = "quest.archived"
)

// Event describes a committed state change.
type Event struct {
	Type       string    `json:"type"`
	StudentID  string    `json:"studentId,omitempty"`
	TeacherID  string    `json:"teacherId"`
	QuizID     string    `json:"quizId,omitempty"`
	QuestID    string    `json:"questId,omitempty"`
	Points     int       `json:"points"`
	Balance    int       `json:"balance"`
	OccurredAt time.Time `json:"occurredAt"`
}
