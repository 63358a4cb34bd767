package domain

// QuestType selects the evaluation formula of a quest.
type QuestType string

const (
	QuestCompleteQuizzes QuestType = "complete_quizzes"
	QuestScorePercentage QuestType = "score_percentage"
	QuestEarnPoints      QuestType = "earn_points"
)

// QuestTypes lists the closed set of supported quest types.
var QuestTypes = []QuestType{QuestCompleteQuizzes, QuestScorePercentage, QuestEarnPoints}

// Valid reports whether t is one of the supported quest types.
func (t QuestType) Valid() bool {
	for _, known := range QuestTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Windowed reports whether only activity after quest creation counts.
// earn_points reads the lifetime accrual and is not windowed.
func (t QuestType) Windowed() bool {
	return t != QuestEarnPoints
}
