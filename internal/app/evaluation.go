package app

import (
	"context"
	"math"
	"time"

	"quest-engine/internal/domain"
)

// Progress is the evaluated state of one quest for one student.
type Progress struct {
	ProgressPercent int  `json:"progressPercent"`
	RequirementsMet bool `json:"requirementsMet"`
	IsCompleted     bool `json:"isCompleted"`
	IsExpired       bool `json:"isExpired"`
}

// measurement is the common contract of every quest rule.
type measurement struct {
	numerator   float64
	denominator float64
	met         bool
}

// evaluationFacts is the activity a rule may look at. Attempts are already
// restricted to the quest's teacher and progress window.
type evaluationFacts struct {
	student  domain.Student
	attempts []domain.AttemptSummary
}

type questRule func(quest domain.Quest, facts evaluationFacts) measurement

var questRules = map[domain.QuestType]questRule{
	domain.QuestCompleteQuizzes: measureCompletedQuizzes,
	domain.QuestScorePercentage: measureScorePercentage,
	domain.QuestEarnPoints:      measureEarnedPoints,
}

func measureCompletedQuizzes(quest domain.Quest, facts evaluationFacts) measurement {
	distinct := make(map[string]struct{}, len(facts.attempts))
	for _, a := range facts.attempts {
		distinct[a.QuizID] = struct{}{}
	}
	count := float64(len(distinct))
	return measurement{numerator: count, denominator: quest.TargetValue, met: count >= quest.TargetValue}
}

func measureScorePercentage(quest domain.Quest, facts evaluationFacts) measurement {
	sum, n := 0.0, 0
	for _, a := range facts.attempts {
		// a zero-point quiz has no meaningful percentage
		if a.QuizTotalPoints <= 0 {
			continue
		}
		sum += float64(a.TotalScore) / float64(a.QuizTotalPoints) * 100
		n++
	}
	if n == 0 {
		return measurement{denominator: quest.TargetValue}
	}
	avg := sum / float64(n)
	return measurement{numerator: avg, denominator: quest.TargetValue, met: avg >= quest.TargetValue}
}

func measureEarnedPoints(quest domain.Quest, facts evaluationFacts) measurement {
	earned := float64(facts.student.PointsEarned)
	return measurement{numerator: earned, denominator: quest.TargetValue, met: earned >= quest.TargetValue}
}

// progressPercent reports min(100, round(numerator/denominator*100)). An unmet
// requirement never reports 100.
func progressPercent(m measurement) int {
	if m.denominator <= 0 {
		if m.met {
			return 100
		}
		return 0
	}
	p := math.Round(m.numerator / m.denominator * 100)
	switch {
	case p >= 100 && !m.met:
		return 99
	case p > 100:
		return 100
	case p < 0:
		return 0
	}
	return int(p)
}

// Evaluator computes quest progress from quiz history and the point ledger.
// It never mutates state.
type Evaluator struct {
	attempts QuizStore
	now      func() time.Time
}

func NewEvaluator(attempts QuizStore, now func() time.Time) *Evaluator {
	if now == nil {
		now = time.Now
	}
	return &Evaluator{attempts: attempts, now: now}
}

// Evaluate computes the student's progress on a single quest.
func (e *Evaluator) Evaluate(ctx context.Context, student domain.Student, quest domain.Quest) (Progress, error) {
	out, err := e.EvaluateAll(ctx, student, []domain.Quest{quest})
	if err != nil {
		return Progress{}, err
	}
	return out[0], nil
}

// EvaluateAll computes progress for several quests, loading attempt history
// once per owning teacher.
func (e *Evaluator) EvaluateAll(ctx context.Context, student domain.Student, quests []domain.Quest) ([]Progress, error) {
	now := e.now()
	history, err := e.loadHistory(ctx, student.ID, quests)
	if err != nil {
		return nil, err
	}

	out := make([]Progress, len(quests))
	for i, quest := range quests {
		expired := quest.ExpiredAt(now)
		if _, done := quest.CompletionFor(student.ID); done {
			out[i] = Progress{ProgressPercent: 100, RequirementsMet: true, IsCompleted: true, IsExpired: expired}
			continue
		}
		rule, ok := questRules[quest.Type]
		if !ok {
			return nil, domain.ErrQuestType
		}

		facts := evaluationFacts{student: student}
		if quest.Type.Windowed() {
			facts.attempts = inWindow(history[quest.TeacherID], quest.CreatedAt)
		}
		m := rule(quest, facts)
		out[i] = Progress{
			ProgressPercent: progressPercent(m),
			RequirementsMet: m.met,
			IsExpired:       expired,
		}
	}
	return out, nil
}

// loadHistory fetches completed attempts per teacher, starting at the teacher's
// earliest windowed quest.
func (e *Evaluator) loadHistory(ctx context.Context, studentID string, quests []domain.Quest) (map[string][]domain.AttemptSummary, error) {
	since := make(map[string]time.Time)
	for _, q := range quests {
		if !q.Type.Windowed() {
			continue
		}
		if _, done := q.CompletionFor(studentID); done {
			continue
		}
		if cur, ok := since[q.TeacherID]; !ok || q.CreatedAt.Before(cur) {
			since[q.TeacherID] = q.CreatedAt
		}
	}

	history := make(map[string][]domain.AttemptSummary, len(since))
	for teacherID, from := range since {
		attempts, err := e.attempts.ListAttempts(ctx, AttemptFilter{
			StudentID:     studentID,
			TeacherID:     teacherID,
			CreatedSince:  from,
			CompletedOnly: true,
		})
		if err != nil {
			return nil, domain.NewStorageError("list attempts", err)
		}
		history[teacherID] = attempts
	}
	return history, nil
}

func inWindow(attempts []domain.AttemptSummary, since time.Time) []domain.AttemptSummary {
	out := make([]domain.AttemptSummary, 0, len(attempts))
	for _, a := range attempts {
		if !a.QuizCreatedAt.Before(since) && a.Status == domain.AnswerStatusCompleted {
			out = append(out, a)
		}
	}
	return out
}
