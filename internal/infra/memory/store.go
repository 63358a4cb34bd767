package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"quest-engine/internal/app"
	"quest-engine/internal/domain"
)

type pairKey struct {
	parentID  string
	studentID string
}

// Store is an in-memory implementation of app.Store. Every conditional write
// runs under a single lock, so check-then-append is one critical section.
type Store struct {
	mu       sync.RWMutex
	students map[string]domain.Student
	quizzes  map[string]*domain.Quiz
	quests   map[string]*domain.Quest

	// answered and completed index (parent, student) pairs instead of scanning.
	answered  map[pairKey]struct{}
	completed map[pairKey]struct{}
}

var _ app.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		students:  make(map[string]domain.Student),
		quizzes:   make(map[string]*domain.Quiz),
		quests:    make(map[string]*domain.Quest),
		answered:  make(map[pairKey]struct{}),
		completed: make(map[pairKey]struct{}),
	}
}

func (s *Store) CreateStudent(_ context.Context, student domain.Student) error {
	if !student.Ledger.Balanced() {
		return fmt.Errorf("%w: unbalanced ledger for student %s", domain.ErrInvalid, student.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.students[student.ID]; ok {
		return fmt.Errorf("student %s already exists", student.ID)
	}
	s.students[student.ID] = student
	return nil
}

func (s *Store) GetStudent(_ context.Context, studentID string) (domain.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	student, ok := s.students[studentID]
	if !ok {
		return domain.Student{}, domain.ErrStudentNotFound
	}
	return student, nil
}

func (s *Store) CreateQuiz(_ context.Context, quiz domain.Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quizzes[quiz.ID]; ok {
		return fmt.Errorf("quiz %s already exists", quiz.ID)
	}
	stored := copyQuiz(quiz)
	stored.Answers = nil
	s.quizzes[quiz.ID] = &stored
	return nil
}

// LoadQuiz implements QuizLoader. The returned quiz carries no answers.
func (s *Store) LoadQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quiz, ok := s.quizzes[quizID]
	if !ok {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	out := copyQuiz(*quiz)
	out.Answers = nil
	return out, nil
}

// Answers returns the recorded answers of a quiz.
func (s *Store) Answers(quizID string) []domain.StudentAnswer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quiz, ok := s.quizzes[quizID]
	if !ok {
		return nil
	}
	return append([]domain.StudentAnswer(nil), quiz.Answers...)
}

func (s *Store) ListAttempts(_ context.Context, filter app.AttemptFilter) ([]domain.AttemptSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.AttemptSummary
	for _, quiz := range s.quizzes {
		if filter.TeacherID != "" && quiz.TeacherID != filter.TeacherID {
			continue
		}
		if quiz.CreatedAt.Before(filter.CreatedSince) {
			continue
		}
		if _, ok := s.answered[pairKey{quiz.ID, filter.StudentID}]; !ok {
			continue
		}
		for _, answer := range quiz.Answers {
			if answer.StudentID != filter.StudentID {
				continue
			}
			if filter.CompletedOnly && answer.Status != domain.AnswerStatusCompleted {
				break
			}
			out = append(out, domain.AttemptSummary{
				QuizID:          quiz.ID,
				TotalScore:      answer.TotalScore,
				QuizTotalPoints: quiz.TotalPoints,
				Status:          answer.Status,
				QuizCreatedAt:   quiz.CreatedAt,
				SubmittedAt:     answer.SubmittedAt,
			})
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

func (s *Store) RecordAttempt(_ context.Context, answer domain.StudentAnswer) (domain.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	quiz, ok := s.quizzes[answer.QuizID]
	if !ok {
		return domain.Student{}, domain.ErrQuizNotFound
	}
	student, ok := s.students[answer.StudentID]
	if !ok {
		return domain.Student{}, domain.ErrStudentNotFound
	}
	key := pairKey{answer.QuizID, answer.StudentID}
	if _, done := s.answered[key]; done {
		return domain.Student{}, domain.ErrAlreadyAnswered
	}
	ledger, err := student.Ledger.Credit(answer.TotalScore)
	if err != nil {
		return domain.Student{}, err
	}

	answer.Selections = append([]domain.GradedSelection(nil), answer.Selections...)
	quiz.Answers = append(quiz.Answers, answer)
	s.answered[key] = struct{}{}
	student.Ledger = ledger
	s.students[student.ID] = student
	return student, nil
}

func (s *Store) CreateQuest(_ context.Context, quest domain.Quest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quests[quest.ID]; ok {
		return fmt.Errorf("quest %s already exists", quest.ID)
	}
	stored := copyQuest(quest)
	s.quests[quest.ID] = &stored
	for _, c := range stored.Completions {
		s.completed[pairKey{quest.ID, c.StudentID}] = struct{}{}
	}
	return nil
}

func (s *Store) GetQuest(_ context.Context, questID string) (domain.Quest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quest, ok := s.quests[questID]
	if !ok {
		return domain.Quest{}, domain.ErrQuestNotFound
	}
	return copyQuest(*quest), nil
}

func (s *Store) ListQuests(_ context.Context, teacherID string) ([]domain.Quest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Quest, 0)
	for _, quest := range s.quests {
		if quest.TeacherID == teacherID {
			out = append(out, copyQuest(*quest))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) ArchiveQuest(_ context.Context, questID string) (domain.Quest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	quest, ok := s.quests[questID]
	if !ok {
		return domain.Quest{}, domain.ErrQuestNotFound
	}
	if quest.Status == domain.QuestStatusArchived {
		return domain.Quest{}, domain.ErrAlreadyArchived
	}
	quest.Status = domain.QuestStatusArchived
	return copyQuest(*quest), nil
}

func (s *Store) RecordCompletion(_ context.Context, questID string, completion domain.Completion) (domain.Quest, domain.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	quest, ok := s.quests[questID]
	if !ok {
		return domain.Quest{}, domain.Student{}, domain.ErrQuestNotFound
	}
	if quest.Status != domain.QuestStatusActive {
		return domain.Quest{}, domain.Student{}, domain.ErrQuestInactive
	}
	student, ok := s.students[completion.StudentID]
	if !ok {
		return domain.Quest{}, domain.Student{}, domain.ErrStudentNotFound
	}
	key := pairKey{questID, completion.StudentID}
	if _, done := s.completed[key]; done {
		return domain.Quest{}, domain.Student{}, domain.ErrAlreadyCompleted
	}
	ledger, err := student.Ledger.Credit(completion.PointsAwarded)
	if err != nil {
		return domain.Quest{}, domain.Student{}, err
	}

	quest.Completions = append(quest.Completions, completion)
	s.completed[key] = struct{}{}
	student.Ledger = ledger
	s.students[student.ID] = student
	return copyQuest(*quest), student, nil
}

func copyQuiz(q domain.Quiz) domain.Quiz {
	q.Questions = append([]domain.Question(nil), q.Questions...)
	for i := range q.Questions {
		q.Questions[i].Choices = append([]string(nil), q.Questions[i].Choices...)
	}
	q.Answers = append([]domain.StudentAnswer(nil), q.Answers...)
	return q
}

func copyQuest(q domain.Quest) domain.Quest {
	q.Completions = append([]domain.Completion{}, q.Completions...)
	if q.ExpiresAt != nil {
		at := *q.ExpiresAt
		q.ExpiresAt = &at
	}
	return q
}
