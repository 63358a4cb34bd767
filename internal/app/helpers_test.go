package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"quest-engine/internal/app"
	"quest-engine/internal/domain"
	"quest-engine/internal/infra/memory"
)

// testClock is a settable clock shared by services under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.Event) error {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type engine struct {
	store   *memory.Store
	quizzes *app.QuizService
	quests  *app.QuestService
	clock   *testClock
	events  *recordingPublisher
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	store := memory.NewStore()
	clock := newTestClock()
	events := &recordingPublisher{}
	repo := memory.NewQuizRepositoryWithClock(store, time.Minute, clock.Now)
	e := &engine{
		store:   store,
		quizzes: app.NewQuizServiceWithClock(store, repo, events, clock.Now),
		quests:  app.NewQuestServiceWithClock(store, events, clock.Now),
		clock:   clock,
		events:  events,
	}
	for _, s := range []domain.Student{
		{ID: "s1", TeacherID: "t1", Name: "Ada", Code: "ADA-1"},
		{ID: "s2", TeacherID: "t1", Name: "Bo", Code: "BO-2"},
		{ID: "s3", TeacherID: "t2", Name: "Cy", Code: "CY-3"},
	} {
		if err := store.CreateStudent(context.Background(), s); err != nil {
			t.Fatalf("create student: %v", err)
		}
	}
	return e
}

// quiz creates a two-question quiz worth 10 and 20 points owned by teacherID.
func (e *engine) quiz(t *testing.T, teacherID string) domain.Quiz {
	t.Helper()
	quiz, err := e.quizzes.CreateQuiz(context.Background(), teacherID, app.QuizDraft{
		Title: "Fractions",
		Questions: []domain.Question{
			{Prompt: "1/2 + 1/2", Choices: []string{"1", "2"}, CorrectAnswer: "1", Points: 10},
			{Prompt: "1/4 of 8", Choices: []string{"2", "4"}, CorrectAnswer: "2", Points: 20},
		},
	})
	if err != nil {
		t.Fatalf("create quiz: %v", err)
	}
	e.clock.Advance(time.Minute)
	return quiz
}

func (e *engine) quest(t *testing.T, teacherID string, typ domain.QuestType, target float64, points int) domain.Quest {
	t.Helper()
	quest, err := e.quests.CreateQuest(context.Background(), teacherID, app.QuestDraft{
		Title:       string(typ),
		Type:        typ,
		TargetValue: target,
		Points:      points,
	})
	if err != nil {
		t.Fatalf("create quest: %v", err)
	}
	e.clock.Advance(time.Minute)
	return quest
}

func (e *engine) submit(t *testing.T, quizID, studentID string, answers ...string) app.AttemptResult {
	t.Helper()
	res, err := e.quizzes.SubmitAttempt(context.Background(), quizID, studentID, answers)
	if err != nil {
		t.Fatalf("submit %s/%s: %v", quizID, studentID, err)
	}
	return res
}

func (e *engine) student(t *testing.T, id string) domain.Student {
	t.Helper()
	s, err := e.store.GetStudent(context.Background(), id)
	if err != nil {
		t.Fatalf("get student: %v", err)
	}
	if !s.Balanced() {
		t.Fatalf("ledger invariant broken for %s: %+v", id, s.Ledger)
	}
	return s
}
