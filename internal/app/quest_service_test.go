package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quest-engine/internal/app"
	"quest-engine/internal/domain"
)

func TestCompleteQuizzesQuestScenario(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	old := e.quiz(t, "t1")
	e.submit(t, old.ID, "s1", "1", "2")

	quest := e.quest(t, "t1", domain.QuestCompleteQuizzes, 3, 100)
	for i := 0; i < 2; i++ {
		q := e.quiz(t, "t1")
		e.submit(t, q.ID, "s1", "1", "4")
	}

	progress := progressFor(t, e, "s1", quest.ID)
	if progress.ProgressPercent != 67 || progress.IsCompleted || progress.RequirementsMet {
		t.Fatalf("expected 67%% and not completed, got %+v", progress)
	}
	if _, err := e.quests.Claim(ctx, quest.ID, "s1"); !errors.Is(err, domain.ErrRequirementsNotMet) {
		t.Fatalf("expected requirements not met, got %v", err)
	}
	before := e.student(t, "s1")

	third := e.quiz(t, "t1")
	e.submit(t, third.ID, "s1", "2", "2")
	if p := progressFor(t, e, "s1", quest.ID); p.ProgressPercent != 100 || !p.RequirementsMet {
		t.Fatalf("expected 100%% and met, got %+v", p)
	}

	res, err := e.quests.Claim(ctx, quest.ID, "s1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	after := e.student(t, "s1")
	if res.PointsAwarded != 100 || after.Points != before.Points+20+100 || res.TotalPoints != after.Points {
		t.Fatalf("unexpected claim result %+v, ledger %+v", res, after.Ledger)
	}
	if len(res.Quest.Completions) != 1 || res.Quest.Completions[0].StudentID != "s1" {
		t.Fatalf("expected one completion, got %+v", res.Quest.Completions)
	}

	if _, err := e.quests.Claim(ctx, quest.ID, "s1"); !errors.Is(err, domain.ErrAlreadyDone) {
		t.Fatalf("expected already done on second claim, got %v", err)
	}
	if again := e.student(t, "s1"); again.Points != after.Points {
		t.Fatalf("ledger changed on duplicate claim: %+v", again.Ledger)
	}
	if p := progressFor(t, e, "s1", quest.ID); !p.IsCompleted || p.ProgressPercent != 100 {
		t.Fatalf("expected completed quest at 100%%, got %+v", p)
	}
}

func TestClaimConcurrentRetries(t *testing.T) {
	e := newEngine(t)
	quest := e.quest(t, "t1", domain.QuestEarnPoints, 10, 40)
	q := e.quiz(t, "t1")
	e.submit(t, q.ID, "s1", "1", "2")

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.quests.Claim(context.Background(), quest.ID, "s1")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if !errors.Is(err, domain.ErrAlreadyCompleted) {
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 {
		t.Fatalf("expected exactly one successful claim, got %d", ok)
	}
	if s := e.student(t, "s1"); s.PointsEarned != 30+40 {
		t.Fatalf("expected quest reward credited once, got %+v", s.Ledger)
	}
}

func TestScorePercentageWithoutAttempts(t *testing.T) {
	e := newEngine(t)
	quest := e.quest(t, "t1", domain.QuestScorePercentage, 80, 25)

	p := progressFor(t, e, "s1", quest.ID)
	if p.ProgressPercent != 0 || p.RequirementsMet {
		t.Fatalf("expected 0%% and not met, got %+v", p)
	}
	if _, err := e.quests.Claim(context.Background(), quest.ID, "s1"); !errors.Is(err, domain.ErrRequirementsNotMet) {
		t.Fatalf("expected requirements not met, got %v", err)
	}
	if s := e.student(t, "s1"); s.Points != 0 {
		t.Fatalf("expected no points, got %+v", s.Ledger)
	}
}

func TestScorePercentageAveragesWindowedAttempts(t *testing.T) {
	e := newEngine(t)
	before := e.quiz(t, "t1")
	e.submit(t, before.ID, "s1", "x", "x")

	quest := e.quest(t, "t1", domain.QuestScorePercentage, 80, 25)
	a := e.quiz(t, "t1")
	b := e.quiz(t, "t1")
	e.submit(t, a.ID, "s1", "1", "2") // 100%
	e.submit(t, b.ID, "s1", "x", "2") // 66.7%

	p := progressFor(t, e, "s1", quest.ID)
	// average 83.3% against a target of 80
	if !p.RequirementsMet || p.ProgressPercent != 100 {
		t.Fatalf("expected met at 100%%, got %+v", p)
	}
	if _, err := e.quests.Claim(context.Background(), quest.ID, "s1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
}

func TestEarnPointsIgnoresWindow(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	if err := e.store.CreateStudent(ctx, domain.Student{
		ID:        "veteran",
		TeacherID: "t1",
		Ledger:    domain.Ledger{Points: 400, PointsEarned: 500, PointsSpent: 100},
	}); err != nil {
		t.Fatalf("create student: %v", err)
	}
	quest := e.quest(t, "t1", domain.QuestEarnPoints, 500, 50)

	p := progressFor(t, e, "veteran", quest.ID)
	if !p.RequirementsMet || p.ProgressPercent != 100 {
		t.Fatalf("expected lifetime points to satisfy quest, got %+v", p)
	}
	res, err := e.quests.Claim(ctx, quest.ID, "veteran")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	s := e.student(t, "veteran")
	if res.TotalPoints != 450 || s.PointsEarned != 550 || s.PointsSpent != 100 {
		t.Fatalf("unexpected ledger after claim %+v", s.Ledger)
	}
}

func TestClaimPreconditions(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	expiry := e.clock.Now().Add(time.Hour)
	expiring, err := e.quests.CreateQuest(ctx, "t1", app.QuestDraft{
		Title: "Sprint", Type: domain.QuestEarnPoints, TargetValue: 1, Points: 5, ExpiresAt: &expiry,
	})
	if err != nil {
		t.Fatalf("create quest: %v", err)
	}
	archived := e.quest(t, "t1", domain.QuestEarnPoints, 1, 5)
	if _, err := e.quests.ArchiveQuest(ctx, archived.ID, "t1"); err != nil {
		t.Fatalf("archive: %v", err)
	}
	open := e.quest(t, "t1", domain.QuestEarnPoints, 1, 5)
	q := e.quiz(t, "t1")
	e.submit(t, q.ID, "s1", "1", "2")
	e.clock.Advance(2 * time.Hour)

	cases := []struct {
		name    string
		questID string
		student string
		want    error
	}{
		{"unknown quest", "missing", "s1", domain.ErrQuestNotFound},
		{"archived quest", archived.ID, "s1", domain.ErrQuestInactive},
		{"expired quest", expiring.ID, "s1", domain.ErrExpired},
		{"unknown student", open.ID, "ghost", domain.ErrStudentNotFound},
		{"other teacher", open.ID, "s3", domain.ErrUnauthorized},
	}
	for _, c := range cases {
		if _, err := e.quests.Claim(ctx, c.questID, c.student); !errors.Is(err, c.want) {
			t.Fatalf("%s: expected %v, got %v", c.name, c.want, err)
		}
	}
	if s := e.student(t, "s1"); s.Points != 30 {
		t.Fatalf("failed claims must not touch the ledger, got %+v", s.Ledger)
	}
}

func TestListActiveExcludesCompletedAndExpired(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	expiry := e.clock.Now().Add(30 * time.Minute)
	expiring, err := e.quests.CreateQuest(ctx, "t1", app.QuestDraft{
		Title: "Soon", Type: domain.QuestCompleteQuizzes, TargetValue: 1, Points: 5, ExpiresAt: &expiry,
	})
	if err != nil {
		t.Fatalf("create quest: %v", err)
	}
	done := e.quest(t, "t1", domain.QuestEarnPoints, 1, 5)
	pending := e.quest(t, "t1", domain.QuestCompleteQuizzes, 5, 5)
	e.quest(t, "t2", domain.QuestEarnPoints, 1, 5)

	q := e.quiz(t, "t1")
	e.submit(t, q.ID, "s1", "1", "2")
	if _, err := e.quests.Claim(ctx, done.ID, "s1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	e.clock.Advance(time.Hour)

	quests, err := e.quests.ListActive(ctx, "s1", "t1")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(quests) != 1 || quests[0].ID != pending.ID {
		t.Fatalf("expected only pending quest, got %+v (expired %s)", quests, expiring.ID)
	}

	if _, err := e.quests.ListActive(ctx, "s1", "t2"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for foreign teacher, got %v", err)
	}
}

func TestProgressReportStats(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	claimed := e.quest(t, "t1", domain.QuestEarnPoints, 10, 15)
	claimable := e.quest(t, "t1", domain.QuestEarnPoints, 20, 5)
	e.quest(t, "t1", domain.QuestCompleteQuizzes, 4, 5)
	archived := e.quest(t, "t1", domain.QuestEarnPoints, 1, 5)
	if _, err := e.quests.ArchiveQuest(ctx, archived.ID, "t1"); err != nil {
		t.Fatalf("archive: %v", err)
	}

	q := e.quiz(t, "t1")
	e.submit(t, q.ID, "s1", "1", "2")
	if _, err := e.quests.Claim(ctx, claimed.ID, "s1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	report, err := e.quests.Progress(ctx, "s1")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	want := app.ProgressStats{
		TotalQuests:       3,
		CompletedQuests:   1,
		ClaimableQuests:   1,
		QuestPointsEarned: 15,
		Points:            45,
		PointsEarned:      45,
	}
	if report.Stats != want {
		t.Fatalf("expected stats %+v, got %+v", want, report.Stats)
	}
	if report.QuestProgress[1].QuestID != claimable.ID || report.QuestProgress[2].ProgressPercent != 25 {
		t.Fatalf("unexpected progress entries %+v", report.QuestProgress)
	}
}

func TestCreateQuestValidation(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	past := e.clock.Now().Add(-time.Minute)
	drafts := map[string]app.QuestDraft{
		"unknown type":    {Title: "x", Type: "streak", TargetValue: 1},
		"zero target":     {Title: "x", Type: domain.QuestEarnPoints},
		"percent over":    {Title: "x", Type: domain.QuestScorePercentage, TargetValue: 120},
		"negative reward": {Title: "x", Type: domain.QuestEarnPoints, TargetValue: 1, Points: -5},
		"past expiry":     {Title: "x", Type: domain.QuestEarnPoints, TargetValue: 1, ExpiresAt: &past},
		"missing title":   {Type: domain.QuestEarnPoints, TargetValue: 1},
	}
	for name, draft := range drafts {
		if _, err := e.quests.CreateQuest(ctx, "t1", draft); !errors.Is(err, domain.ErrInvalid) {
			t.Fatalf("%s: expected invalid, got %v", name, err)
		}
	}
}

func TestArchiveQuestLifecycle(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	quest := e.quest(t, "t1", domain.QuestEarnPoints, 1, 5)

	if _, err := e.quests.ArchiveQuest(ctx, quest.ID, "t2"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	archived, err := e.quests.ArchiveQuest(ctx, quest.ID, "t1")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if archived.Status != domain.QuestStatusArchived {
		t.Fatalf("expected archived status, got %s", archived.Status)
	}
	if _, err := e.quests.ArchiveQuest(ctx, quest.ID, "t1"); !errors.Is(err, domain.ErrAlreadyDone) {
		t.Fatalf("expected already done, got %v", err)
	}
}

func progressFor(t *testing.T, e *engine, studentID, questID string) app.QuestProgress {
	t.Helper()
	report, err := e.quests.Progress(context.Background(), studentID)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	for _, p := range report.QuestProgress {
		if p.QuestID == questID {
			return p
		}
	}
	t.Fatalf("quest %s missing from progress report", questID)
	return app.QuestProgress{}
}
