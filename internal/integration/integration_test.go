package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"quest-engine/internal/app"
	"quest-engine/internal/domain"
	"quest-engine/internal/infra/postgres"
	pgmigrations "quest-engine/internal/infra/postgres/migrations"
	infraredis "quest-engine/internal/infra/redis"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

type stack struct {
	store   *postgres.Store
	quizzes *app.QuizService
	quests  *app.QuestService
}

func newStack(t *testing.T, ctx context.Context) *stack {
	t.Helper()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	t.Cleanup(pgCleanup)
	redisURL, redisCleanup := startRedis(t, ctx)
	t.Cleanup(redisCleanup)

	db := postgres.Open(pgURL)
	t.Cleanup(func() { _ = db.Close() })
	migrateDB(t, ctx, db)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	t.Cleanup(pool.Close)

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { _ = redisClient.Close() })

	store := postgres.NewStore(db)
	quizRepo := infraredis.NewQuizRepository(redisClient, postgres.NewQuizLoader(pool), 5*time.Minute)
	s := &stack{
		store:   store,
		quizzes: app.NewQuizService(store, quizRepo, nil),
		quests:  app.NewQuestService(store, nil),
	}

	for _, st := range []domain.Student{
		{ID: "s1", TeacherID: "t1", Name: "Ada", CreatedAt: time.Now().UTC()},
		{ID: "s2", TeacherID: "t1", Name: "Grace", CreatedAt: time.Now().UTC()},
	} {
		if err := store.CreateStudent(ctx, st); err != nil {
			t.Fatalf("seed student: %v", err)
		}
	}
	return s
}

func (s *stack) quiz(t *testing.T, ctx context.Context, title string) domain.Quiz {
	t.Helper()
	quiz, err := s.quizzes.CreateQuiz(ctx, "t1", app.QuizDraft{
		Title: title,
		Questions: []domain.Question{
			{Prompt: "one?", Choices: []string{"1", "2"}, CorrectAnswer: "1", Points: 10},
			{Prompt: "two?", Choices: []string{"1", "2"}, CorrectAnswer: "2", Points: 20},
		},
	})
	if err != nil {
		t.Fatalf("create quiz: %v", err)
	}
	return quiz
}

func TestQuestLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	s := newStack(t, ctx)

	quest, err := s.quests.CreateQuest(ctx, "t1", app.QuestDraft{
		Title:       "Double",
		Type:        domain.QuestCompleteQuizzes,
		TargetValue: 2,
		Points:      50,
	})
	if err != nil {
		t.Fatalf("create quest: %v", err)
	}
	first := s.quiz(t, ctx, "First")
	second := s.quiz(t, ctx, "Second")
	blank := s.quiz(t, ctx, "Blank")

	res, err := s.quizzes.SubmitAttempt(ctx, first.ID, "s1", []string{"1", "1"})
	if err != nil {
		t.Fatalf("submit first: %v", err)
	}
	if res.TotalScore != 10 || res.UpdatedPoints != 10 {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := s.quizzes.SubmitAttempt(ctx, first.ID, "s1", []string{"1", "2"}); !errors.Is(err, domain.ErrAlreadyAnswered) {
		t.Fatalf("expected already answered, got %v", err)
	}

	// An attempt with a blank selection still scores but does not advance quests.
	res, err = s.quizzes.SubmitAttempt(ctx, blank.ID, "s1", []string{"1", ""})
	if err != nil {
		t.Fatalf("submit blank: %v", err)
	}
	if res.Answer.Status != domain.AnswerStatusNotCompleted || res.UpdatedPoints != 20 {
		t.Fatalf("unexpected blank result %+v", res)
	}

	report, err := s.quests.Progress(ctx, "s1")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if p := report.QuestProgress[0]; p.ProgressPercent != 50 || p.RequirementsMet {
		t.Fatalf("expected 50%% progress, got %+v", p)
	}
	if _, err := s.quests.Claim(ctx, quest.ID, "s1"); !errors.Is(err, domain.ErrRequirementsNotMet) {
		t.Fatalf("expected requirements not met, got %v", err)
	}

	if _, err := s.quizzes.SubmitAttempt(ctx, second.ID, "s1", []string{"1", "2"}); err != nil {
		t.Fatalf("submit second: %v", err)
	}

	const claimers = 5
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		conflict int
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.quests.Claim(ctx, quest.ID, "s1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, domain.ErrAlreadyCompleted):
				conflict++
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()
	if success != 1 || conflict != claimers-1 {
		t.Fatalf("expected exactly one claim, got %d successes and %d conflicts", success, conflict)
	}

	student, err := s.store.GetStudent(ctx, "s1")
	if err != nil {
		t.Fatalf("get student: %v", err)
	}
	// 10 + 10 (blank attempt) + 30 + 50 quest reward
	if student.Points != 100 || student.PointsEarned != 100 || !student.Ledger.Balanced() {
		t.Fatalf("unexpected ledger %+v", student.Ledger)
	}

	if _, err := s.quests.ArchiveQuest(ctx, quest.ID, "t1"); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, err := s.quests.ArchiveQuest(ctx, quest.ID, "t1"); !errors.Is(err, domain.ErrAlreadyArchived) {
		t.Fatalf("expected already archived, got %v", err)
	}
	if _, err := s.quests.Claim(ctx, quest.ID, "s2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected archived quest to be unavailable, got %v", err)
	}
}

func TestConcurrentAttemptsAreSingleShot(t *testing.T) {
	ctx := context.Background()
	s := newStack(t, ctx)
	quiz := s.quiz(t, ctx, "Race")

	const submitters = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.quizzes.SubmitAttempt(ctx, quiz.ID, "s2", []string{"1", "2"})
			if err != nil && !errors.Is(err, domain.ErrAlreadyAnswered) {
				t.Errorf("unexpected submit error: %v", err)
				return
			}
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if success != 1 {
		t.Fatalf("expected a single recorded attempt, got %d", success)
	}

	student, err := s.store.GetStudent(ctx, "s2")
	if err != nil {
		t.Fatalf("get student: %v", err)
	}
	if student.Points != 30 || student.PointsEarned != 30 {
		t.Fatalf("expected a single credit of 30, got %+v", student.Ledger)
	}
	attempts, err := s.store.ListAttempts(ctx, app.AttemptFilter{StudentID: "s2"})
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(attempts) != 1 || attempts[0].QuizTotalPoints != 30 {
		t.Fatalf("unexpected attempts %+v", attempts)
	}
}

func migrateDB(t *testing.T, ctx context.Context, db *bun.DB) {
	t.Helper()
	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quest", "POSTGRES_PASSWORD": "questpass", "POSTGRES_DB": "questdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quest:questpass@%s:%s/questdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
