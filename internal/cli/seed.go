package cli

import (
	"context"
	_ "embed"
	"fmt"
	"log"
	"os"
	"time"

	"quest-engine/internal/app"
	"quest-engine/internal/config"
	"quest-engine/internal/domain"
	"quest-engine/internal/infra/postgres"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

//go:embed demo.yaml
var demoYAML []byte

// fixtures is the YAML document accepted by the seed command.
type fixtures struct {
	Students []domain.Student `yaml:"students"`
	Quests   []questFixture   `yaml:"quests"`
	Quizzes  []quizFixture    `yaml:"quizzes"`
}

type quizFixture struct {
	ID           string            `yaml:"id"`
	TeacherID    string            `yaml:"teacherId"`
	Title        string            `yaml:"title"`
	Introduction string            `yaml:"introduction"`
	Questions    []domain.Question `yaml:"questions"`
}

type questFixture struct {
	ID          string           `yaml:"id"`
	TeacherID   string           `yaml:"teacherId"`
	Title       string           `yaml:"title"`
	Description string           `yaml:"description"`
	Type        domain.QuestType `yaml:"questType"`
	TargetValue float64          `yaml:"targetValue"`
	Points      int              `yaml:"points"`
	ExpiresAt   *time.Time       `yaml:"expiresAt"`
}

// NewSeedCmd loads a YAML fixture file into Postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load students, quests and quizzes from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), *configPath, file)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "fixture file (defaults to the bundled demo data)")
	return cmd
}

func runSeed(ctx context.Context, configPath, file string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("seed needs a postgres url; the in-memory store uses server.seedDemo")
	}

	fx, err := demoFixtures()
	if file != "" {
		fx, err = readFixtures(file)
	}
	if err != nil {
		return err
	}

	if err := runMigrationsWithConfig(ctx, cfg); err != nil {
		return err
	}
	db := postgres.Open(cfg.Postgres.URL)
	defer db.Close()

	if err := seedFixtures(ctx, postgres.NewStore(db), fx); err != nil {
		return err
	}
	log.Printf("seeded %d students, %d quests, %d quizzes", len(fx.Students), len(fx.Quests), len(fx.Quizzes))
	return nil
}

func demoFixtures() (fixtures, error) {
	return parseFixtures(demoYAML)
}

func readFixtures(path string) (fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fixtures{}, err
	}
	return parseFixtures(data)
}

func parseFixtures(data []byte) (fixtures, error) {
	var fx fixtures
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return fixtures{}, fmt.Errorf("parse fixtures: %w", err)
	}
	return fx, nil
}

func seedFixtures(ctx context.Context, store app.Store, fx fixtures) error {
	now := time.Now().UTC()
	for _, s := range fx.Students {
		if s.ID == "" || s.TeacherID == "" {
			return fmt.Errorf("%w: student fixture needs id and teacherId", domain.ErrInvalid)
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
		if err := store.CreateStudent(ctx, s); err != nil {
			return fmt.Errorf("seed student %s: %w", s.ID, err)
		}
	}

	for _, f := range fx.Quests {
		if !f.Type.Valid() {
			return fmt.Errorf("seed quest %s: %w %q", f.ID, domain.ErrQuestType, f.Type)
		}
		if f.TargetValue <= 0 {
			return fmt.Errorf("%w: quest %s target must be positive", domain.ErrInvalid, f.ID)
		}
		quest := domain.Quest{
			ID:          f.ID,
			TeacherID:   f.TeacherID,
			Title:       f.Title,
			Description: f.Description,
			Type:        f.Type,
			TargetValue: f.TargetValue,
			Points:      f.Points,
			Status:      domain.QuestStatusActive,
			CreatedAt:   now,
			ExpiresAt:   f.ExpiresAt,
			Completions: []domain.Completion{},
		}
		if quest.ID == "" {
			quest.ID = uuid.New().String()
		}
		if err := store.CreateQuest(ctx, quest); err != nil {
			return fmt.Errorf("seed quest %s: %w", quest.ID, err)
		}
	}

	// Quizzes are stamped just after the quests so they count towards them.
	quizTime := now.Add(time.Millisecond)
	for _, f := range fx.Quizzes {
		if f.TeacherID == "" || len(f.Questions) == 0 {
			return fmt.Errorf("%w: quiz %s needs teacherId and questions", domain.ErrInvalid, f.ID)
		}
		quiz := domain.Quiz{
			ID:           f.ID,
			TeacherID:    f.TeacherID,
			Title:        f.Title,
			Introduction: f.Introduction,
			Questions:    f.Questions,
			TotalPoints:  domain.SumPoints(f.Questions),
			Status:       domain.QuizStatusCurrent,
			CreatedAt:    quizTime,
		}
		if quiz.ID == "" {
			quiz.ID = uuid.New().String()
		}
		if err := store.CreateQuiz(ctx, quiz); err != nil {
			return fmt.Errorf("seed quiz %s: %w", quiz.ID, err)
		}
	}
	return nil
}
