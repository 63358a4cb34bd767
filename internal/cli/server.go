package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quest-engine/internal/app"
	"quest-engine/internal/config"
	"quest-engine/internal/infra/memory"
	"quest-engine/internal/infra/postgres"
	"quest-engine/internal/infra/rabbitmq"
	rediscache "quest-engine/internal/infra/redis"
	transport "quest-engine/internal/transport/http"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quest engine HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// engine bundles the wired services and their backing resources.
type engine struct {
	store   app.Store
	hub     *app.ProgressHub
	quizzes *app.QuizService
	quests  *app.QuestService
	closers []func()
}

func (e *engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// buildEngine picks Postgres or the in-memory store, Redis or the in-memory
// quiz cache, and adds RabbitMQ to the event fan-out when configured.
func buildEngine(ctx context.Context, cfg config.Config) (*engine, error) {
	e := &engine{hub: app.NewProgressHub()}

	var loader memory.QuizLoader
	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return nil, err
		}
		db := postgres.Open(cfg.Postgres.URL)
		e.closers = append(e.closers, func() { _ = db.Close() })
		e.store = postgres.NewStore(db)

		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.closers = append(e.closers, pool.Close)
		loader = postgres.NewQuizLoader(pool)
	} else {
		store := memory.NewStore()
		e.store = store
		loader = store
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		e.closers = append(e.closers, func() { _ = client.Close() })
		quizRepo = rediscache.NewQuizRepository(client, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	publishers := app.Publishers{e.hub}
	if cfg.RabbitMQ.URL != "" {
		queue := cfg.RabbitMQ.Queue
		if queue == "" {
			queue = rabbitmq.DefaultQueue
		}
		pub, err := rabbitmq.NewPublisher(cfg.RabbitMQ.URL, queue)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.closers = append(e.closers, func() { _ = pub.Close() })
		publishers = append(publishers, pub)
	}

	e.quizzes = app.NewQuizService(e.store, quizRepo, publishers)
	e.quests = app.NewQuestService(e.store, publishers)
	return e, nil
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	e, err := buildEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	if cfg.Server.SeedDemo && cfg.Postgres.URL == "" {
		fx, err := demoFixtures()
		if err != nil {
			return err
		}
		if err := seedFixtures(ctx, e.store, fx); err != nil {
			return err
		}
		log.Printf("demo data loaded")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	transport.NewHandler(e.quizzes, e.quests).Register(mux)
	mux.HandleFunc("GET /ws/progress", transport.NewWSHandler(e.quests, e.hub).ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting quest engine on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
