package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"quest-engine/internal/domain"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// QuizLoader loads quiz content (questions JSONB and point total) from Postgres
// for the answer-key caches. It never reads answers.
type QuizLoader struct {
	pool *pgxpool.Pool
}

func NewQuizLoader(pool *pgxpool.Pool) *QuizLoader {
	return &QuizLoader{pool: pool}
}

func (l *QuizLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var (
		quiz domain.Quiz
		raw  []byte
	)
	err := l.pool.QueryRow(ctx,
		`SELECT id, teacher_id, title, introduction, questions, total_points, status, created_at
		   FROM quizzes WHERE id=$1`, quizID,
	).Scan(&quiz.ID, &quiz.TeacherID, &quiz.Title, &quiz.Introduction, &raw, &quiz.TotalPoints, &quiz.Status, &quiz.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Quiz{}, domain.ErrQuizNotFound
		}
		return domain.Quiz{}, domain.NewStorageError("load quiz", err)
	}
	if err := json.Unmarshal(raw, &quiz.Questions); err != nil {
		return domain.Quiz{}, domain.NewStorageError("load quiz", fmt.Errorf("unmarshal questions: %w", err))
	}
	return quiz, nil
}
