package postgres

import (
	"context"
	"database/sql"
	"errors"

	"quest-engine/internal/app"
	"quest-engine/internal/domain"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// Open returns a bun handle for the Postgres DSN.
func Open(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

// Store is the Postgres implementation of app.Store. Single-attempt and
// single-completion are enforced by unique constraints; each conditional
// append runs in one transaction together with its ledger credit, holding a
// row lock on the student (and quest) being written.
type Store struct {
	db *bun.DB
}

var _ app.Store = (*Store)(nil)

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateStudent(ctx context.Context, student domain.Student) error {
	if !student.Ledger.Balanced() {
		return domain.ErrInvalid
	}
	row := newStudentRow(student)
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return domain.NewStorageError("create student", err)
	}
	return nil
}

func (s *Store) GetStudent(ctx context.Context, studentID string) (domain.Student, error) {
	row := new(studentRow)
	err := s.db.NewSelect().Model(row).Where("s.id = ?", studentID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Student{}, domain.ErrStudentNotFound
		}
		return domain.Student{}, domain.NewStorageError("get student", err)
	}
	return row.toDomain(), nil
}

func (s *Store) CreateQuiz(ctx context.Context, quiz domain.Quiz) error {
	row := newQuizRow(quiz)
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return domain.NewStorageError("create quiz", err)
	}
	return nil
}

func (s *Store) ListAttempts(ctx context.Context, filter app.AttemptFilter) ([]domain.AttemptSummary, error) {
	q := s.db.NewSelect().
		TableExpr("quiz_answers AS qa").
		Join("JOIN quizzes AS q ON q.id = qa.quiz_id").
		ColumnExpr("qa.quiz_id, qa.total_score, qa.status, qa.submitted_at").
		ColumnExpr("q.total_points AS quiz_total_points, q.created_at AS quiz_created_at").
		Where("qa.student_id = ?", filter.StudentID).
		Where("q.created_at >= ?", filter.CreatedSince).
		OrderExpr("qa.submitted_at ASC")
	if filter.TeacherID != "" {
		q = q.Where("q.teacher_id = ?", filter.TeacherID)
	}
	if filter.CompletedOnly {
		q = q.Where("qa.status = ?", domain.AnswerStatusCompleted)
	}

	var rows []attemptRow
	if err := q.Scan(ctx, &rows); err != nil {
		return nil, domain.NewStorageError("list attempts", err)
	}
	out := make([]domain.AttemptSummary, len(rows))
	for i, r := range rows {
		out[i] = domain.AttemptSummary{
			QuizID:          r.QuizID,
			TotalScore:      r.TotalScore,
			QuizTotalPoints: r.QuizTotalPoints,
			Status:          r.Status,
			QuizCreatedAt:   r.QuizCreatedAt,
			SubmittedAt:     r.SubmittedAt,
		}
	}
	return out, nil
}

func (s *Store) RecordAttempt(ctx context.Context, answer domain.StudentAnswer) (domain.Student, error) {
	var student domain.Student
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().Table("quizzes").Where("id = ?", answer.QuizID).Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrQuizNotFound
		}
		row, err := lockStudent(ctx, tx, answer.StudentID)
		if err != nil {
			return err
		}

		ans := answerRow{
			ID:          answer.ID,
			QuizID:      answer.QuizID,
			StudentID:   answer.StudentID,
			Selections:  answer.Selections,
			TotalScore:  answer.TotalScore,
			Status:      answer.Status,
			SubmittedAt: answer.SubmittedAt,
		}
		res, err := tx.NewInsert().Model(&ans).On("CONFLICT (quiz_id, student_id) DO NOTHING").Exec(ctx)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return domain.ErrAlreadyAnswered
		}

		student, err = credit(ctx, tx, row, answer.TotalScore)
		return err
	})
	if err != nil {
		return domain.Student{}, domain.NewStorageError("record attempt", err)
	}
	return student, nil
}

func (s *Store) CreateQuest(ctx context.Context, quest domain.Quest) error {
	row := newQuestRow(quest)
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return domain.NewStorageError("create quest", err)
	}
	return nil
}

func (s *Store) GetQuest(ctx context.Context, questID string) (domain.Quest, error) {
	quest, err := getQuest(ctx, s.db, questID)
	if err != nil {
		return domain.Quest{}, domain.NewStorageError("get quest", err)
	}
	return quest, nil
}

func (s *Store) ListQuests(ctx context.Context, teacherID string) ([]domain.Quest, error) {
	var rows []questRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("qs.teacher_id = ?", teacherID).
		OrderExpr("qs.created_at ASC, qs.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, domain.NewStorageError("list quests", err)
	}
	if len(rows) == 0 {
		return []domain.Quest{}, nil
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	var completions []completionRow
	err = s.db.NewSelect().
		Model(&completions).
		Where("qc.quest_id IN (?)", bun.In(ids)).
		OrderExpr("qc.completed_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, domain.NewStorageError("list completions", err)
	}
	byQuest := make(map[string][]completionRow, len(rows))
	for _, c := range completions {
		byQuest[c.QuestID] = append(byQuest[c.QuestID], c)
	}

	out := make([]domain.Quest, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain(byQuest[r.ID])
	}
	return out, nil
}

func (s *Store) ArchiveQuest(ctx context.Context, questID string) (domain.Quest, error) {
	var quest domain.Quest
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		row, err := lockQuest(ctx, tx, questID)
		if err != nil {
			return err
		}
		if row.Status == domain.QuestStatusArchived {
			return domain.ErrAlreadyArchived
		}
		row.Status = domain.QuestStatusArchived
		if _, err := tx.NewUpdate().Model(&row).Column("status").WherePK().Exec(ctx); err != nil {
			return err
		}
		quest, err = getQuest(ctx, tx, questID)
		return err
	})
	if err != nil {
		return domain.Quest{}, domain.NewStorageError("archive quest", err)
	}
	return quest, nil
}

func (s *Store) RecordCompletion(ctx context.Context, questID string, completion domain.Completion) (domain.Quest, domain.Student, error) {
	var (
		quest   domain.Quest
		student domain.Student
	)
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		qrow, err := lockQuest(ctx, tx, questID)
		if err != nil {
			return err
		}
		if qrow.Status != domain.QuestStatusActive {
			return domain.ErrQuestInactive
		}
		srow, err := lockStudent(ctx, tx, completion.StudentID)
		if err != nil {
			return err
		}

		crow := completionRow{
			ID:            completion.ID,
			QuestID:       questID,
			StudentID:     completion.StudentID,
			PointsAwarded: completion.PointsAwarded,
			CompletedAt:   completion.CompletedAt,
		}
		res, err := tx.NewInsert().Model(&crow).On("CONFLICT (quest_id, student_id) DO NOTHING").Exec(ctx)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return domain.ErrAlreadyCompleted
		}

		if student, err = credit(ctx, tx, srow, completion.PointsAwarded); err != nil {
			return err
		}
		quest, err = getQuest(ctx, tx, questID)
		return err
	})
	if err != nil {
		return domain.Quest{}, domain.Student{}, domain.NewStorageError("record completion", err)
	}
	return quest, student, nil
}

func lockStudent(ctx context.Context, tx bun.Tx, studentID string) (studentRow, error) {
	var row studentRow
	err := tx.NewSelect().Model(&row).Where("s.id = ?", studentID).For("UPDATE").Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return row, domain.ErrStudentNotFound
	}
	return row, err
}

func lockQuest(ctx context.Context, tx bun.Tx, questID string) (questRow, error) {
	var row questRow
	err := tx.NewSelect().Model(&row).Where("qs.id = ?", questID).For("UPDATE").Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return row, domain.ErrQuestNotFound
	}
	return row, err
}

// credit applies amount to a locked student row.
func credit(ctx context.Context, tx bun.Tx, row studentRow, amount int) (domain.Student, error) {
	student := row.toDomain()
	ledger, err := student.Ledger.Credit(amount)
	if err != nil {
		return domain.Student{}, err
	}
	row.Points = ledger.Points
	row.PointsEarned = ledger.PointsEarned
	if _, err := tx.NewUpdate().Model(&row).Column("points", "points_earned").WherePK().Exec(ctx); err != nil {
		return domain.Student{}, err
	}
	student.Ledger = ledger
	return student, nil
}

func getQuest(ctx context.Context, db bun.IDB, questID string) (domain.Quest, error) {
	var row questRow
	err := db.NewSelect().Model(&row).Where("qs.id = ?", questID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Quest{}, domain.ErrQuestNotFound
		}
		return domain.Quest{}, err
	}
	var completions []completionRow
	err = db.NewSelect().
		Model(&completions).
		Where("qc.quest_id = ?", questID).
		OrderExpr("qc.completed_at ASC").
		Scan(ctx)
	if err != nil {
		return domain.Quest{}, err
	}
	return row.toDomain(completions), nil
}
