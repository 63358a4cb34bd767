package domain

import (
	"errors"
	"fmt"
)

// Taxonomy roots. Every engine error matches exactly one of them via errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyDone        = errors.New("already done")
	ErrRequirementsNotMet = errors.New("quest requirements not met")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrExpired            = errors.New("expired")
	ErrInvalid            = errors.New("invalid request")
	ErrStorage            = errors.New("storage error")
)

var (
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = fmt.Errorf("quiz %w", ErrNotFound)
	// ErrQuestNotFound is returned for unknown quests.
	ErrQuestNotFound = fmt.Errorf("quest %w", ErrNotFound)
	// ErrQuestInactive is returned when an archived quest is claimed.
	ErrQuestInactive = fmt.Errorf("active quest %w", ErrNotFound)

	ErrStudentNotFound = fmt.Errorf("student %w", ErrNotFound)

	// ErrAlreadyAnswered is returned on a second attempt at the same quiz.
	ErrAlreadyAnswered = fmt.Errorf("quiz answer %w", ErrAlreadyDone)
	// ErrAlreadyCompleted is returned on a second claim of the same quest.
	ErrAlreadyCompleted = fmt.Errorf("quest completion %w", ErrAlreadyDone)

	ErrAlreadyArchived = fmt.Errorf("quest archive %w", ErrAlreadyDone)
	ErrQuestExpired    = fmt.Errorf("quest %w", ErrExpired)

	// ErrAnswerCount indicates the selections are not aligned with the quiz questions.
	ErrAnswerCount = fmt.Errorf("%w: answer count does not match question count", ErrInvalid)

	ErrQuestType = fmt.Errorf("%w: unknown quest type", ErrInvalid)
)

// StorageError wraps record store I/O failures.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrStorage) match any StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// NewStorageError wraps err unless it is nil or already a domain error.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if Kind(err) != "" {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// Kind names the taxonomy root of err, or "" for errors outside the taxonomy.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrAlreadyDone):
		return "AlreadyDone"
	case errors.Is(err, ErrRequirementsNotMet):
		return "RequirementsNotMet"
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrExpired):
		return "Expired"
	case errors.Is(err, ErrInvalid):
		return "Invalid"
	case errors.Is(err, ErrStorage):
		return "StorageError"
	}
	return ""
}
