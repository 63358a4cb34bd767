package app

import (
	"context"
	"sync"

	"quest-engine/internal/domain"
)

// ProgressHub fans committed events out to live subscribers. Events naming a
// student reach that student's subscribers; teacher-wide events (quest created
// or archived) reach every subscriber of that teacher.
type ProgressHub struct {
	mu          sync.Mutex
	subscribers map[chan domain.Event]subscriber
}

type subscriber struct {
	studentID string
	teacherID string
}

func NewProgressHub() *ProgressHub {
	return &ProgressHub{subscribers: make(map[chan domain.Event]subscriber)}
}

// Subscribe returns a channel of events relevant to the student.
// The caller must invoke the returned cancel function to avoid leaks.
func (h *ProgressHub) Subscribe(studentID, teacherID string) (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, 8)

	h.mu.Lock()
	h.subscribers[ch] = subscriber{studentID: studentID, teacherID: teacherID}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish implements EventPublisher. It never blocks on slow subscribers.
func (h *ProgressHub) Publish(_ context.Context, event domain.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch, sub := range h.subscribers {
		if !sub.wants(event) {
			continue
		}
		select {
		case ch <- event:
		default:
			// drop the oldest pending event so the newest state wins
			select {
			case <-ch:
			default:
			}
			ch <- event
		}
	}
	return nil
}

// Subscribers reports the number of live subscriptions.
func (h *ProgressHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

func (s subscriber) wants(event domain.Event) bool {
	if event.StudentID != "" {
		return event.StudentID == s.studentID
	}
	return event.TeacherID == s.teacherID
}
