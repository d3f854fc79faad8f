// Package session implements the conversation session store: keyed, idle
// time-limited state with per-session single-flight locking so pipeline runs
// for one session never interleave.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/quayline/orchestrator/internal/models"
)

var (
	// ErrSessionNotFound is returned when a session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrStoreClosed is returned after the store has been shut down.
	ErrStoreClosed = errors.New("session store closed")
)

// Session is the unit of conversational continuity and serialization scope.
type Session struct {
	ID           string        `json:"id"`
	Role         models.Role   `json:"role"`
	Credential   string        `json:"credential,omitempty"`
	History      []models.Turn `json:"history"`
	CreatedAt    time.Time     `json:"created_at"`
	LastAccessAt time.Time     `json:"last_access_at"`
}

// RecentHistory returns up to count most recent turns.
func (s *Session) RecentHistory(count int) []models.Turn {
	if len(s.History) <= count {
		return s.History
	}
	return s.History[len(s.History)-count:]
}

// Clock abstracts time for eviction tests.
type Clock interface {
	Now() time.Time
}

// RealClock is the production clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Store is the session store contract. Two implementations exist: the
// in-memory store used by default and a Redis-backed store for multi-instance
// deployments.
type Store interface {
	// GetOrCreate returns the session for id, creating it if absent. A
	// session id owned by a different role is not reused: a fresh session
	// with a generated id is returned instead. The bool reports creation.
	GetOrCreate(ctx context.Context, id string, role models.Role, credential string) (*Session, bool, error)

	// Get returns a copy of the session or ErrSessionNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// AppendTurn appends a turn to the session history, capping its length,
	// and refreshes the idle timer.
	AppendTurn(ctx context.Context, id string, turn models.Turn) error

	// Touch refreshes the idle timer without mutating history.
	Touch(ctx context.Context, id string) error

	// InvalidateCredential clears the stored credential after the backend
	// rejected it.
	InvalidateCredential(ctx context.Context, id string) error

	// Clear removes the session regardless of the idle timer.
	Clear(ctx context.Context, id string) error

	// ListActive returns the ids of all live sessions.
	ListActive(ctx context.Context) ([]string, error)

	// Acquire takes the session's run lock, blocking until any in-flight
	// pipeline run for the same id completes. Release must follow.
	Acquire(ctx context.Context, id string) error
	Release(id string)

	Close() error
}
