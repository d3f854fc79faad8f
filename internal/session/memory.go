package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quayline/orchestrator/internal/metrics"
	"github.com/quayline/orchestrator/internal/models"
)

// MemoryStore is the default in-process session store. Sessions are ephemeral:
// an idle sweep evicts them after the configured timeout, deferring eviction
// of any session whose run lock is currently held.
type MemoryStore struct {
	logger      *zap.Logger
	clock       Clock
	idleTimeout time.Duration
	maxHistory  int

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	stopSweep chan struct{}
	sweepDone chan struct{}
}

type entry struct {
	sess    *Session
	sem     chan struct{} // capacity-1 run lock
	running bool
}

// MemoryOptions configures a MemoryStore.
type MemoryOptions struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	MaxHistory    int
	Clock         Clock
}

// NewMemoryStore creates the store and starts its eviction sweep.
func NewMemoryStore(opts MemoryOptions, logger *zap.Logger) *MemoryStore {
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = 100
	}
	s := &MemoryStore{
		logger:      logger,
		clock:       opts.Clock,
		idleTimeout: opts.IdleTimeout,
		maxHistory:  opts.MaxHistory,
		entries:     make(map[string]*entry),
		stopSweep:   make(chan struct{}),
		sweepDone:   make(chan struct{}),
	}
	interval := opts.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	go s.sweepLoop(interval)
	return s
}

func (s *MemoryStore) GetOrCreate(ctx context.Context, id string, role models.Role, credential string) (*Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrStoreClosed
	}

	now := s.clock.Now()
	if id != "" {
		if e, ok := s.entries[id]; ok {
			if e.sess.Role != role {
				// Session id belongs to a different role; never reuse it.
				s.logger.Warn("Session id reuse across roles, issuing fresh session",
					zap.String("session_id", id),
					zap.String("requested_role", string(role)),
					zap.String("owner_role", string(e.sess.Role)),
				)
				return s.createLocked(uuid.New().String(), role, credential, now), true, nil
			}
			e.sess.Credential = credential
			e.sess.LastAccessAt = now
			return cloneSession(e.sess), false, nil
		}
	}
	if id == "" {
		id = uuid.New().String()
	}
	return s.createLocked(id, role, credential, now), true, nil
}

func (s *MemoryStore) createLocked(id string, role models.Role, credential string, now time.Time) *Session {
	sess := &Session{
		ID:           id,
		Role:         role,
		Credential:   credential,
		History:      []models.Turn{},
		CreatedAt:    now,
		LastAccessAt: now,
	}
	s.entries[id] = &entry{sess: sess, sem: make(chan struct{}, 1)}
	metrics.SessionsCreated.Inc()
	metrics.SessionsActive.Set(float64(len(s.entries)))
	s.logger.Info("Session created",
		zap.String("session_id", id),
		zap.String("role", string(role)),
	)
	return cloneSession(sess)
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return cloneSession(e.sess), nil
}

func (s *MemoryStore) AppendTurn(ctx context.Context, id string, turn models.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return ErrSessionNotFound
	}
	e.sess.History = append(e.sess.History, turn)
	if len(e.sess.History) > s.maxHistory {
		e.sess.History = e.sess.History[len(e.sess.History)-s.maxHistory:]
	}
	e.sess.LastAccessAt = s.clock.Now()
	return nil
}

func (s *MemoryStore) Touch(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return ErrSessionNotFound
	}
	e.sess.LastAccessAt = s.clock.Now()
	return nil
}

func (s *MemoryStore) InvalidateCredential(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return ErrSessionNotFound
	}
	e.sess.Credential = ""
	metrics.CredentialInvalidations.Inc()
	s.logger.Warn("Session credential invalidated", zap.String("session_id", id))
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.entries, id)
	metrics.SessionsActive.Set(float64(len(s.entries)))
	s.logger.Info("Session cleared", zap.String("session_id", id))
	return nil
}

func (s *MemoryStore) ListActive(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids, nil
}

// Acquire blocks until the session's run lock is free, so that pipeline runs
// for one session execute strictly one at a time in arrival order.
func (s *MemoryStore) Acquire(ctx context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	e.running = true
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Release(id string) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		e.running = false
	}
	s.mu.Unlock()
	if ok {
		select {
		case <-e.sem:
		default:
		}
	}
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	close(s.stopSweep)
	<-s.sweepDone
	return nil
}

func (s *MemoryStore) sweepLoop(interval time.Duration) {
	defer close(s.sweepDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopSweep:
			return
		}
	}
}

// sweep evicts idle sessions. Sessions with a held run lock are skipped and
// reconsidered on the next pass.
func (s *MemoryStore) sweep() {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, e := range s.entries {
		if e.running {
			continue
		}
		if now.Sub(e.sess.LastAccessAt) > s.idleTimeout {
			delete(s.entries, id)
			evicted++
			metrics.SessionsEvicted.Inc()
		}
	}
	if evicted > 0 {
		metrics.SessionsActive.Set(float64(len(s.entries)))
		s.logger.Info("Evicted idle sessions", zap.Int("count", evicted))
	}
}

// SweepNow runs one eviction pass immediately. Used by tests and the health
// endpoint's detail view.
func (s *MemoryStore) SweepNow() {
	s.sweep()
}

func cloneSession(in *Session) *Session {
	out := *in
	out.History = make([]models.Turn, len(in.History))
	copy(out.History, in.History)
	return &out
}
