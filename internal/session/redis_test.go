package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/quayline/orchestrator/internal/models"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(mr.Addr(), time.Minute, 10, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisRoundTrip(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	sess, created, err := s.GetOrCreate(ctx, "r1", models.RoleOperator, "tok")
	if err != nil || !created {
		t.Fatalf("create: created=%v err=%v", created, err)
	}
	if err := s.AppendTurn(ctx, sess.ID, models.Turn{Speaker: models.SpeakerUser, Text: "hello"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.History) != 1 || got.History[0].Text != "hello" {
		t.Fatalf("unexpected history %+v", got.History)
	}
	if got.Role != models.RoleOperator {
		t.Fatalf("role lost: %q", got.Role)
	}
}

func TestRedisTTLEviction(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	_, _, err := s.GetOrCreate(ctx, "ttl", models.RoleCarrier, "")
	if err != nil {
		t.Fatal(err)
	}
	mr.FastForward(2 * time.Minute)

	if _, err := s.Get(ctx, "ttl"); err != ErrSessionNotFound {
		t.Fatalf("expected TTL eviction, got %v", err)
	}
	ids, err := s.ListActive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no active sessions, got %v", ids)
	}
}

func TestRedisClearAndList(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	_, _, _ = s.GetOrCreate(ctx, "a", models.RoleCarrier, "")
	_, _, _ = s.GetOrCreate(ctx, "b", models.RoleCarrier, "")

	ids, err := s.ListActive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 sessions, got %v", ids)
	}

	if err := s.Clear(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Clear(ctx, "a"); err != ErrSessionNotFound {
		t.Fatalf("expected not found on double clear, got %v", err)
	}
}

func TestRedisLock(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()
	_, _, _ = s.GetOrCreate(ctx, "l", models.RoleCarrier, "")

	if err := s.Acquire(ctx, "l"); err != nil {
		t.Fatal(err)
	}
	cctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if err := s.Acquire(cctx, "l"); err == nil {
		t.Fatal("expected second acquire to block until deadline")
	}
	s.Release("l")
	if err := s.Acquire(ctx, "l"); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	s.Release("l")
}
