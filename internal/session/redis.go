package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quayline/orchestrator/internal/metrics"
	"github.com/quayline/orchestrator/internal/models"
)

const (
	redisKeyPrefix  = "quayline:session:"
	redisLockPrefix = "quayline:lock:"
	lockPollEvery   = 50 * time.Millisecond
	lockTTL         = 2 * time.Minute
)

// RedisStore is the Redis-backed Store for multi-instance deployments.
// Eviction is delegated to key TTLs; the idle timer is the TTL, refreshed on
// every access. The run lock is a SET NX lease keyed by session id.
type RedisStore struct {
	client      *redis.Client
	logger      *zap.Logger
	idleTimeout time.Duration
	maxHistory  int
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr string, idleTimeout time.Duration, maxHistory int, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	if maxHistory <= 0 {
		maxHistory = 100
	}
	return &RedisStore{
		client:      client,
		logger:      logger,
		idleTimeout: idleTimeout,
		maxHistory:  maxHistory,
	}, nil
}

func (s *RedisStore) GetOrCreate(ctx context.Context, id string, role models.Role, credential string) (*Session, bool, error) {
	if id != "" {
		existing, err := s.load(ctx, id)
		if err != nil && err != ErrSessionNotFound {
			return nil, false, err
		}
		if existing != nil {
			if existing.Role != role {
				s.logger.Warn("Session id reuse across roles, issuing fresh session",
					zap.String("session_id", id),
					zap.String("requested_role", string(role)),
				)
				return s.create(ctx, uuid.New().String(), role, credential)
			}
			existing.Credential = credential
			existing.LastAccessAt = time.Now()
			if err := s.save(ctx, existing); err != nil {
				return nil, false, err
			}
			return existing, false, nil
		}
	}
	if id == "" {
		id = uuid.New().String()
	}
	return s.create(ctx, id, role, credential)
}

func (s *RedisStore) create(ctx context.Context, id string, role models.Role, credential string) (*Session, bool, error) {
	now := time.Now()
	sess := &Session{
		ID:           id,
		Role:         role,
		Credential:   credential,
		History:      []models.Turn{},
		CreatedAt:    now,
		LastAccessAt: now,
	}
	if err := s.save(ctx, sess); err != nil {
		return nil, false, err
	}
	metrics.SessionsCreated.Inc()
	s.logger.Info("Session created",
		zap.String("session_id", id),
		zap.String("role", string(role)),
	)
	return sess, true, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	return s.load(ctx, id)
}

func (s *RedisStore) AppendTurn(ctx context.Context, id string, turn models.Turn) error {
	sess, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	sess.History = append(sess.History, turn)
	if len(sess.History) > s.maxHistory {
		sess.History = sess.History[len(sess.History)-s.maxHistory:]
	}
	sess.LastAccessAt = time.Now()
	return s.save(ctx, sess)
}

func (s *RedisStore) Touch(ctx context.Context, id string) error {
	ok, err := s.client.Expire(ctx, redisKeyPrefix+id, s.idleTimeout).Result()
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if !ok {
		return ErrSessionNotFound
	}
	return nil
}

func (s *RedisStore) InvalidateCredential(ctx context.Context, id string) error {
	sess, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	sess.Credential = ""
	metrics.CredentialInvalidations.Inc()
	s.logger.Warn("Session credential invalidated", zap.String("session_id", id))
	return s.save(ctx, sess)
}

func (s *RedisStore) Clear(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, redisKeyPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	s.logger.Info("Session cleared", zap.String("session_id", id))
	return nil
}

func (s *RedisStore) ListActive(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(redisKeyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return ids, nil
}

func (s *RedisStore) Acquire(ctx context.Context, id string) error {
	key := redisLockPrefix + id
	for {
		ok, err := s.client.SetNX(ctx, key, "1", lockTTL).Result()
		if err != nil {
			return fmt.Errorf("acquire session lock: %w", err)
		}
		if ok {
			return nil
		}
		select {
		case <-time.After(lockPollEvery):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *RedisStore) Release(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.client.Del(ctx, redisLockPrefix+id).Err(); err != nil {
		s.logger.Warn("Failed to release session lock",
			zap.String("session_id", id), zap.Error(err))
	}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) load(ctx context.Context, id string) (*Session, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) save(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return s.client.Set(ctx, redisKeyPrefix+sess.ID, data, s.idleTimeout).Err()
}
