// Package redisslot keeps wizard snapshots in Redis with a sliding TTL.
package redisslot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"missionline/internal/wizard"
)

const keyPrefix = "missionline:wizard:"

type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type Store struct {
	client redis.Cmdable
	ttl    time.Duration
}

var _ wizard.Store = (*Store)(nil)

// New wraps an existing client. A zero ttl keeps slots forever.
func New(client redis.Cmdable, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

// Connect dials Redis and pings it, retrying with a linear backoff.
func Connect(ctx context.Context, opts Options, attempts int, logger *zap.Logger) (*redis.Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if attempts < 1 {
		attempts = 1
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	var err error
	for i := 0; i < attempts; i++ {
		if err = client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		if i == attempts-1 {
			break
		}
		logger.Warn("redis ping failed, retrying",
			zap.String("addr", opts.Addr), zap.Int("attempt", i+1), zap.Error(err))
		select {
		case <-ctx.Done():
			client.Close()
			return nil, ctx.Err()
		case <-time.After(time.Duration(i+1) * time.Second):
		}
	}
	client.Close()
	return nil, fmt.Errorf("connect redis %s after %d attempts: %w", opts.Addr, attempts, err)
}

// Key returns the redis key holding a session slot.
func Key(session string) string { return keyPrefix + session }

func (s *Store) Save(ctx context.Context, key string, snap wizard.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, Key(key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set wizard slot: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, key string) (wizard.Snapshot, error) {
	data, err := s.client.Get(ctx, Key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return wizard.Snapshot{}, wizard.ErrNoState
	}
	if err != nil {
		return wizard.Snapshot{}, fmt.Errorf("redis get wizard slot: %w", err)
	}
	var snap wizard.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return wizard.Snapshot{}, fmt.Errorf("decode wizard slot: %w", err)
	}
	if s.ttl > 0 {
		s.client.Expire(ctx, Key(key), s.ttl)
	}
	return snap, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, Key(key)).Err(); err != nil {
		return fmt.Errorf("redis del wizard slot: %w", err)
	}
	return nil
}
