// Package redisstore хранит снимки корзины в Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultKeyPrefix = "storefront:snapshot:"
	opTimeout        = 2 * time.Second
)

// SnapshotStore: слот снимков поверх Redis STRING.
type SnapshotStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// Option настраивает SnapshotStore.
type Option func(*SnapshotStore)

// WithKeyPrefix задаёт префикс ключей в Redis.
func WithKeyPrefix(prefix string) Option {
	return func(s *SnapshotStore) {
		s.prefix = prefix
	}
}

// WithTTL задаёт время жизни снимка. 0 означает хранение без срока.
func WithTTL(ttl time.Duration) Option {
	return func(s *SnapshotStore) {
		if ttl >= 0 {
			s.ttl = ttl
		}
	}
}

// NewSnapshotStore создаёт хранилище поверх готового клиента.
func NewSnapshotStore(client redis.UniversalClient, opts ...Option) *SnapshotStore {
	s := &SnapshotStore{client: client, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open подключается к Redis и проверяет соединение.
func Open(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// Save перезаписывает снимок по ключу.
func (s *SnapshotStore) Save(ctx context.Context, key string, payload []byte) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrSnapshotKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := s.client.Set(ctx, s.prefix+key, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set snapshot: %w", err)
	}
	return nil
}

// Load возвращает снимок или ErrSnapshotNotFound.
func (s *SnapshotStore) Load(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	payload, err := s.client.Get(ctx, s.prefix+strings.TrimSpace(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("redis get snapshot: %w", err)
	}
	return payload, nil
}

// Ping проверяет доступность Redis (используется health-чекером).
func (s *SnapshotStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)
