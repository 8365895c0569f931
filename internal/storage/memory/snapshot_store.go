package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// SnapshotStore: key-value слот в памяти процесса.
type SnapshotStore struct {
	mu     sync.RWMutex
	values map[string][]byte
	writes int
}

// NewSnapshotStore создаёт пустое хранилище снимков.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{values: make(map[string][]byte)}
}

// Save перезаписывает значение по ключу.
func (s *SnapshotStore) Save(ctx context.Context, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrSnapshotKeyRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = append([]byte(nil), payload...)
	s.writes++
	return nil
}

// Load возвращает значение по ключу или ErrSnapshotNotFound.
func (s *SnapshotStore) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[strings.TrimSpace(key)]
	if !ok {
		return nil, domain.ErrSnapshotNotFound
	}
	return append([]byte(nil), v...), nil
}

// Writes возвращает число выполненных записей (используется в тестах).
func (s *SnapshotStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.writes
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)
