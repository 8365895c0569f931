package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type snapshotStore struct {
	db *sql.DB
}

// NewSnapshotStore создаёт слот снимков корзины в таблице cart_snapshots.
func NewSnapshotStore(store *Store) domain.SnapshotStore {
	return &snapshotStore{db: store.DB()}
}

func (s *snapshotStore) Save(ctx context.Context, key string, payload []byte) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrSnapshotKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cart_snapshots (key, payload, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at
	`, key, string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save cart snapshot: %w", err)
	}
	return nil
}

func (s *snapshotStore) Load(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload::text FROM cart_snapshots WHERE key = $1`, strings.TrimSpace(key)).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("load cart snapshot: %w", err)
	}
	return []byte(payload), nil
}

var _ domain.SnapshotStore = (*snapshotStore)(nil)
