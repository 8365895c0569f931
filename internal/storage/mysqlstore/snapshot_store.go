// Package mysqlstore хранит снимки корзины в MySQL.
package mysqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	opTimeout = 5 * time.Second

	schemaDDL = `
CREATE TABLE IF NOT EXISTS cart_snapshots (
    slot_key VARCHAR(128) NOT NULL PRIMARY KEY,
    payload LONGBLOB NOT NULL,
    updated_at DATETIME(6) NOT NULL
)`
)

// SnapshotStore: слот снимков в таблице cart_snapshots.
type SnapshotStore struct {
	db *sql.DB
}

// Open открывает подключение к MySQL, проверяет его и создаёт таблицу снимков.
func Open(ctx context.Context, dsn string) (*SnapshotStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SnapshotStore{db: db}

	initCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := db.PingContext(initCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	if err := store.EnsureSchema(initCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// NewSnapshotStore оборачивает уже открытое подключение.
func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// EnsureSchema создаёт таблицу снимков, если её нет.
func (s *SnapshotStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure mysql snapshot schema: %w", err)
	}
	return nil
}

// Save перезаписывает снимок по ключу.
func (s *SnapshotStore) Save(ctx context.Context, key string, payload []byte) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrSnapshotKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cart_snapshots (slot_key, payload, updated_at) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE payload = VALUES(payload), updated_at = VALUES(updated_at)`,
		key, payload, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save mysql snapshot: %w", err)
	}
	return nil
}

// Load возвращает снимок или ErrSnapshotNotFound.
func (s *SnapshotStore) Load(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM cart_snapshots WHERE slot_key = ?`, strings.TrimSpace(key)).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("load mysql snapshot: %w", err)
	}
	return payload, nil
}

// Ping проверяет доступность MySQL.
func (s *SnapshotStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("mysql snapshot store is not initialized")
	}
	return s.db.PingContext(ctx)
}

// Close закрывает подключение.
func (s *SnapshotStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ domain.SnapshotStore = (*SnapshotStore)(nil)
