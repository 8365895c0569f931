package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// OutboxState: состояние сообщения в in-memory outbox.
type OutboxState string

const (
	OutboxPending OutboxState = "pending"
	OutboxSent    OutboxState = "sent"
	OutboxFailed  OutboxState = "failed"
)

type outboxEntry struct {
	msg       domain.OutboxMessage
	state     OutboxState
	seq       uint64
	nextTryAt time.Time
}

// OutboxRepository: in-memory transactional outbox для режима без PostgreSQL.
type OutboxRepository struct {
	mu      sync.RWMutex
	entries map[string]*outboxEntry
	seq     uint64
	now     func() time.Time
}

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{
		entries: make(map[string]*outboxEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock подменяет источник времени (тесты).
func (r *OutboxRepository) WithClock(now func() time.Time) *OutboxRepository {
	r.now = now
	return r
}

func (r *OutboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if err := ctx.Err(); err != nil {
		return domain.OutboxMessage{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.Payload = slices.Clone(msg.Payload)
	msg.Attempts, msg.LastError = 0, ""

	r.seq++
	r.entries[msg.ID] = &outboxEntry{msg: msg, state: OutboxPending, seq: r.seq, nextTryAt: now}
	return msg, nil
}

func (r *OutboxRepository) PullPending(ctx context.Context, now time.Time, limit int) ([]domain.OutboxMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	due := r.pending(func(e *outboxEntry) bool { return !e.nextTryAt.After(now) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *OutboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	if err := ctx.Err(); err != nil {
		return domain.OutboxStats{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, e := range r.entries {
		switch e.state {
		case OutboxPending:
			stats.PendingCount++
			if stats.OldestPendingAt.IsZero() || e.msg.CreatedAt.Before(stats.OldestPendingAt) {
				stats.OldestPendingAt = e.msg.CreatedAt
			}
		case OutboxFailed:
			stats.FailedCount++
		}
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.update(ctx, id, func(e *outboxEntry) { e.state = OutboxSent })
}

func (r *OutboxRepository) MarkRetry(ctx context.Context, id, reason string, next time.Time) error {
	return r.update(ctx, id, func(e *outboxEntry) {
		e.msg.Attempts++
		e.msg.LastError = reason
		e.nextTryAt = next
	})
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id, reason string) error {
	return r.update(ctx, id, func(e *outboxEntry) {
		e.msg.Attempts++
		e.msg.LastError = reason
		e.state = OutboxFailed
	})
}

// AllPending возвращает все pending-сообщения независимо от времени попытки.
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	return r.pending(func(*outboxEntry) bool { return true })
}

// State возвращает состояние сообщения и сам снимок сообщения.
func (r *OutboxRepository) State(id string) (OutboxState, domain.OutboxMessage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return "", domain.OutboxMessage{}, false
	}
	return e.state, e.msg, true
}

func (r *OutboxRepository) update(ctx context.Context, id string, apply func(*outboxEntry)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return domain.ErrOutboxMessageNotFound
	}
	apply(e)
	return nil
}

func (r *OutboxRepository) pending(keep func(*outboxEntry) bool) []domain.OutboxMessage {
	r.mu.RLock()
	selected := make([]*outboxEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.state == OutboxPending && keep(e) {
			selected = append(selected, e)
		}
	}
	slices.SortFunc(selected, func(a, b *outboxEntry) int { return cmp.Compare(a.seq, b.seq) })

	out := make([]domain.OutboxMessage, 0, len(selected))
	for _, e := range selected {
		msg := e.msg
		msg.Payload = slices.Clone(msg.Payload)
		out = append(out, msg)
	}
	r.mu.RUnlock()
	return out
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
