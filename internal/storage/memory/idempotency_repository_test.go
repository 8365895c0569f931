package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newClockedRepo() (*memory.IdempotencyRepository, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
	return memory.NewIdempotencyRepository().WithClock(clock.Now), clock
}

func TestIdempotencyRepository_ReserveAndFinish(t *testing.T) {
	ctx := context.Background()
	repo, clock := newClockedRepo()

	reserved, err := repo.Reserve(ctx, "pay-1", "hash-1", time.Time{})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if reserved.Status != domain.IdempotencyStatusProcessing {
		t.Fatalf("status = %s", reserved.Status)
	}
	if !reserved.TTLAt.Equal(clock.now.Add(domain.DefaultIdempotencyTTL)) {
		t.Fatalf("default ttl = %v", reserved.TTLAt)
	}

	body := []byte(`{"session":{"status":"processing"}}`)
	if err := repo.Finish(ctx, "pay-1", domain.IdempotencyOutcome{Status: domain.IdempotencyStatusDone, Body: body, Code: 202}); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	body[0] = 'x'

	got, err := repo.Get(ctx, " pay-1 ")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.IdempotencyStatusDone || got.ResponseCode != 202 {
		t.Fatalf("unexpected record: %+v", got)
	}
	if string(got.ResponseBody) != `{"session":{"status":"processing"}}` {
		t.Fatalf("stored body must be a copy, got %s", got.ResponseBody)
	}
	if !got.Replayable() {
		t.Fatal("finished record must be replayable")
	}
}

func TestIdempotencyRepository_Conflicts(t *testing.T) {
	ctx := context.Background()
	repo, clock := newClockedRepo()
	ttl := clock.now.Add(time.Hour)

	if _, err := repo.Reserve(ctx, "pay-2", "hash-a", ttl); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	existing, err := repo.Reserve(ctx, "pay-2", "hash-a", ttl)
	if !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		t.Fatalf("expected ErrIdempotencyKeyAlreadyExists, got %v", err)
	}
	if existing.Key != "pay-2" || existing.Status != domain.IdempotencyStatusProcessing {
		t.Fatalf("existing record must be returned: %+v", existing)
	}

	if _, err := repo.Reserve(ctx, "pay-2", "hash-b", ttl); !errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		t.Fatalf("expected ErrIdempotencyHashMismatch, got %v", err)
	}

	// После истечения TTL ключ снова свободен.
	clock.now = ttl
	if _, err := repo.Reserve(ctx, "pay-2", "hash-b", time.Time{}); err != nil {
		t.Fatalf("expired key must be reusable: %v", err)
	}
}

func TestIdempotencyRepository_Validation(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"blank key", func() error { _, err := repo.Reserve(ctx, " ", "h", time.Time{}); return err }, domain.ErrIdempotencyKeyRequired},
		{"blank hash", func() error { _, err := repo.Reserve(ctx, "k", " ", time.Time{}); return err }, domain.ErrIdempotencyRequestHashRequired},
		{"get blank", func() error { _, err := repo.Get(ctx, ""); return err }, domain.ErrIdempotencyKeyRequired},
		{"get unknown", func() error { _, err := repo.Get(ctx, "missing"); return err }, domain.ErrIdempotencyKeyNotFound},
		{"finish unknown", func() error {
			return repo.Finish(ctx, "missing", domain.IdempotencyOutcome{Status: domain.IdempotencyStatusFailed})
		}, domain.ErrIdempotencyKeyNotFound},
		{"finish processing", func() error {
			return repo.Finish(ctx, "missing", domain.IdempotencyOutcome{Status: domain.IdempotencyStatusProcessing})
		}, domain.ErrIdempotencyOutcomeInvalid},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.call(); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := repo.Reserve(canceled, "k", "h", time.Time{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("canceled ctx: %v", err)
	}
}

func TestIdempotencyRepository_DeleteExpiredOldestFirst(t *testing.T) {
	ctx := context.Background()
	repo, clock := newClockedRepo()

	for i, key := range []string{"late", "early", "middle", "fresh"} {
		ttl := clock.now.Add(time.Duration(i) * time.Minute)
		switch key {
		case "early":
			ttl = clock.now.Add(-3 * time.Minute)
		case "middle":
			ttl = clock.now.Add(-2 * time.Minute)
		case "late":
			ttl = clock.now.Add(-time.Minute)
		}
		if _, err := repo.Reserve(ctx, key, "hash", ttl); err != nil {
			t.Fatalf("Reserve %s: %v", key, err)
		}
	}

	removed, err := repo.DeleteExpired(ctx, time.Time{}, 2)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if _, err := repo.Get(ctx, "late"); err != nil {
		t.Fatalf("latest expired key must survive a limited sweep: %v", err)
	}

	removed, err = repo.DeleteExpired(ctx, time.Time{}, 0)
	if err != nil || removed != 1 {
		t.Fatalf("second sweep removed=%d err=%v", removed, err)
	}
	if repo.Len() != 1 {
		t.Fatalf("only the fresh key should remain, have %d", repo.Len())
	}
}
