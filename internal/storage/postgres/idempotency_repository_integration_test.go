package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestIdempotencyRepository_PostgresReserveFinishReplay(t *testing.T) {
	repo := NewIdempotencyRepository(newTestStore(t))
	ctx := context.Background()
	ttl := time.Now().UTC().Add(2 * time.Hour).Round(time.Second)

	reserved, err := repo.Reserve(ctx, "pay-session-1", "hash-1", ttl)
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusProcessing, reserved.Status)

	_, err = repo.Reserve(ctx, "pay-session-1", "hash-1", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)

	require.NoError(t, repo.Finish(ctx, "pay-session-1", domain.IdempotencyOutcome{
		Status: domain.IdempotencyStatusDone,
		Body:   []byte(`{"session":{"status":"processing"}}`),
		Code:   202,
	}))

	got, err := repo.Get(ctx, "pay-session-1")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, got.Status)
	require.Equal(t, 202, got.ResponseCode)
	require.JSONEq(t, `{"session":{"status":"processing"}}`, string(got.ResponseBody))
	require.True(t, got.TTLAt.Equal(ttl), "ttl: want %s, got %s", ttl, got.TTLAt)
	require.True(t, got.Replayable())

	existing, err := repo.Reserve(ctx, "pay-session-1", "hash-2", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
	require.Equal(t, "hash-1", existing.RequestHash)
}

func TestIdempotencyRepository_PostgresExpiredKeyIsReused(t *testing.T) {
	repo := NewIdempotencyRepository(newTestStore(t))
	ctx := context.Background()

	_, err := repo.Reserve(ctx, "pay-stale", "old-hash", time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	require.NoError(t, repo.Finish(ctx, "pay-stale", domain.IdempotencyOutcome{Status: domain.IdempotencyStatusFailed, Code: 9}))

	reserved, err := repo.Reserve(ctx, "pay-stale", "new-hash", time.Time{})
	require.NoError(t, err)
	require.Equal(t, "new-hash", reserved.RequestHash)

	got, err := repo.Get(ctx, "pay-stale")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusProcessing, got.Status)
	require.Empty(t, got.ResponseBody)
	require.Zero(t, got.ResponseCode)
}

func TestIdempotencyRepository_PostgresDeleteExpired(t *testing.T) {
	repo := NewIdempotencyRepository(newTestStore(t))
	ctx := context.Background()
	now := time.Now().UTC()

	for i, key := range []string{"pay-exp-1", "pay-exp-2", "pay-exp-3"} {
		_, err := repo.Reserve(ctx, key, "h", now.Add(-time.Duration(5-i)*time.Minute))
		require.NoError(t, err)
	}
	_, err := repo.Reserve(ctx, "pay-live", "h", now.Add(time.Hour))
	require.NoError(t, err)

	removed, err := repo.DeleteExpired(ctx, now, 2)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	_, err = repo.Get(ctx, "pay-exp-3")
	require.NoError(t, err, "the most recently expired key survives a limited sweep")

	removed, err = repo.DeleteExpired(ctx, now, 0)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = repo.Get(ctx, "pay-live")
	require.NoError(t, err)
	_, err = repo.Get(ctx, "pay-exp-1")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
}

func TestIdempotencyRepository_PostgresFinishValidation(t *testing.T) {
	repo := NewIdempotencyRepository(newTestStore(t))
	ctx := context.Background()

	err := repo.Finish(ctx, "missing", domain.IdempotencyOutcome{Status: domain.IdempotencyStatusDone})
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

	err = repo.Finish(ctx, "missing", domain.IdempotencyOutcome{Status: domain.IdempotencyStatusProcessing})
	require.ErrorIs(t, err, domain.ErrIdempotencyOutcomeInvalid)
}
