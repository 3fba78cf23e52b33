package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go-session-service/internal/model"
)

func TestMemoryUserStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryUserStore()

	u, err := store.Create(ctx, " Alice@Example.com", "hash", model.RoleUser)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", u.Email)

	_, err = store.Create(ctx, "ALICE@example.com", "hash2", model.RoleAdmin)
	require.ErrorIs(t, err, model.ErrDuplicateKey)

	got, err := store.FindByEmail(ctx, "alice@EXAMPLE.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	_, err = store.FindByID(ctx, "missing")
	require.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, store.SetActive(u.ID, false))
	got, err = store.FindByID(ctx, u.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)

	users, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
}

func TestMemoryTokenStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryTokenStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, "a", "u1", now.Add(time.Hour)))
	require.NoError(t, store.Create(ctx, "b", "u1", now.Add(-time.Hour)))
	require.ErrorIs(t, store.Create(ctx, "a", "u2", now), model.ErrDuplicateKey)

	row, err := store.FindByToken(ctx, "b")
	require.NoError(t, err)
	require.NoError(t, store.DeleteByID(ctx, row.ID))
	_, err = store.FindByToken(ctx, "b")
	require.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, store.Create(ctx, "c", "u1", now))
	n, err := store.DeleteExpired(ctx, now)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.Equal(t, 1, store.Len())
}

func TestMemoryTokenStoreDeleteIsExclusive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryTokenStore()
	require.NoError(t, store.Create(ctx, "tok", "u1", time.Now().Add(time.Hour)))

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			removed, err := store.DeleteByToken(ctx, "tok")
			if err == nil && removed {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, winners.Load())
}
