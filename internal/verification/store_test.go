package verification

import (
	"context"
	"sync"
	"testing"
	"time"

	"unitools/market-api/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pending(email, listingID string, ttl time.Duration) *model.PendingVerification {
	return &model.PendingVerification{
		Email:     email,
		CodeHash:  "hash-" + listingID,
		ListingID: listingID,
		Kind:      model.KindSell,
		ExpiresAt: time.Now().Add(ttl),
	}
}

// runStoreTests checks the behaviour every Store has to share
func runStoreTests(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("SaveReplaces", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Save(ctx, pending("a@bue.edu.eg", "first", time.Hour)))
		_, err := s.ReserveAttempt(ctx, "a@bue.edu.eg", "first", 3)
		require.NoError(t, err)
		require.NoError(t, s.Save(ctx, pending("a@bue.edu.eg", "second", time.Hour)))

		p, err := s.Get(ctx, "a@bue.edu.eg")
		require.NoError(t, err)
		assert.Equal(t, "a@bue.edu.eg", p.Email)
		assert.Equal(t, "second", p.ListingID)
		assert.Equal(t, "hash-second", p.CodeHash)
		assert.Equal(t, model.KindSell, p.Kind)
		assert.Equal(t, 0, p.Attempts)

		ids, err := s.ListingIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"second"}, ids)
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Get(context.Background(), "nobody@bue.edu.eg")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.ReserveAttempt(context.Background(), "nobody@bue.edu.eg", "l1", 3)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ReserveAttemptStopsAtMax", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Save(ctx, pending("a@bue.edu.eg", "l1", time.Hour)))

		for want := 1; want <= 3; want++ {
			n, err := s.ReserveAttempt(ctx, "a@bue.edu.eg", "l1", 3)
			require.NoError(t, err)
			assert.Equal(t, want, n)
		}

		_, err := s.ReserveAttempt(ctx, "a@bue.edu.eg", "l1", 3)
		assert.ErrorIs(t, err, ErrNotFound)

		p, err := s.Get(ctx, "a@bue.edu.eg")
		require.NoError(t, err)
		assert.Equal(t, 3, p.Attempts)
	})

	t.Run("ReserveAttemptConcurrent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Save(ctx, pending("a@bue.edu.eg", "l1", time.Hour)))

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			reserved int
		)

		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()

				if _, err := s.ReserveAttempt(ctx, "a@bue.edu.eg", "l1", 3); err == nil {
					mu.Lock()
					reserved++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 3, reserved)
	})

	t.Run("ReserveAttemptIgnoresReplacedEntry", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Save(ctx, pending("a@bue.edu.eg", "new", time.Hour)))

		_, err := s.ReserveAttempt(ctx, "a@bue.edu.eg", "old", 3)
		assert.ErrorIs(t, err, ErrNotFound)

		p, err := s.Get(ctx, "a@bue.edu.eg")
		require.NoError(t, err)
		assert.Equal(t, 0, p.Attempts)
	})

	t.Run("ConsumeOnce", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Save(ctx, pending("a@bue.edu.eg", "l1", time.Hour)))

		ok, err := s.Consume(ctx, "a@bue.edu.eg", "other")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.Consume(ctx, "a@bue.edu.eg", "l1")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Consume(ctx, "a@bue.edu.eg", "l1")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = s.Get(ctx, "a@bue.edu.eg")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("DeleteKeepsNewerEntry", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Save(ctx, pending("a@bue.edu.eg", "new", time.Hour)))
		require.NoError(t, s.Delete(ctx, "a@bue.edu.eg", "old"))

		p, err := s.Get(ctx, "a@bue.edu.eg")
		require.NoError(t, err)
		assert.Equal(t, "new", p.ListingID)

		require.NoError(t, s.Delete(ctx, "a@bue.edu.eg", "new"))

		_, err = s.Get(ctx, "a@bue.edu.eg")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
