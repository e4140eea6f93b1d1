package recoveryinfra_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abraxas-365/homestead/pkg/errx"
	"github.com/Abraxas-365/homestead/pkg/kernel"
	"github.com/Abraxas-365/homestead/pkg/recovery"
	"github.com/Abraxas-365/homestead/pkg/recovery/recoveryinfra"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func newStore(t *testing.T) (*miniredis.Miniredis, *recoveryinfra.RedisCodeStore) {
	mr, client := newTestRedis(t)
	clock := kernel.ClockFunc(func() time.Time { return t0 })
	return mr, recoveryinfra.NewRedisCodeStore(client, "test", time.Minute, clock)
}

func issued(email string) *recovery.Session {
	return &recovery.Session{
		Email:       email,
		CodeHash:    "hash",
		IssuedAt:    t0,
		ExpiresAt:   t0.Add(10 * time.Minute),
		MaxAttempts: 5,
		State:       recovery.StateCodeIssued,
	}
}

func TestRedisCodeStore_PutGet(t *testing.T) {
	_, store := newStore(t)
	ctx := context.Background()

	s := issued("a@x.com")
	require.NoError(t, store.Put(ctx, s))
	assert.Equal(t, int64(1), s.Version)

	got, err := store.Get(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, recovery.StateCodeIssued, got.State)
	assert.Equal(t, "hash", got.CodeHash)
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, got.ExpiresAt.Equal(s.ExpiresAt))
}

func TestRedisCodeStore_PutOverwritesAndBumpsVersion(t *testing.T) {
	_, store := newStore(t)
	ctx := context.Background()

	first := issued("a@x.com")
	require.NoError(t, store.Put(ctx, first))

	second := issued("a@x.com")
	second.CodeHash = "other"
	require.NoError(t, store.Put(ctx, second))
	assert.Equal(t, int64(2), second.Version)

	got, err := store.Get(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "other", got.CodeHash)

	// A writer holding the first version loses.
	stale := got.Clone()
	stale.AttemptCount = 1
	err = store.CompareAndSwap(ctx, "a@x.com", first.Version, stale)
	assert.True(t, errx.IsCode(err, recovery.CodeVersionConflict))
}

func TestRedisCodeStore_GetMissing(t *testing.T) {
	_, store := newStore(t)

	_, err := store.Get(context.Background(), "nobody@x.com")
	assert.True(t, errx.IsCode(err, recovery.CodeSessionNotFound))
}

func TestRedisCodeStore_CompareAndSwap(t *testing.T) {
	_, store := newStore(t)
	ctx := context.Background()

	s := issued("a@x.com")
	require.NoError(t, store.Put(ctx, s))

	next := s.Clone()
	next.AttemptCount = 1
	require.NoError(t, store.CompareAndSwap(ctx, "a@x.com", s.Version, next))
	assert.Equal(t, s.Version+1, next.Version)

	got, err := store.Get(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 1, got.AttemptCount)

	err = store.CompareAndSwap(ctx, "a@x.com", s.Version, next)
	assert.True(t, errx.IsCode(err, recovery.CodeVersionConflict))

	err = store.CompareAndSwap(ctx, "missing@x.com", 1, next)
	assert.True(t, errx.IsCode(err, recovery.CodeSessionNotFound))
}

func TestRedisCodeStore_ConcurrentSwapsHaveOneWinner(t *testing.T) {
	_, store := newStore(t)
	ctx := context.Background()

	s := issued("a@x.com")
	require.NoError(t, store.Put(ctx, s))

	const n = 10
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := s.Clone()
			next.State = recovery.StateVerified
			if err := store.CompareAndSwap(ctx, "a@x.com", s.Version, next); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else {
				assert.True(t, errx.IsCode(err, recovery.CodeVersionConflict))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestRedisCodeStore_RetainsPastExpiry(t *testing.T) {
	mr, store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, issued("a@x.com")))

	// Code lifetime is 10m, grace 1m.
	mr.FastForward(10*time.Minute + 30*time.Second)
	_, err := store.Get(ctx, "a@x.com")
	require.NoError(t, err)

	mr.FastForward(time.Minute)
	_, err = store.Get(ctx, "a@x.com")
	assert.True(t, errx.IsCode(err, recovery.CodeSessionNotFound))
}

func TestRedisCodeStore_Delete(t *testing.T) {
	_, store := newStore(t)
	ctx := context.Background()

	sess := issued("a@x.com")
	require.NoError(t, store.Put(ctx, sess))

	err := store.Delete(ctx, "a@x.com", sess.Version+1)
	assert.True(t, errx.IsCode(err, recovery.CodeVersionConflict))
	_, err = store.Get(ctx, "a@x.com")
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "a@x.com", sess.Version))
	_, err = store.Get(ctx, "a@x.com")
	assert.True(t, errx.IsCode(err, recovery.CodeSessionNotFound))

	// Already gone.
	assert.NoError(t, store.Delete(ctx, "a@x.com", sess.Version))
}

func TestRedisCodeStore_Unavailable(t *testing.T) {
	mr, store := newStore(t)
	mr.Close()

	_, err := store.Get(context.Background(), "a@x.com")
	assert.True(t, errx.IsCode(err, recovery.CodeStoreUnavailable))
	assert.True(t, errx.IsRetryable(err))

	assert.Error(t, store.Ping(context.Background()))
}
