package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
)

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return "token-" + string(rune('a'+s.n)), nil
}

func newLock(t *testing.T, ttl time.Duration) (*Lock, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	lock, err := New(client, &seqIDs{}, Config{Key: "test:lock", TTL: ttl}, nil)
	require.NoError(t, err)
	return lock, srv
}

func TestLockRejectsOverlap(t *testing.T) {
	t.Parallel()

	lock, srv := newLock(t, time.Minute)
	ctx := context.Background()

	release, err := lock.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, srv.Exists("test:lock"))

	_, err = lock.TryAcquire(ctx)
	require.ErrorIs(t, err, newsletter.ErrRunInProgress)

	release()
	release()
	require.False(t, srv.Exists("test:lock"))

	release2, err := lock.TryAcquire(ctx)
	require.NoError(t, err)
	release2()
}

func TestLockReleaseKeepsForeignToken(t *testing.T) {
	t.Parallel()

	lock, srv := newLock(t, time.Minute)
	ctx := context.Background()

	release, err := lock.TryAcquire(ctx)
	require.NoError(t, err)

	// Simulate expiry followed by another holder taking over.
	srv.FastForward(2 * time.Minute)
	require.False(t, srv.Exists("test:lock"))
	require.NoError(t, srv.Set("test:lock", "someone-else"))

	release()
	got, err := srv.Get("test:lock")
	require.NoError(t, err)
	require.Equal(t, "someone-else", got)
}

func TestLockTTLApplied(t *testing.T) {
	t.Parallel()

	lock, srv := newLock(t, 10*time.Second)
	_, err := lock.TryAcquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, srv.TTL("test:lock"))
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, &seqIDs{}, Config{}, nil)
	require.Error(t, err)

	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })
	_, err = New(client, nil, Config{}, nil)
	require.Error(t, err)

	lock, err := New(client, &seqIDs{}, Config{}, nil)
	require.NoError(t, err)
	require.Equal(t, DefaultTTL, lock.cfg.TTL)
	require.Equal(t, "newsletter:ingest:lock", lock.cfg.Key)
}
