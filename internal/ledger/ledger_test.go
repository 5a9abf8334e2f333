package ledger

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Skotchmaster/shop_access/internal/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func initTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.LedgerEntry{}))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

type backend struct {
	name string
	make func(t *testing.T, clock *fakeClock) Ledger
}

func backends() []backend {
	return []backend{
		{name: "memory", make: func(t *testing.T, clock *fakeClock) Ledger {
			return NewMemory(WithClock(clock.Now))
		}},
		{name: "gorm", make: func(t *testing.T, clock *fakeClock) Ledger {
			return NewGorm(initTestDB(t), WithClock(clock.Now))
		}},
	}
}

func entry(tokenID, userID string, issuedAt, expiresAt time.Time) Entry {
	return Entry{TokenID: tokenID, UserID: userID, IssuedAt: issuedAt, ExpiresAt: expiresAt}
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestLedger_RegisterAndIsActive(t *testing.T) {
	t.Parallel()

	for _, b := range backends() {
		b := b
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			clock := newClock()
			l := b.make(t, clock)

			require.NoError(t, l.Register(ctx, entry("tok-1", "u1", clock.Now(), clock.Now().Add(time.Hour))))

			ok, err := l.IsActive(ctx, "tok-1", "u1")
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = l.IsActive(ctx, "tok-1", "u2")
			require.NoError(t, err)
			assert.False(t, ok, "owner mismatch must not be active")

			ok, err = l.IsActive(ctx, "missing", "u1")
			require.NoError(t, err)
			assert.False(t, ok)

			clock.Advance(2 * time.Hour)
			ok, err = l.IsActive(ctx, "tok-1", "u1")
			require.NoError(t, err)
			assert.False(t, ok, "expired entry must not be active")
		})
	}
}

func TestLedger_Revoke(t *testing.T) {
	t.Parallel()

	for _, b := range backends() {
		b := b
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			clock := newClock()
			l := b.make(t, clock)

			require.NoError(t, l.Register(ctx, entry("tok-1", "u1", clock.Now(), clock.Now().Add(time.Hour))))

			ok, err := l.Revoke(ctx, "tok-1")
			require.NoError(t, err)
			assert.True(t, ok)

			active, err := l.IsActive(ctx, "tok-1", "u1")
			require.NoError(t, err)
			assert.False(t, active)

			ok, err = l.Revoke(ctx, "never-issued")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestLedger_RevokeAll(t *testing.T) {
	t.Parallel()

	for _, b := range backends() {
		b := b
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			clock := newClock()
			l := b.make(t, clock)
			exp := clock.Now().Add(time.Hour)

			require.NoError(t, l.Register(ctx, entry("a", "u1", clock.Now(), exp)))
			require.NoError(t, l.Register(ctx, entry("b", "u1", clock.Now(), exp)))
			require.NoError(t, l.Register(ctx, entry("c", "u1", clock.Now(), exp)))
			require.NoError(t, l.Register(ctx, entry("d", "u2", clock.Now(), exp)))
			_, err := l.Revoke(ctx, "c")
			require.NoError(t, err)

			n, err := l.RevokeAll(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			active, err := l.IsActive(ctx, "d", "u2")
			require.NoError(t, err)
			assert.True(t, active, "other users are untouched")
		})
	}
}

func TestLedger_RegisterDuplicate(t *testing.T) {
	t.Parallel()

	for _, b := range backends() {
		b := b
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			clock := newClock()
			l := b.make(t, clock)

			require.NoError(t, l.Register(ctx, entry("tok-1", "u1", clock.Now(), clock.Now().Add(time.Hour))))
			err := l.Register(ctx, entry("tok-1", "u2", clock.Now(), clock.Now().Add(time.Hour)))
			assert.ErrorIs(t, err, ErrExists)

			e, ok, err := l.Lookup(ctx, "tok-1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "u1", e.UserID)
		})
	}
}

func TestLedger_LookupKeepsImpersonation(t *testing.T) {
	t.Parallel()

	for _, b := range backends() {
		b := b
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			clock := newClock()
			l := b.make(t, clock)

			e := entry("tok-1", "u7", clock.Now(), clock.Now().Add(time.Hour))
			e.OriginalAdminID = "a1"
			e.OriginalAdminName = "Root Admin"
			require.NoError(t, l.Register(ctx, e))

			got, ok, err := l.Lookup(ctx, "tok-1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.True(t, got.Impersonated())
			assert.Equal(t, "a1", got.OriginalAdminID)
			assert.Equal(t, "Root Admin", got.OriginalAdminName)
			assert.False(t, got.Revoked)

			_, ok, err = l.Lookup(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestLedger_Replace(t *testing.T) {
	t.Parallel()

	for _, b := range backends() {
		b := b
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			clock := newClock()
			l := b.make(t, clock)
			now := clock.Now()

			require.NoError(t, l.Register(ctx, entry("old", "u1", now, now.Add(time.Hour))))

			ok, err := l.Replace(ctx, "old", "u2", entry("next", "u2", now, now.Add(time.Hour)))
			require.NoError(t, err)
			assert.False(t, ok, "wrong owner")
			_, found, err := l.Lookup(ctx, "next")
			require.NoError(t, err)
			assert.False(t, found, "rejected replace must not register")

			ok, err = l.Replace(ctx, "old", "u1", entry("next", "u1", now, now.Add(time.Hour)))
			require.NoError(t, err)
			assert.True(t, ok)

			active, err := l.IsActive(ctx, "old", "u1")
			require.NoError(t, err)
			assert.False(t, active)
			active, err = l.IsActive(ctx, "next", "u1")
			require.NoError(t, err)
			assert.True(t, active)

			ok, err = l.Replace(ctx, "old", "u1", entry("again", "u1", now, now.Add(time.Hour)))
			require.NoError(t, err)
			assert.False(t, ok, "consumed entry cannot be replaced twice")
		})
	}
}

func TestLedger_ReplaceFailedInsertKeepsOld(t *testing.T) {
	t.Parallel()

	for _, b := range backends() {
		b := b
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			clock := newClock()
			l := b.make(t, clock)
			now := clock.Now()

			require.NoError(t, l.Register(ctx, entry("old", "u1", now, now.Add(time.Hour))))
			require.NoError(t, l.Register(ctx, entry("taken", "u9", now, now.Add(time.Hour))))

			ok, err := l.Replace(ctx, "old", "u1", entry("taken", "u1", now, now.Add(time.Hour)))
			require.ErrorIs(t, err, ErrExists)
			assert.False(t, ok)

			active, err := l.IsActive(ctx, "old", "u1")
			require.NoError(t, err)
			assert.True(t, active, "old entry must survive a failed replace")

			ok, err = l.Replace(ctx, "old", "u1", entry("fresh", "u1", now, now.Add(time.Hour)))
			require.NoError(t, err)
			assert.True(t, ok, "old entry is still usable")
		})
	}
}

func TestLedger_Sweep(t *testing.T) {
	t.Parallel()

	for _, b := range backends() {
		b := b
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			clock := newClock()
			l := b.make(t, clock)
			now := clock.Now()

			require.NoError(t, l.Register(ctx, entry("live", "u1", now, now.Add(time.Hour))))
			require.NoError(t, l.Register(ctx, entry("expired", "u1", now.Add(-2*time.Hour), now.Add(-time.Hour))))
			require.NoError(t, l.Register(ctx, entry("revoked", "u1", now, now.Add(time.Hour))))
			_, err := l.Revoke(ctx, "revoked")
			require.NoError(t, err)

			removed, err := l.Sweep(ctx, now)
			require.NoError(t, err)
			assert.Equal(t, 2, removed)

			size, err := l.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, size)

			active, err := l.IsActive(ctx, "live", "u1")
			require.NoError(t, err)
			assert.True(t, active)
		})
	}
}

func TestMemory_ConcurrentReplace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newClock()
	l := NewMemory(WithClock(clock.Now))
	require.NoError(t, l.Register(ctx, entry("tok-1", "u1", clock.Now(), clock.Now().Add(time.Hour))))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := entry("next-"+strconv.Itoa(i), "u1", clock.Now(), clock.Now().Add(time.Hour))
			if ok, _ := l.Replace(ctx, "tok-1", "u1", next); ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	e, ok, err := l.Lookup(ctx, "tok-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, e.Revoked)

	size, err := l.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, size, "only the winning replacement is registered")
}

func TestMemory_SweepLargeTable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newClock()
	l := NewMemory(WithClock(clock.Now))
	now := clock.Now()
	for i := 0; i < 3*sweepBatch+7; i++ {
		id := "tok-" + strconv.Itoa(i)
		require.NoError(t, l.Register(ctx, entry(id, "u1", now, now.Add(time.Minute))))
	}

	removed, err := l.Sweep(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3*sweepBatch+7, removed)

	size, err := l.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestRunSweeper_StopsWithContext(t *testing.T) {
	t.Parallel()

	l := NewMemory()
	now := time.Now()
	require.NoError(t, l.Register(context.Background(), entry("old", "u1", now.Add(-time.Hour), now.Add(-time.Minute))))

	ctx, cancel := context.WithCancel(context.Background())
	sizes := make(chan int, 8)
	done := make(chan struct{})
	go func() {
		RunSweeper(ctx, l, 5*time.Millisecond, nil, func(n int) {
			select {
			case sizes <- n:
			default:
			}
		})
		close(done)
	}()

	select {
	case n := <-sizes:
		assert.Zero(t, n)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not run")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
