// Package ledger keeps the authoritative record of which token identifiers
// are still usable. A signature alone never proves a token is live: every
// verification path consults a Ledger.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrExists is returned when a token id is registered twice.
var ErrExists = errors.New("ledger: token id already registered")

// Entry is one issued token pair. OriginalAdminID is set when the pair was
// minted for an admin impersonating UserID; rotation copies it forward.
type Entry struct {
	TokenID   string
	UserID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Revoked   bool

	OriginalAdminID   string
	OriginalAdminName string
}

func (e Entry) Impersonated() bool { return e.OriginalAdminID != "" }

func (e Entry) stale(now time.Time) bool {
	return e.Revoked || !now.Before(e.ExpiresAt)
}

// Ledger is implemented by the in-process Memory map and by the gorm-backed
// table used when several instances share state. Every method is atomic with
// respect to concurrent callers.
type Ledger interface {
	// Register inserts a live entry, or fails with ErrExists.
	Register(ctx context.Context, e Entry) error
	// Lookup returns the stored entry for tokenID, stale or not.
	Lookup(ctx context.Context, tokenID string) (Entry, bool, error)
	// IsActive reports whether the entry exists, is not revoked, has not
	// expired and belongs to userID.
	IsActive(ctx context.Context, tokenID, userID string) (bool, error)
	// Revoke marks the entry revoked. It returns false when no entry exists.
	Revoke(ctx context.Context, tokenID string) (bool, error)
	// RevokeAll revokes every live entry of userID and returns how many.
	RevokeAll(ctx context.Context, userID string) (int, error)
	// Replace revokes oldID and registers next as one step. It reports false,
	// changing nothing, when oldID is not active for userID. At most one of
	// several concurrent calls for the same oldID succeeds. On error nothing
	// changes.
	Replace(ctx context.Context, oldID, userID string, next Entry) (bool, error)
	// Sweep deletes revoked and expired entries and returns how many.
	Sweep(ctx context.Context, now time.Time) (int, error)
	// Len returns the number of stored entries, stale ones included.
	Len(ctx context.Context) (int, error)
}

const DefaultSweepInterval = 60 * time.Second

type options struct {
	now func() time.Time
}

type Option func(*options)

// WithClock overrides the wall clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// RunSweeper calls l.Sweep every interval until ctx is done. onSweep, when
// non-nil, receives the ledger size after each pass.
func RunSweeper(ctx context.Context, l Ledger, interval time.Duration, log *slog.Logger, onSweep func(size int)) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if log == nil {
		log = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := l.Sweep(ctx, now)
			if err != nil {
				log.Error("ledger_sweep_failed", "error", err)
				continue
			}
			if removed > 0 {
				log.Debug("ledger_swept", "removed", removed)
			}
			if onSweep != nil {
				if n, err := l.Len(ctx); err == nil {
					onSweep(n)
				}
			}
		}
	}
}
