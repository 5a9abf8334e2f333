// Package ratelimit bounds request volume per client over a fixed window and
// blocks clients that exceed it for an escalating period.
package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"
)

const (
	DefaultBlockMultiplier = 2
	DefaultMaxBlock        = 5 * time.Minute
	DefaultSweepInterval   = 60 * time.Second

	sweepBatch = 512
)

// Policy configures one class of routes.
type Policy struct {
	Name            string
	Window          time.Duration
	MaxRequests     int
	BlockMultiplier int
	MaxBlock        time.Duration
}

var (
	AuthPolicy      = Policy{Name: "auth", Window: 15 * time.Minute, MaxRequests: 5}
	APIPolicy       = Policy{Name: "api", Window: 15 * time.Minute, MaxRequests: 100}
	SensitivePolicy = Policy{Name: "sensitive", Window: time.Minute, MaxRequests: 10}
)

func (p Policy) withDefaults() Policy {
	if p.Window <= 0 {
		p.Window = time.Minute
	}
	if p.MaxRequests <= 0 {
		p.MaxRequests = 1
	}
	if p.BlockMultiplier <= 0 {
		p.BlockMultiplier = DefaultBlockMultiplier
	}
	if p.MaxBlock <= 0 {
		p.MaxBlock = DefaultMaxBlock
	}
	return p
}

// BlockDuration is min(Window*BlockMultiplier, MaxBlock).
func (p Policy) BlockDuration() time.Duration {
	p = p.withDefaults()
	return min(p.Window*time.Duration(p.BlockMultiplier), p.MaxBlock)
}

// Decision is the outcome of one Check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (d Decision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(d.RetryAfter.Seconds()))
}

// Checker is what the HTTP middleware needs. A shared store can implement it
// for multi-instance deployments.
type Checker interface {
	Check(key string) Decision
	Policy() Policy
}

type record struct {
	count         int
	windowResetAt time.Time
	blockedUntil  time.Time
}

func (r *record) idle(now time.Time) bool {
	return !now.Before(r.windowResetAt) && !now.Before(r.blockedUntil)
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithObserver is called after every decision.
func WithObserver(fn func(tier string, allowed bool)) Option {
	return func(l *Limiter) { l.observe = fn }
}

// Limiter owns the rate records of one policy for the life of the process.
type Limiter struct {
	policy  Policy
	now     func() time.Time
	observe func(tier string, allowed bool)

	mu      sync.Mutex
	records map[string]*record
}

var _ Checker = (*Limiter)(nil)

func New(p Policy, opts ...Option) *Limiter {
	l := &Limiter{
		policy:  p.withDefaults(),
		now:     time.Now,
		records: make(map[string]*record),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) Policy() Policy { return l.policy }

// Check counts one request for key. The read-modify-write of the record
// happens under a single lock hold.
func (l *Limiter) Check(key string) Decision {
	now := l.now()
	p := l.policy

	l.mu.Lock()
	d := l.check(key, now, p)
	l.mu.Unlock()

	if l.observe != nil {
		l.observe(p.Name, d.Allowed)
	}
	return d
}

func (l *Limiter) check(key string, now time.Time, p Policy) Decision {
	r, ok := l.records[key]

	if ok && now.Before(r.blockedUntil) {
		return Decision{
			Limit:      p.MaxRequests,
			ResetAt:    later(r.windowResetAt, r.blockedUntil),
			RetryAfter: r.blockedUntil.Sub(now),
		}
	}

	// a lapsed block starts a clean window as well
	if !ok || !now.Before(r.windowResetAt) || !r.blockedUntil.IsZero() {
		r = &record{count: 1, windowResetAt: now.Add(p.Window)}
		l.records[key] = r
		return Decision{
			Allowed:   true,
			Limit:     p.MaxRequests,
			Remaining: p.MaxRequests - 1,
			ResetAt:   r.windowResetAt,
		}
	}

	r.count++
	if r.count > p.MaxRequests {
		r.blockedUntil = now.Add(p.BlockDuration())
		return Decision{
			Limit:      p.MaxRequests,
			ResetAt:    later(r.windowResetAt, r.blockedUntil),
			RetryAfter: r.blockedUntil.Sub(now),
		}
	}
	return Decision{
		Allowed:   true,
		Limit:     p.MaxRequests,
		Remaining: p.MaxRequests - r.count,
		ResetAt:   r.windowResetAt,
	}
}

// Sweep drops records whose window and block have both elapsed.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	var idle []string
	for k, r := range l.records {
		if r.idle(now) {
			idle = append(idle, k)
		}
	}
	l.mu.Unlock()

	removed := 0
	for start := 0; start < len(idle); start += sweepBatch {
		end := min(start+sweepBatch, len(idle))
		l.mu.Lock()
		for _, k := range idle[start:end] {
			if r, ok := l.records[k]; ok && r.idle(now) {
				delete(l.records, k)
				removed++
			}
		}
		l.mu.Unlock()
	}
	return removed
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Run sweeps every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration, log *slog.Logger) {
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
			if n := l.Sweep(now); n > 0 {
				log.Debug("rate_limit_swept", "tier", l.policy.Name, "removed", n)
			}
		}
	}
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
