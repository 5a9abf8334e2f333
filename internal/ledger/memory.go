package ledger

import (
	"context"
	"sync"
	"time"
)

// sweepBatch bounds how many deletions happen under one write-lock hold.
const sweepBatch = 512

// Memory is the process-wide ledger. It does not survive a restart and is
// not shared between instances; use Gorm for that.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	now     func() time.Time
}

var _ Ledger = (*Memory)(nil)

func NewMemory(opts ...Option) *Memory {
	o := buildOptions(opts)
	return &Memory{
		entries: make(map[string]*Entry),
		now:     o.now,
	}
}

func (m *Memory) Register(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(e)
}

func (m *Memory) insertLocked(e Entry) error {
	if _, ok := m.entries[e.TokenID]; ok {
		return ErrExists
	}
	e.Revoked = false
	m.entries[e.TokenID] = &e
	return nil
}

func (m *Memory) Lookup(_ context.Context, tokenID string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[tokenID]
	if !ok {
		return Entry{}, false, nil
	}
	return *e, true, nil
}

func (m *Memory) IsActive(_ context.Context, tokenID, userID string) (bool, error) {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[tokenID]
	if !ok {
		return false, nil
	}
	return e.UserID == userID && !e.stale(now), nil
}

func (m *Memory) Revoke(_ context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[tokenID]
	if !ok {
		return false, nil
	}
	e.Revoked = true
	return true, nil
}

func (m *Memory) RevokeAll(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, e := range m.entries {
		if e.UserID == userID && !e.Revoked {
			e.Revoked = true
			n++
		}
	}
	return n, nil
}

func (m *Memory) Replace(_ context.Context, oldID, userID string, next Entry) (bool, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.entries[oldID]
	if !ok || old.UserID != userID || old.stale(now) {
		return false, nil
	}
	if err := m.insertLocked(next); err != nil {
		return false, err
	}
	old.Revoked = true
	return true, nil
}

func (m *Memory) Sweep(_ context.Context, now time.Time) (int, error) {
	m.mu.RLock()
	var stale []string
	for id, e := range m.entries {
		if e.stale(now) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	removed := 0
	for start := 0; start < len(stale); start += sweepBatch {
		end := min(start+sweepBatch, len(stale))
		m.mu.Lock()
		for _, id := range stale[start:end] {
			// the entry may have been replaced since the snapshot
			if e, ok := m.entries[id]; ok && e.stale(now) {
				delete(m.entries, id)
				removed++
			}
		}
		m.mu.Unlock()
	}
	return removed, nil
}

func (m *Memory) Len(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}
