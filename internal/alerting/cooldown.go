package alerting

import (
	"context"
	"sync"
	"time"
)

// DefaultCooldownWindow is the suppression window between alerts of one kind.
const DefaultCooldownWindow = 5 * time.Minute

// CooldownStore holds per-key cooldown state. Both operations must be atomic
// per key.
type CooldownStore interface {
	// Touch records a send at now and returns true if there is no entry for
	// key or window has elapsed since the last send. Otherwise it increments
	// the key's suppressed count and returns false.
	Touch(ctx context.Context, key string, now time.Time, window time.Duration) (bool, error)
	// Drain returns the suppressed count for key and resets it to zero.
	Drain(ctx context.Context, key string) (int, error)
	// Release undoes a send recorded by Touch at sentAt that never reached
	// the notifier: the key's window is cleared if it still starts at sentAt
	// and suppressed is added back to its count.
	Release(ctx context.Context, key string, sentAt time.Time, suppressed int) error
}

// Cooldown suppresses repeated alerts with the same key within a window.
type Cooldown struct {
	store  CooldownStore
	window time.Duration
}

func NewCooldown(store CooldownStore, window time.Duration) *Cooldown {
	if window <= 0 {
		window = DefaultCooldownWindow
	}
	return &Cooldown{store: store, window: window}
}

// ShouldSend reports whether an alert for key may go out at now.
func (c *Cooldown) ShouldSend(ctx context.Context, key string, now time.Time) (bool, error) {
	return c.store.Touch(ctx, key, now, c.window)
}

// DrainSuppressedCount returns and resets the number of alerts suppressed for
// key. Call it only when an alert is about to be sent.
func (c *Cooldown) DrainSuppressedCount(ctx context.Context, key string) (int, error) {
	return c.store.Drain(ctx, key)
}

// Release gives back a window granted by ShouldSend at sentAt together with
// the suppressed count drained for it.
func (c *Cooldown) Release(ctx context.Context, key string, sentAt time.Time, suppressed int) error {
	return c.store.Release(ctx, key, sentAt, suppressed)
}

type cooldownEntry struct {
	lastSent   time.Time
	suppressed int
}

// MemoryCooldownStore keeps state in process memory. It is lost on restart
// and not shared between instances.
type MemoryCooldownStore struct {
	mu      sync.Mutex
	entries map[string]*cooldownEntry
}

func NewMemoryCooldownStore() *MemoryCooldownStore {
	return &MemoryCooldownStore{entries: map[string]*cooldownEntry{}}
}

func (m *MemoryCooldownStore) Touch(_ context.Context, key string, now time.Time, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		m.entries[key] = &cooldownEntry{lastSent: now}
		return true, nil
	}
	if e.lastSent.IsZero() || now.Sub(e.lastSent) >= window {
		e.lastSent = now
		return true, nil
	}
	e.suppressed++
	return false, nil
}

func (m *MemoryCooldownStore) Drain(_ context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return 0, nil
	}
	n := e.suppressed
	e.suppressed = 0
	return n, nil
}

func (m *MemoryCooldownStore) Release(_ context.Context, key string, sentAt time.Time, suppressed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		e = &cooldownEntry{}
		m.entries[key] = e
	}
	if e.lastSent.Equal(sentAt) {
		e.lastSent = time.Time{}
	}
	e.suppressed += suppressed
	return nil
}
