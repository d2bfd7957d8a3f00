package noncecache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a strong-consistency, single-process TTL seen-set backed
// by a mutex-protected map and a background sweep goroutine, in the style
// of the teacher's rate-limiter stores. Add happens-before Has trivially
// (same mutex), satisfying the strong-consistency ordering guarantee in
// §5.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time // nonce -> expiry
	clock   func() time.Time

	sweepInterval time.Duration
	stopCh        chan struct{}
	stopOnce      sync.Once
}

// NewMemoryStore creates an in-process store with a background sweep every
// sweepInterval (must be >= 60s per spec §4.3; values below that are
// clamped up).
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	if sweepInterval < 60*time.Second {
		sweepInterval = 60 * time.Second
	}
	m := &MemoryStore{
		entries:       make(map[string]time.Time),
		clock:         time.Now,
		sweepInterval: sweepInterval,
		stopCh:        make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

func (m *MemoryStore) sweepLoop() {
	t := time.NewTicker(m.sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = m.Cleanup(context.Background())
		case <-m.stopCh:
			return
		}
	}
}

// Destroy stops the background sweep goroutine. Per spec §9's design note,
// the in-memory store must expose a way to release its timer for clean
// shutdown in tests and short-lived processes.
func (m *MemoryStore) Destroy() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *MemoryStore) Has(_ context.Context, nonce string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.entries[nonce]
	if !ok {
		return false, nil
	}
	if m.clock().After(exp) {
		delete(m.entries, nonce)
		return false, nil
	}
	return true, nil
}

func (m *MemoryStore) Add(_ context.Context, nonce string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[nonce] = m.clock().Add(ttl)
	return nil
}

// CheckAndSet implements compareAndSwapStore for a single-lock atomic
// check-then-set, avoiding the two-call race window.
func (m *MemoryStore) CheckAndSet(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	if exp, ok := m.entries[nonce]; ok && now.Before(exp) {
		return true, nil
	}
	m.entries[nonce] = now.Add(ttl)
	return false, nil
}

func (m *MemoryStore) Cleanup(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	for nonce, exp := range m.entries {
		if now.After(exp) {
			delete(m.entries, nonce)
		}
	}
	return nil
}

func (m *MemoryStore) StrongConsistency() bool { return true }
