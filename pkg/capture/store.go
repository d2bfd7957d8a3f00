package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/peacprotocol/peac-core/pkg/schema"
)

// Store is the pluggable capture backend: appends entries for a session and
// recalls the last one. NewSession does not consult LastEntry; every
// Session starts a new chain at schema.GenesisDigest. Backend failures surface as a plain error and are translated to
// ErrStoreFailed by Session.Capture — they MUST NOT leak through as a bare
// ErrInternal, per spec §4.8.
type Store interface {
	Append(ctx context.Context, sessionID string, entry schema.SpoolEntry) error
	LastEntry(ctx context.Context, sessionID string) (*schema.SpoolEntry, bool, error)
	Close() error
}

// MemoryStore is an in-process Store, suitable for tests and for agents
// that only need in-memory capture (no cross-restart durability).
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]schema.SpoolEntry
	closed  bool
}

// NewMemoryStore creates an empty in-memory capture store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]schema.SpoolEntry)}
}

func (m *MemoryStore) Append(_ context.Context, sessionID string, entry schema.SpoolEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("capture: memory store is closed")
	}
	m.entries[sessionID] = append(m.entries[sessionID], entry)
	return nil
}

func (m *MemoryStore) LastEntry(_ context.Context, sessionID string) (*schema.SpoolEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	es := m.entries[sessionID]
	if len(es) == 0 {
		return nil, false, nil
	}
	e := es[len(es)-1]
	return &e, true, nil
}

// Entries returns a copy of every entry captured for sessionID, in capture
// order. Test/debugging helper, not part of the Store interface.
func (m *MemoryStore) Entries(sessionID string) []schema.SpoolEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schema.SpoolEntry, len(m.entries[sessionID]))
	copy(out, m.entries[sessionID])
	return out
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// FailingStore wraps a Store and makes its Append calls fail until a given
// number of failures have been delivered, then behaves normally. Used to
// test the "a failing capture must not wedge the queue" invariant.
type FailingStore struct {
	Store
	mu        sync.Mutex
	failUntil int
	attempts  int
}

// NewFailingStore wraps inner, failing the first failCount Append calls.
func NewFailingStore(inner Store, failCount int) *FailingStore {
	return &FailingStore{Store: inner, failUntil: failCount}
}

func (f *FailingStore) Append(ctx context.Context, sessionID string, entry schema.SpoolEntry) error {
	f.mu.Lock()
	f.attempts++
	shouldFail := f.attempts <= f.failUntil
	f.mu.Unlock()
	if shouldFail {
		return fmt.Errorf("capture: simulated backend failure (%d/%d)", f.attempts, f.failUntil)
	}
	return f.Store.Append(ctx, sessionID, entry)
}
