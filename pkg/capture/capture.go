// Package capture implements the deterministic, hash-chained spool of
// agent-side interactions (C8): capture(action) never throws, a per-session
// mutex strictly orders concurrent calls, and a failing capture never wedges
// the chain — subsequent captures continue from the last successful entry
// with a monotonically-increasing sequence. Grounded on the teacher's
// core/pkg/tape/recorder.go (mutex-guarded, monotonic-sequence recorder)
// generalized from tape's nondeterminism log to the spool's hash-chained
// SpoolEntry shape.
package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/peacprotocol/peac-core/pkg/canonicalize"
	"github.com/peacprotocol/peac-core/pkg/schema"
)

// ErrorCode enumerates the capture error taxonomy, spec §4.8. Every failure
// mode a caller can hit is named here rather than left as an opaque error.
type ErrorCode string

const (
	ErrDuplicate     ErrorCode = "E_CAPTURE_DUPLICATE"
	ErrInvalidAction ErrorCode = "E_CAPTURE_INVALID_ACTION"
	ErrHashFailed    ErrorCode = "E_CAPTURE_HASH_FAILED"
	ErrStoreFailed   ErrorCode = "E_CAPTURE_STORE_FAILED"
	ErrSessionClosed ErrorCode = "E_CAPTURE_SESSION_CLOSED"
	ErrInternal      ErrorCode = "E_CAPTURE_INTERNAL"
)

// CaptureError is the stable, typed failure mode returned inside a
// CaptureResult. It is never panicked and never returned as a bare `error`
// from Session.Capture — spec §4.8 requires capture() to never throw.
type CaptureError struct {
	Code   ErrorCode
	Detail string
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture: %s: %s", e.Code, e.Detail)
}

// Action is one agent-side interaction submitted for capture.
type Action struct {
	// Type names the kind of action captured (e.g. "tool_call", "fetch").
	Type string
	// StartedAt/CompletedAt determine captured_at per spec §3.7:
	// captured_at = completed_at ?? started_at — never wall-clock.
	StartedAt   time.Time
	CompletedAt *time.Time
	Input       []byte
	Output      []byte
	// DedupeKey, if set, makes a repeat Capture with the same key within
	// this session return ErrDuplicate instead of appending a new entry.
	DedupeKey string
}

// CaptureResult is the always-returned outcome of Session.Capture. Exactly
// one of Entry/Err is set.
type CaptureResult struct {
	Entry *schema.SpoolEntry
	Err   *CaptureError
}

// Session serialises capture calls for one capture stream behind a mutex,
// per spec §4.8/§5's single-writer-per-session invariant, and tracks the
// running chain head so each new entry links to the last successfully
// persisted one (not the last attempted one).
type Session struct {
	mu         sync.Mutex
	id         string
	store      Store
	seq        int64
	chainHead  string
	closed     bool
	seenDedupe map[string]bool
	clock      func() time.Time
}

// NewSession creates a capture session writing through store, with its
// chain head initialised to the spec §3.7 genesis sentinel.
func NewSession(id string, store Store) *Session {
	return &Session{
		id:         id,
		store:      store,
		chainHead:  schema.GenesisDigest,
		seenDedupe: make(map[string]bool),
		clock:      time.Now,
	}
}

// WithClock overrides the session's clock. Capture does not read it:
// CapturedAt is always derived from the Action, per spec §3.7.
func (s *Session) WithClock(clock func() time.Time) *Session {
	s.clock = clock
	return s
}

// Capture appends one entry to the chain. It never panics and never
// returns a non-nil `error` — failures are reported via CaptureResult.Err.
func (s *Session) Capture(ctx context.Context, a Action) CaptureResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return CaptureResult{Err: &CaptureError{Code: ErrSessionClosed, Detail: "session is closed"}}
	}
	if a.Type == "" {
		return CaptureResult{Err: &CaptureError{Code: ErrInvalidAction, Detail: "action type is required"}}
	}
	if a.StartedAt.IsZero() && a.CompletedAt == nil {
		return CaptureResult{Err: &CaptureError{Code: ErrInvalidAction, Detail: "action must carry started_at or completed_at"}}
	}
	if a.DedupeKey != "" && s.seenDedupe[a.DedupeKey] {
		return CaptureResult{Err: &CaptureError{Code: ErrDuplicate, Detail: fmt.Sprintf("dedupe key %q already captured", a.DedupeKey)}}
	}

	capturedAt := a.StartedAt
	if a.CompletedAt != nil {
		capturedAt = *a.CompletedAt
	}

	entry := schema.SpoolEntry{
		CapturedAt:      capturedAt.UTC().Format(time.RFC3339Nano),
		Action:          a.Type,
		PrevEntryDigest: s.chainHead,
		Sequence:        s.seq + 1,
	}

	if a.Input != nil {
		d, err := digestPayload(a.Input)
		if err != nil {
			return CaptureResult{Err: &CaptureError{Code: ErrHashFailed, Detail: err.Error()}}
		}
		entry.InputDigest = &d
	}
	if a.Output != nil {
		d, err := digestPayload(a.Output)
		if err != nil {
			return CaptureResult{Err: &CaptureError{Code: ErrHashFailed, Detail: err.Error()}}
		}
		entry.OutputDigest = &d
	}

	digest, err := entryDigest(entry)
	if err != nil {
		return CaptureResult{Err: &CaptureError{Code: ErrHashFailed, Detail: err.Error()}}
	}
	entry.EntryDigest = digest

	if err := s.store.Append(ctx, s.id, entry); err != nil {
		// The chain does not advance: the next Capture call links to the
		// same chainHead, so a store failure never wedges the session.
		return CaptureResult{Err: &CaptureError{Code: ErrStoreFailed, Detail: err.Error()}}
	}

	s.seq++
	s.chainHead = digest
	if a.DedupeKey != "" {
		s.seenDedupe[a.DedupeKey] = true
	}

	result := entry
	return CaptureResult{Entry: &result}
}

// Close is immediate and idempotent: it marks the session closed (further
// Capture calls return ErrSessionClosed) and calls store.Close(). In-flight
// captures already past the mutex acquisition complete normally; later
// callers observe SESSION_CLOSED.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.store.Close()
}

// ChainHead returns the digest of the last successfully persisted entry
// (or the genesis sentinel if none has been captured yet).
func (s *Session) ChainHead() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chainHead
}

// Sequence returns the number of successfully persisted entries.
func (s *Session) Sequence() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

func digestPayload(data []byte) (schema.Digest, error) {
	total := int64(len(data))
	hashInput := data
	if total > schema.TruncationBoundaryBytes {
		hashInput = data[:schema.TruncationBoundaryBytes]
	}
	return schema.NewDigest(total, canonicalize.HashBytesHex(hashInput)), nil
}

// entryDigest computes hex(SHA-256(JCS(entry without entry_digest))), spec
// §3.7. entry.EntryDigest is always the zero value when this is called, and
// its `omitempty` tag drops it from the canonical form automatically.
func entryDigest(entry schema.SpoolEntry) (string, error) {
	return canonicalize.Hash(entry)
}
