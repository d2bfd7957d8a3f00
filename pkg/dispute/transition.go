// Package dispute implements the dispute and attribution lifecycle (C11):
// the canonical dispute state transition table of spec §3.8, and the
// attribution-graph acyclicity check performed before a new attribution
// source is accepted. Grounded on the teacher's explicit-result (no panics,
// no bare bools) convention in core/pkg/envelope/validator.go.
package dispute

import "github.com/peacprotocol/peac-core/pkg/schema"

// TransitionCode enumerates the specific ways a requested dispute
// transition can be rejected, spec §4.11.
type TransitionCode string

const (
	CodeOK                   TransitionCode = ""
	CodeInvalidTransition    TransitionCode = "INVALID_TRANSITION"
	CodeResolutionRequired   TransitionCode = "RESOLUTION_REQUIRED"
	CodeResolutionNotAllowed TransitionCode = "RESOLUTION_NOT_ALLOWED"
)

// TransitionResult is the outcome of a single transitionDisputeState call.
type TransitionResult struct {
	OK   bool
	Code TransitionCode
}

// canonicalTransitions is the single source of truth from spec §3.8: for
// each current status, the set of statuses it may legally move to.
var canonicalTransitions = map[string]map[string]bool{
	schema.DisputeFiled: {
		schema.DisputeAcknowledged: true,
		schema.DisputeRejected:     true,
	},
	schema.DisputeAcknowledged: {
		schema.DisputeUnderReview: true,
		schema.DisputeRejected:    true,
	},
	schema.DisputeUnderReview: {
		schema.DisputeResolved:  true,
		schema.DisputeEscalated: true,
	},
	schema.DisputeEscalated: {
		schema.DisputeResolved: true,
	},
	schema.DisputeResolved: {
		schema.DisputeAppealed: true,
		schema.DisputeFinal:    true,
	},
	schema.DisputeRejected: {
		schema.DisputeAppealed: true,
		schema.DisputeFinal:    true,
	},
	schema.DisputeAppealed: {
		schema.DisputeUnderReview: true,
		schema.DisputeFinal:      true,
	},
	schema.DisputeFinal: {},
}

// TransitionDisputeState validates a proposed current -> next move against
// the canonical table and the terminal/resolution invariant, spec §3.8/§4.11.
// It never mutates anything; callers apply the transition themselves once
// they see TransitionResult.OK.
func TransitionDisputeState(current, next, resolution string) TransitionResult {
	allowed := canonicalTransitions[current]
	if allowed == nil || !allowed[next] {
		return TransitionResult{OK: false, Code: CodeInvalidTransition}
	}
	if schema.TerminalDisputeStates[next] && resolution == "" {
		return TransitionResult{OK: false, Code: CodeResolutionRequired}
	}
	if !schema.TerminalDisputeStates[next] && resolution != "" {
		return TransitionResult{OK: false, Code: CodeResolutionNotAllowed}
	}
	return TransitionResult{OK: true, Code: CodeOK}
}
