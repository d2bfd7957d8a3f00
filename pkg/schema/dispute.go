package schema

// Dispute status values, spec §3.8. Transition enforcement lives in
// pkg/dispute (C11); this package only defines the wire shape and the
// terminal-state set so both C11 and the schema validator can agree on it
// without an import cycle.
const (
	DisputeFiled         = "filed"
	DisputeAcknowledged  = "acknowledged"
	DisputeRejected      = "rejected"
	DisputeUnderReview   = "under_review"
	DisputeEscalated     = "escalated"
	DisputeResolved      = "resolved"
	DisputeAppealed      = "appealed"
	DisputeFinal         = "final"
)

// TerminalDisputeStates requires a Resolution; non-terminal states must not
// carry one.
var TerminalDisputeStates = map[string]bool{
	DisputeResolved: true,
	DisputeRejected: true,
	DisputeFinal:    true,
}

// Dispute is the wire shape of a dispute record.
type Dispute struct {
	DisputeID   string `json:"dispute_id"`
	Status      string `json:"status"`
	DisputeType string `json:"dispute_type"`
	Description string `json:"description,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
	RelatedRID  string `json:"related_rid,omitempty"`
}

// minOtherDescriptionLen is the §4.5 cross-field invariant for
// dispute_type == "other".
const minOtherDescriptionLen = 50

// ValidDescription enforces the dispute_type=="other" minimum length rule.
func (d Dispute) ValidDescription() bool {
	if d.DisputeType != "other" {
		return true
	}
	return len(d.Description) >= minOtherDescriptionLen
}

// ValidResolutionInvariant enforces terminal <-> resolution consistency.
func (d Dispute) ValidResolutionInvariant() bool {
	if TerminalDisputeStates[d.Status] {
		return d.Resolution != ""
	}
	return d.Resolution == ""
}

// WorkflowStep is one node of a workflow's step DAG, spec §3.8.
type WorkflowStep struct {
	ID      string   `json:"id"`
	Status  string   `json:"status"`
	Parents []string `json:"parents,omitempty"`
}

// Workflow is the wire shape of a workflow record: a status plus its step
// DAG, spec §3.8.
type Workflow struct {
	WorkflowID string         `json:"workflow_id"`
	Status     string         `json:"status"`
	Steps      []WorkflowStep `json:"steps"`
}

// AttributionSource is one weighted contribution to an attribution record.
type AttributionSource struct {
	SourceID string  `json:"source_id"`
	Weight   float64 `json:"weight"`
	DerivedFrom []string `json:"derived_from,omitempty"`
}

// ValidWeight reports whether w falls within the required [0,1] range.
func ValidWeight(w float64) bool {
	return w >= 0 && w <= 1
}
