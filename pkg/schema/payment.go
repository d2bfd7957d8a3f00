package schema

import "encoding/json"

// PaymentEvidence is the rail-agnostic normalised payment record, spec §3.3.
type PaymentEvidence struct {
	Rail           string          `json:"rail"`
	Reference      string          `json:"reference,omitempty"`
	Amount         int64           `json:"amount,omitempty"`
	Currency       string          `json:"currency,omitempty"`
	Asset          string          `json:"asset,omitempty"`
	Env            string          `json:"env"` // "live" | "test"
	Network        string          `json:"network,omitempty"`
	Facilitator    string          `json:"facilitator,omitempty"`
	FacilitatorRef string          `json:"facilitator_ref,omitempty"`
	Evidence       json.RawMessage `json:"evidence,omitempty"`
	Aggregator     string          `json:"aggregator,omitempty"`
	Splits         []PaymentSplit  `json:"splits,omitempty"`
	Routing        string          `json:"routing,omitempty"` // "direct" | "callback" | "role"
}

const (
	PaymentEnvLive = "live"
	PaymentEnvTest = "test"

	RoutingDirect   = "direct"
	RoutingCallback = "callback"
	RoutingRole     = "role"
)

// PaymentSplit is one party's share of a payment. Per spec §3.3, at least
// one of Amount or Share must be present; the sum across splits is
// deliberately NOT enforced (rails may legitimately under- or over-specify
// a partial split set).
type PaymentSplit struct {
	Party  string   `json:"party"`
	Amount *int64   `json:"amount,omitempty"`
	Share  *float64 `json:"share,omitempty"`
}

// Valid reports whether the split carries at least one of amount/share and,
// if share is present, that it falls within [0,1].
func (s PaymentSplit) Valid() bool {
	if s.Party == "" {
		return false
	}
	if s.Amount == nil && s.Share == nil {
		return false
	}
	if s.Amount != nil && *s.Amount < 0 {
		return false
	}
	if s.Share != nil && (*s.Share < 0 || *s.Share > 1) {
		return false
	}
	return true
}
