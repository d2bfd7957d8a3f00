// Package schema defines the wire data model (C5): the receipt envelope,
// control blocks, payment evidence, purpose tokens, attestations, the
// capture spool entry shape, and the declarative validators that enforce
// strict (closed) object shapes and cross-field invariants over them.
// Grounded on the upstream PEAC SDK claims shape
// (other_examples/e4012abb_peacprotocol-peac__sdks-go-claims.go.go) and the
// teacher's envelope/validator split (core/pkg/envelope/validator.go).
package schema

import "encoding/json"

// Envelope is the signed payload of a PEAC receipt: a detached JWS is
// produced over its canonical JCS bytes (spec §3.1).
type Envelope struct {
	Auth     Auth      `json:"auth"`
	Evidence *Evidence `json:"evidence,omitempty"`
	Meta     *Meta     `json:"meta,omitempty"`
}

// Auth carries the receipt's core identity, binding, and control claims.
type Auth struct {
	Issuer           string                     `json:"iss"`
	Audience         string                     `json:"aud"`
	Subject          string                     `json:"sub,omitempty"`
	IssuedAt         int64                      `json:"iat"`
	ExpiresAt        int64                      `json:"exp,omitempty"`
	ReceiptID        string                     `json:"rid"`
	PolicyHash       string                     `json:"policy_hash"`
	PolicyURI        string                     `json:"policy_uri"`
	Control          *ControlBlock              `json:"control,omitempty"`
	Enforcement      map[string]any             `json:"enforcement,omitempty"`
	Binding          *BindingDetails            `json:"binding,omitempty"`
	SubjectSnapshot  *SubjectProfileSnapshot    `json:"subject_snapshot,omitempty"`
	Extensions       map[string]json.RawMessage `json:"extensions,omitempty"`
}

// Evidence carries the optional payment and attestation evidence attached
// to a receipt.
type Evidence struct {
	Payment      *PaymentEvidence           `json:"payment,omitempty"`
	Attestation  *Attestation               `json:"attestation,omitempty"`
	Payments     []PaymentEvidence          `json:"payments,omitempty"`
	Attestations []Attestation              `json:"attestations,omitempty"`
	Extensions   map[string]json.RawMessage `json:"extensions,omitempty"`
}

// Meta carries privacy/debug side-channel information that never
// participates in the policy decision itself.
type Meta struct {
	Redactions    []string       `json:"redactions,omitempty"`
	PrivacyBudget map[string]any `json:"privacy_budget,omitempty"`
	Debug         map[string]any `json:"debug,omitempty"`
}

// BindingDetails ties a receipt to the concrete HTTP request it was issued
// for, mirroring the upstream SDK's AgentProof.Binding shape.
type BindingDetails struct {
	Method          string   `json:"method"`
	Target          string   `json:"target"`
	HeadersIncluded []string `json:"headers_included,omitempty"`
	BodyHash        string   `json:"body_hash,omitempty"`
	SignedAt        string   `json:"signed_at"`
}

// SubjectProfileSnapshot is an optional denormalised snapshot of the
// authenticated subject at issuance time.
type SubjectProfileSnapshot struct {
	Type     string            `json:"type"`
	ID       string            `json:"id,omitempty"`
	Labels   []string          `json:"labels,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ControlBlock is the composable governance record, spec §3.2.
type ControlBlock struct {
	Chain      []ControlStep `json:"chain"`
	Decision   string        `json:"decision"`
	Combinator string        `json:"combinator"`
}

// ControlStep is one engine's verdict within a ControlBlock chain.
type ControlStep struct {
	Engine         string         `json:"engine"`
	Version        string         `json:"version,omitempty"`
	PolicyID       string         `json:"policy_id,omitempty"`
	Result         string         `json:"result"`
	Reason         string         `json:"reason,omitempty"`
	Purpose        string         `json:"purpose,omitempty"`
	LicensingMode  string         `json:"licensing_mode,omitempty"`
	Scope          string         `json:"scope,omitempty"`
	LimitsSnapshot map[string]any `json:"limits_snapshot,omitempty"`
	EvidenceRef    string         `json:"evidence_ref,omitempty"`
}

const (
	DecisionAllow  = "allow"
	DecisionDeny   = "deny"
	DecisionReview = "review"

	CombinatorAnyCanVeto = "any_can_veto"

	StepResultAllow  = "allow"
	StepResultDeny   = "deny"
	StepResultReview = "review"
)
