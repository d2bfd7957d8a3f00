package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// Attestation is the shared shape for every attestation kind, spec §3.5.
type Attestation struct {
	Type       string          `json:"type"` // "peac/<kind>"
	Issuer     string          `json:"issuer"`
	IssuedAt   string          `json:"issued_at"`
	ExpiresAt  string          `json:"expires_at,omitempty"`
	Ref        string          `json:"ref,omitempty"`
	Evidence   json.RawMessage `json:"evidence,omitempty"`
}

// Known attestation kinds, spec §3.5.
const (
	AttestationAgentIdentity   = "peac/agent-identity"
	AttestationAttribution     = "peac/attribution"
	AttestationDispute         = "peac/dispute"
	AttestationWorkflowSummary = "peac/workflow-summary"
)

// AttestationClockSkew is the default expiry tolerance for attestations.
const AttestationClockSkew = 30 * time.Second

// AgentIdentityEvidence mirrors the upstream SDK's agent-identity evidence
// payload, carried inside an Attestation's Evidence field when
// Type == AttestationAgentIdentity.
type AgentIdentityEvidence struct {
	AgentID         string      `json:"agent_id"`
	ControlType     string      `json:"control_type"`
	Capabilities    []string    `json:"capabilities,omitempty"`
	DelegationChain []string    `json:"delegation_chain,omitempty"`
	Proof           *AgentProof `json:"proof,omitempty"`
	KeyDirectoryURL string      `json:"key_directory_url,omitempty"`
	Operator        string      `json:"operator,omitempty"`
	UserID          string      `json:"user_id,omitempty"`
}

// AgentProof is the cryptographic binding of an agent-identity attestation
// to the request it accompanies.
type AgentProof struct {
	Method         string          `json:"method"`
	KeyID          string          `json:"key_id"`
	Algorithm      string          `json:"alg,omitempty"`
	Signature      string          `json:"signature,omitempty"`
	DPoPProof      string          `json:"dpop_proof,omitempty"`
	CertThumbprint string          `json:"cert_thumbprint,omitempty"`
	Binding        *BindingDetails `json:"binding,omitempty"`
}

// Expired reports whether the attestation has expired as of now, honouring
// AttestationClockSkew, per spec §3.5.
func (a Attestation) Expired(now time.Time) (bool, error) {
	if a.ExpiresAt == "" {
		return false, nil
	}
	exp, err := time.Parse(time.RFC3339, a.ExpiresAt)
	if err != nil {
		return false, fmt.Errorf("schema: attestation expires_at: %w", err)
	}
	return now.After(exp.Add(AttestationClockSkew)), nil
}
