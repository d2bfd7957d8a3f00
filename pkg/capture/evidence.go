package capture

import (
	"encoding/json"
	"fmt"

	"github.com/peacprotocol/peac-core/pkg/schema"
)

// InteractionEvidenceVersion is the current wire version of the mapped
// interaction-evidence document.
const InteractionEvidenceVersion = "v0.1"

// spoolAnchorNamespace is the reserved extension namespace carrying the
// spool-chain anchor, spec §4.8, mirroring the teacher's tape.Ref
// (Seq+Hash) convention generalized to the spool's entry_digest/sequence
// shape.
const spoolAnchorNamespace = "peac:spool-anchor"

// InteractionEvidenceV01 is the mapped, receipt-attachable form of a
// captured SpoolEntry, produced by ToInteractionEvidence.
type InteractionEvidenceV01 struct {
	Version      string                     `json:"version"`
	Action       string                     `json:"action"`
	CapturedAt   string                     `json:"captured_at"`
	Sequence     int64                      `json:"sequence"`
	InputDigest  *schema.Digest             `json:"input_digest,omitempty"`
	OutputDigest *schema.Digest             `json:"output_digest,omitempty"`
	Extensions   map[string]json.RawMessage `json:"extensions,omitempty"`
}

// ToInteractionEvidenceOptions configures the mapping from SpoolEntry to
// InteractionEvidenceV01.
type ToInteractionEvidenceOptions struct {
	// IncludeSpoolAnchor adds a {spool_head_digest, sequence} extension
	// under the reserved spoolAnchorNamespace, spec §4.8.
	IncludeSpoolAnchor bool
	// SpoolHeadDigest is the chain head to record as the anchor; callers
	// typically pass Session.ChainHead() taken immediately after Capture.
	SpoolHeadDigest string
}

// ToInteractionEvidence maps one captured SpoolEntry to the wire shape
// attached to a receipt's evidence.attestations, spec §4.8.
func ToInteractionEvidence(entry schema.SpoolEntry, opts ToInteractionEvidenceOptions) (InteractionEvidenceV01, error) {
	ev := InteractionEvidenceV01{
		Version:      InteractionEvidenceVersion,
		Action:       entry.Action,
		CapturedAt:   entry.CapturedAt,
		Sequence:     entry.Sequence,
		InputDigest:  entry.InputDigest,
		OutputDigest: entry.OutputDigest,
	}
	if opts.IncludeSpoolAnchor {
		anchor := struct {
			SpoolHeadDigest string `json:"spool_head_digest"`
			Sequence        int64  `json:"sequence"`
		}{SpoolHeadDigest: opts.SpoolHeadDigest, Sequence: entry.Sequence}
		raw, err := json.Marshal(anchor)
		if err != nil {
			return ev, fmt.Errorf("capture: marshal spool anchor: %w", err)
		}
		ev.Extensions = map[string]json.RawMessage{spoolAnchorNamespace: raw}
	}
	return ev, nil
}
