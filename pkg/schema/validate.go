package schema

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaBaseURL namespaces the in-process schema resources compiled below,
// in the same style as the teacher's firewall schema registration
// (core/pkg/firewall/firewall.go AllowTool).
const schemaBaseURL = "https://peacprotocol.org/schemas/"

// compiled holds every strict (additionalProperties: false) schema this
// package validates against, built once at package init.
var compiled = map[string]*jsonschema.Schema{}

func init() {
	for name, src := range rawSchemas {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := schemaBaseURL + name + ".json"
		if err := c.AddResource(url, strings.NewReader(src)); err != nil {
			panic(fmt.Sprintf("schema: bad embedded schema %q: %v", name, err))
		}
		s, err := c.Compile(url)
		if err != nil {
			panic(fmt.Sprintf("schema: failed to compile %q: %v", name, err))
		}
		compiled[name] = s
	}
}

// rawSchemas are the JSON Schemas compiled at init: a pattern schema for
// purpose tokens and closed-object schemas for control blocks, payment
// evidence, and attestations. The envelope and spool entry have no schema
// here; disputes, workflows, and attribution sources are checked only by
// the Go validators below.
var rawSchemas = map[string]string{
	"purpose-token": `{
		"type": "string",
		"maxLength": 64,
		"pattern": "^[a-z](?:[a-z0-9_-]*[a-z0-9])?(?::[a-z](?:[a-z0-9_-]*[a-z0-9])?)?$"
	}`,
	"control-block": `{
		"type": "object",
		"additionalProperties": false,
		"required": ["chain", "decision", "combinator"],
		"properties": {
			"chain": {"type": "array", "minItems": 1},
			"decision": {"enum": ["allow", "deny", "review"]},
			"combinator": {"const": "any_can_veto"}
		}
	}`,
	"payment-evidence": `{
		"type": "object",
		"additionalProperties": false,
		"required": ["rail", "env"],
		"properties": {
			"rail": {"type": "string"},
			"reference": {"type": "string"},
			"amount": {"type": "integer"},
			"currency": {"type": "string"},
			"asset": {"type": "string"},
			"env": {"enum": ["live", "test"]},
			"network": {"type": "string"},
			"facilitator": {"type": "string"},
			"facilitator_ref": {"type": "string"},
			"evidence": {"type": "object"},
			"aggregator": {"type": "string"},
			"splits": {
				"type": "array",
				"items": {
					"type": "object",
					"additionalProperties": false,
					"required": ["party"],
					"properties": {
						"party": {"type": "string"},
						"amount": {"type": "integer"},
						"share": {"type": "number", "minimum": 0, "maximum": 1}
					}
				}
			},
			"routing": {"enum": ["direct", "callback", "role"]}
		}
	}`,
	"attestation": `{
		"type": "object",
		"additionalProperties": false,
		"required": ["type", "issuer", "issued_at"],
		"properties": {
			"type": {"type": "string", "pattern": "^peac/"},
			"issuer": {"type": "string"},
			"issued_at": {"type": "string"},
			"expires_at": {"type": "string"},
			"ref": {"type": "string"},
			"evidence": {"type": "object"}
		}
	}`,
}

// ValidatePurposeToken validates raw JSON (a quoted string) against the
// strict purpose-token schema — distinct from ValidPurposeToken, which
// operates on an already-decoded Go string.
func ValidatePurposeToken(rawJSON any) error {
	return compiled["purpose-token"].Validate(rawJSON)
}

// ValidateControlBlock validates a decoded control-block document
// (map[string]any, as produced by encoding/json into `any`) against the
// strict schema, then applies the §3.2 consistency rule.
func ValidateControlBlock(doc map[string]any) error {
	if err := compiled["control-block"].Validate(doc); err != nil {
		return fmt.Errorf("schema: control block: %w", err)
	}
	chain, _ := doc["chain"].([]any)
	decision, _ := doc["decision"].(string)
	return checkControlConsistency(chain, decision)
}

func checkControlConsistency(chain []any, decision string) error {
	anyDeny, allAllow := false, true
	for _, raw := range chain {
		step, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		result, _ := step["result"].(string)
		if result == StepResultDeny {
			anyDeny = true
		}
		if result != StepResultAllow {
			allAllow = false
		}
	}
	switch {
	case anyDeny && decision != DecisionDeny:
		return fmt.Errorf("schema: control block: a step denied but decision is %q", decision)
	case !anyDeny && allAllow && decision != DecisionAllow:
		return fmt.Errorf("schema: control block: all steps allowed but decision is %q", decision)
	}
	return nil
}

// ValidatePaymentEvidence validates a decoded payment-evidence document
// against the strict schema, then the §3.3 split invariants.
func ValidatePaymentEvidence(doc map[string]any, splits []PaymentSplit) error {
	if err := compiled["payment-evidence"].Validate(doc); err != nil {
		return fmt.Errorf("schema: payment evidence: %w", err)
	}
	for i, s := range splits {
		if !s.Valid() {
			return fmt.Errorf("schema: payment evidence: split[%d] invalid", i)
		}
	}
	return nil
}

// ValidateDispute applies the §4.5 cross-field invariants: terminal ↔
// resolution consistency and the dispute_type=="other" description-length
// rule.
func ValidateDispute(d Dispute) error {
	if !d.ValidResolutionInvariant() {
		return fmt.Errorf("schema: dispute %s: terminal/resolution mismatch for status %q", d.DisputeID, d.Status)
	}
	if !d.ValidDescription() {
		return fmt.Errorf("schema: dispute %s: description too short for dispute_type \"other\"", d.DisputeID)
	}
	return nil
}

// ValidateWorkflow enforces unique step ids, declared parents, no
// self-parenting, and no duplicate parent entries within a step, per spec
// §3.8/§4.5.
func ValidateWorkflow(w Workflow) error {
	ids := make(map[string]bool, len(w.Steps))
	for _, s := range w.Steps {
		if ids[s.ID] {
			return fmt.Errorf("schema: workflow %s: duplicate step id %q", w.WorkflowID, s.ID)
		}
		ids[s.ID] = true
	}
	for _, s := range w.Steps {
		seen := make(map[string]bool, len(s.Parents))
		for _, p := range s.Parents {
			if p == s.ID {
				return fmt.Errorf("schema: workflow %s: step %q is its own parent", w.WorkflowID, s.ID)
			}
			if seen[p] {
				return fmt.Errorf("schema: workflow %s: step %q lists parent %q more than once", w.WorkflowID, s.ID, p)
			}
			seen[p] = true
			if !ids[p] {
				return fmt.Errorf("schema: workflow %s: step %q has undeclared parent %q", w.WorkflowID, s.ID, p)
			}
		}
	}
	return nil
}

// ValidateAttributionSources enforces weight range and acyclicity of the
// derivation graph, per spec §4.5. Cycle detection is a DFS with the usual
// white/grey/black colouring.
func ValidateAttributionSources(sources []AttributionSource) error {
	bySource := make(map[string]AttributionSource, len(sources))
	for _, s := range sources {
		if !ValidWeight(s.Weight) {
			return fmt.Errorf("schema: attribution source %q: weight %v out of [0,1]", s.SourceID, s.Weight)
		}
		bySource[s.SourceID] = s
	}

	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(sources))
	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case black:
			return nil
		case grey:
			return fmt.Errorf("schema: attribution derivation graph contains a cycle at %q", id)
		}
		color[id] = grey
		for _, parent := range bySource[id].DerivedFrom {
			if err := visit(parent); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}
	for _, s := range sources {
		if err := visit(s.SourceID); err != nil {
			return err
		}
	}
	return nil
}
