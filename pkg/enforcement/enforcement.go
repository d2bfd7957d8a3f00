// Package enforcement implements the enforcement engine (C6): the
// discover → evaluate → settle → prove pipeline that turns an inbound
// resource request into either an issued receipt or a problem+json denial.
// Grounded on the teacher's core/pkg/pdp/pdp.go decision-point contract and
// core/pkg/receipts/policies/enforcer.go's prerequisite/effect pattern,
// generalized from HELM's fixed effect-policy table to discovered,
// CEL-evaluated PEAC policy documents.
package enforcement

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/peacprotocol/peac-core/pkg/canonicalize"
	"github.com/peacprotocol/peac-core/pkg/crypto"
	"github.com/peacprotocol/peac-core/pkg/fetch"
	"github.com/peacprotocol/peac-core/pkg/noncecache"
	"github.com/peacprotocol/peac-core/pkg/obs"
	"github.com/peacprotocol/peac-core/pkg/problems"
	"github.com/peacprotocol/peac-core/pkg/receipts"
	"github.com/peacprotocol/peac-core/pkg/schema"
)

// noPolicyHash is the policy_hash cited on a receipt issued under a
// fail-open decision (no discoverable policy document): the hash of the
// literal reason string, so every fail-open receipt for the same reason
// cites an identical, reproducible value rather than an empty string.
var noPolicyHash = canonicalize.HashBytesHex([]byte(NoPoliciesFoundReason))

// ResourceRequest is the minimal description of the protected resource and
// requesting agent the engine needs to discover, evaluate, and (if
// allowed) issue a receipt for.
type ResourceRequest struct {
	// BaseURL is the origin policies are discovered under and the receipt
	// audience, e.g. "https://content.example.com".
	BaseURL string
	Issuer  string
	Subject string
	Purpose string
	// Context carries any additional CEL-visible fields a deployment's
	// policy rules reference (e.g. resource path, content class).
	Context map[string]any
}

// EnforceOptions tunes one Enforce call.
type EnforceOptions struct {
	// Policies, if non-nil, replaces discovery entirely — used by tests and
	// by callers that already hold a cached policy set.
	Policies []Policy
}

// EnforceResult is the engine's decision plus, on allow, the issued
// receipt ready for transport.
type EnforceResult struct {
	Allowed  bool
	Decision Decision
	Receipt  *receipts.IssuedReceipt
	// Headers carries response headers the caller must set regardless of
	// outcome (e.g. WWW-Authenticate on a payment challenge).
	Headers map[string]string
	Problem *problems.Problem
}

// Engine wires the four enforcement steps together.
type Engine struct {
	Fetcher        *fetch.Fetcher
	Evaluator      *CELEvaluator
	Keyring        *crypto.Keyring
	NonceCache     *noncecache.Cache
	PaymentHandler PaymentHandler
	// Obs, if set, wraps each Enforce call in a span and records it against
	// the shared RED metrics. Nil is valid — tracing is optional.
	Obs *obs.Provider
}

// NewEngine builds an Engine with a fresh CEL evaluator.
func NewEngine(fetcher *fetch.Fetcher, kr *crypto.Keyring, nonces *noncecache.Cache, handler PaymentHandler) (*Engine, error) {
	ev, err := NewCELEvaluator()
	if err != nil {
		return nil, err
	}
	return &Engine{Fetcher: fetcher, Evaluator: ev, Keyring: kr, NonceCache: nonces, PaymentHandler: handler}, nil
}

// Enforce runs discover → evaluate → settle → prove for resource.
//
// SSRF and HTTPS-scheme violations surfaced during discovery escape as a
// thrown Go error, per spec §4.6/§7; every other failure mode is returned
// as a non-nil EnforceResult.Problem with Allowed=false, never as an error.
func (e *Engine) Enforce(ctx context.Context, resource ResourceRequest, opts EnforceOptions) (*EnforceResult, error) {
	if e.Obs == nil {
		return e.enforce(ctx, resource, opts)
	}
	ctx, done := e.Obs.TrackOperation(ctx, "enforcement.enforce",
		attribute.String("base_url", resource.BaseURL))
	result, err := e.enforce(ctx, resource, opts)
	switch {
	case err != nil:
		done(err)
	case result != nil && result.Problem != nil:
		done(result.Problem)
	default:
		done(nil)
	}
	return result, err
}

func (e *Engine) enforce(ctx context.Context, resource ResourceRequest, opts EnforceOptions) (*EnforceResult, error) {
	policies := opts.Policies
	if policies == nil {
		results, err := Discover(ctx, e.Fetcher, resource.BaseURL)
		if err != nil {
			return nil, err // SSRF/scheme violation: thrown, not a problem.
		}
		policies = CollectPolicies(results)
	}

	request := map[string]any{
		"purpose": resource.Purpose,
		"subject": resource.Subject,
		"issuer":  resource.Issuer,
		"base_url": resource.BaseURL,
	}
	for k, v := range resource.Context {
		request[k] = v
	}

	decision, err := e.Evaluator.Evaluate(policies, request)
	if err != nil {
		return &EnforceResult{
			Allowed: false,
			Problem: problems.New("E_INTERNAL", fmt.Sprintf("policy evaluation failed: %v", err)),
		}, nil
	}

	var payment *schema.PaymentEvidence
	switch {
	case decision.Effect == EffectDeny:
		return &EnforceResult{
			Allowed:  false,
			Decision: decision,
			Problem:  problems.New("E_POLICY_DENIED", decision.Reason),
		}, nil

	case decision.Effect == EffectPaymentRequired:
		outcome := settle(ctx, decision, resource, e.PaymentHandler)
		if outcome.Challenge {
			return &EnforceResult{
				Allowed:  false,
				Decision: decision,
				Headers:  map[string]string{"WWW-Authenticate": `PEAC realm="peac-verifier"`},
				Problem:  problems.New("E_RECEIPT_MISSING", "payment required: "+decision.Reason),
			}, nil
		}
		payment = outcome.Payment
	}

	// Allowed (explicit allow, fail-open no_policies_found, no_matching_rule,
	// or a settled payment_required): proceed to prove.
	policyHash := decision.PolicyHash
	policyURI := decision.PolicyURI
	if policyHash == "" {
		policyHash = noPolicyHash
		policyURI = resource.BaseURL
	}

	var evidence *schema.Evidence
	if payment != nil {
		evidence = &schema.Evidence{Payment: payment}
	}

	nonceSeen := func(rid string) (bool, error) {
		if e.NonceCache == nil {
			return false, nil
		}
		return e.NonceCache.Seen(ctx, rid, noncecache.DefaultTTL)
	}

	issued, err := receipts.Issue(e.Keyring, nonceSeen, receipts.Claims{
		Issuer:     resource.Issuer,
		Audience:   resource.BaseURL,
		Subject:    resource.Subject,
		PolicyHash: policyHash,
		PolicyURI:  policyURI,
		Purpose:    resource.Purpose,
		Evidence:   evidence,
	})
	if err != nil {
		return &EnforceResult{
			Allowed:  false,
			Decision: decision,
			Problem:  problems.New("E_INTERNAL", fmt.Sprintf("receipt issuance failed: %v", err)),
		}, nil
	}

	return &EnforceResult{Allowed: true, Decision: decision, Receipt: issued}, nil
}
