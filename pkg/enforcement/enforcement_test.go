package enforcement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peacprotocol/peac-core/pkg/crypto"
	"github.com/peacprotocol/peac-core/pkg/fetch"
	"github.com/peacprotocol/peac-core/pkg/noncecache"
	"github.com/peacprotocol/peac-core/pkg/obs"
	"github.com/peacprotocol/peac-core/pkg/schema"
)

func testEvaluator(t *testing.T) *CELEvaluator {
	t.Helper()
	ev, err := NewCELEvaluator()
	require.NoError(t, err)
	return ev
}

func TestEvaluate_DenySafePrecedenceWins(t *testing.T) {
	ev := testEvaluator(t)
	policies := []Policy{{
		Source:     "https://example.com/.well-known/ai-policy",
		PolicyHash: "h1",
		PolicyURI:  "https://example.com/.well-known/ai-policy",
		Rules: []Rule{
			{Category: CategoryCompliance, Expr: "true", Effect: EffectAllow, Reason: "compliance_allow"},
			{Category: CategoryPermission, Expr: "true", Effect: EffectDeny, Reason: "permission_denied"},
		},
	}}
	decision, err := ev.Evaluate(policies, map[string]any{})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, CategoryPermission, decision.Category)
	assert.Equal(t, "permission_denied", decision.Reason)
}

func TestEvaluate_NoPoliciesFailsOpen(t *testing.T) {
	ev := testEvaluator(t)
	decision, err := ev.Evaluate(nil, map[string]any{})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, NoPoliciesFoundReason, decision.Reason)
}

func TestEvaluate_NoMatchingRuleDefaultsAllow(t *testing.T) {
	ev := testEvaluator(t)
	policies := []Policy{{
		PolicyHash: "h1", PolicyURI: "https://example.com/policy",
		Rules: []Rule{{Category: CategoryPermission, Expr: "false", Effect: EffectDeny}},
	}}
	decision, err := ev.Evaluate(policies, map[string]any{})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, "no_matching_rule", decision.Reason)
}

func TestEvaluate_RuleSeesRequestFields(t *testing.T) {
	ev := testEvaluator(t)
	policies := []Policy{{
		PolicyHash: "h1", PolicyURI: "u",
		Rules: []Rule{{Category: CategoryPermission, Expr: `request.purpose == "train"`, Effect: EffectDeny, Reason: "no_training"}},
	}}
	decision, err := ev.Evaluate(policies, map[string]any{"purpose": "train"})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "no_training", decision.Reason)

	decision2, err := ev.Evaluate(policies, map[string]any{"purpose": "search"})
	require.NoError(t, err)
	assert.True(t, decision2.Allowed)
}

func testEngine(t *testing.T, handler PaymentHandler) *Engine {
	t.Helper()
	kr := crypto.NewKeyring()
	kp, err := crypto.NewKeyPair(crypto.NextKeyID(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 0))
	require.NoError(t, err)
	require.NoError(t, kr.Add(kp))
	require.NoError(t, kr.Activate(kp.KeyID))

	engine, err := NewEngine(nil, kr, noncecache.New(noncecache.NewMemoryStore(time.Minute)), handler)
	require.NoError(t, err)
	return engine
}

func TestEngine_Enforce_AllowIssuesReceipt(t *testing.T) {
	engine := testEngine(t, nil)
	resource := ResourceRequest{BaseURL: "https://content.example.com", Issuer: "https://content.example.com", Subject: "agent-1"}
	policies := []Policy{{
		PolicyHash: "h1", PolicyURI: "https://content.example.com/.well-known/ai-policy",
		Rules: []Rule{{Category: CategoryPermission, Expr: "true", Effect: EffectAllow}},
	}}

	result, err := engine.Enforce(context.Background(), resource, EnforceOptions{Policies: policies})
	require.NoError(t, err)
	require.True(t, result.Allowed)
	require.NotNil(t, result.Receipt)
	assert.Equal(t, "h1", result.Receipt.Envelope.Auth.PolicyHash)
}

func TestEngine_Enforce_TracksOperationWhenObsSet(t *testing.T) {
	engine := testEngine(t, nil)
	p, err := obs.New(obs.Config{ServiceName: "enforcement-test", ServiceVersion: "0.0.0-test"})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())
	engine.Obs = p

	resource := ResourceRequest{BaseURL: "https://content.example.com", Issuer: "https://content.example.com", Subject: "agent-1"}
	allow := []Policy{{
		PolicyHash: "h1", PolicyURI: "https://content.example.com/.well-known/ai-policy",
		Rules: []Rule{{Category: CategoryPermission, Expr: "true", Effect: EffectAllow}},
	}}
	result, err := engine.Enforce(context.Background(), resource, EnforceOptions{Policies: allow})
	require.NoError(t, err)
	require.True(t, result.Allowed)

	deny := []Policy{{
		PolicyHash: "h1", PolicyURI: "u",
		Rules: []Rule{{Category: CategoryPermission, Expr: "true", Effect: EffectDeny, Reason: "blocked"}},
	}}
	result, err = engine.Enforce(context.Background(), resource, EnforceOptions{Policies: deny})
	require.NoError(t, err)
	require.False(t, result.Allowed)
	require.NotNil(t, result.Problem)
}

func TestEngine_Enforce_DenyReturnsProblem(t *testing.T) {
	engine := testEngine(t, nil)
	resource := ResourceRequest{BaseURL: "https://content.example.com", Issuer: "https://content.example.com", Subject: "agent-1"}
	policies := []Policy{{
		PolicyHash: "h1", PolicyURI: "u",
		Rules: []Rule{{Category: CategoryPermission, Expr: "true", Effect: EffectDeny, Reason: "blocked"}},
	}}

	result, err := engine.Enforce(context.Background(), resource, EnforceOptions{Policies: policies})
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	require.NotNil(t, result.Problem)
	assert.Equal(t, "E_POLICY_DENIED", result.Problem.Code)
	assert.Equal(t, 403, result.Problem.Status)
}

// Seed scenario 3 (spec §8): a payment_required decision with no settlement
// produces a deterministic 402 challenge, never a 500.
func TestEngine_Enforce_PaymentRequiredNoHandlerSynthesizesChallenge(t *testing.T) {
	engine := testEngine(t, nil)
	resource := ResourceRequest{BaseURL: "https://content.example.com", Issuer: "https://content.example.com", Subject: "agent-1"}
	policies := []Policy{{
		PolicyHash: "h1", PolicyURI: "u",
		Rules: []Rule{{Category: CategoryCommerce, Expr: "true", Effect: EffectPaymentRequired, Reason: "payment_required"}},
	}}

	result, err := engine.Enforce(context.Background(), resource, EnforceOptions{Policies: policies})
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	require.NotNil(t, result.Problem)
	assert.Equal(t, "E_RECEIPT_MISSING", result.Problem.Code)
	assert.Equal(t, 402, result.Problem.Status)
	assert.Contains(t, result.Headers["WWW-Authenticate"], "PEAC")
}

type stubPaymentHandler struct{ evidence *schema.PaymentEvidence }

func (s stubPaymentHandler) Settle(ctx context.Context, decision Decision, resource ResourceRequest) (*schema.PaymentEvidence, error) {
	return s.evidence, nil
}

func TestEngine_Enforce_PaymentRequiredWithHandlerSettles(t *testing.T) {
	engine := testEngine(t, stubPaymentHandler{evidence: &schema.PaymentEvidence{Rail: "x402", Env: schema.PaymentEnvTest, Amount: 100, Currency: "USD"}})
	resource := ResourceRequest{BaseURL: "https://content.example.com", Issuer: "https://content.example.com", Subject: "agent-1"}
	policies := []Policy{{
		PolicyHash: "h1", PolicyURI: "u",
		Rules: []Rule{{Category: CategoryCommerce, Expr: "true", Effect: EffectPaymentRequired, Reason: "payment_required"}},
	}}

	result, err := engine.Enforce(context.Background(), resource, EnforceOptions{Policies: policies})
	require.NoError(t, err)
	require.True(t, result.Allowed)
	require.NotNil(t, result.Receipt)
	require.NotNil(t, result.Receipt.Envelope.Evidence)
	require.NotNil(t, result.Receipt.Envelope.Evidence.Payment)
	assert.Equal(t, "x402", result.Receipt.Envelope.Evidence.Payment.Rail)
}

func TestEngine_Enforce_FailOpenWhenNoPolicies(t *testing.T) {
	engine := testEngine(t, nil)
	resource := ResourceRequest{BaseURL: "https://content.example.com", Issuer: "https://content.example.com", Subject: "agent-1"}

	result, err := engine.Enforce(context.Background(), resource, EnforceOptions{Policies: []Policy{}})
	require.NoError(t, err)
	require.True(t, result.Allowed)
	assert.Equal(t, NoPoliciesFoundReason, result.Decision.Reason)
	assert.Equal(t, noPolicyHash, result.Receipt.Envelope.Auth.PolicyHash)
}

// SSRF/scheme violations during discovery escape Discover as a thrown
// error rather than being recorded as a discovery outcome, spec §4.6/§7.
func TestDiscover_SchemeViolationEscapes(t *testing.T) {
	fetcher := fetch.New(fetch.DefaultConfig())
	_, err := Discover(context.Background(), fetcher, "http://content.example.com")
	require.Error(t, err)
	var schemeErr *fetch.ErrSchemeNotAllowed
	assert.ErrorAs(t, err, &schemeErr)
}
