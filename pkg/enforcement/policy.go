package enforcement

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Category is one of the five deny-safe precedence buckets evaluated in
// order by Evaluate, spec §4.6 step 2.
type Category string

const (
	CategoryPermission  Category = "PERMISSION"
	CategoryConsent     Category = "CONSENT"
	CategoryCommerce    Category = "COMMERCE"
	CategoryAttribution Category = "ATTRIBUTION"
	CategoryCompliance  Category = "COMPLIANCE"
)

// categoryOrder is the deny-safe evaluation precedence, most restrictive
// concern first.
var categoryOrder = []Category{
	CategoryPermission,
	CategoryConsent,
	CategoryCommerce,
	CategoryAttribution,
	CategoryCompliance,
}

// Effect is the outcome a matched Rule produces.
type Effect string

const (
	EffectAllow           Effect = "allow"
	EffectDeny            Effect = "deny"
	EffectPaymentRequired Effect = "payment_required"
)

// Rule is one CEL-evaluated policy clause. Expr must evaluate to a bool;
// true means the rule matches the request and its Effect applies.
type Rule struct {
	Category Category
	Expr     string
	Effect   Effect
	Reason   string
}

// Policy is one discovered policy document: the rules it carries plus the
// source location and content hash used to populate a receipt's
// policy_hash/policy_uri.
type Policy struct {
	Source     string // discovery URL this policy was fetched from
	PolicyHash string
	PolicyURI  string
	Rules      []Rule
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Allowed    bool
	Category   Category
	Effect     Effect
	Reason     string
	PolicyHash string
	PolicyURI  string
}

// NoPoliciesFoundReason is used when every discovery source errored: the
// engine fails open rather than denying every request when policy hosting
// itself is unreachable, spec §4.6 step 2.
const NoPoliciesFoundReason = "no_policies_found"

// CELEvaluator compiles and caches CEL programs for policy rule
// expressions, grounded on the teacher's governance.CELPolicyEvaluator
// program-cache-plus-double-checked-locking pattern, generalized from a
// fixed system/module policy pair to an arbitrary ordered rule set.
type CELEvaluator struct {
	env      *cel.Env
	mu       sync.RWMutex
	prgCache map[string]cel.Program
}

// NewCELEvaluator builds an evaluator whose CEL environment exposes a
// single dynamic `request` variable carrying the discovery/request context
// a rule expression inspects (purpose, subject, resource, payment, etc).
func NewCELEvaluator() (*CELEvaluator, error) {
	env, err := cel.NewEnv(cel.Variable("request", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("enforcement: create CEL environment: %w", err)
	}
	return &CELEvaluator{env: env, prgCache: make(map[string]cel.Program)}, nil
}

func (e *CELEvaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.prgCache[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok = e.prgCache[expr]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("enforcement: compile rule %q: %w", expr, issues.Err())
	}
	p, err := e.env.Program(ast, cel.InterruptCheckFrequency(100), cel.CostLimit(10000))
	if err != nil {
		return nil, fmt.Errorf("enforcement: build program for %q: %w", expr, err)
	}
	e.prgCache[expr] = p
	return p, nil
}

// Matches reports whether rule.Expr evaluates to true against request.
func (e *CELEvaluator) Matches(rule Rule, request map[string]any) (bool, error) {
	prg, err := e.program(rule.Expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]any{"request": request})
	if err != nil {
		return false, fmt.Errorf("enforcement: eval rule %q: %w", rule.Expr, err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("enforcement: rule %q did not evaluate to a bool", rule.Expr)
	}
	return val, nil
}

// Evaluate walks policies' rules in deny-safe category precedence order and
// returns the first match. With zero policies (every discovery source
// errored) it fails open with NoPoliciesFoundReason.
func (e *CELEvaluator) Evaluate(policies []Policy, request map[string]any) (Decision, error) {
	if len(policies) == 0 {
		return Decision{Allowed: true, Reason: NoPoliciesFoundReason}, nil
	}

	byCategory := make(map[Category][]ruleWithPolicy)
	for _, p := range policies {
		for _, r := range p.Rules {
			byCategory[r.Category] = append(byCategory[r.Category], ruleWithPolicy{rule: r, policy: p})
		}
	}

	for _, cat := range categoryOrder {
		for _, rp := range byCategory[cat] {
			matched, err := e.Matches(rp.rule, request)
			if err != nil {
				return Decision{}, err
			}
			if !matched {
				continue
			}
			return Decision{
				Allowed:    rp.rule.Effect == EffectAllow,
				Category:   rp.rule.Category,
				Effect:     rp.rule.Effect,
				Reason:     rp.rule.Reason,
				PolicyHash: rp.policy.PolicyHash,
				PolicyURI:  rp.policy.PolicyURI,
			}, nil
		}
	}

	// No rule matched anywhere: default allow, attributed to the first
	// policy's hash/uri so a receipt can still cite what was consulted.
	return Decision{Allowed: true, Reason: "no_matching_rule", PolicyHash: policies[0].PolicyHash, PolicyURI: policies[0].PolicyURI}, nil
}

type ruleWithPolicy struct {
	rule   Rule
	policy Policy
}
