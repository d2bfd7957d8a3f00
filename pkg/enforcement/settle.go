package enforcement

import (
	"context"

	"github.com/peacprotocol/peac-core/pkg/schema"
)

// PaymentHandler settles a payment_required decision, returning the
// evidence to attach to the eventual receipt. Injected by the caller; the
// engine never talks to a payment rail directly.
type PaymentHandler interface {
	Settle(ctx context.Context, decision Decision, resource ResourceRequest) (*schema.PaymentEvidence, error)
}

// SettlementOutcome is the result of the settle step.
type SettlementOutcome struct {
	// Settled is true when a PaymentHandler successfully produced evidence.
	Settled bool
	Payment *schema.PaymentEvidence

	// Challenge is set when settlement did not complete (no handler
	// configured, or the handler itself failed): a deterministic 402 is
	// synthesised rather than surfacing the handler's error as a 500, per
	// spec §4.6 step 3.
	Challenge bool
}

// settle runs the settlement step for a payment_required decision. A
// missing handler or a handler error both produce the same outcome shape
// (Challenge=true) so callers have one branch to handle, not two.
func settle(ctx context.Context, decision Decision, resource ResourceRequest, handler PaymentHandler) SettlementOutcome {
	if handler == nil {
		return SettlementOutcome{Challenge: true}
	}
	payment, err := handler.Settle(ctx, decision, resource)
	if err != nil || payment == nil {
		return SettlementOutcome{Challenge: true}
	}
	return SettlementOutcome{Settled: true, Payment: payment}
}
