package dispute

import (
	"fmt"
	"sort"

	"github.com/peacprotocol/peac-core/pkg/schema"
)

// AttributionLedger accumulates attribution sources and verifies
// acyclicity incrementally: each AddSource call re-checks the whole graph
// before the source is accepted, per spec §4.11 ("verifies acyclicity
// before accepting a new source").
type AttributionLedger struct {
	sources map[string]schema.AttributionSource
}

// NewAttributionLedger returns an empty ledger.
func NewAttributionLedger() *AttributionLedger {
	return &AttributionLedger{sources: make(map[string]schema.AttributionSource)}
}

// AddSource validates src's weight and the resulting graph's acyclicity
// before adding it; on rejection the ledger is left unchanged.
func (l *AttributionLedger) AddSource(src schema.AttributionSource) error {
	if !schema.ValidWeight(src.Weight) {
		return fmt.Errorf("dispute: attribution source %q: weight %v out of [0,1]", src.SourceID, src.Weight)
	}
	candidate := make(map[string]schema.AttributionSource, len(l.sources)+1)
	for k, v := range l.sources {
		candidate[k] = v
	}
	candidate[src.SourceID] = src

	ordered := make([]schema.AttributionSource, 0, len(candidate))
	for _, v := range candidate {
		ordered = append(ordered, v)
	}
	sortSources(ordered)

	if err := schema.ValidateAttributionSources(ordered); err != nil {
		return fmt.Errorf("dispute: %w", err)
	}
	l.sources = candidate
	return nil
}

// Sources returns every accepted source in deterministic (source_id) order,
// per spec §4.11's "deterministic verification" requirement.
func (l *AttributionLedger) Sources() []schema.AttributionSource {
	out := make([]schema.AttributionSource, 0, len(l.sources))
	for _, v := range l.sources {
		out = append(out, v)
	}
	sortSources(out)
	return out
}

func sortSources(s []schema.AttributionSource) {
	sort.Slice(s, func(i, j int) bool { return s[i].SourceID < s[j].SourceID })
}
