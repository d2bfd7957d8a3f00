package enforcement

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/peacprotocol/peac-core/pkg/canonicalize"
	"github.com/peacprotocol/peac-core/pkg/fetch"
)

// wellKnownPaths are fetched in parallel during discovery, spec §4.6 step 1.
// peac.txt is the legacy fallback location for the same document served at
// /.well-known/peac.txt; it is fetched alongside the others rather than only
// on failure, so a well-known 404 never adds latency waiting on a second
// round trip.
var wellKnownPaths = []string{
	"/.well-known/ai-policy",
	"/.well-known/agent-permissions",
	"/.well-known/peac.txt",
	"/peac.txt",
}

// DiscoveryMaxBodyBytes bounds a single discovery fetch, spec §4.6 step 1.
const DiscoveryMaxBodyBytes = 256 * 1024

// DiscoveryResult is one source's outcome, success or error, all of which
// are recorded per spec §4.6 step 1.
type DiscoveryResult struct {
	Source string
	Policy *Policy
	Err    error
}

// discoveryDoc is the wire shape a well-known policy document is parsed
// from: an ordered rule list plus the hash/uri a receipt cites as evidence
// of what was consulted.
type discoveryDoc struct {
	PolicyHash string `json:"policy_hash"`
	PolicyURI  string `json:"policy_uri"`
	Rules      []struct {
		Category string `json:"category"`
		Expr     string `json:"expr"`
		Effect   string `json:"effect"`
		Reason   string `json:"reason"`
	} `json:"rules"`
}

// Discover fans out to every well-known source under baseURL, bounded to
// DefaultDiscoveryTimeout/DiscoveryMaxBodyBytes each, and returns one
// DiscoveryResult per source. An SSRF or scheme violation on any single
// fetch is NOT recorded as a normal discovery error: per spec §4.6/§7 it
// escapes Discover immediately as a thrown error, since it signals caller
// misuse rather than a policy-hosting outcome.
func Discover(ctx context.Context, fetcher *fetch.Fetcher, baseURL string) ([]DiscoveryResult, error) {
	base := strings.TrimRight(baseURL, "/")
	results := make([]DiscoveryResult, len(wellKnownPaths))

	var mu sync.Mutex
	var escaping error
	var wg sync.WaitGroup

	for i, path := range wellKnownPaths {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			fctx, cancel := context.WithTimeout(ctx, fetch.DefaultDiscoveryTimeout)
			defer cancel()

			res, err := fetcher.Get(fctx, base+path)
			source := base + path
			if err != nil {
				if isMisuseError(err) {
					mu.Lock()
					if escaping == nil {
						escaping = err
					}
					mu.Unlock()
					return
				}
				results[i] = DiscoveryResult{Source: source, Err: err}
				return
			}
			if len(res.Body) > DiscoveryMaxBodyBytes {
				results[i] = DiscoveryResult{Source: source, Err: fmt.Errorf("enforcement: discovery body from %q exceeds %d bytes", source, DiscoveryMaxBodyBytes)}
				return
			}
			if res.StatusCode >= 400 {
				results[i] = DiscoveryResult{Source: source, Err: fmt.Errorf("enforcement: discovery source %q returned status %d", source, res.StatusCode)}
				return
			}
			policy, err := parsePolicy(source, res.Body)
			if err != nil {
				results[i] = DiscoveryResult{Source: source, Err: err}
				return
			}
			results[i] = DiscoveryResult{Source: source, Policy: policy}
		}(i, path)
	}
	wg.Wait()

	if escaping != nil {
		return nil, escaping
	}
	return results, nil
}

// isMisuseError reports whether err is one of the SSRF/scheme violations
// that must escape Discover as a thrown error rather than be recorded as a
// normal discovery outcome, spec §4.6/§7.
func isMisuseError(err error) bool {
	switch err.(type) {
	case *fetch.SSRFError, *fetch.ErrSchemeNotAllowed, *fetch.ErrMixedDNS:
		return true
	default:
		return false
	}
}

func parsePolicy(source string, body []byte) (*Policy, error) {
	var doc discoveryDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("enforcement: parse policy document from %q: %w", source, err)
	}
	policyHash := doc.PolicyHash
	if policyHash == "" {
		policyHash = canonicalize.HashBytesHex(body)
	}
	policyURI := doc.PolicyURI
	if policyURI == "" {
		policyURI = source
	}

	p := &Policy{Source: source, PolicyHash: policyHash, PolicyURI: policyURI}
	for _, r := range doc.Rules {
		p.Rules = append(p.Rules, Rule{
			Category: Category(r.Category),
			Expr:     r.Expr,
			Effect:   Effect(r.Effect),
			Reason:   r.Reason,
		})
	}
	return p, nil
}

// CollectPolicies filters discovery results down to successfully parsed
// policies, preserving source order. Errors are left for the caller to log
// or attach to a trace; they never block evaluation past this point.
func CollectPolicies(results []DiscoveryResult) []Policy {
	var out []Policy
	for _, r := range results {
		if r.Policy != nil {
			out = append(out, *r.Policy)
		}
	}
	return out
}
