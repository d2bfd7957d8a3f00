package edgeverifier

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/peacprotocol/peac-core/pkg/crypto"
	"github.com/peacprotocol/peac-core/pkg/fetch"
)

// JWKSCacheTTL bounds how long a fetched JWKS document is trusted before
// being re-fetched, §4.9.
const JWKSCacheTTL = 5 * time.Minute

type cachedJWKS struct {
	doc       crypto.JWKS
	fetchedAt time.Time
}

// JWKSCache resolves a (jwksURI, kid) pair to an Ed25519 public key,
// caching fetched documents for JWKSCacheTTL and enforcing a host
// allowlist at fetch time so a malicious Signature-Input cannot direct the
// verifier to fetch from an arbitrary origin.
type JWKSCache struct {
	fetcher       *fetch.Fetcher
	hostAllowlist []string

	mu      sync.Mutex
	entries map[string]cachedJWKS
	clock   func() time.Time
}

// NewJWKSCache builds a cache backed by fetcher, restricted to hosts in
// hostAllowlist.
func NewJWKSCache(fetcher *fetch.Fetcher, hostAllowlist []string) *JWKSCache {
	return &JWKSCache{
		fetcher:       fetcher,
		hostAllowlist: hostAllowlist,
		entries:       make(map[string]cachedJWKS),
		clock:         time.Now,
	}
}

func (c *JWKSCache) hostAllowed(host string) bool {
	if len(c.hostAllowlist) == 0 {
		return false
	}
	for _, h := range c.hostAllowlist {
		if strings.EqualFold(h, host) {
			return true
		}
	}
	return false
}

// Lookup resolves kid within the JWKS document at jwksURI, fetching or
// serving from cache as needed.
func (c *JWKSCache) Lookup(ctx context.Context, jwksURI, kid string) (ed25519.PublicKey, error) {
	u, err := url.Parse(jwksURI)
	if err != nil {
		return nil, fmt.Errorf("edgeverifier: parse jwks uri: %w", err)
	}
	if !c.hostAllowed(u.Hostname()) {
		return nil, fmt.Errorf("edgeverifier: jwks host %q not allowlisted", u.Hostname())
	}

	c.mu.Lock()
	entry, ok := c.entries[jwksURI]
	fresh := ok && c.clock().Sub(entry.fetchedAt) < JWKSCacheTTL
	c.mu.Unlock()

	if !fresh {
		res, err := c.fetcher.Get(ctx, jwksURI)
		if err != nil {
			return nil, err
		}
		var doc crypto.JWKS
		if err := json.Unmarshal(res.Body, &doc); err != nil {
			return nil, fmt.Errorf("edgeverifier: parse jwks document from %q: %w", jwksURI, err)
		}
		entry = cachedJWKS{doc: doc, fetchedAt: c.clock()}
		c.mu.Lock()
		c.entries[jwksURI] = entry
		c.mu.Unlock()
	}

	for _, k := range entry.doc.Keys {
		if k.Kid != kid {
			continue
		}
		if k.Kty != "OKP" || k.Crv != "Ed25519" {
			return nil, fmt.Errorf("edgeverifier: key %q is not Ed25519 (kty=%s crv=%s)", kid, k.Kty, k.Crv)
		}
		raw, err := crypto.DecodeJWKCoordinate(k.X)
		if err != nil {
			return nil, fmt.Errorf("edgeverifier: decode key %q: %w", kid, err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("edgeverifier: key %q has invalid length", kid)
		}
		return ed25519.PublicKey(raw), nil
	}
	return nil, fmt.Errorf("edgeverifier: kid %q not found in jwks at %q", kid, jwksURI)
}
