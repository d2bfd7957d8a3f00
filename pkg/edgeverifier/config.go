// Package edgeverifier implements the edge verifier (C9): RFC 9421-style
// Trusted Agent Protocol (TAP) request-signature verification at the
// request boundary, fail-closed by default. Grounded on the teacher's
// core/pkg/auth/middleware.go (bypass-path-before-auth, fail-closed-when-
// unconfigured convention) generalized from bearer-JWT validation to
// detached-signature-over-HTTP-components verification.
package edgeverifier

import (
	"fmt"
	"strings"
	"time"
)

// DefaultSkew is the default signature window clock-skew tolerance, §4.9.
const DefaultSkew = 120 * time.Second

// MaxWindowSeconds is the hard ceiling on a signature's created..expires
// span; windows wider than this are rejected regardless of skew, §4.9.
const MaxWindowSeconds = 600

// Config is the edge verifier's fail-closed posture, sourced from
// pkg/config.Config in a deployed process but kept free-standing here so
// the package has no import-time dependency on it.
type Config struct {
	// IssuerAllowlist is REQUIRED unless UnsafeAllowAnyIssuer is set.
	IssuerAllowlist []string

	// JWKSHostAllowlist is not read by Verifier: the host allowlist that
	// JWKS fetches enforce is the one passed to NewJWKSCache, and nothing
	// is derived from IssuerAllowlist when it is empty.
	JWKSHostAllowlist []string

	// BypassPrefixes are path prefixes verified before Config itself is
	// validated, so health checks still succeed under a misconfigured
	// verifier, §4.9.
	BypassPrefixes []string

	// KnownTags is the vocabulary of recognised TAP `tag` parameter
	// values; an unrecognised tag is rejected unless
	// UnsafeAllowUnknownTags is set.
	KnownTags []string

	Skew             time.Duration // defaults to DefaultSkew
	MaxWindowSeconds int           // defaults to MaxWindowSeconds

	UnsafeAllowAnyIssuer   bool
	UnsafeAllowUnknownTags bool
	UnsafeAllowNoReplay    bool
}

// withDefaults returns a copy of c with zero-valued tunables filled in.
func (c Config) withDefaults() Config {
	if c.Skew <= 0 {
		c.Skew = DefaultSkew
	}
	if c.MaxWindowSeconds <= 0 {
		c.MaxWindowSeconds = MaxWindowSeconds
	}
	return c
}

// Validate enforces the fail-closed posture of §4.9: an issuer allowlist
// is required unless explicitly acked away, and replay protection is
// required unless explicitly acked (callers still attach a warning header
// in that case — Validate itself only reports whether config is usable at
// all).
func (c Config) Validate(nonceCacheConfigured bool) error {
	if len(c.IssuerAllowlist) == 0 && !c.UnsafeAllowAnyIssuer {
		return fmt.Errorf("edgeverifier: issuer allowlist is required unless UnsafeAllowAnyIssuer is set")
	}
	if !nonceCacheConfigured && !c.UnsafeAllowNoReplay {
		return fmt.Errorf("edgeverifier: a replay-protection store is required unless UnsafeAllowNoReplay is set")
	}
	return nil
}

// IssuerAllowed reports whether iss is in the allowlist (or any issuer is
// accepted under the unsafe ack).
func (c Config) IssuerAllowed(iss string) bool {
	if c.UnsafeAllowAnyIssuer {
		return true
	}
	for _, a := range c.IssuerAllowlist {
		if a == iss {
			return true
		}
	}
	return false
}

// TagAllowed reports whether tag is recognised (or any tag is accepted
// under the unsafe ack). An empty tag is always allowed — tag is optional.
func (c Config) TagAllowed(tag string) bool {
	if tag == "" || c.UnsafeAllowUnknownTags {
		return true
	}
	for _, k := range c.KnownTags {
		if k == tag {
			return true
		}
	}
	return false
}

// Bypassed reports whether path matches one of the configured bypass
// prefixes. Evaluated before any other config validation, §4.9.
func (c Config) Bypassed(path string) bool {
	for _, p := range c.BypassPrefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
