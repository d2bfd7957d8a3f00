// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// compliant serialization used to produce the bit-exact bytes signed,
// hashed, or hash-chained throughout the PEAC stack: policy hashes,
// spool entry digests, and detached JWS signature bases.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// JCS returns the RFC 8785 canonical JSON representation of v.
//
// v is first marshaled with the standard library (so struct tags, omitempty,
// and custom MarshalJSON methods are respected), then transformed into
// canonical form by gowebpki/jcs — the reference implementation of RFC 8785
// key ordering and number formatting. Non-finite numbers or values that fail
// to marshal are reported as errors rather than silently coerced.
func JCS(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: jcs transform: %w", err)
	}
	return canonical, nil
}

// JCSString returns the JCS canonical form as a string.
func JCSString(v interface{}) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Hash returns the SHA-256 digest of the canonical JSON representation of v,
// hex-encoded. Used for entry_digest (§3.7) and binding_message_hash.
func Hash(v interface{}) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytesHex(b), nil
}

// PolicyHash returns base64url(SHA-256(JCS(v))) per spec §3.6. v must already
// be the normalised policy document (see NormalizePolicyURL in this
// package's sibling, pkg/schema, for the URL-normalisation half of §3.6).
func PolicyHash(v interface{}) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// HashBytesHex computes the SHA-256 hex digest of raw bytes.
func HashBytesHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashBytesB64URL computes the SHA-256 base64url (unpadded) digest of raw bytes.
func HashBytesB64URL(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Equal reports whether two values produce byte-identical canonical forms.
// Used by tests asserting cross-run/cross-implementation determinism (§8).
func Equal(a, b interface{}) (bool, error) {
	ab, err := JCS(a)
	if err != nil {
		return false, err
	}
	bb, err := JCS(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ab, bb), nil
}
