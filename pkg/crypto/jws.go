package crypto

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// protectedHeader is the detached-JWS protected header per RFC 7515/7797:
// b64=false and crit=["b64"] mean the payload is NOT base64url-encoded into
// the signature base — the signature covers ASCII('.') + raw payload bytes
// directly after the encoded protected header. This is the "raw-payload"
// variant called out as correct in spec §9's Open Questions; the
// empty-string-payload variant seen elsewhere in the corpus is a
// library-specific workaround and MUST NOT be used here.
type protectedHeader struct {
	Alg string   `json:"alg"`
	B64 bool     `json:"b64"`
	Crit []string `json:"crit"`
	Kid string   `json:"kid"`
}

// DetachedJWS is the two-part output of a detached signature: the encoded
// protected header and the signature, joined with the (omitted) payload by
// convention as "<protected>..<signature>".
type DetachedJWS struct {
	Protected string `json:"protected"`
	Signature string `json:"signature"`
}

// Compact renders the standard detached-JWS compact form, omitting the
// payload segment: "<protected>..<signature>".
func (d DetachedJWS) Compact() string {
	return d.Protected + ".." + d.Signature
}

// b64urlEncode/b64urlDecode reuse golang-jwt/jwt/v5's unpadded-base64url
// segment codec rather than hand-rolling the same encoding/base64 call: a
// detached-JWS protected-header/signature segment is byte-for-byte the same
// base64url-no-padding encoding a standard JWT uses for its segments, even
// though the envelope around it (b64=false, raw payload) is not a JWT. In
// v5 the codec lives on Token/Parser rather than at package level.
var (
	segmentEncoder = &jwt.Token{}
	segmentDecoder = jwt.NewParser()
)

func b64urlEncode(b []byte) string {
	return segmentEncoder.EncodeSegment(b)
}

func b64urlDecode(s string) ([]byte, error) {
	return segmentDecoder.DecodeSegment(s)
}

// DecodeJWKCoordinate decodes a JWK's base64url-no-padding `x` (or other
// octet-string) member, e.g. when resolving a fetched JWKS document's
// Ed25519 public key bytes. Exported so callers outside this package (the
// edge verifier's JWKS cache, the SDK's FetchJWKS) share one decoder
// instead of each importing encoding/base64 directly.
func DecodeJWKCoordinate(s string) ([]byte, error) {
	return b64urlDecode(s)
}

// SignDetached signs payload with the keyring's active key and returns a
// detached JWS whose payload is NOT embedded in either part — callers are
// responsible for transmitting payload alongside the two returned segments.
func SignDetached(kr *Keyring, payload []byte) (DetachedJWS, error) {
	kp, err := kr.Active()
	if err != nil {
		return DetachedJWS{}, err
	}
	return signWithKey(kp, payload)
}

func signWithKey(kp *KeyPair, payload []byte) (DetachedJWS, error) {
	if !ValidKeyID(kp.KeyID) {
		return DetachedJWS{}, fmt.Errorf("%w: %q", ErrBadKeyID, kp.KeyID)
	}
	hdr := protectedHeader{
		Alg:  "EdDSA",
		B64:  false,
		Crit: []string{"b64"},
		Kid:  kp.KeyID,
	}
	hdrJSON, err := json.Marshal(hdr)
	if err != nil {
		return DetachedJWS{}, fmt.Errorf("crypto: marshal protected header: %w", err)
	}
	protectedB64 := b64urlEncode(hdrJSON)

	// Signature base for b64=false: ASCII(protected) || '.' || payload (raw bytes).
	base := make([]byte, 0, len(protectedB64)+1+len(payload))
	base = append(base, protectedB64...)
	base = append(base, '.')
	base = append(base, payload...)

	sig := ed25519.Sign(kp.Private, base)

	return DetachedJWS{
		Protected: protectedB64,
		Signature: b64urlEncode(sig),
	}, nil
}

// VerifyDetached verifies a detached JWS over payload using keys known to
// kr, resolving the signing key by the kid carried in the protected header.
// It returns the resolved kid on success.
func VerifyDetached(kr *Keyring, payload []byte, jws DetachedJWS) (kid string, err error) {
	hdrJSON, err := b64urlDecode(jws.Protected)
	if err != nil {
		return "", fmt.Errorf("%w: bad protected header encoding: %v", ErrSignatureInvalid, err)
	}
	var hdr protectedHeader
	if err := json.Unmarshal(hdrJSON, &hdr); err != nil {
		return "", fmt.Errorf("%w: bad protected header json: %v", ErrSignatureInvalid, err)
	}
	if hdr.Alg != "EdDSA" {
		return "", ErrAlgMismatch
	}
	if hdr.B64 {
		return "", fmt.Errorf("%w: b64 must be false for detached receipts", ErrSignatureInvalid)
	}
	if !containsCrit(hdr.Crit, "b64") {
		return "", fmt.Errorf("%w: crit must include b64", ErrSignatureInvalid)
	}
	if !ValidKeyID(hdr.Kid) {
		return "", fmt.Errorf("%w: %q", ErrBadKeyID, hdr.Kid)
	}

	kp, err := kr.Lookup(hdr.Kid)
	if err != nil {
		return "", err
	}

	sig, err := b64urlDecode(jws.Signature)
	if err != nil {
		return "", fmt.Errorf("%w: bad signature encoding: %v", ErrSignatureInvalid, err)
	}

	base := make([]byte, 0, len(jws.Protected)+1+len(payload))
	base = append(base, jws.Protected...)
	base = append(base, '.')
	base = append(base, payload...)

	if !ed25519.Verify(kp.Public, base, sig) {
		return "", ErrSignatureInvalid
	}
	return hdr.Kid, nil
}

func containsCrit(crit []string, want string) bool {
	for _, c := range crit {
		if c == want {
			return true
		}
	}
	return false
}

// ClockSkew is the default tolerance applied when validating iat/exp
// windows (attestation expiry §3.5, receipt lifetime §3.1).
const ClockSkew = 30 * time.Second

// ValidateTimeWindow enforces iat <= exp <= iat+maxLifetime within skew
// tolerance, returning ErrTimeInvalid on violation. Used on the receipt
// verification path (sdk/go/client.VerifyCompact, §4.2) against the
// iat/exp carried in the verified envelope; the issuer (pkg/receipts.Issue,
// §4.7) enforces the same ceiling at mint time via MaxLifetime directly.
func ValidateTimeWindow(now, iat, exp time.Time, maxLifetime, skew time.Duration) error {
	if exp.Before(iat) {
		return fmt.Errorf("%w: exp before iat", ErrTimeInvalid)
	}
	if exp.Sub(iat) > maxLifetime {
		return fmt.Errorf("%w: exp exceeds max lifetime of %s", ErrTimeInvalid, maxLifetime)
	}
	if now.Before(iat.Add(-skew)) {
		return fmt.Errorf("%w: iat in the future", ErrTimeInvalid)
	}
	if now.After(exp.Add(skew)) {
		return fmt.Errorf("%w: expired", ErrTimeInvalid)
	}
	return nil
}
