// Package receipts implements the receipt issuer (C7): builds the minimal
// claim set, produces a detached JWS over its canonical JCS bytes, and
// selects a wire transport profile (header / body-wrap / pointer) for an
// HTTP response. Grounded on the teacher's core/pkg/receipts/* package
// family and core/pkg/crypto/signer.go's sign-then-attach convention.
package receipts

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/peacprotocol/peac-core/pkg/canonicalize"
	"github.com/peacprotocol/peac-core/pkg/crypto"
	"github.com/peacprotocol/peac-core/pkg/schema"
)

// MaxLifetime is the hard receipt lifetime ceiling, spec §3.1: iat <= exp
// <= iat + 300s.
const MaxLifetime = 300 * time.Second

// Claims is the minimal claim set built at issuance, spec §4.6 step 4 /
// §4.7: {iss, sub, aud, iat, exp, rid, purpose?, policy_hash, payment?}
// plus the full envelope fields a caller wants bound into the receipt.
type Claims struct {
	Issuer     string
	Audience   string
	Subject    string
	IssuedAt   time.Time
	Lifetime   time.Duration // defaults to MaxLifetime if zero
	PolicyHash string
	PolicyURI  string
	Purpose    string

	Control         *schema.ControlBlock
	Evidence        *schema.Evidence
	Binding         *schema.BindingDetails
	SubjectSnapshot *schema.SubjectProfileSnapshot
	Extensions      map[string]json.RawMessage
}

// IssuedReceipt bundles the signed envelope with its canonical payload
// bytes and detached JWS, ready for any of the §4.7 transport profiles.
type IssuedReceipt struct {
	Envelope schema.Envelope
	Payload  []byte
	JWS      crypto.DetachedJWS
}

// Compact renders the wire token carrying protected header, base64url
// payload, and signature: "<protected>.<payload-b64url>.<signature>". The
// payload segment is transmitted for convenience even though, per the
// detached (b64=false) profile, it does NOT participate in the signature
// base — verifiers recompute the signature base from the raw payload
// bytes they decode from this segment, never from the encoded segment
// itself.
func (r IssuedReceipt) Compact() string {
	return r.JWS.Protected + "." + base64.RawURLEncoding.EncodeToString(r.Payload) + "." + r.JWS.Signature
}

// Issue validates and signs claims, producing an IssuedReceipt. rid is
// always generated here as a UUIDv7; Claims has no way to supply one
// (replay protection and time-ordering both depend on the issuer minting
// it).
func Issue(kr *crypto.Keyring, nonceSeen func(rid string) (bool, error), claims Claims) (*IssuedReceipt, error) {
	if claims.Issuer == "" || claims.Audience == "" {
		return nil, fmt.Errorf("receipts: issuer and audience are required")
	}
	if claims.PolicyHash == "" || claims.PolicyURI == "" {
		return nil, fmt.Errorf("receipts: policy_hash and policy_uri are required")
	}

	rid, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("receipts: generate rid: %w", err)
	}
	if nonceSeen != nil {
		seen, err := nonceSeen(rid.String())
		if err != nil {
			return nil, fmt.Errorf("receipts: nonce registration: %w", err)
		}
		if seen {
			return nil, fmt.Errorf("receipts: generated rid collided with an existing nonce (statistically should never happen)")
		}
	}

	lifetime := claims.Lifetime
	if lifetime <= 0 || lifetime > MaxLifetime {
		lifetime = MaxLifetime
	}
	iat := claims.IssuedAt
	if iat.IsZero() {
		iat = time.Now().UTC()
	}
	exp := iat.Add(lifetime)

	env := schema.Envelope{
		Auth: schema.Auth{
			Issuer:          strings.TrimSuffix(claims.Issuer, "/"),
			Audience:        claims.Audience,
			Subject:         claims.Subject,
			IssuedAt:        iat.Unix(),
			ExpiresAt:       exp.Unix(),
			ReceiptID:       rid.String(),
			PolicyHash:      claims.PolicyHash,
			PolicyURI:       claims.PolicyURI,
			Control:         claims.Control,
			Binding:         claims.Binding,
			SubjectSnapshot: claims.SubjectSnapshot,
			Extensions:      claims.Extensions,
		},
		Evidence: claims.Evidence,
	}
	if claims.Purpose != "" {
		if env.Auth.Enforcement == nil {
			env.Auth.Enforcement = map[string]any{}
		}
		env.Auth.Enforcement["purpose"] = claims.Purpose
	}

	payload, err := canonicalize.JCS(env)
	if err != nil {
		return nil, fmt.Errorf("receipts: canonicalize envelope: %w", err)
	}

	jws, err := crypto.SignDetached(kr, payload)
	if err != nil {
		return nil, fmt.Errorf("receipts: sign: %w", err)
	}

	return &IssuedReceipt{Envelope: env, Payload: payload, JWS: jws}, nil
}
