package client

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/peacprotocol/peac-core/pkg/crypto"
	"github.com/peacprotocol/peac-core/pkg/receipts"
	"github.com/peacprotocol/peac-core/pkg/schema"
)

// FetchJWKS retrieves the JSON Web Key Set document at url and builds a
// verify-only *crypto.Keyring from it (no private keys, so the returned
// keyring can only ever be used with crypto.VerifyDetached, never
// crypto.SignDetached). Mirrors pkg/edgeverifier's JWKS-cache shape on the
// client side of the protocol.
func FetchJWKS(httpClient *http.Client, url string) (*crypto.Keyring, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("client: jwks fetch %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var doc crypto.JWKS
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("client: decode jwks: %w", err)
	}

	kr := crypto.NewKeyring()
	for _, jwk := range doc.Keys {
		if jwk.Kty != "OKP" || jwk.Crv != "Ed25519" {
			continue // v0.9 only recognises Ed25519 OKP keys, spec §4.2
		}
		pub, err := crypto.DecodeJWKCoordinate(jwk.X)
		if err != nil {
			continue
		}
		if err := kr.Add(&crypto.KeyPair{KeyID: jwk.Kid, Public: pub}); err != nil {
			continue
		}
	}
	return kr, nil
}

// ParsedReceipt is a verified receipt's canonical envelope plus the kid
// that signed it.
type ParsedReceipt struct {
	Envelope schema.Envelope
	KeyID    string
}

// VerifyCompact decodes a "<protected>.<payload-b64url>.<signature>" compact
// token (receipts.IssuedReceipt.Compact's wire form), verifies its detached
// JWS against kr, and enforces the iat/exp window from the decoded envelope
// against the wall clock, per spec §4.2: a receipt with a valid signature
// but an expired or not-yet-valid window still fails with E_TIME_INVALID.
// It does not re-derive policy_hash or re-run discovery — that is the
// enforcement engine's job (pkg/enforcement); this only proves the bytes
// were signed by an allowlisted key, weren't tampered with, and are still
// within their validity window.
func VerifyCompact(kr *crypto.Keyring, compact string) (*ParsedReceipt, error) {
	parts := strings.Split(compact, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("client: malformed compact receipt: want 3 dot-separated parts, got %d", len(parts))
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("client: decode payload segment: %w", err)
	}
	jws := crypto.DetachedJWS{Protected: parts[0], Signature: parts[2]}

	kid, err := crypto.VerifyDetached(kr, payload, jws)
	if err != nil {
		return nil, err
	}

	var env schema.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("client: decode envelope: %w", err)
	}

	iat := time.Unix(env.Auth.IssuedAt, 0)
	exp := time.Unix(env.Auth.ExpiresAt, 0)
	if err := crypto.ValidateTimeWindow(time.Now(), iat, exp, receipts.MaxLifetime, crypto.ClockSkew); err != nil {
		return nil, fmt.Errorf("client: receipt %s: %w", kid, err)
	}

	return &ParsedReceipt{Envelope: env, KeyID: kid}, nil
}
