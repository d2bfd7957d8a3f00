// Package crypto implements the Ed25519 signing core (C2): key rotation
// with dated key ids, RFC 7515/7797 detached JWS sign/verify, and JWKS
// export. Ed25519 is the only algorithm supported in v0.9, per spec §4.2.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"regexp"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"
)

// kidPattern matches the rotating key id format YYYY-MM-DD/nn (spec §4.2).
var kidPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}/\d{2}$`)

// ValidKeyID reports whether kid matches the required YYYY-MM-DD/nn shape.
// The spec's Open Questions call out that some teacher sign paths skipped
// this check while others enforced it; this build validates on both sign
// and verify, as §9 requires.
func ValidKeyID(kid string) bool {
	return kidPattern.MatchString(kid)
}

// KeyPair is a single Ed25519 signing key bound to a kid.
type KeyPair struct {
	KeyID   string
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// NewKeyPair generates a fresh Ed25519 key pair for kid. kid must already be
// in YYYY-MM-DD/nn form; callers mint it via NextKeyID.
func NewKeyPair(kid string) (*KeyPair, error) {
	if !ValidKeyID(kid) {
		return nil, fmt.Errorf("%w: %q", ErrBadKeyID, kid)
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return &KeyPair{KeyID: kid, Private: priv, Public: pub}, nil
}

// NextKeyID returns the next rotation id for the given day, given the
// highest sequence number already issued today (0 if none).
func NextKeyID(day time.Time, lastSeq int) string {
	return fmt.Sprintf("%s/%02d", day.UTC().Format("2006-01-02"), lastSeq+1)
}

// hkdfInfo scopes every derived signing key to this protocol so the same
// master seed can be reused elsewhere without key material colliding.
const hkdfInfo = "peac-receipt-signing-key"

// DeriveKeyPair deterministically derives the Ed25519 key pair for kid from
// masterSeed via HKDF-SHA256, rather than drawing fresh randomness from
// crypto/rand. A deployer holding only masterSeed (e.g. out of an HSM or
// KMS-wrapped secret) can regenerate any day's rotation key on demand
// instead of persisting every KeyPair NewKeyPair has ever minted.
func DeriveKeyPair(masterSeed []byte, kid string) (*KeyPair, error) {
	if !ValidKeyID(kid) {
		return nil, fmt.Errorf("%w: %q", ErrBadKeyID, kid)
	}
	seed := make([]byte, ed25519.SeedSize)
	r := hkdf.New(sha256.New, masterSeed, []byte(hkdfInfo), []byte(kid))
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("crypto: derive key: %w", err)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &KeyPair{KeyID: kid, Private: priv, Public: pub}, nil
}

// Keyring holds multiple key pairs keyed by kid, supporting rotation:
// verification works against any known key, signing always uses the
// designated active key.
type Keyring struct {
	mu       sync.RWMutex
	keys     map[string]*KeyPair
	activeID string
}

// NewKeyring creates an empty keyring.
func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[string]*KeyPair)}
}

// Add inserts kp into the keyring. The first key added becomes active;
// subsequent Add calls do not change the active key — call Activate
// explicitly to rotate.
func (kr *Keyring) Add(kp *KeyPair) error {
	if !ValidKeyID(kp.KeyID) {
		return fmt.Errorf("%w: %q", ErrBadKeyID, kp.KeyID)
	}
	kr.mu.Lock()
	defer kr.mu.Unlock()
	kr.keys[kp.KeyID] = kp
	if kr.activeID == "" {
		kr.activeID = kp.KeyID
	}
	return nil
}

// Activate switches the signing key used by SignDetached to kid,
// which must already be present in the keyring. This is how key rotation
// is performed without invalidating receipts signed under the prior kid.
func (kr *Keyring) Activate(kid string) error {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	if _, ok := kr.keys[kid]; !ok {
		return fmt.Errorf("%w: %q", ErrKeyNotFound, kid)
	}
	kr.activeID = kid
	return nil
}

// Revoke removes kid from the keyring. Revoked keys can no longer verify or
// sign; existing receipts bearing their kid will fail verification with
// ErrKeyNotFound.
func (kr *Keyring) Revoke(kid string) {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	delete(kr.keys, kid)
	if kr.activeID == kid {
		kr.activeID = ""
	}
}

// Active returns the current signing key pair.
func (kr *Keyring) Active() (*KeyPair, error) {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	if kr.activeID == "" {
		return nil, fmt.Errorf("%w: no active key", ErrKeyNotFound)
	}
	kp, ok := kr.keys[kr.activeID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, kr.activeID)
	}
	return kp, nil
}

// Lookup returns the key pair for kid, used during verification to resolve
// the kid carried in a detached JWS protected header.
func (kr *Keyring) Lookup(kid string) (*KeyPair, error) {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	kp, ok := kr.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, kid)
	}
	return kp, nil
}

// JWK is an OKP Ed25519 JSON Web Key, RFC 8037.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Kid string `json:"kid"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
}

// JWKS is a JSON Web Key Set document, §6.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// ExportJWKS returns the public keys in the keyring as a JWKS, with keys
// sorted by kid for deterministic output across calls and implementations.
func (kr *Keyring) ExportJWKS() JWKS {
	kr.mu.RLock()
	defer kr.mu.RUnlock()

	kids := make([]string, 0, len(kr.keys))
	for kid := range kr.keys {
		kids = append(kids, kid)
	}
	sort.Strings(kids)

	out := JWKS{Keys: make([]JWK, 0, len(kids))}
	for _, kid := range kids {
		kp := kr.keys[kid]
		out.Keys = append(out.Keys, JWK{
			Kty: "OKP",
			Crv: "Ed25519",
			X:   b64urlEncode(kp.Public),
			Kid: kid,
			Use: "sig",
			Alg: "EdDSA",
		})
	}
	return out
}
