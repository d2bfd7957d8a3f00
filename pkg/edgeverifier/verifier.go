package edgeverifier

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/peacprotocol/peac-core/pkg/noncecache"
	"github.com/peacprotocol/peac-core/pkg/obs"
	"github.com/peacprotocol/peac-core/pkg/problems"
)

// JWKSURIResolver maps an authenticated issuer (the signature-agent
// identity URI) to the JWKS document that carries its signing keys.
type JWKSURIResolver func(issuer string) (string, error)

// VerifyResult is returned on a successful verification; the caller sets
// these as response headers before forwarding to origin, §4.9.
type VerifyResult struct {
	Bypassed bool
	Issuer   string
	Tag      string
	Headers  map[string]string
}

// Verifier runs TAP request-signature verification at the request
// boundary.
type Verifier struct {
	Config     Config
	Keys       *JWKSCache
	Nonces     *noncecache.Cache
	ResolveURI JWKSURIResolver
	// Obs, if set, wraps each VerifyRequest call in a span and records it
	// against the shared RED metrics. Nil is valid — tracing is optional.
	Obs   *obs.Provider
	clock func() time.Time
}

// New builds a Verifier. A nil Nonces is only valid combined with
// cfg.UnsafeAllowNoReplay.
func New(cfg Config, keys *JWKSCache, nonces *noncecache.Cache, resolve JWKSURIResolver) *Verifier {
	return &Verifier{Config: cfg.withDefaults(), Keys: keys, Nonces: nonces, ResolveURI: resolve, clock: time.Now}
}

// VerifyRequest verifies req per §4.9, returning either a VerifyResult or
// a problem describing exactly why verification failed. Bypass prefixes
// are checked before config validation, so a misconfigured verifier still
// lets health checks through.
func (v *Verifier) VerifyRequest(ctx context.Context, req *http.Request) (*VerifyResult, *problems.Problem) {
	if v.Obs == nil {
		return v.verifyRequest(ctx, req)
	}
	ctx, done := v.Obs.TrackOperation(ctx, "edgeverifier.verify_request",
		attribute.String("path", req.URL.Path))
	result, problem := v.verifyRequest(ctx, req)
	if problem != nil {
		done(problem)
	} else {
		done(nil)
	}
	return result, problem
}

func (v *Verifier) verifyRequest(ctx context.Context, req *http.Request) (*VerifyResult, *problems.Problem) {
	if v.Config.Bypassed(req.URL.Path) {
		return &VerifyResult{Bypassed: true}, nil
	}

	// An eventually consistent store does not count as replay protection:
	// it is accepted only together with UnsafeAllowNoReplay.
	if err := v.Config.Validate(v.Nonces != nil && v.Nonces.StrongConsistency()); err != nil {
		return nil, problems.New("E_CONFIGURATION_ERROR", err.Error())
	}

	sigInputHdr := req.Header.Get("Signature-Input")
	sigHdr := req.Header.Get("Signature")
	if sigInputHdr == "" || sigHdr == "" {
		return nil, problems.New("E_SIGNATURE_INVALID", "missing Signature-Input or Signature header")
	}

	inputs, err := ParseSignatureInput(sigInputHdr)
	if err != nil {
		return nil, problems.New("E_SIGNATURE_INVALID", err.Error())
	}
	sigs, err := ParseSignature(sigHdr)
	if err != nil {
		return nil, problems.New("E_SIGNATURE_INVALID", err.Error())
	}

	var label string
	var params SignatureParams
	for l, p := range inputs {
		label, params = l, p
		break
	}
	if label == "" {
		return nil, problems.New("E_SIGNATURE_INVALID", "no signature-input member present")
	}
	sigB64, ok := sigs[label]
	if !ok {
		return nil, problems.New("E_SIGNATURE_INVALID", "signature header has no member matching signature-input label")
	}

	if missing := MissingRequiredComponents(params); len(missing) > 0 {
		return nil, problems.New("E_TAP_COMPONENT_MISSING", "missing required signed component: "+strings.Join(missing, ", "))
	}

	if !isEd25519Alg(params.Alg) {
		return nil, problems.New("E_TAP_ALGORITHM_INVALID", "unsupported signature algorithm: "+params.Alg)
	}

	if !v.Config.TagAllowed(params.Tag) {
		return nil, problems.New("E_TAP_UNKNOWN_TAG", "unrecognised tap tag: "+params.Tag)
	}

	// created/expires carry whole Unix seconds, so the window is compared
	// at that precision: expires == now - skew is still inside it.
	now := v.clock().Truncate(time.Second)
	created := time.Unix(params.Created, 0)
	expires := time.Unix(params.Expires, 0)
	if params.Created <= 0 || params.Expires <= 0 {
		return nil, problems.New("E_TAP_WINDOW_INVALID", "created/expires must be present")
	}
	if expires.Sub(created) > time.Duration(v.Config.MaxWindowSeconds)*time.Second {
		return nil, problems.New("E_TAP_WINDOW_INVALID", "signature window exceeds MAX_WINDOW_SECONDS")
	}
	if created.After(now.Add(v.Config.Skew)) {
		return nil, problems.New("E_TAP_WINDOW_INVALID", "created is in the future")
	}
	if expires.Before(now.Add(-v.Config.Skew)) {
		return nil, problems.New("E_TAP_WINDOW_INVALID", "signature window has expired")
	}

	issuer, err := componentValue(req, "signature-agent")
	if err != nil || issuer == "" {
		return nil, problems.New("E_TAP_COMPONENT_MISSING", "signature-agent component is required and identifies the issuer")
	}
	if !v.Config.IssuerAllowed(issuer) {
		return nil, problems.New("E_ISSUER_NOT_ALLOWLISTED", "issuer not allowlisted: "+issuer)
	}

	if v.ResolveURI == nil {
		return nil, problems.New("E_CONFIGURATION_ERROR", "no jwks uri resolver configured")
	}
	jwksURI, err := v.ResolveURI(issuer)
	if err != nil {
		return nil, problems.New("E_KEY_NOT_FOUND", err.Error())
	}
	pub, err := v.Keys.Lookup(ctx, jwksURI, params.KeyID)
	if err != nil {
		return nil, problems.New("E_KEY_NOT_FOUND", err.Error())
	}

	base, err := BuildSignatureBase(req, params)
	if err != nil {
		return nil, problems.New("E_TAP_COMPONENT_MISSING", err.Error())
	}
	sigBytes, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return nil, problems.New("E_SIGNATURE_INVALID", "malformed signature encoding")
	}
	if !ed25519.Verify(pub, []byte(base), sigBytes) {
		return nil, problems.New("E_SIGNATURE_INVALID", "signature does not verify")
	}

	warning := ""
	if v.Nonces == nil {
		warning = "replay protection disabled (UnsafeAllowNoReplay)"
	} else {
		if params.Nonce == "" {
			return nil, problems.New("E_TAP_COMPONENT_MISSING", "nonce parameter is required for replay protection")
		}
		replay, err := checkReplay(ctx, v.Nonces, issuer, params.KeyID, params.Nonce, v.Config.MaxWindowSeconds)
		if err != nil {
			return nil, problems.New("E_CONFIGURATION_ERROR", err.Error())
		}
		if replay {
			return nil, problems.New("E_TAP_NONCE_REPLAY", "nonce already used")
		}
	}

	headers := map[string]string{
		"X-PEAC-Verified": "true",
		"X-PEAC-Engine":   "tap",
	}
	if params.Tag != "" {
		headers["X-PEAC-TAP-Tag"] = params.Tag
	}
	if warning != "" {
		headers["X-PEAC-Warning"] = warning
	}

	return &VerifyResult{Issuer: issuer, Tag: params.Tag, Headers: headers}, nil
}

func isEd25519Alg(alg string) bool {
	a := strings.ToLower(alg)
	return a == "ed25519" || a == "eddsa"
}
