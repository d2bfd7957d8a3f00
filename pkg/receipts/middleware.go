package receipts

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/peacprotocol/peac-core/pkg/schema"
)

// MaxHeaderSize is the default ceiling, in encoded bytes, for the PEAC-Receipt
// header before the middleware falls back to the body-wrap transport
// profile, spec §4.7.
const MaxHeaderSize = 4096

// PathBindingMode selects how much of the request target is bound into a
// receipt's binding.target, spec §4.7.
type PathBindingMode string

const (
	// PathBindingMinimal strips the query string (default).
	PathBindingMinimal PathBindingMode = "minimal"
	// PathBindingFull includes the query string verbatim.
	PathBindingFull PathBindingMode = "full"
	// PathBindingOff omits interaction binding entirely.
	PathBindingOff PathBindingMode = "off"
)

// TransportProfile selects how a signed receipt is attached to an HTTP
// response, spec §4.7.
type TransportProfile string

const (
	// TransportHeader emits the compact token in a PEAC-Receipt header
	// (default). Falls back to TransportBody if the encoded token would
	// exceed ResponseBindingOptions.MaxHeaderSize.
	TransportHeader TransportProfile = "header"
	// TransportBody wraps the original response body alongside the receipt:
	// {"data": <original>, "peac_receipt": "<compact>"}.
	TransportBody TransportProfile = "body"
	// TransportPointer emits a short Signature-Agent-style pointer header
	// carrying a digest of the compact token plus a retrieval URL.
	TransportPointer TransportProfile = "pointer"
)

// RequestContext is the minimal, transport-agnostic slice of an inbound HTTP
// request the issuer needs: method, path, and headers it reads for audience
// derivation and binding, spec §4.7.
type RequestContext struct {
	Method    string
	Path      string // path only, no query string
	RawQuery  string
	Headers   http.Header
	Timestamp time.Time
}

// ResponseBindingOptions configures how IssueForRequest derives the
// audience, binds the interaction, and selects a transport profile.
type ResponseBindingOptions struct {
	PathBinding PathBindingMode // defaults to PathBindingMinimal
	Transport   TransportProfile // defaults to TransportHeader
	MaxHeaderSize int // defaults to MaxHeaderSize

	// PointerURL, required only when Transport is TransportPointer, builds
	// the retrieval URL for a given compact receipt. IssueForRequest returns
	// an E_CONFIGURATION_ERROR-shaped error if Transport is
	// TransportPointer and PointerURL is nil.
	PointerURL func(compact string) string
}

// DeriveAudience implements the §4.7 precedence: Host header (first value
// if the header repeats, case-insensitive name match) falls back to Origin,
// falls back to "https://localhost<path>".
func DeriveAudience(rc RequestContext, path string) string {
	if host := firstHeader(rc.Headers, "Host"); host != "" {
		return host
	}
	if origin := firstHeader(rc.Headers, "Origin"); origin != "" {
		return origin
	}
	return "https://localhost" + path
}

func firstHeader(h http.Header, name string) string {
	if h == nil {
		return ""
	}
	vs := h.Values(name)
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// bindingTarget applies the configured PathBindingMode to rc.
func bindingTarget(rc RequestContext, mode PathBindingMode) string {
	switch mode {
	case PathBindingFull:
		if rc.RawQuery != "" {
			return rc.Path + "?" + rc.RawQuery
		}
		return rc.Path
	case PathBindingOff:
		return ""
	default:
		return rc.Path
	}
}

// Attachment is the result of IssueForRequest: the issued receipt plus the
// concrete transport instructions a caller applies to its outgoing response.
type Attachment struct {
	Receipt *IssuedReceipt

	// HeaderName/HeaderValue are set when the header transport is used
	// (including the no-fallback-needed case).
	HeaderName  string
	HeaderValue string

	// Body is set when the body-wrap transport is used (either chosen
	// directly or reached via the header-size fallback). Callers marshal
	// Body in place of the original response payload.
	Body *BodyWrapper

	// UsedFallback reports whether a requested header transport was
	// downgraded to body-wrap because the encoded token exceeded
	// MaxHeaderSize.
	UsedFallback bool
}

// BodyWrapper is the §4.7 body-wrap transport shape.
type BodyWrapper struct {
	Data        json.RawMessage `json:"data"`
	PeacReceipt string          `json:"peac_receipt"`
}

// IssueForRequest builds claims bound to rc (audience, method, target,
// signed-at), issues the receipt via issue, and selects the wire transport
// per opts. issue is typically Issue bound to a *crypto.Keyring and a
// nonce-seen callback via a closure.
func IssueForRequest(issue func(claims Claims) (*IssuedReceipt, error), rc RequestContext, originalBody json.RawMessage, claims Claims, opts ResponseBindingOptions) (*Attachment, error) {
	mode := opts.PathBinding
	if mode == "" {
		mode = PathBindingMinimal
	}
	transport := opts.Transport
	if transport == "" {
		transport = TransportHeader
	}
	maxHeader := opts.MaxHeaderSize
	if maxHeader <= 0 {
		maxHeader = MaxHeaderSize
	}
	if transport == TransportPointer && opts.PointerURL == nil {
		return nil, fmt.Errorf("receipts: configuration error: pointer transport requires a PointerURL generator")
	}

	aud := DeriveAudience(rc, rc.Path)
	claims.Audience = aud

	if mode != PathBindingOff {
		claims.Binding = &schema.BindingDetails{
			Method:   strings.ToUpper(rc.Method),
			Target:   bindingTarget(rc, mode),
			SignedAt: rc.Timestamp.UTC().Format(time.RFC3339Nano),
		}
	}

	issued, err := issue(claims)
	if err != nil {
		return nil, err
	}

	att := &Attachment{Receipt: issued}
	compact := issued.Compact()

	switch transport {
	case TransportBody:
		att.Body = &BodyWrapper{Data: originalBody, PeacReceipt: compact}
		return att, nil
	case TransportPointer:
		sum := sha256.Sum256([]byte(compact))
		digest := base64.RawURLEncoding.EncodeToString(sum[:])
		url := opts.PointerURL(compact)
		att.HeaderName = "PEAC-Receipt-Pointer"
		att.HeaderValue = fmt.Sprintf("sha256=%s; url=%s", digest, url)
		return att, nil
	default: // TransportHeader
		if len(compact) > maxHeader {
			att.Body = &BodyWrapper{Data: originalBody, PeacReceipt: compact}
			att.UsedFallback = true
			return att, nil
		}
		att.HeaderName = "PEAC-Receipt"
		att.HeaderValue = compact
		return att, nil
	}
}
