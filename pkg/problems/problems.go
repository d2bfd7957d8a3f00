// Package problems implements the RFC 9457 problem+json error catalogue
// (C10): a stable error-code registry, sanitised messages, and the HTTP
// status mapping described in spec §4.10, grounded on the teacher's
// pkg/kernel/errorir canonical-error-format convention.
package problems

import (
	"fmt"
	"regexp"
)

// TypeBase is the base URI all PEAC problem types are rooted under.
const TypeBase = "https://peacprotocol.org/problems/"

// Problem is an application/problem+json document (RFC 9457) with a stable
// `code` extension member used for programmatic dispatch.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Code     string `json:"code"`
}

func (p *Problem) Error() string {
	return fmt.Sprintf("%s: %s (%d)", p.Code, p.Title, p.Status)
}

// def is an internal registry entry: (slug, title, default status).
type def struct {
	slug   string
	title  string
	status int
}

// Stable code -> (slug, title, status) registry, §4.10 and §6.
var registry = map[string]def{
	"E_RECEIPT_MISSING":         {"receipt-missing", "Receipt required", 402},
	"E_RECEIPT_EXPIRED":         {"receipt-expired", "Receipt expired", 401},
	"E_SIGNATURE_INVALID":       {"signature-invalid", "Signature invalid", 401},
	"E_KEY_NOT_FOUND":           {"key-not-found", "Signing key not found", 401},
	"E_TIME_INVALID":            {"time-invalid", "Timestamp outside allowed window", 401},
	"E_ISSUER_NOT_ALLOWLISTED":  {"issuer-not-allowlisted", "Issuer not allowlisted", 403},
	"E_TAP_NONCE_REPLAY":        {"tap-nonce-replay", "TAP nonce replay detected", 409},
	"E_TAP_WINDOW_INVALID":      {"tap-window-invalid", "TAP signature window invalid", 400},
	"E_TAP_UNKNOWN_TAG":         {"tap-unknown-tag", "Unknown TAP tag", 400},
	"E_TAP_ALGORITHM_INVALID":   {"tap-algorithm-invalid", "Unsupported TAP signature algorithm", 400},
	"E_TAP_COMPONENT_MISSING":   {"tap-component-missing", "Required signed component missing", 400},
	"E_SSRF_BLOCKED":            {"ssrf-blocked", "Outbound request blocked by SSRF policy", 400},
	"E_SSRF_MIXED_DNS_BLOCKED":  {"ssrf-mixed-dns-blocked", "Mixed public/private DNS answer blocked", 400},
	"E_SSRF_SCHEME_NOT_ALLOWED": {"ssrf-scheme-not-allowed", "Scheme not allowed", 400},
	"E_VALIDATION_FAILED":       {"validation-failed", "Request validation failed", 400},
	"E_POLICY_DENIED":           {"policy-denied", "Access denied by policy", 403},
	"E_CONFIGURATION_ERROR":     {"configuration-error", "Server misconfiguration", 500},
	"E_INTERNAL":                {"internal-error", "Internal error", 500},
}

// sanitisePatterns redact values that MUST NOT appear in a detail message
// per spec §4.10/§7: raw signature/PEM blobs, bearer credentials, and raw
// IP addresses (topology leakage).
var sanitisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-._~+/]+=*`),
	regexp.MustCompile(`-----BEGIN[\s\S]+?-----END[^-]+-----`),
	regexp.MustCompile(`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`),
	regexp.MustCompile(`\b[0-9a-fA-F]{0,4}(?::[0-9a-fA-F]{0,4}){2,7}\b`),
}

// Sanitize redacts signature blobs, PEM blocks, bearer tokens, and raw IPs
// from a detail string before it is placed in a response body.
func Sanitize(detail string) string {
	out := detail
	for _, re := range sanitisePatterns {
		out = re.ReplaceAllString(out, "[redacted]")
	}
	return out
}

// New builds a Problem for code, sanitising detail before embedding it.
// An unregistered code falls back to E_INTERNAL/500 rather than panicking,
// so a typo'd code at a call site degrades to a generic server error
// instead of taking the request path down.
func New(code string, detail string) *Problem {
	d, ok := registry[code]
	if !ok {
		d = def{slug: "internal-error", title: "Internal error", status: 500}
		code = "E_INTERNAL"
	}
	return &Problem{
		Type:   TypeBase + d.slug,
		Title:  d.title,
		Status: d.status,
		Detail: Sanitize(detail),
		Code:   code,
	}
}

// Lookup returns the registered status for code, and whether it is known.
func Lookup(code string) (status int, ok bool) {
	d, ok := registry[code]
	if !ok {
		return 0, false
	}
	return d.status, true
}
