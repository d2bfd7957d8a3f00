// Package client provides a typed Go client for calling a PEAC-enforced
// origin: it follows the §6 receipt-transport conventions (header,
// body-wrap, pointer), surfaces the §4.10 problem+json error catalogue on
// non-2xx responses, and turns a 402 challenge into a typed
// PaymentRequiredError carrying the WWW-Authenticate realm. Adapted from
// the teacher's zero-external-dependency HelmClient shape
// (do/Option/typed-error convention) in the original sdk/go/client package,
// generalized from HELM's kernel API surface to PEAC's receipt protocol.
package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client fetches resources from a PEAC-enforced origin and extracts any
// receipt the origin attached, per whichever of the three §4.7 transport
// profiles the origin chose.
type Client struct {
	HTTPClient *http.Client
	UserAgent  string
}

// New creates a Client with sane defaults; opts override them.
func New(opts ...Option) *Client {
	c := &Client{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		UserAgent:  "peac-go-sdk/0.9",
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the default HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.HTTPClient.Timeout = d }
}

// WithHTTPClient overrides the underlying *http.Client entirely (e.g. to
// supply one built over pkg/fetch for SSRF-safe discovery-style calls).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.HTTPClient = h }
}

// ProblemError wraps a decoded application/problem+json body (§4.10).
type ProblemError struct {
	Status   int
	Type     string
	Title    string
	Detail   string
	Code     string
}

func (e *ProblemError) Error() string {
	return fmt.Sprintf("peac: %s: %s (%d)", e.Code, e.Title, e.Status)
}

// PaymentRequiredError is returned when the origin answers 402 with no
// receipt attached: a payment (or a retry after settlement) is required
// before the resource can be fetched, spec §6/§8 scenario 3.
type PaymentRequiredError struct {
	ProblemError
	Realm string // from WWW-Authenticate: PEAC realm="..."
}

// ReceiptRef describes where a response's receipt was found and how to
// retrieve its compact token.
type ReceiptRef struct {
	Transport string // "header", "body", or "pointer"
	Compact   string // populated for header/body; empty for pointer until Resolve
	PointerSHA256 string
	PointerURL    string
}

// Resolve retrieves the compact receipt token for a pointer-transport
// reference by following PointerURL; for header/body references it returns
// Compact unchanged.
func (r ReceiptRef) Resolve(c *Client) (string, error) {
	if r.Transport != "pointer" {
		return r.Compact, nil
	}
	req, err := http.NewRequest(http.MethodGet, r.PointerURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", c.UserAgent)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// Result is the outcome of a successful (2xx) Get.
type Result struct {
	StatusCode int
	Body       []byte
	Receipt    *ReceiptRef // nil if the origin issued no receipt (e.g. allow-without-receipt policy)
}

// Get fetches url, extracting a receipt reference per whichever transport
// the origin used. On 402 it returns a *PaymentRequiredError; on any other
// non-2xx problem+json response it returns a *ProblemError.
func (c *Client) Get(url string) (*Result, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.UserAgent)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, problemFromResponse(resp, body)
	}

	ref := extractReceipt(resp, body)
	return &Result{StatusCode: resp.StatusCode, Body: unwrapBody(ref, body), Receipt: ref}, nil
}

func problemFromResponse(resp *http.Response, body []byte) error {
	pe := ProblemError{Status: resp.StatusCode, Code: "E_INTERNAL", Title: "unknown error"}
	if strings.Contains(resp.Header.Get("Content-Type"), "application/problem+json") {
		var decoded struct {
			Type   string `json:"type"`
			Title  string `json:"title"`
			Detail string `json:"detail"`
			Code   string `json:"code"`
		}
		if err := json.Unmarshal(body, &decoded); err == nil {
			pe.Type, pe.Title, pe.Detail, pe.Code = decoded.Type, decoded.Title, decoded.Detail, decoded.Code
		}
	}
	if resp.StatusCode == http.StatusPaymentRequired {
		return &PaymentRequiredError{ProblemError: pe, Realm: realmFromChallenge(resp.Header.Get("WWW-Authenticate"))}
	}
	return &pe
}

// realmFromChallenge extracts the realm parameter from a
// `PEAC realm="peac-verifier"`-shaped WWW-Authenticate header.
func realmFromChallenge(header string) string {
	const marker = `realm="`
	i := strings.Index(header, marker)
	if i < 0 {
		return ""
	}
	rest := header[i+len(marker):]
	j := strings.IndexByte(rest, '"')
	if j < 0 {
		return ""
	}
	return rest[:j]
}

// bodyWrapper mirrors receipts.BodyWrapper's wire shape without importing
// the server-side package, keeping this client buildable standalone.
type bodyWrapper struct {
	Data        json.RawMessage `json:"data"`
	PeacReceipt string          `json:"peac_receipt"`
}

func extractReceipt(resp *http.Response, body []byte) *ReceiptRef {
	if h := resp.Header.Get("PEAC-Receipt"); h != "" {
		return &ReceiptRef{Transport: "header", Compact: h}
	}
	if p := resp.Header.Get("PEAC-Receipt-Pointer"); p != "" {
		ref := &ReceiptRef{Transport: "pointer"}
		for _, part := range strings.Split(p, ";") {
			kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
			if len(kv) != 2 {
				continue
			}
			switch strings.TrimSpace(kv[0]) {
			case "sha256":
				ref.PointerSHA256 = strings.TrimSpace(kv[1])
			case "url":
				ref.PointerURL = strings.TrimSpace(kv[1])
			}
		}
		return ref
	}
	var w bodyWrapper
	if err := json.Unmarshal(body, &w); err == nil && w.PeacReceipt != "" {
		return &ReceiptRef{Transport: "body", Compact: w.PeacReceipt}
	}
	return nil
}

// unwrapBody returns the caller-visible payload from a body-wrapped
// response, stripping the peac_receipt sidecar. For header/pointer
// transports the original body is returned unchanged.
func unwrapBody(ref *ReceiptRef, body []byte) []byte {
	if ref == nil || ref.Transport != "body" {
		return body
	}
	var w bodyWrapper
	if err := json.Unmarshal(body, &w); err != nil {
		return body
	}
	return []byte(w.Data)
}
