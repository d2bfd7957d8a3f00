package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Result is the bounded, sanitised outcome of a fetch.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FinalURL   string
}

// Fetcher performs SSRF-safe outbound HTTP fetches per spec §4.4. It never
// resolves a hostname anywhere but inside its own dial hook, so callers
// cannot be fooled by TOCTOU DNS rebinding between a pre-check and the
// actual connect.
type Fetcher struct {
	cfg      Config
	resolver *net.Resolver
	audit    *auditor
	log      *slog.Logger
}

// New builds a Fetcher from cfg. A nil cfg.AuditHook disables the audit
// pipeline entirely (no goroutine is started).
func New(cfg Config) *Fetcher {
	return &Fetcher{
		cfg:      cfg,
		resolver: net.DefaultResolver,
		audit:    newAuditor(cfg.AuditHook),
		log:      slog.Default().With("component", "fetch"),
	}
}

// Close stops the fetcher's audit drain goroutine, if any.
func (f *Fetcher) Close() {
	f.audit.close()
}

// Get performs a bounded, redirect-aware, SSRF-safe GET against rawURL.
//
// SSRF and scheme violations are returned as *SSRFError / *ErrSchemeNotAllowed
// and MUST escape the caller's request-handling path as thrown errors per
// spec §4.6/§7, not be converted to problem+json.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*Result, error) {
	current, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch: parse url: %w", err)
	}

	for hop := 0; ; hop++ {
		if hop > f.cfg.MaxRedirects {
			return nil, &ErrTooManyRedirects{Limit: f.cfg.MaxRedirects}
		}

		resp, finalAddr, err := f.doOnce(ctx, current)
		if err != nil {
			return nil, err
		}
		f.audit.emit(Event{Kind: EventAttempt, Host: current.Hostname(), URL: current.String(), Class: Classify(finalAddr)})

		if loc := resp.Header.Get("Location"); isRedirectStatus(resp.StatusCode) && loc != "" {
			next, err := current.Parse(loc)
			if err != nil {
				resp.Body.Close()
				return nil, fmt.Errorf("fetch: bad redirect location: %w", err)
			}
			if !redirectAllowed(f.cfg, current, next) {
				resp.Body.Close()
				return nil, fmt.Errorf("fetch: redirect to %q rejected by policy", next)
			}
			f.audit.emit(Event{Kind: EventRedirect, Host: current.Hostname(), URL: next.String()})
			resp.Body.Close()
			current = next
			continue
		}

		body, err := readBounded(resp.Body, f.cfg.MaxBodyBytes)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		stripHopByHop(resp.Header)
		return &Result{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       body,
			FinalURL:   current.String(),
		}, nil
	}
}

func isRedirectStatus(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

func (f *Fetcher) doOnce(ctx context.Context, u *url.URL) (*http.Response, net.IP, error) {
	if err := f.checkScheme(u); err != nil {
		return nil, nil, err
	}

	host, err := CanonicalizeHostname(u.Hostname())
	if err != nil {
		return nil, nil, err
	}

	addrs, err := resolve(ctx, f.resolver, host)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch: dns resolve %q: %w", host, err)
	}
	for _, a := range addrs {
		f.audit.emit(Event{Kind: EventDNSAnswer, Host: host, Class: a.Class, DNSAnswers: addrs})
	}

	usable, err := f.filterAddrs(host, addrs)
	if err != nil {
		f.audit.emit(Event{Kind: EventBlocked, Host: host, Err: err})
		return nil, nil, err
	}

	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}

	dialer := &net.Dialer{Timeout: f.cfg.ConnectTimeout}
	conn, pinnedIP, err := happyEyeballsDial(ctx, dialer, "tcp", usable, port, f.cfg.HappyEyeballsWindow)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch: dial %q: %w", host, err)
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			// The connection is already established and pinned to the
			// classified+allowed address; hand it straight back.
			return conn, nil
		},
	}
	client := &http.Client{
		Transport: transport,
		Timeout:   f.cfg.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		transport.CloseIdleConnections()
		return nil, nil, fmt.Errorf("fetch: build request: %w", err)
	}
	req.Host = u.Hostname()

	resp, err := client.Do(req)
	if err != nil {
		transport.CloseIdleConnections()
		return nil, nil, fmt.Errorf("fetch: do request: %w", err)
	}
	return resp, pinnedIP, nil
}

func (f *Fetcher) checkScheme(u *url.URL) error {
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if isLoopbackHost(u.Hostname()) && f.cfg.AllowLoopbackHTTP && f.cfg.hasAck(AckLoopbackHTTP) {
			return nil
		}
		return &ErrSchemeNotAllowed{Scheme: u.Scheme}
	default:
		return &ErrSchemeNotAllowed{Scheme: u.Scheme}
	}
}

func isLoopbackHost(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return host == "localhost"
}

// filterAddrs applies classification, mixed-DNS, and allow-CIDR policy to a
// resolved address set, returning only the addresses safe to dial.
func (f *Fetcher) filterAddrs(host string, addrs []ResolvedAddr) ([]ResolvedAddr, error) {
	mixed, public := classifyAnswers(addrs)
	if mixed {
		if !f.cfg.MixedDNSMode || !f.cfg.hasAck(AckMixedDNS) {
			return nil, &ErrMixedDNS{Host: host}
		}
		return f.filterAddrs(host, public)
	}

	out := make([]ResolvedAddr, 0, len(addrs))
	for _, a := range addrs {
		if a.Class == ClassPublic {
			out = append(out, a)
			continue
		}
		if f.cfg.cidrAllowed(a.IP, a.Class) {
			out = append(out, a)
			continue
		}
		if a.Class == ClassCGNAT && f.cfg.hasAck(AckCGNAT) {
			out = append(out, a)
			continue
		}
		if a.Class == ClassLoopback && f.cfg.AllowLoopbackHTTP && f.cfg.hasAck(AckLoopbackHTTP) {
			// The same ack that permits plain http to loopback also has to
			// permit dialing the loopback address itself.
			out = append(out, a)
			continue
		}
		return nil, blockedClass(a.Class)
	}
	if len(out) == 0 {
		return nil, &SSRFError{Code: "blocked:no-usable-address", Detail: "all resolved addresses were blocked"}
	}
	return out, nil
}

func readBounded(r io.Reader, limit int64) ([]byte, error) {
	lr := io.LimitReader(r, limit+1)
	body, err := io.ReadAll(lr)
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, &ErrBodyTooLarge{Limit: limit}
	}
	return body, nil
}

func stripHopByHop(h http.Header) {
	for _, k := range hopByHopHeaders {
		h.Del(k)
	}
}

// DefaultDiscoveryTimeout bounds a single discovery source fetch per spec
// §4.6 step 1 (≤250ms each, ≤256KiB each).
const DefaultDiscoveryTimeout = 250 * time.Millisecond
