package fetch

import (
	"net"
	"time"
)

// DangerAck is an explicit, named acknowledgement constant. Boolean flags are
// deliberately avoided for anything that widens the SSRF blast radius: a
// caller must spell out AckCGNAT, AckMixedDNS, or AckDangerousCIDR rather
// than flip an anonymous bool, the same convention the teacher's config
// package uses for its own dangerous-default escape hatches.
type DangerAck string

const (
	AckCGNAT          DangerAck = "i-acknowledge-cgnat-routing-risk"
	AckMixedDNS       DangerAck = "i-acknowledge-mixed-dns-answer-risk"
	AckDangerousCIDR  DangerAck = "i-acknowledge-allowlisted-dangerous-cidr"
	AckLoopbackHTTP   DangerAck = "i-acknowledge-loopback-plaintext-http"
)

// RedirectPolicy constrains which redirect targets are followed.
type RedirectPolicy int

const (
	RedirectNone RedirectPolicy = iota
	RedirectSameOrigin
	RedirectSameRegistrableDomain
	RedirectAllowlist
)

// Config controls the behaviour of a Fetcher. The zero value permits only
// https and follows no redirects; its zero ConnectTimeout and
// RequestTimeout impose no time limit, and its zero MaxBodyBytes rejects
// any non-empty body. DefaultConfig sets bounded values for all of these.
type Config struct {
	// AllowLoopbackHTTP permits plain http:// for loopback destinations when
	// AckLoopbackHTTP is present in Acks. All other schemes stay https-only.
	AllowLoopbackHTTP bool

	ConnectTimeout    time.Duration
	RequestTimeout    time.Duration
	MaxBodyBytes      int64
	MaxRedirects      int
	RedirectPolicy    RedirectPolicy
	RedirectAllowlist []string // exact hostnames, used when RedirectPolicy == RedirectAllowlist

	// HappyEyeballsWindow is the delay before racing an IPv4 attempt
	// alongside an in-flight IPv6 attempt. Per spec §4.4, default 250ms.
	HappyEyeballsWindow time.Duration

	// AllowCIDRs lets operators explicitly allowlist destination ranges
	// that would otherwise be blocked (e.g. an internal policy host on
	// RFC1918 space for local dev). Any entry overlapping a dangerous
	// range requires AckDangerousCIDR.
	AllowCIDRs []*net.IPNet

	// MixedDNSMode, when true with AckMixedDNS present, allows mixed
	// public/private DNS answers by using only the public addresses
	// instead of blocking the whole resolution.
	MixedDNSMode bool

	Acks map[DangerAck]bool

	AuditHook func(Event)
}

// DefaultConfig returns the fail-closed defaults described in spec §4.4.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:      2 * time.Second,
		RequestTimeout:      5 * time.Second,
		MaxBodyBytes:        256 * 1024,
		MaxRedirects:        3,
		RedirectPolicy:      RedirectNone,
		HappyEyeballsWindow: 250 * time.Millisecond,
		Acks:                map[DangerAck]bool{},
	}
}

func (c Config) hasAck(a DangerAck) bool {
	return c.Acks != nil && c.Acks[a]
}

// cidrAllowed reports whether ip is covered by an operator-configured
// allowlisted CIDR, and whether that CIDR overlaps a dangerous range without
// the required ack (in which case it is treated as NOT allowed).
func (c Config) cidrAllowed(ip net.IP, class Class) bool {
	for _, cidr := range c.AllowCIDRs {
		if !cidr.Contains(ip) {
			continue
		}
		if class.Dangerous() && !c.hasAck(AckDangerousCIDR) {
			return false
		}
		return true
	}
	return false
}
