// Package fetch implements the SSRF-safe outbound fetcher (C4): hostname
// canonicalisation, RFC 6890 IP classification, DNS pre-resolution with
// mixed-answer detection, a Happy-Eyeballs dialer, and a bounded, audited
// HTTP client. Grounded on the teacher's fail-closed allowlist posture in
// pkg/firewall/firewall.go, generalised from tool-name allowlisting to
// network-destination allowlisting.
package fetch

import "net"

// Class describes the routing class of an IP address for SSRF purposes.
type Class int

const (
	ClassPublic Class = iota
	ClassLoopback
	ClassPrivate
	ClassLinkLocal
	ClassCGNAT
	ClassTestNet
	ClassBenchmarking
	ClassDocumentation
	ClassNAT64
	Class6to4
	ClassUnspecified
	ClassMulticast
)

func (c Class) String() string {
	switch c {
	case ClassPublic:
		return "public"
	case ClassLoopback:
		return "loopback"
	case ClassPrivate:
		return "private"
	case ClassLinkLocal:
		return "link-local"
	case ClassCGNAT:
		return "cgnat"
	case ClassTestNet:
		return "test-net"
	case ClassBenchmarking:
		return "benchmarking"
	case ClassDocumentation:
		return "documentation"
	case ClassNAT64:
		return "nat64"
	case Class6to4:
		return "6to4"
	case ClassUnspecified:
		return "unspecified"
	case ClassMulticast:
		return "multicast"
	default:
		return "unknown"
	}
}

// Dangerous reports whether a class is blocked by default (everything but
// ClassPublic, and ClassCGNAT/Class6to4/ClassNAT64 which require explicit
// acks even though they can carry public traffic in some deployments).
func (c Class) Dangerous() bool {
	return c != ClassPublic
}

var (
	cgnatBlock          = mustParseCIDR("100.64.0.0/10")
	testNetBlocks       = mustParseCIDRs("192.0.2.0/24", "198.51.100.0/24", "203.0.113.0/24")
	benchmarkingBlock   = mustParseCIDR("198.18.0.0/15")
	docIPv6Block        = mustParseCIDR("2001:db8::/32")
	nat64Block          = mustParseCIDR("64:ff9b::/96")
	sixToFourBlock      = mustParseCIDR("2002::/16")
	ipv4MappedV6Prefix  = mustParseCIDR("::ffff:0:0/96")
)

func mustParseCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

func mustParseCIDRs(ss ...string) []*net.IPNet {
	out := make([]*net.IPNet, len(ss))
	for i, s := range ss {
		out[i] = mustParseCIDR(s)
	}
	return out
}

// Classify assigns an RFC 6890-style routing class to ip, per spec §4.4:
// standard private/loopback/link-local ranges plus TEST-NETs, benchmarking,
// CGNAT, documentation IPv6, NAT64, and 6to4.
func Classify(ip net.IP) Class {
	if ip == nil {
		return ClassUnspecified
	}
	if ip.IsUnspecified() {
		return ClassUnspecified
	}
	if ip.IsLoopback() {
		return ClassLoopback
	}
	if ip.IsMulticast() {
		return ClassMulticast
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return ClassLinkLocal
	}

	if v4 := ip.To4(); v4 != nil {
		if v4.IsPrivate() {
			return ClassPrivate
		}
		if cgnatBlock.Contains(v4) {
			return ClassCGNAT
		}
		for _, b := range testNetBlocks {
			if b.Contains(v4) {
				return ClassTestNet
			}
		}
		if benchmarkingBlock.Contains(v4) {
			return ClassBenchmarking
		}
		return ClassPublic
	}

	// IPv6 path.
	if ip.IsPrivate() {
		return ClassPrivate
	}
	if docIPv6Block.Contains(ip) {
		return ClassDocumentation
	}
	if nat64Block.Contains(ip) {
		return ClassNAT64
	}
	if sixToFourBlock.Contains(ip) {
		return Class6to4
	}
	return ClassPublic
}

// NormalizeIPv4MappedV6 collapses an IPv4-mapped IPv6 address (::ffff:a.b.c.d)
// down to its IPv4 form so classification and comparisons are not fooled by
// the dual representation, per spec §4.4.
func NormalizeIPv4MappedV6(ip net.IP) net.IP {
	if ip.To4() != nil && ip.To16() != nil && ipv4MappedV6Prefix.Contains(ip) {
		return ip.To4()
	}
	return ip
}
