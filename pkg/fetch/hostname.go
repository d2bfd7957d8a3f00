package fetch

import (
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/idna"
)

// ErrBadHostname is wrapped by CanonicalizeHostname on any parse failure;
// per spec §4.4 hostname canonicalisation fails closed.
type ErrBadHostname struct {
	Host   string
	Reason string
}

func (e *ErrBadHostname) Error() string {
	return fmt.Sprintf("fetch: bad hostname %q: %s", e.Host, e.Reason)
}

// CanonicalizeHostname normalises host per spec §4.4: rejects IPv6 zone
// identifiers, strips a trailing dot, normalises IDN labels to A-labels, and
// lower-cases the result. It never resolves DNS.
func CanonicalizeHostname(host string) (string, error) {
	if host == "" {
		return "", &ErrBadHostname{Host: host, Reason: "empty"}
	}
	if strings.Contains(host, "%") {
		return "", &ErrBadHostname{Host: host, Reason: "zone identifiers not allowed"}
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", &ErrBadHostname{Host: host, Reason: "empty after trimming trailing dot"}
	}

	// Bracketed/raw literal IPv6 or plain IPv4 addresses pass through
	// untouched; idna.Lookup.ToASCII would otherwise mangle them.
	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		return strings.ToLower(strings.Trim(host, "[]")), nil
	}

	a, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", &ErrBadHostname{Host: host, Reason: "idna: " + err.Error()}
	}
	return strings.ToLower(a), nil
}
