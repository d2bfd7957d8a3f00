package fetch

import (
	"context"
	"net"
	"sort"
)

// ResolvedAddr pairs a resolved IP with its routing classification.
type ResolvedAddr struct {
	IP    net.IP
	Class Class
}

// resolve looks up all A/AAAA records for host and classifies each,
// preferring IPv6 first per RFC 8305 (§4.4). It never follows CNAMEs
// itself; that's net.Resolver's job.
func resolve(ctx context.Context, resolver *net.Resolver, host string) ([]ResolvedAddr, error) {
	if ip := net.ParseIP(host); ip != nil {
		ip = NormalizeIPv4MappedV6(ip)
		return []ResolvedAddr{{IP: ip, Class: Classify(ip)}}, nil
	}

	ips, err := resolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}

	out := make([]ResolvedAddr, 0, len(ips))
	for _, ip := range ips {
		ip = NormalizeIPv4MappedV6(ip)
		out = append(out, ResolvedAddr{IP: ip, Class: Classify(ip)})
	}

	// IPv6 (16-byte, no v4 form) sorts before IPv4 so dialAttempt order
	// prefers it, consistent with Happy Eyeballs' v6-first convention.
	sort.SliceStable(out, func(i, j int) bool {
		iv6 := out[i].IP.To4() == nil
		jv6 := out[j].IP.To4() == nil
		return iv6 && !jv6
	})
	return out, nil
}

// classifyAnswers reports whether the answer set is "mixed" (contains both
// at least one public and at least one non-public address) and, if the
// caller has opted into mixed mode, the filtered public-only subset.
func classifyAnswers(addrs []ResolvedAddr) (mixed bool, public []ResolvedAddr) {
	var sawPublic, sawOther bool
	for _, a := range addrs {
		if a.Class == ClassPublic {
			sawPublic = true
			public = append(public, a)
		} else {
			sawOther = true
		}
	}
	return sawPublic && sawOther, public
}
