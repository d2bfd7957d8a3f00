package fetch

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// redirectAllowed applies the configured RedirectPolicy to a from->to hop,
// per spec §4.4. A same-origin http->https upgrade is always allowed even
// under RedirectNone, matching common browser/HTTP-client convention.
func redirectAllowed(cfg Config, from, to *url.URL) bool {
	if sameOriginUpgrade(from, to) {
		return true
	}
	switch cfg.RedirectPolicy {
	case RedirectNone:
		return false
	case RedirectSameOrigin:
		return from.Hostname() == to.Hostname() && from.Port() == to.Port()
	case RedirectSameRegistrableDomain:
		fd, err1 := publicsuffix.EffectiveTLDPlusOne(from.Hostname())
		td, err2 := publicsuffix.EffectiveTLDPlusOne(to.Hostname())
		return err1 == nil && err2 == nil && fd == td
	case RedirectAllowlist:
		for _, h := range cfg.RedirectAllowlist {
			if strings.EqualFold(h, to.Hostname()) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func sameOriginUpgrade(from, to *url.URL) bool {
	return from.Scheme == "http" && to.Scheme == "https" && from.Hostname() == to.Hostname()
}

// hopByHopHeaders per RFC 7230 §6.1, stripped before forwarding a request
// or response across the fetcher boundary.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}
