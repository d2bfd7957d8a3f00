package edgeverifier

import (
	"context"
	"time"

	"github.com/peacprotocol/peac-core/pkg/canonicalize"
	"github.com/peacprotocol/peac-core/pkg/noncecache"
)

// replayKey computes the hashed replay key, §4.9: raw (issuer, keyid,
// nonce) tuples are NEVER stored, only their SHA-256 digest.
func replayKey(issuer, keyid, nonce string) string {
	return canonicalize.HashBytesHex([]byte(issuer + "|" + keyid + "|" + nonce))
}

// checkReplay registers (issuer, keyid, nonce) against cache with a TTL of
// maxWindowSeconds capped at noncecache.MaxTTL (300s), reporting whether it
// was already seen. With the default 600s window the nonce is therefore
// remembered for 300s, less than the longest window a signature may span.
// A nil cache
// (only reachable when Config.UnsafeAllowNoReplay is set) always reports
// "not seen" — replay protection is simply absent in that configuration.
func checkReplay(ctx context.Context, cache *noncecache.Cache, issuer, keyid, nonce string, maxWindowSeconds int) (bool, error) {
	if cache == nil {
		return false, nil
	}
	ttl := time.Duration(maxWindowSeconds) * time.Second
	if ttl > noncecache.MaxTTL {
		ttl = noncecache.MaxTTL
	}
	return cache.Seen(ctx, replayKey(issuer, keyid, nonce), ttl)
}
