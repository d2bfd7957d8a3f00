// Package config implements the environment-variable driven Config+Load
// pattern (spec SPEC_FULL.md §10.3), grounded on the teacher's
// core/pkg/config/config.go, extended with the edge verifier's unsafe
// toggles and replay-backend selection.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ReplayBackend selects the nonce/TAP replay store implementation, spec §6.
type ReplayBackend string

const (
	ReplayDurableObject ReplayBackend = "REPLAY_DO"
	ReplayD1            ReplayBackend = "REPLAY_D1"
	ReplayKV            ReplayBackend = "REPLAY_KV"
	ReplayMemory        ReplayBackend = "REPLAY_MEMORY"
)

// Config holds the edge verifier / enforcement engine's process-level
// configuration, sourced from environment variables per spec §6.
type Config struct {
	// IssuerAllowlist is REQUIRED unless UnsafeAllowAnyIssuer is set.
	IssuerAllowlist []string

	// UnsafeAllowAnyIssuer, UnsafeAllowUnknownTags, and UnsafeAllowNoReplay
	// are plain booleans, each read with strconv.ParseBool from its
	// environment variable ("true", "1", ...); no acknowledgement string is
	// required to set them — §4.9.
	UnsafeAllowAnyIssuer   bool
	UnsafeAllowUnknownTags bool
	UnsafeAllowNoReplay    bool

	ReplayBackend ReplayBackend

	LogLevel string
	Port     string
}

// Load reads Config from the process environment. It never panics: a
// missing ISSUER_ALLOWLIST is surfaced as an error the caller decides how
// to fail on (typically a fatal boot error, since fail-closed requires an
// allowlist to exist at all per spec §4.9).
func Load() (*Config, error) {
	c := &Config{
		LogLevel:               envOr("LOG_LEVEL", "INFO"),
		Port:                   envOr("PORT", "8080"),
		ReplayBackend:           ReplayBackend(envOr("REPLAY_BACKEND", string(ReplayMemory))),
		UnsafeAllowAnyIssuer:   envBool("UNSAFE_ALLOW_ANY_ISSUER"),
		UnsafeAllowUnknownTags: envBool("UNSAFE_ALLOW_UNKNOWN_TAGS"),
		UnsafeAllowNoReplay:    envBool("UNSAFE_ALLOW_NO_REPLAY"),
	}

	allowlist := os.Getenv("ISSUER_ALLOWLIST")
	if allowlist != "" {
		for _, iss := range strings.Split(allowlist, ",") {
			iss = strings.TrimSpace(iss)
			if iss != "" {
				c.IssuerAllowlist = append(c.IssuerAllowlist, iss)
			}
		}
	}

	if len(c.IssuerAllowlist) == 0 && !c.UnsafeAllowAnyIssuer {
		return nil, fmt.Errorf("config: ISSUER_ALLOWLIST is required unless UNSAFE_ALLOW_ANY_ISSUER is set")
	}

	switch c.ReplayBackend {
	case ReplayDurableObject, ReplayD1, ReplayKV, ReplayMemory:
	default:
		return nil, fmt.Errorf("config: unknown REPLAY_BACKEND %q", c.ReplayBackend)
	}

	return c, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}
