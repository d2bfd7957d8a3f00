package edgeverifier

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/peacprotocol/peac-core/pkg/crypto"
	"github.com/peacprotocol/peac-core/pkg/fetch"
	"github.com/peacprotocol/peac-core/pkg/noncecache"
	"github.com/peacprotocol/peac-core/pkg/obs"
)

const testIssuer = "https://agent.example"

func startJWKSServer(t *testing.T, kid string, pub ed25519.PublicKey) *httptest.Server {
	t.Helper()
	doc := crypto.JWKS{Keys: []crypto.JWK{{
		Kty: "OKP",
		Crv: "Ed25519",
		X:   base64.RawURLEncoding.EncodeToString(pub),
		Kid: kid,
		Use: "sig",
		Alg: "EdDSA",
	}}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testFetcher() *fetch.Fetcher {
	cfg := fetch.DefaultConfig()
	cfg.AllowLoopbackHTTP = true
	cfg.Acks = map[fetch.DangerAck]bool{fetch.AckLoopbackHTTP: true}
	return fetch.New(cfg)
}

type signedRequestOpts struct {
	kid        string
	created    int64
	expires    int64
	tag        string
	nonce      string
	components []string
	priv       ed25519.PrivateKey
}

func buildSignedRequest(t *testing.T, opts signedRequestOpts) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "https://api.example/resource", nil)
	req.Host = "api.example"
	req.Header.Set("Signature-Agent", testIssuer)

	params := SignatureParams{
		Label:      "sig1",
		Components: opts.components,
		KeyID:      opts.kid,
		Created:    opts.created,
		Expires:    opts.expires,
		Alg:        "ed25519",
		Tag:        opts.tag,
		Nonce:      opts.nonce,
	}
	base, err := BuildSignatureBase(req, params)
	require.NoError(t, err)
	sig := ed25519.Sign(opts.priv, []byte(base))

	req.Header.Set("Signature-Input", fmt.Sprintf("sig1=(%s);created=%d;expires=%d;keyid=%q;alg=%q;tag=%q;nonce=%q",
		quoteComponents(opts.components), opts.created, opts.expires, opts.kid, "ed25519", opts.tag, opts.nonce))
	req.Header.Set("Signature", fmt.Sprintf("sig1=:%s:", base64.StdEncoding.EncodeToString(sig)))
	return req
}

func quoteComponents(components []string) string {
	out := ""
	for i, c := range components {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%q", c)
	}
	return out
}

func defaultComponents() []string {
	return []string{"signature-agent", "@authority"}
}

func newTestVerifier(t *testing.T, jwksURI string, nonces *noncecache.Cache) *Verifier {
	t.Helper()
	cache := NewJWKSCache(testFetcher(), []string{"127.0.0.1"})
	cfg := Config{
		IssuerAllowlist: []string{testIssuer},
		KnownTags:       []string{"peac"},
	}
	return New(cfg, cache, nonces, func(issuer string) (string, error) {
		return jwksURI, nil
	})
}

func TestVerifyRequest_ValidSignatureSucceeds(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	srv := startJWKSServer(t, "2024-01-01/01", pub)
	nonces := noncecache.New(noncecache.NewMemoryStore(time.Minute))
	v := newTestVerifier(t, srv.URL+"/jwks.json", nonces)

	now := time.Now()
	req := buildSignedRequest(t, signedRequestOpts{
		kid: "2024-01-01/01", created: now.Unix(), expires: now.Add(60 * time.Second).Unix(),
		tag: "peac", nonce: "nonce-1", components: defaultComponents(), priv: priv,
	})

	result, problem := v.VerifyRequest(context.Background(), req)
	require.Nil(t, problem)
	require.NotNil(t, result)
	require.Equal(t, testIssuer, result.Issuer)
	require.Equal(t, "true", result.Headers["X-PEAC-Verified"])
	require.Equal(t, "peac", result.Headers["X-PEAC-TAP-Tag"])
}

func TestVerifyRequest_ReplayDetection(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	srv := startJWKSServer(t, "2024-01-01/01", pub)
	nonces := noncecache.New(noncecache.NewMemoryStore(time.Minute))
	v := newTestVerifier(t, srv.URL+"/jwks.json", nonces)

	now := time.Now()
	opts := signedRequestOpts{
		kid: "2024-01-01/01", created: now.Unix(), expires: now.Add(60 * time.Second).Unix(),
		tag: "peac", nonce: "replay-nonce", components: defaultComponents(), priv: priv,
	}

	first := buildSignedRequest(t, opts)
	_, problem := v.VerifyRequest(context.Background(), first)
	require.Nil(t, problem)

	second := buildSignedRequest(t, opts)
	_, problem = v.VerifyRequest(context.Background(), second)
	require.NotNil(t, problem)
	require.Equal(t, "E_TAP_NONCE_REPLAY", problem.Code)
	require.Equal(t, 409, problem.Status)
}

func TestVerifyRequest_WindowBoundary(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	srv := startJWKSServer(t, "2024-01-01/01", pub)
	nonces := noncecache.New(noncecache.NewMemoryStore(time.Minute))

	now := time.Now()

	t.Run("expires exactly at the past skew boundary succeeds", func(t *testing.T) {
		v := newTestVerifier(t, srv.URL+"/jwks.json", nonces)
		req := buildSignedRequest(t, signedRequestOpts{
			kid: "2024-01-01/01", created: now.Add(-150 * time.Second).Unix(), expires: now.Add(-DefaultSkew).Unix(),
			tag: "peac", nonce: "nonce-boundary-1", components: defaultComponents(), priv: priv,
		})
		_, problem := v.VerifyRequest(context.Background(), req)
		require.Nil(t, problem)
	})

	t.Run("expires one second past the skew boundary is rejected as expired", func(t *testing.T) {
		v := newTestVerifier(t, srv.URL+"/jwks.json", nonces)
		req := buildSignedRequest(t, signedRequestOpts{
			kid: "2024-01-01/01", created: now.Add(-150 * time.Second).Unix(), expires: now.Add(-DefaultSkew - time.Second).Unix(),
			tag: "peac", nonce: "nonce-boundary-2", components: defaultComponents(), priv: priv,
		})
		_, problem := v.VerifyRequest(context.Background(), req)
		require.NotNil(t, problem)
		require.Equal(t, "E_TAP_WINDOW_INVALID", problem.Code)
	})

	t.Run("created one second past the future skew boundary is rejected", func(t *testing.T) {
		v := newTestVerifier(t, srv.URL+"/jwks.json", nonces)
		req := buildSignedRequest(t, signedRequestOpts{
			kid: "2024-01-01/01", created: now.Add(DefaultSkew + time.Second).Unix(), expires: now.Add(DefaultSkew + 60*time.Second).Unix(),
			tag: "peac", nonce: "nonce-boundary-3", components: defaultComponents(), priv: priv,
		})
		_, problem := v.VerifyRequest(context.Background(), req)
		require.NotNil(t, problem)
		require.Equal(t, "E_TAP_WINDOW_INVALID", problem.Code)
	})

	t.Run("window wider than MaxWindowSeconds fails", func(t *testing.T) {
		v := newTestVerifier(t, srv.URL+"/jwks.json", nonces)
		req := buildSignedRequest(t, signedRequestOpts{
			kid: "2024-01-01/01", created: now.Unix(), expires: now.Add(time.Duration(MaxWindowSeconds+60) * time.Second).Unix(),
			tag: "peac", nonce: "nonce-boundary-4", components: defaultComponents(), priv: priv,
		})
		_, problem := v.VerifyRequest(context.Background(), req)
		require.NotNil(t, problem)
		require.Equal(t, "E_TAP_WINDOW_INVALID", problem.Code)
	})
}

func TestVerifyRequest_UnknownTagRejected(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	srv := startJWKSServer(t, "2024-01-01/01", pub)
	nonces := noncecache.New(noncecache.NewMemoryStore(time.Minute))
	v := newTestVerifier(t, srv.URL+"/jwks.json", nonces)

	now := time.Now()
	req := buildSignedRequest(t, signedRequestOpts{
		kid: "2024-01-01/01", created: now.Unix(), expires: now.Add(60 * time.Second).Unix(),
		tag: "unknown-tag", nonce: "nonce-tag-1", components: defaultComponents(), priv: priv,
	})
	_, problem := v.VerifyRequest(context.Background(), req)
	require.NotNil(t, problem)
	require.Equal(t, "E_TAP_UNKNOWN_TAG", problem.Code)
}

func TestVerifyRequest_UnknownTagAllowedUnderAck(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	srv := startJWKSServer(t, "2024-01-01/01", pub)
	nonces := noncecache.New(noncecache.NewMemoryStore(time.Minute))
	cache := NewJWKSCache(testFetcher(), []string{"127.0.0.1"})
	cfg := Config{IssuerAllowlist: []string{testIssuer}, UnsafeAllowUnknownTags: true}
	v := New(cfg, cache, nonces, func(issuer string) (string, error) { return srv.URL + "/jwks.json", nil })

	now := time.Now()
	req := buildSignedRequest(t, signedRequestOpts{
		kid: "2024-01-01/01", created: now.Unix(), expires: now.Add(60 * time.Second).Unix(),
		tag: "unknown-tag", nonce: "nonce-tag-2", components: defaultComponents(), priv: priv,
	})
	_, problem := v.VerifyRequest(context.Background(), req)
	require.Nil(t, problem)
}

func TestVerifyRequest_TracksOperationWhenObsSet(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	srv := startJWKSServer(t, "2024-01-01/01", pub)
	nonces := noncecache.New(noncecache.NewMemoryStore(time.Minute))
	v := newTestVerifier(t, srv.URL+"/jwks.json", nonces)

	p, err := obs.New(obs.Config{ServiceName: "edgeverifier-test", ServiceVersion: "0.0.0-test"})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())
	v.Obs = p

	now := time.Now()
	req := buildSignedRequest(t, signedRequestOpts{
		kid: "2024-01-01/01", created: now.Unix(), expires: now.Add(60 * time.Second).Unix(),
		tag: "peac", nonce: "nonce-obs-1", components: defaultComponents(), priv: priv,
	})
	result, problem := v.VerifyRequest(context.Background(), req)
	require.Nil(t, problem)
	require.NotNil(t, result)

	badReq := buildSignedRequest(t, signedRequestOpts{
		kid: "no-such-kid", created: now.Unix(), expires: now.Add(60 * time.Second).Unix(),
		tag: "peac", nonce: "nonce-obs-2", components: defaultComponents(), priv: priv,
	})
	_, problem = v.VerifyRequest(context.Background(), badReq)
	require.NotNil(t, problem)
}

func TestVerifyRequest_BypassPrefixSkipsConfigValidation(t *testing.T) {
	cache := NewJWKSCache(testFetcher(), nil)
	cfg := Config{BypassPrefixes: []string{"/healthz"}}
	v := New(cfg, cache, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "https://api.example/healthz", nil)
	result, problem := v.VerifyRequest(context.Background(), req)
	require.Nil(t, problem)
	require.True(t, result.Bypassed)
}

func TestVerifyRequest_MisconfiguredRejectsNonBypassedPaths(t *testing.T) {
	cache := NewJWKSCache(testFetcher(), nil)
	cfg := Config{BypassPrefixes: []string{"/healthz"}}
	v := New(cfg, cache, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "https://api.example/resource", nil)
	_, problem := v.VerifyRequest(context.Background(), req)
	require.NotNil(t, problem)
	require.Equal(t, "E_CONFIGURATION_ERROR", problem.Code)
}

func TestVerifyRequest_JWKSHostNotAllowlistedFails(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	srv := startJWKSServer(t, "2024-01-01/01", pub)
	nonces := noncecache.New(noncecache.NewMemoryStore(time.Minute))
	cache := NewJWKSCache(testFetcher(), []string{"some-other-host.example"})
	cfg := Config{IssuerAllowlist: []string{testIssuer}, KnownTags: []string{"peac"}}
	v := New(cfg, cache, nonces, func(issuer string) (string, error) { return srv.URL + "/jwks.json", nil })

	now := time.Now()
	req := buildSignedRequest(t, signedRequestOpts{
		kid: "2024-01-01/01", created: now.Unix(), expires: now.Add(60 * time.Second).Unix(),
		tag: "peac", nonce: "nonce-host-1", components: defaultComponents(), priv: priv,
	})
	_, problem := v.VerifyRequest(context.Background(), req)
	require.NotNil(t, problem)
	require.Equal(t, "E_KEY_NOT_FOUND", problem.Code)
}

func TestVerifyRequest_IssuerNotAllowlistedFails(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	srv := startJWKSServer(t, "2024-01-01/01", pub)
	nonces := noncecache.New(noncecache.NewMemoryStore(time.Minute))
	cache := NewJWKSCache(testFetcher(), []string{"127.0.0.1"})
	cfg := Config{IssuerAllowlist: []string{"https://someone-else.example"}, KnownTags: []string{"peac"}}
	v := New(cfg, cache, nonces, func(issuer string) (string, error) { return srv.URL + "/jwks.json", nil })

	now := time.Now()
	req := buildSignedRequest(t, signedRequestOpts{
		kid: "2024-01-01/01", created: now.Unix(), expires: now.Add(60 * time.Second).Unix(),
		tag: "peac", nonce: "nonce-issuer-1", components: defaultComponents(), priv: priv,
	})
	_, problem := v.VerifyRequest(context.Background(), req)
	require.NotNil(t, problem)
	require.Equal(t, "E_ISSUER_NOT_ALLOWLISTED", problem.Code)
}

func TestVerifyRequest_MissingRequiredComponentFails(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	srv := startJWKSServer(t, "2024-01-01/01", pub)
	nonces := noncecache.New(noncecache.NewMemoryStore(time.Minute))
	v := newTestVerifier(t, srv.URL+"/jwks.json", nonces)

	now := time.Now()
	req := buildSignedRequest(t, signedRequestOpts{
		kid: "2024-01-01/01", created: now.Unix(), expires: now.Add(60 * time.Second).Unix(),
		tag: "peac", nonce: "nonce-comp-1", components: []string{"signature-agent"}, priv: priv,
	})
	_, problem := v.VerifyRequest(context.Background(), req)
	require.NotNil(t, problem)
	require.Equal(t, "E_TAP_COMPONENT_MISSING", problem.Code)
}

func TestVerifyRequest_TamperedSignatureAgentRejectedAsUnlistedIssuer(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	srv := startJWKSServer(t, "2024-01-01/01", pub)
	nonces := noncecache.New(noncecache.NewMemoryStore(time.Minute))
	v := newTestVerifier(t, srv.URL+"/jwks.json", nonces)

	now := time.Now()
	req := buildSignedRequest(t, signedRequestOpts{
		kid: "2024-01-01/01", created: now.Unix(), expires: now.Add(60 * time.Second).Unix(),
		tag: "peac", nonce: "nonce-tamper-1", components: defaultComponents(), priv: priv,
	})
	req.Header.Set("Signature-Agent", "https://attacker.example")

	_, problem := v.VerifyRequest(context.Background(), req)
	require.NotNil(t, problem)
	require.Equal(t, "E_ISSUER_NOT_ALLOWLISTED", problem.Code)
}
