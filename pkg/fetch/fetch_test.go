package fetch

import (
	"net"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_RFC6890Ranges(t *testing.T) {
	cases := map[string]Class{
		"127.0.0.1":       ClassLoopback,
		"10.0.0.5":        ClassPrivate,
		"172.16.5.1":      ClassPrivate,
		"192.168.1.1":     ClassPrivate,
		"169.254.169.254": ClassLinkLocal,
		"100.64.0.1":      ClassCGNAT,
		"192.0.2.1":       ClassTestNet,
		"198.51.100.1":    ClassTestNet,
		"203.0.113.1":     ClassTestNet,
		"198.18.0.1":      ClassBenchmarking,
		"8.8.8.8":         ClassPublic,
		"2001:db8::1":     ClassDocumentation,
		"64:ff9b::1":      ClassNAT64,
		"2002::1":         Class6to4,
		"::1":             ClassLoopback,
	}
	for in, want := range cases {
		ip := net.ParseIP(in)
		assert.Equal(t, want, Classify(ip), in)
	}
}

func TestClassify_Dangerous(t *testing.T) {
	assert.False(t, ClassPublic.Dangerous())
	assert.True(t, ClassPrivate.Dangerous())
	assert.True(t, ClassCGNAT.Dangerous())
}

func TestNormalizeIPv4MappedV6(t *testing.T) {
	ip := net.ParseIP("::ffff:192.168.1.1")
	got := NormalizeIPv4MappedV6(ip)
	assert.Equal(t, "192.168.1.1", got.String())
}

func TestCanonicalizeHostname(t *testing.T) {
	h, err := CanonicalizeHostname("Example.COM.")
	assert.NoError(t, err)
	assert.Equal(t, "example.com", h)

	_, err = CanonicalizeHostname("fe80::1%eth0")
	assert.Error(t, err)

	_, err = CanonicalizeHostname("")
	assert.Error(t, err)
}

func TestClassifyAnswers_MixedBlocked(t *testing.T) {
	addrs := []ResolvedAddr{
		{IP: net.ParseIP("8.8.8.8"), Class: ClassPublic},
		{IP: net.ParseIP("10.0.0.1"), Class: ClassPrivate},
	}
	mixed, public := classifyAnswers(addrs)
	assert.True(t, mixed)
	assert.Len(t, public, 1)
}

func TestRedirectAllowed_SameOriginUpgrade(t *testing.T) {
	cfg := DefaultConfig() // RedirectNone
	from, _ := url.Parse("http://example.com/a")
	to, _ := url.Parse("https://example.com/a")
	assert.True(t, redirectAllowed(cfg, from, to))

	to2, _ := url.Parse("https://evil.com/a")
	assert.False(t, redirectAllowed(cfg, from, to2))
}

func TestRedirectAllowed_SameRegistrableDomain(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RedirectPolicy = RedirectSameRegistrableDomain
	from, _ := url.Parse("https://www.example.com/a")
	to, _ := url.Parse("https://api.example.com/b")
	assert.True(t, redirectAllowed(cfg, from, to))

	to2, _ := url.Parse("https://api.example.org/b")
	assert.False(t, redirectAllowed(cfg, from, to2))
}

func TestFilterAddrs_CGNATRequiresAck(t *testing.T) {
	f := New(DefaultConfig())
	defer f.Close()
	addrs := []ResolvedAddr{{IP: net.ParseIP("100.64.0.1"), Class: ClassCGNAT}}
	_, err := f.filterAddrs("example.com", addrs)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Acks = map[DangerAck]bool{AckCGNAT: true}
	f2 := New(cfg)
	defer f2.Close()
	out, err := f2.filterAddrs("example.com", addrs)
	assert.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestCheckScheme_RejectsPlainHTTPByDefault(t *testing.T) {
	f := New(DefaultConfig())
	defer f.Close()
	u, _ := url.Parse("http://example.com/")
	err := f.checkScheme(u)
	var schemeErr *ErrSchemeNotAllowed
	assert.ErrorAs(t, err, &schemeErr)
}

func TestCheckScheme_AllowsLoopbackHTTPWithAck(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowLoopbackHTTP = true
	cfg.Acks = map[DangerAck]bool{AckLoopbackHTTP: true}
	f := New(cfg)
	defer f.Close()
	u, _ := url.Parse("http://127.0.0.1:8080/")
	assert.NoError(t, f.checkScheme(u))
}
