package canonicalize

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCS_KeyOrdering(t *testing.T) {
	type obj struct {
		B int    `json:"b"`
		A string `json:"a"`
	}
	out, err := JCSString(obj{B: 1, A: "x"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":1}`, out)
}

func TestJCS_Deterministic(t *testing.T) {
	v := map[string]interface{}{"z": 1, "a": []interface{}{1, 2, 3}, "m": map[string]interface{}{"y": true, "x": nil}}
	a, err := JCSString(v)
	require.NoError(t, err)
	b, err := JCSString(v)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPolicyHash_Deterministic(t *testing.T) {
	policy := map[string]interface{}{"rule": "allow", "scope": []string{"read"}}
	h1, err := PolicyHash(policy)
	require.NoError(t, err)
	h2, err := PolicyHash(policy)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

// Property: canonicalPolicyHash(p) == canonicalPolicyHash(p) across runs (spec §8).
func TestProperty_CanonicalHashStable(t *testing.T) {
	params := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(params)

	properties.Property("hash is stable across repeated canonicalization", prop.ForAll(
		func(key string, val int) bool {
			doc := map[string]interface{}{"key": key, "val": val}
			h1, err1 := PolicyHash(doc)
			h2, err2 := PolicyHash(doc)
			return err1 == nil && err2 == nil && h1 == h2
		},
		gen.AlphaString(),
		gen.IntRange(-1000, 1000),
	))

	properties.TestingRun(t)
}
