package crypto

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKeyring(t *testing.T, kid string) *Keyring {
	t.Helper()
	kp, err := NewKeyPair(kid)
	require.NoError(t, err)
	kr := NewKeyring()
	require.NoError(t, kr.Add(kp))
	return kr
}

// Seed scenario 2: detached JWS roundtrip.
func TestDetachedJWS_Roundtrip(t *testing.T) {
	kr := newTestKeyring(t, "2026-02-05/10")
	payload := []byte("hello")

	jws, err := SignDetached(kr, payload)
	require.NoError(t, err)

	hdrJSON, err := b64urlDecode(jws.Protected)
	require.NoError(t, err)
	var hdr map[string]interface{}
	require.NoError(t, json.Unmarshal(hdrJSON, &hdr))
	assert.Equal(t, "EdDSA", hdr["alg"])
	assert.Equal(t, false, hdr["b64"])
	assert.Equal(t, []interface{}{"b64"}, hdr["crit"])
	assert.Equal(t, "2026-02-05/10", hdr["kid"])

	kid, err := VerifyDetached(kr, payload, jws)
	require.NoError(t, err)
	assert.Equal(t, "2026-02-05/10", kid)
}

func TestDetachedJWS_BitFlipFailsVerification(t *testing.T) {
	kr := newTestKeyring(t, "2026-02-05/10")
	payload := []byte("hello")

	jws, err := SignDetached(kr, payload)
	require.NoError(t, err)

	sigBytes, err := b64urlDecode(jws.Signature)
	require.NoError(t, err)
	sigBytes[0] ^= 0x01
	jws.Signature = b64urlEncode(sigBytes)

	_, err = VerifyDetached(kr, payload, jws)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestDetachedJWS_WrongKeyFails(t *testing.T) {
	krA := newTestKeyring(t, "2026-02-05/10")
	kpB, err := NewKeyPair("2026-02-05/11")
	require.NoError(t, err)

	payload := []byte("hello")
	jws, err := SignDetached(krA, payload)
	require.NoError(t, err)

	krB := NewKeyring()
	require.NoError(t, krB.Add(kpB))

	_, err = VerifyDetached(krB, payload, jws)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestKeyID_Validation(t *testing.T) {
	assert.True(t, ValidKeyID("2026-02-05/10"))
	assert.False(t, ValidKeyID("2026-2-5/10"))
	assert.False(t, ValidKeyID("not-a-kid"))

	_, err := NewKeyPair("not-a-kid")
	assert.ErrorIs(t, err, ErrBadKeyID)
}

func TestKeyring_RotationKeepsOldKeyVerifiable(t *testing.T) {
	kp1, err := NewKeyPair("2026-02-05/10")
	require.NoError(t, err)
	kr := NewKeyring()
	require.NoError(t, kr.Add(kp1))

	payload := []byte("first")
	jws1, err := SignDetached(kr, payload)
	require.NoError(t, err)

	kp2, err := NewKeyPair("2026-02-06/01")
	require.NoError(t, err)
	require.NoError(t, kr.Add(kp2))
	require.NoError(t, kr.Activate("2026-02-06/01"))

	jws2, err := SignDetached(kr, payload)
	require.NoError(t, err)

	kid1, err := VerifyDetached(kr, payload, jws1)
	require.NoError(t, err)
	assert.Equal(t, "2026-02-05/10", kid1)

	kid2, err := VerifyDetached(kr, payload, jws2)
	require.NoError(t, err)
	assert.Equal(t, "2026-02-06/01", kid2)
}

func TestExportJWKS_SortedByKid(t *testing.T) {
	kr := NewKeyring()
	for _, kid := range []string{"2026-02-06/01", "2026-02-05/10", "2026-01-01/01"} {
		kp, err := NewKeyPair(kid)
		require.NoError(t, err)
		require.NoError(t, kr.Add(kp))
	}
	jwks := kr.ExportJWKS()
	require.Len(t, jwks.Keys, 3)
	assert.Equal(t, "2026-01-01/01", jwks.Keys[0].Kid)
	assert.Equal(t, "2026-02-05/10", jwks.Keys[1].Kid)
	assert.Equal(t, "2026-02-06/01", jwks.Keys[2].Kid)
	for _, k := range jwks.Keys {
		assert.Equal(t, "OKP", k.Kty)
		assert.Equal(t, "Ed25519", k.Crv)
	}
}

func TestValidateTimeWindow(t *testing.T) {
	iat := time.Date(2026, 2, 5, 10, 0, 0, 0, time.UTC)
	exp := iat.Add(300 * time.Second)

	assert.NoError(t, ValidateTimeWindow(iat.Add(100*time.Second), iat, exp, 300*time.Second, ClockSkew))
	assert.ErrorIs(t, ValidateTimeWindow(iat, iat, iat.Add(301*time.Second), 300*time.Second, ClockSkew), ErrTimeInvalid)
	assert.ErrorIs(t, ValidateTimeWindow(exp.Add(time.Hour), iat, exp, 300*time.Second, ClockSkew), ErrTimeInvalid)
}
