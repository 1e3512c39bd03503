package dpop

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"github.com/go-jose/go-jose/v4"
	derrors "github.com/mickaelvieira/dpop-oidc-client-go/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey(t *testing.T) {
	tests := []struct {
		name string
		kt   KeyType
		alg  jose.SignatureAlgorithm
	}{
		{"EC", KeyTypeEC, jose.ES256},
		{"RSA", KeyTypeRSA, jose.RS256},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := mustGenerateKey(t, tt.kt)
			assert.Equal(t, tt.kt, k.KeyType())

			alg, err := k.Algorithm()
			require.NoError(t, err)
			assert.Equal(t, tt.alg, alg)
		})
	}
}

func TestGenerateKeyRejectsUnknownType(t *testing.T) {
	_, err := GenerateKey("OKP")
	require.Error(t, err)
	assert.True(t, derrors.IsCode(err, derrors.CodeUnsupportedKeyType))
}

func TestAlgorithmFollowsCurve(t *testing.T) {
	tests := []struct {
		curve elliptic.Curve
		alg   jose.SignatureAlgorithm
	}{
		{elliptic.P256(), jose.ES256},
		{elliptic.P384(), jose.ES384},
		{elliptic.P521(), jose.ES512},
	}

	for _, tt := range tests {
		t.Run(string(tt.alg), func(t *testing.T) {
			priv, err := ecdsa.GenerateKey(tt.curve, rand.Reader)
			require.NoError(t, err)

			k, err := NewProofKey(jose.JSONWebKey{Key: priv})
			require.NoError(t, err)

			alg, err := k.Algorithm()
			require.NoError(t, err)
			assert.Equal(t, tt.alg, alg)
		})
	}
}

func TestProofKeyRoundTrip(t *testing.T) {
	for _, kt := range []KeyType{KeyTypeEC, KeyTypeRSA} {
		t.Run(string(kt), func(t *testing.T) {
			k := mustGenerateKey(t, kt)

			b, err := k.MarshalJSON()
			require.NoError(t, err)

			parsed, err := ParseProofKey(b)
			require.NoError(t, err)

			want, err := k.Thumbprint()
			require.NoError(t, err)
			got, err := parsed.Thumbprint()
			require.NoError(t, err)
			assert.Equal(t, want, got)

			wantPub, _ := k.PublicJWK()
			gotPub, _ := parsed.PublicJWK()
			assert.Equal(t, wantPub, gotPub)
		})
	}
}

func TestParseProofKeyRejectsInvalidInput(t *testing.T) {
	k := mustGenerateKey(t, KeyTypeEC)
	public := k.JWK.Public()
	publicJSON, err := public.MarshalJSON()
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"not json", []byte("not a key")},
		{"empty object", []byte("{}")},
		{"symmetric key", []byte(`{"kty":"oct","k":"c2VjcmV0"}`)},
		{"public only", publicJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProofKey(tt.data)
			require.Error(t, err)
			assert.True(t, derrors.IsCode(err, derrors.CodeKeyFormat), "got %v", err)
		})
	}
}

func TestPublicJWKHasNoPrivateMaterial(t *testing.T) {
	ec := mustGenerateKey(t, KeyTypeEC)
	pub, err := ec.PublicJWK()
	require.NoError(t, err)
	assert.Equal(t, "EC", pub.Kty)
	assert.Equal(t, "P-256", pub.Crv)
	assert.NotEmpty(t, pub.X)
	assert.NotEmpty(t, pub.Y)
	assert.Empty(t, pub.E)
	assert.Empty(t, pub.N)

	rsaKey := mustGenerateKey(t, KeyTypeRSA)
	pub, err = rsaKey.PublicJWK()
	require.NoError(t, err)
	assert.Equal(t, "RSA", pub.Kty)
	assert.NotEmpty(t, pub.E)
	assert.NotEmpty(t, pub.N)
	assert.Empty(t, pub.Crv)
}

func TestUnsupportedKeyType(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	_, err = NewProofKey(jose.JSONWebKey{Key: priv})
	assert.True(t, derrors.IsCode(err, derrors.CodeKeyFormat))

	k := &ProofKey{JWK: jose.JSONWebKey{Key: priv}}

	_, err = k.Algorithm()
	assert.True(t, derrors.IsCode(err, derrors.CodeUnsupportedKeyType))

	_, err = k.PublicJWK()
	assert.True(t, derrors.IsCode(err, derrors.CodeUnsupportedKeyType))
}
