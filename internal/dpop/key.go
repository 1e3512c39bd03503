package dpop

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"
	derrors "github.com/mickaelvieira/dpop-oidc-client-go/internal/errors"
	"github.com/potproject/atproto-oauth2-go-example/key"
)

type KeyType string

const (
	KeyTypeEC  KeyType = "EC"
	KeyTypeRSA KeyType = "RSA"

	rsaKeyBits = 2048
)

const (
	MsgInvalidKey       = "invalid proof key"
	MsgUnsupportedKey   = "unsupported proof key type"
	MsgUnsupportedCurve = "unsupported elliptic curve"
	MsgMissingPrivate   = "proof key has no private material"
	MsgFailedKeyGen     = "failed to generate proof key"
	MsgFailedKeyStore   = "failed to access proof key storage"
	MsgFailedDPoP       = "failed to create DPoP proof"
	MsgFailedSigner     = "failed to create DPoP signer"
	MsgFailedSigning    = "failed to sign DPoP proof"
)

// ProofKey is the asymmetric key pair whose public half is embedded in every
// proof. It is read-only once created and safe for concurrent use.
type ProofKey struct {
	JWK jose.JSONWebKey
}

// PublicJWK is the public projection of a proof key as it appears in the jwk
// header of a proof. It never carries private parameters.
type PublicJWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
	E   string `json:"e,omitempty"`
	N   string `json:"n,omitempty"`
}

// ParseProofKey parses a serialized private JWK. Anything that is not a
// private EC or RSA key is rejected with a key_format error.
func ParseProofKey(data []byte) (*ProofKey, error) {
	var jwk jose.JSONWebKey
	if err := json.Unmarshal(data, &jwk); err != nil {
		return nil, derrors.Wrap(derrors.CodeKeyFormat, MsgInvalidKey, err)
	}
	return NewProofKey(jwk)
}

func NewProofKey(jwk jose.JSONWebKey) (*ProofKey, error) {
	switch k := jwk.Key.(type) {
	case *ecdsa.PrivateKey:
		if _, err := curveAlgorithm(k.Curve); err != nil {
			return nil, derrors.Wrap(derrors.CodeKeyFormat, MsgInvalidKey, err)
		}
	case *rsa.PrivateKey:
	case *ecdsa.PublicKey, *rsa.PublicKey:
		return nil, derrors.New(derrors.CodeKeyFormat, MsgMissingPrivate)
	default:
		return nil, derrors.Wrap(derrors.CodeKeyFormat, MsgInvalidKey, fmt.Errorf("%s: %T", MsgUnsupportedKey, jwk.Key))
	}

	if !jwk.Valid() {
		return nil, derrors.New(derrors.CodeKeyFormat, MsgInvalidKey)
	}

	return &ProofKey{JWK: jwk}, nil
}

// GenerateKey creates a new proof key from a cryptographically secure source:
// P-256 for KeyTypeEC and 2048-bit RSA for KeyTypeRSA.
func GenerateKey(kt KeyType) (*ProofKey, error) {
	switch kt {
	case KeyTypeEC, "":
		k, err := ParseProofKey([]byte(key.GenerateSecretJWK()))
		if err != nil {
			return nil, derrors.Wrap(derrors.CodeKeyFormat, MsgFailedKeyGen, err)
		}
		if alg, _ := k.Algorithm(); alg != jose.ES256 {
			return nil, derrors.New(derrors.CodeKeyFormat, MsgFailedKeyGen+": expected a P-256 key")
		}
		return k, nil
	case KeyTypeRSA:
		priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", MsgFailedKeyGen, err)
		}
		return NewProofKey(jose.JSONWebKey{
			Key:       priv,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		})
	default:
		return nil, derrors.New(derrors.CodeUnsupportedKeyType, fmt.Sprintf("%s: %q", MsgUnsupportedKey, kt))
	}
}

func (k *ProofKey) KeyType() KeyType {
	switch k.JWK.Key.(type) {
	case *ecdsa.PrivateKey:
		return KeyTypeEC
	case *rsa.PrivateKey:
		return KeyTypeRSA
	}
	return ""
}

// Algorithm returns the JWS algorithm implied by the key type.
func (k *ProofKey) Algorithm() (jose.SignatureAlgorithm, error) {
	switch priv := k.JWK.Key.(type) {
	case *ecdsa.PrivateKey:
		return curveAlgorithm(priv.Curve)
	case *rsa.PrivateKey:
		return jose.RS256, nil
	}
	return "", derrors.New(derrors.CodeUnsupportedKeyType, fmt.Sprintf("%s: %T", MsgUnsupportedKey, k.JWK.Key))
}

// PublicJWK derives the public projection: {kty, crv, x, y} for EC keys and
// {kty, e, n} for RSA keys.
func (k *ProofKey) PublicJWK() (PublicJWK, error) {
	var pub PublicJWK

	switch k.JWK.Key.(type) {
	case *ecdsa.PrivateKey, *rsa.PrivateKey:
	default:
		return pub, derrors.New(derrors.CodeUnsupportedKeyType, fmt.Sprintf("%s: %T", MsgUnsupportedKey, k.JWK.Key))
	}

	public := k.JWK.Public()
	b, err := public.MarshalJSON()
	if err != nil {
		return pub, derrors.Wrap(derrors.CodeKeyFormat, MsgInvalidKey, err)
	}

	if err := json.Unmarshal(b, &pub); err != nil {
		return pub, derrors.Wrap(derrors.CodeKeyFormat, MsgInvalidKey, err)
	}

	switch pub.Kty {
	case "EC":
		pub.E, pub.N = "", ""
	case "RSA":
		pub.Crv, pub.X, pub.Y = "", "", ""
	}

	return pub, nil
}

// Thumbprint returns the base64url RFC 7638 SHA-256 thumbprint of the public key.
func (k *ProofKey) Thumbprint() (string, error) {
	public := k.JWK.Public()
	b, err := public.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", derrors.Wrap(derrors.CodeKeyFormat, MsgInvalidKey, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// MarshalJSON serializes the key including its private material.
func (k *ProofKey) MarshalJSON() ([]byte, error) {
	return k.JWK.MarshalJSON()
}

func curveAlgorithm(c elliptic.Curve) (jose.SignatureAlgorithm, error) {
	switch c {
	case elliptic.P256():
		return jose.ES256, nil
	case elliptic.P384():
		return jose.ES384, nil
	case elliptic.P521():
		return jose.ES512, nil
	}
	return "", derrors.New(derrors.CodeUnsupportedKeyType, MsgUnsupportedCurve)
}
