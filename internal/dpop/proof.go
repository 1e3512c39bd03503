package dpop

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
	derrors "github.com/mickaelvieira/dpop-oidc-client-go/internal/errors"
)

// TypeDPoP is the typ header of every proof.
const TypeDPoP = "dpop+jwt"

// ProofRequest describes the single HTTP request a proof is bound to.
type ProofRequest struct {
	Method string
	URL    string
	// AccessToken, when set, is hashed into the ath claim.
	AccessToken string
	// Nonce, when set, echoes the last server-issued DPoP-Nonce.
	Nonce string
}

// ProofCreator produces proofs for outgoing requests.
type ProofCreator interface {
	CreateProof(req ProofRequest) (string, error)
}

// https://datatracker.ietf.org/doc/html/rfc9449#section-4.2
type proofClaims struct {
	JTI   string `json:"jti"`
	HTM   string `json:"htm"`
	HTU   string `json:"htu"`
	IAT   int64  `json:"iat"`
	ATH   string `json:"ath,omitempty"`
	Nonce string `json:"nonce,omitempty"`
}

// Factory builds proofs signed with one proof key. It never caches a proof:
// each call yields a new jti and the current iat.
type Factory struct {
	key   *ProofKey
	now   func() time.Time
	newID func() string
}

type FactoryOption func(f *Factory)

func WithClock(now func() time.Time) FactoryOption {
	return func(f *Factory) {
		f.now = now
	}
}

func WithIDSource(newID func() string) FactoryOption {
	return func(f *Factory) {
		f.newID = newID
	}
}

func NewFactory(key *ProofKey, opts ...FactoryOption) *Factory {
	f := &Factory{
		key:   key,
		now:   time.Now,
		newID: uuid.NewString,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

func (f *Factory) Key() *ProofKey {
	return f.key
}

// CreateProof signs a proof for req with the factory's key.
func (f *Factory) CreateProof(req ProofRequest) (string, error) {
	if f.key == nil {
		return "", derrors.New(derrors.CodeUnsupportedKeyType, MsgUnsupportedKey+": no key")
	}

	pub, err := f.key.PublicJWK()
	if err != nil {
		return "", err
	}

	alg, err := f.key.Algorithm()
	if err != nil {
		return "", err
	}

	htu, err := CanonicalURL(req.URL)
	if err != nil {
		return "", err
	}

	opts := (&jose.SignerOptions{}).WithType(TypeDPoP).WithHeader("jwk", pub)

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: alg, Key: f.key.JWK.Key}, opts)
	if err != nil {
		return "", derrors.Wrap(derrors.CodeSigning, MsgFailedSigner, err)
	}

	claims := proofClaims{
		JTI:   f.newID(),
		HTM:   strings.ToUpper(req.Method),
		HTU:   htu,
		IAT:   f.now().Unix(),
		Nonce: req.Nonce,
	}

	if req.AccessToken != "" {
		claims.ATH = AccessTokenHash(req.AccessToken)
	}

	proof, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", derrors.Wrap(derrors.CodeSigning, MsgFailedSigning, err)
	}

	return proof, nil
}

// CreateProof signs a single proof for req with key.
func CreateProof(key *ProofKey, req ProofRequest) (string, error) {
	return NewFactory(key).CreateProof(req)
}

// AccessTokenHash returns the ath claim value: base64url(SHA-256(token)).
func AccessTokenHash(token string) string {
	h := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(h[:])
}

var _ ProofCreator = (*Factory)(nil)
