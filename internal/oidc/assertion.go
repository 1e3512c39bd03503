package oidc

import (
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
	"github.com/mickaelvieira/dpop-oidc-client-go/internal/dpop"
)

const assertionLifetime = 5 * time.Minute

// https://datatracker.ietf.org/doc/html/rfc7523#section-3
func makeAssertion(pkey jose.JSONWebKey, audience, clientID string, now time.Time) (string, error) {
	k, err := dpop.NewProofKey(pkey)
	if err != nil {
		return "", fmt.Errorf("invalid assertion key: %w", err)
	}

	alg, err := k.Algorithm()
	if err != nil {
		return "", err
	}

	opts := &jose.SignerOptions{}
	opts.WithType("JWT")
	if pkey.KeyID != "" {
		opts.WithHeader("kid", pkey.KeyID)
	}

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: alg, Key: pkey.Key}, opts)
	if err != nil {
		return "", fmt.Errorf("failed to create assertion signer: %v", err)
	}

	claims := jwt.Claims{
		Issuer:   clientID,
		Subject:  clientID,
		Audience: jwt.Audience{audience},
		Expiry:   jwt.NewNumericDate(now.Add(assertionLifetime)),
		IssuedAt: jwt.NewNumericDate(now),
		ID:       uuid.NewString(),
	}

	token, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("failed to sign assertion: %v", err)
	}

	return token, nil
}
