package oidc

import "golang.org/x/oauth2"

// PKCE is the proof key of one authorization request.
// https://datatracker.ietf.org/doc/html/rfc7636#section-4.1
type PKCE struct {
	Verifier  string
	Challenge string
	Method    string
}

func newPKCE() PKCE {
	v := oauth2.GenerateVerifier()

	return PKCE{
		Verifier:  v,
		Challenge: oauth2.S256ChallengeFromVerifier(v),
		Method:    "S256",
	}
}
