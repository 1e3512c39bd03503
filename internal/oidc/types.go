package oidc

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	AssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

	// https://datatracker.ietf.org/doc/html/rfc9449#section-8
	OAuthNonceErrorCode = "use_dpop_nonce"

	// https://datatracker.ietf.org/doc/html/rfc6749#section-5.2
	OAuthInvalidGrantCode  = "invalid_grant"
	OAuthInvalidClientCode = "invalid_client"

	// https://datatracker.ietf.org/doc/html/rfc6750#section-3.1
	OAuthInvalidTokenCode = "invalid_token"

	// https://datatracker.ietf.org/doc/html/rfc6749#section-4.1.2.1
	OAuthAccessDeniedCode = "access_denied"
)

// AuthMethod is the token endpoint client authentication method.
// https://openid.net/specs/openid-connect-core-1_0.html#ClientAuthentication
type AuthMethod string

const (
	AuthMethodSecretBasic   AuthMethod = "client_secret_basic"
	AuthMethodSecretPost    AuthMethod = "client_secret_post"
	AuthMethodPrivateKeyJWT AuthMethod = "private_key_jwt"
	AuthMethodNone          AuthMethod = "none"
)

const (
	MsgFailedDiscovery     = "failed to fetch provider metadata"
	MsgFailedParsing       = "failed to parse response"
	MsgFailedAssertion     = "failed to create client assertion"
	MsgFailedTokensRequest = "OAuth tokens request failed"
	MsgFailedRefresh       = "OAuth refresh request failed"
	MsgFailedUserInfo      = "user info request failed"
	MsgFailedLogin         = "interactive login failed"
)

// https://datatracker.ietf.org/doc/html/rfc6749#section-5.1
type tokenResponse struct {
	TokenType    string `json:"token_type"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	IDToken      string `json:"id_token"`
}

func (n tokenResponse) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("access_token", strings.Repeat("x", len(n.AccessToken))),
		slog.String("refresh_token", strings.Repeat("x", len(n.RefreshToken))),
		slog.String("token_type", n.TokenType),
		slog.String("scope", n.Scope),
		slog.Int64("expires_in", n.ExpiresIn))
}

func (n tokenResponse) token(now time.Time) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  n.AccessToken,
		TokenType:    n.TokenType,
		RefreshToken: n.RefreshToken,
		ExpiresIn:    n.ExpiresIn,
	}
	if n.ExpiresIn > 0 {
		tok.Expiry = now.Add(time.Duration(n.ExpiresIn) * time.Second)
	}

	extra := map[string]any{}
	if n.Scope != "" {
		extra["scope"] = n.Scope
	}
	if n.IDToken != "" {
		extra["id_token"] = n.IDToken
	}
	return tok.WithExtra(extra)
}

// https://datatracker.ietf.org/doc/html/rfc6749#section-5.2
type ErrorResponse struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
	URI         string `json:"error_uri"`
}

func (e ErrorResponse) Error() string {
	if e.URI != "" {
		return fmt.Sprintf("code: %s, description: %s, uri: %s", e.Code, e.Description, e.URI)
	}
	return fmt.Sprintf("code: %s, description: %s", e.Code, e.Description)
}

type callbackParams struct {
	// issuer sending the authorization code
	ISS string
	// the authorization code to exchange for tokens
	Code string
	// the state sent alongside the authorization request
	State string
	// set when the provider refused the authorization request
	Error ErrorResponse
}

func (n callbackParams) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("iss", n.ISS),
		slog.String("code", strings.Repeat("x", len(n.Code))),
		slog.String("state", n.State),
		slog.String("error", n.Error.Code))
}
