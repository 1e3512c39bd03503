package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	derrors "github.com/mickaelvieira/dpop-oidc-client-go/internal/errors"
	"golang.org/x/oauth2"
)

// Client talks to the token and user-info endpoints of one provider. Its
// transport is expected to attach DPoP proofs; the client itself only shapes
// the requests and classifies the responses.
type Client struct {
	metadata    ProviderMetadata
	clientID    string
	secret      string
	method      AuthMethod
	assertion   *jose.JSONWebKey
	redirectURI string
	scopes      []string
	http        *http.Client
	now         func() time.Time
	logger      *slog.Logger
}

type Option func(c *Client)

func WithClientSecret(secret string) Option {
	return func(c *Client) {
		c.secret = secret
	}
}

func WithAuthMethod(method AuthMethod) Option {
	return func(c *Client) {
		c.method = method
	}
}

// WithAssertionKey sets the private key signing private_key_jwt assertions.
func WithAssertionKey(key jose.JSONWebKey) Option {
	return func(c *Client) {
		c.assertion = &key
	}
}

func WithRedirectURI(uri string) Option {
	return func(c *Client) {
		c.redirectURI = uri
	}
}

func WithScopes(scopes ...string) Option {
	return func(c *Client) {
		c.scopes = scopes
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = timeout
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func NewClient(metadata ProviderMetadata, clientID string, transport http.RoundTripper, opts ...Option) *Client {
	c := &Client{
		metadata: metadata,
		clientID: clientID,
		method:   AuthMethodSecretBasic,
		scopes:   []string{"openid", "profile", "offline_access"},
		http:     &http.Client{Transport: transport, Timeout: time.Second * 60},
		now:      time.Now,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Client) ClientID() string {
	return c.clientID
}

func (c *Client) RedirectURI() string {
	return c.redirectURI
}

func (c *Client) Metadata() ProviderMetadata {
	return c.metadata
}

func (c *Client) config(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    c.clientID,
		Endpoint:    c.metadata.Endpoint(),
		RedirectURL: redirectURI,
		Scopes:      c.scopes,
	}
}

// AuthCodeURL builds the authorization request URL for one login attempt.
func (c *Client) AuthCodeURL(redirectURI, state string, pkce PKCE, opts ...oauth2.AuthCodeOption) string {
	opts = append(opts, oauth2.S256ChallengeOption(pkce.Verifier))
	return c.config(redirectURI).AuthCodeURL(state, opts...)
}

// Exchange trades an authorization code for tokens.
func (c *Client) Exchange(ctx context.Context, code, verifier, redirectURI string) (*oauth2.Token, error) {
	v := url.Values{}
	v.Set("grant_type", "authorization_code")
	v.Set("code", code)
	v.Set("redirect_uri", redirectURI)
	v.Set("code_verifier", verifier)

	tok, err := c.requestToken(ctx, v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", MsgFailedTokensRequest, err)
	}

	return tok, nil
}

// Refresh redeems refreshToken. A rejected token yields a refresh_invalid
// error and must not be retried.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	v := url.Values{}
	v.Set("grant_type", "refresh_token")
	v.Set("refresh_token", refreshToken)

	tok, err := c.requestToken(ctx, v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", MsgFailedRefresh, err)
	}

	return tok, nil
}

func (c *Client) authenticate(req *http.Request, v url.Values) error {
	switch c.method {
	case AuthMethodSecretBasic:
		// https://datatracker.ietf.org/doc/html/rfc6749#section-2.3.1
		req.SetBasicAuth(url.QueryEscape(c.clientID), url.QueryEscape(c.secret))
	case AuthMethodSecretPost:
		v.Set("client_id", c.clientID)
		v.Set("client_secret", c.secret)
	case AuthMethodPrivateKeyJWT:
		if c.assertion == nil {
			return derrors.New(derrors.CodeKeyFormat, MsgFailedAssertion+": no assertion key")
		}

		aud := c.metadata.Issuer
		if aud == "" {
			aud = c.metadata.TokenEndpoint
		}

		assert, err := makeAssertion(*c.assertion, aud, c.clientID, c.now())
		if err != nil {
			return derrors.Wrap(derrors.CodeSigning, MsgFailedAssertion, err)
		}

		v.Set("client_id", c.clientID)
		v.Set("client_assertion", assert)
		v.Set("client_assertion_type", AssertionType)
	case AuthMethodNone:
		v.Set("client_id", c.clientID)
	default:
		return fmt.Errorf("unsupported token endpoint auth method %q", c.method)
	}

	return nil
}

func (c *Client) requestToken(ctx context.Context, v url.Values) (*oauth2.Token, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.metadata.TokenEndpoint,
		nil,
	)

	if err != nil {
		return nil, err
	}

	if err := c.authenticate(req, v); err != nil {
		return nil, err
	}

	// the body is set once authentication has added its parameters so that
	// the DPoP transport can replay it on a nonce retry
	body := v.Encode()
	req.Body = io.NopCloser(strings.NewReader(body))
	req.ContentLength = int64(len(body))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	r, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	defer r.Body.Close()

	b, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	if r.StatusCode == http.StatusOK {
		var token tokenResponse
		if err := json.Unmarshal(b, &token); err != nil {
			return nil, derrors.Wrap(derrors.CodeInvalidResponse, MsgFailedParsing, err)
		}

		if token.AccessToken == "" {
			return nil, derrors.New(derrors.CodeInvalidResponse, MsgFailedParsing+": missing access_token")
		}

		c.logger.Debug("token response", "grant_type", v.Get("grant_type"), "token", token)

		return token.token(c.now()), nil
	}

	var oauthError ErrorResponse
	if err := json.Unmarshal(b, &oauthError); err != nil {
		return nil, derrors.Wrap(derrors.CodeInvalidResponse, fmt.Sprintf("status %d", r.StatusCode), err)
	}

	return nil, classify(r.StatusCode, v.Get("grant_type"), oauthError)
}

func classify(status int, grantType string, oauthError ErrorResponse) error {
	msg := fmt.Sprintf("status %d", status)

	switch oauthError.Code {
	case OAuthNonceErrorCode:
		return derrors.Wrap(derrors.CodeNonceRetryExhausted, msg, oauthError)
	case OAuthInvalidGrantCode:
		if grantType == "refresh_token" {
			return derrors.Wrap(derrors.CodeRefreshInvalid, msg, oauthError)
		}
		return derrors.Wrap(derrors.CodeLoginFailed, msg, oauthError)
	}

	return derrors.Wrap(derrors.CodeInvalidResponse, msg, oauthError)
}
