package dpop

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-logr/logr"
	"golang.org/x/oauth2"
)

// https://datatracker.ietf.org/doc/html/rfc9449#section-8
const (
	HeaderDPoP  = "DPoP"
	HeaderNonce = "DPoP-Nonce"
	SchemeDPoP  = "DPoP"
)

// RetryPolicy decides whether a response carrying a new nonce is resent.
type RetryPolicy int

const (
	// RetryOnFailure resends only when the first attempt failed.
	RetryOnFailure RetryPolicy = iota
	// RetryOnNonceChange resends on any nonce change, successful or not.
	RetryOnNonceChange
)

// Transport attaches a DPoP proof to every request and resends a request at
// most once when the server answers with a new nonce. A Transport tracks the
// nonce of a single channel; use OriginTransport for several servers.
type Transport struct {
	proofs ProofCreator
	base   http.RoundTripper
	tokens oauth2.TokenSource
	nonces *NonceTracker
	policy RetryPolicy
	logger logr.Logger
}

type TransportOption func(t *Transport)

func WithBase(base http.RoundTripper) TransportOption {
	return func(t *Transport) {
		t.base = base
	}
}

// WithTokenSource supplies the Authorization header of requests that have none.
func WithTokenSource(tokens oauth2.TokenSource) TransportOption {
	return func(t *Transport) {
		t.tokens = tokens
	}
}

func WithNonceTracker(nonces *NonceTracker) TransportOption {
	return func(t *Transport) {
		t.nonces = nonces
	}
}

func WithRetryPolicy(policy RetryPolicy) TransportOption {
	return func(t *Transport) {
		t.policy = policy
	}
}

func WithLogger(logger logr.Logger) TransportOption {
	return func(t *Transport) {
		t.logger = logger
	}
}

func NewTransport(proofs ProofCreator, opts ...TransportOption) *Transport {
	t := &Transport{
		proofs: proofs,
		base:   http.DefaultTransport,
		nonces: &NonceTracker{},
		policy: RetryOnFailure,
	}

	for _, opt := range opts {
		opt(t)
	}

	t.logger = resolveLogger(t.logger)

	return t
}

func (t *Transport) Nonces() *NonceTracker {
	return t.nonces
}

// Client returns an http.Client routing every request through t.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

// Send binds req to accessToken with a DPoP authorization header and sends it.
func (t *Transport) Send(req *http.Request, accessToken string) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", SchemeDPoP+" "+accessToken)
	return t.RoundTrip(r)
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.tokens != nil && req.Header.Get("Authorization") == "" {
		tok, err := t.tokens.Token()
		if err != nil {
			closeBody(req)
			return nil, err
		}
		req = req.Clone(req.Context())
		tok.SetAuthHeader(req)
	}

	used := t.nonces.Nonce()

	res, err := t.attempt(req, used, false)
	if err != nil {
		return nil, err
	}

	observed := res.Header.Get(HeaderNonce)
	if observed == "" || observed == used {
		return res, nil
	}

	t.nonces.Observe(observed)

	if !t.shouldRetry(res) {
		t.logger.V(1).Info("dpop nonce updated", "host", req.URL.Host, "status", res.StatusCode)
		return res, nil
	}

	if !replayable(req) {
		t.logger.Info("dpop nonce changed but request body cannot be replayed", "method", req.Method, "host", req.URL.Host)
		return res, nil
	}

	t.logger.V(1).Info("dpop nonce changed, retrying once", "method", req.Method, "host", req.URL.Host, "status", res.StatusCode)

	io.Copy(io.Discard, res.Body)
	res.Body.Close()

	return t.attempt(req, observed, true)
}

func (t *Transport) attempt(req *http.Request, nonce string, replay bool) (*http.Response, error) {
	r := req.Clone(req.Context())

	if replay && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		r.Body = body
	}

	proof, err := t.proofs.CreateProof(ProofRequest{
		Method:      r.Method,
		URL:         r.URL.String(),
		AccessToken: boundAccessToken(r),
		Nonce:       nonce,
	})
	if err != nil {
		closeBody(r)
		return nil, err
	}

	r.Header.Set(HeaderDPoP, proof)

	return t.base.RoundTrip(r)
}

func (t *Transport) shouldRetry(res *http.Response) bool {
	if t.policy == RetryOnNonceChange {
		return true
	}
	return !isSuccess(res.StatusCode)
}

// boundAccessToken returns the access token of a DPoP authorization header.
// Other schemes are not hashed into the proof.
func boundAccessToken(req *http.Request) string {
	scheme, credentials, ok := strings.Cut(req.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, SchemeDPoP) {
		return ""
	}
	return strings.TrimSpace(credentials)
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func isSuccess(status int) bool {
	return status >= 200 && status <= 299
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		req.Body.Close()
	}
}

var _ http.RoundTripper = (*Transport)(nil)
