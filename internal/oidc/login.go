package oidc

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	derrors "github.com/mickaelvieira/dpop-oidc-client-go/internal/errors"
	"golang.org/x/oauth2"
)

// Browser opens the authorization URL for the user.
type Browser interface {
	Open(url string) error
}

// SystemBrowser opens URLs with the platform's default browser.
type SystemBrowser struct{}

func (SystemBrowser) Open(u string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", u)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", u)
	default:
		cmd = exec.Command("xdg-open", u)
	}
	return cmd.Start()
}

// flowData carries what the callback needs to finish one authorization.
type flowData struct {
	State       string
	PKCE        PKCE
	RedirectURI string
}

// BrowserLogin runs the authorization code flow through the system browser
// and a loopback redirect listener.
// https://datatracker.ietf.org/doc/html/rfc8252#section-7.3
type BrowserLogin struct {
	client     *Client
	browser    Browser
	thumbprint func() (string, error)
	timeout    time.Duration
	logger     *slog.Logger
}

type LoginOption func(l *BrowserLogin)

func WithBrowser(b Browser) LoginOption {
	return func(l *BrowserLogin) {
		l.browser = b
	}
}

// WithKeyThumbprint binds the authorization code to the proof key with the
// dpop_jkt parameter.
// https://datatracker.ietf.org/doc/html/rfc9449#section-10
func WithKeyThumbprint(thumbprint func() (string, error)) LoginOption {
	return func(l *BrowserLogin) {
		l.thumbprint = thumbprint
	}
}

func WithLoginTimeout(timeout time.Duration) LoginOption {
	return func(l *BrowserLogin) {
		l.timeout = timeout
	}
}

func WithLoginLogger(logger *slog.Logger) LoginOption {
	return func(l *BrowserLogin) {
		l.logger = logger
	}
}

func NewBrowserLogin(client *Client, opts ...LoginOption) *BrowserLogin {
	l := &BrowserLogin{
		client:  client,
		browser: SystemBrowser{},
		timeout: 5 * time.Minute,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Login blocks until the provider redirects back, the timeout expires or ctx
// is done. It returns the tokens of the authorization code exchange.
func (l *BrowserLogin) Login(ctx context.Context) (*oauth2.Token, error) {
	redirect, err := url.Parse(l.client.RedirectURI())
	if err != nil || redirect.Host == "" {
		return nil, derrors.New(derrors.CodeLoginFailed, fmt.Sprintf("%s: invalid redirect URI %q", MsgFailedLogin, l.client.RedirectURI()))
	}

	listener, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return nil, derrors.Wrap(derrors.CodeLoginFailed, MsgFailedLogin, err)
	}

	// port 0 picks a free port, the redirect URI follows it
	redirect.Host = net.JoinHostPort(redirect.Hostname(), fmt.Sprint(listener.Addr().(*net.TCPAddr).Port))

	flow := &flowData{
		State:       uuid.NewString(),
		PKCE:        newPKCE(),
		RedirectURI: redirect.String(),
	}

	results := make(chan callbackParams, 1)

	path := redirect.Path
	if path == "" {
		path = "/"
	}

	router := mux.NewRouter()
	router.HandleFunc(path, l.callback(results)).Methods("GET")

	server := &http.Server{
		Handler:      router,
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  60 * time.Second,
	}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error("redirect listener stopped", "error", err)
		}
	}()

	defer func() {
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdown); err != nil {
			l.logger.Error("an error occurred while shutting down the redirect listener", "error", err)
		}
	}()

	var opts []oauth2.AuthCodeOption
	if l.thumbprint != nil {
		jkt, err := l.thumbprint()
		if err != nil {
			return nil, err
		}
		opts = append(opts, oauth2.SetAuthURLParam("dpop_jkt", jkt))
	}

	authURL := l.client.AuthCodeURL(flow.RedirectURI, flow.State, flow.PKCE, opts...)

	l.logger.Info("opening browser for login", "redirect_uri", flow.RedirectURI)

	if err := l.browser.Open(authURL); err != nil {
		return nil, derrors.Wrap(derrors.CodeLoginFailed, MsgFailedLogin, err)
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	var params callbackParams
	select {
	case params = <-results:
	case <-ctx.Done():
		return nil, derrors.Wrap(derrors.CodeLoginFailed, MsgFailedLogin, ctx.Err())
	}

	l.logger.Debug("authorization callback", "params", params)

	if params.Error.Code != "" {
		return nil, derrors.Wrap(derrors.CodeLoginFailed, MsgFailedLogin, params.Error)
	}

	if params.State != flow.State {
		return nil, derrors.New(derrors.CodeLoginFailed, MsgFailedLogin+": state mismatch")
	}

	if iss := l.client.Metadata().Issuer; params.ISS != "" && iss != "" && params.ISS != iss {
		return nil, derrors.New(derrors.CodeLoginFailed, fmt.Sprintf("%s: issuers should match, expected %s, got %s", MsgFailedLogin, iss, params.ISS))
	}

	tok, err := l.client.Exchange(ctx, params.Code, flow.PKCE.Verifier, flow.RedirectURI)
	if err != nil {
		return nil, derrors.Wrap(derrors.CodeLoginFailed, MsgFailedLogin, err)
	}

	return tok, nil
}

func (l *BrowserLogin) callback(results chan<- callbackParams) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		params := callbackParams{
			ISS:   q.Get("iss"),
			Code:  q.Get("code"),
			State: q.Get("state"),
			Error: ErrorResponse{
				Code:        q.Get("error"),
				Description: q.Get("error_description"),
				URI:         q.Get("error_uri"),
			},
		}

		select {
		case results <- params:
		default:
			http.Error(w, "login already completed", http.StatusConflict)
			return
		}

		msg := "Login complete. You can close this window."
		if params.Error.Code != "" {
			msg = "Login failed: " + params.Error.Code
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		w.Write(fmt.Appendf(nil, `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>DPoP OIDC Client</title>
</head>
<body>
<main>
	<article>%s</article>
</main>
</body>
</html>
`, html.EscapeString(msg)))
	}
}
