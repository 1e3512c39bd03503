package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	derrors "github.com/mickaelvieira/dpop-oidc-client-go/internal/errors"
	"github.com/mickaelvieira/dpop-oidc-client-go/internal/oidc"
	"golang.org/x/oauth2"
)

// DefaultVerifiedClaim is the user-info claim read by CheckAuthorized.
const DefaultVerifiedClaim = "email_verified"

// TokenClient redeems refresh tokens and reads user-info over the DPoP
// channel.
type TokenClient interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	UserInfo(ctx context.Context, accessToken string) (oidc.Claims, error)
}

// Authenticator runs an interactive login.
type Authenticator interface {
	Login(ctx context.Context) (*oauth2.Token, error)
}

// Manager keeps a DPoP-bound access token valid. Every sequence that changes
// the session or the stored refresh token runs under one lock; Token reads a
// snapshot and never blocks on it.
type Manager struct {
	lock       sync.Mutex
	store      *RefreshStore
	client     TokenClient
	auth       Authenticator
	claim      string
	thumbprint string
	logger     *slog.Logger

	current atomic.Pointer[Session]
	// rejected is the last refresh token the server answered with
	// invalid_grant. It is never sent again.
	rejected string
}

type Option func(m *Manager)

func WithVerifiedClaim(claim string) Option {
	return func(m *Manager) {
		m.claim = claim
	}
}

// WithKeyThumbprint records the proof key thumbprint on every session.
func WithKeyThumbprint(thumbprint string) Option {
	return func(m *Manager) {
		m.thumbprint = thumbprint
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func NewManager(store *RefreshStore, client TokenClient, auth Authenticator, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		client: client,
		auth:   auth,
		claim:  DefaultVerifiedClaim,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Current returns the active session, or nil.
func (m *Manager) Current() *Session {
	return m.current.Load()
}

// Token implements oauth2.TokenSource over the active session.
func (m *Manager) Token() (*oauth2.Token, error) {
	s := m.current.Load()
	if s == nil {
		return nil, derrors.ErrNoSession
	}
	return s.Token(), nil
}

// Bootstrap establishes a session: with a stored refresh token it refreshes,
// falling back to an interactive login when that fails; without one it logs
// in and persists the new refresh token.
func (m *Manager) Bootstrap(ctx context.Context) (*Session, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.bootstrap(ctx)
}

// Refresh redeems refreshToken and replaces the session.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.refresh(ctx, refreshToken)
}

// CheckAuthorized refreshes the session, reads user-info with the new access
// token and reports the verified claim. An invalid refresh token and an
// unauthorized user-info answer each trigger at most one re-authentication.
func (m *Manager) CheckAuthorized(ctx context.Context) (bool, error) {
	s, err := m.renew(ctx)
	if err != nil {
		return false, err
	}

	claims, err := m.client.UserInfo(ctx, s.AccessToken)
	if derrors.IsCode(err, derrors.CodeUnauthorized) {
		m.logger.Info("user info rejected the access token, re-authenticating")

		s, err = m.reauthenticate(ctx)
		if err != nil {
			return false, err
		}

		claims, err = m.client.UserInfo(ctx, s.AccessToken)
	}
	if err != nil {
		return false, err
	}

	return claims.Bool(m.claim)
}

// Logout drops the session and deletes the stored refresh token.
func (m *Manager) Logout(ctx context.Context) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.current.Store(nil)
	return m.store.Delete(ctx)
}

func (m *Manager) renew(ctx context.Context) (*Session, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	cur := m.current.Load()
	if cur == nil {
		return m.bootstrap(ctx)
	}

	if cur.RefreshToken == "" {
		if cur.Token().Valid() {
			return cur, nil
		}
		return m.login(ctx)
	}

	s, err := m.refresh(ctx, cur.RefreshToken)
	if derrors.IsCode(err, derrors.CodeRefreshInvalid) {
		m.logger.Info("refresh token rejected, starting interactive login")
		return m.login(ctx)
	}
	return s, err
}

func (m *Manager) reauthenticate(ctx context.Context) (*Session, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.current.Store(nil)
	return m.login(ctx)
}

func (m *Manager) bootstrap(ctx context.Context) (*Session, error) {
	stored, err := m.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	if stored == "" {
		m.logger.Info("no stored refresh token, starting interactive login")
		return m.login(ctx)
	}

	m.logger.Info("using stored refresh token")

	s, err := m.refresh(ctx, stored)
	if err == nil {
		return s, nil
	}

	if fatal(err) {
		return nil, err
	}

	m.logger.Warn("stored refresh token could not be used, starting interactive login", "error", err)
	return m.login(ctx)
}

func (m *Manager) refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, derrors.New(derrors.CodeRefreshInvalid, "empty refresh token")
	}

	if refreshToken == m.rejected {
		return nil, derrors.New(derrors.CodeRefreshInvalid, "refresh token was already rejected")
	}

	tok, err := m.client.Refresh(ctx, refreshToken)
	if err != nil {
		if derrors.IsCode(err, derrors.CodeRefreshInvalid) {
			m.rejected = refreshToken
			m.current.Store(nil)
			if err := m.store.Delete(ctx); err != nil {
				m.logger.Error("failed to delete rejected refresh token", "error", err)
			}
		}
		return nil, err
	}

	s := newSession(tok, refreshToken, m.thumbprint)

	// the session stays active even if persisting the rotated token fails
	m.current.Store(s)

	if s.RefreshToken != refreshToken {
		if err := m.store.Save(ctx, s.RefreshToken); err != nil {
			return nil, err
		}
		m.logger.Debug("stored rotated refresh token")
	}

	m.logger.Debug("session refreshed", "session", s)

	return s, nil
}

func (m *Manager) login(ctx context.Context) (*Session, error) {
	tok, err := m.auth.Login(ctx)
	if err != nil {
		if _, ok := derrors.CodeOf(err); ok {
			return nil, err
		}
		return nil, derrors.Wrap(derrors.CodeLoginFailed, oidc.MsgFailedLogin, err)
	}

	s := newSession(tok, "", m.thumbprint)
	m.current.Store(s)

	if s.RefreshToken != "" {
		if err := m.store.Save(ctx, s.RefreshToken); err != nil {
			return nil, err
		}
	} else {
		m.logger.Warn("login returned no refresh token, the session cannot be renewed")
	}

	m.logger.Info("logged in", "session", s)

	return s, nil
}

// fatal reports errors that a fresh login cannot fix.
func fatal(err error) bool {
	for _, code := range []derrors.Code{
		derrors.CodeKeyFormat,
		derrors.CodeUnsupportedKeyType,
		derrors.CodeSigning,
		derrors.CodeStorageUnavailable,
	} {
		if derrors.IsCode(err, code) {
			return true
		}
	}
	return false
}

var _ oauth2.TokenSource = (*Manager)(nil)
