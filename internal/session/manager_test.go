package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	derrors "github.com/mickaelvieira/dpop-oidc-client-go/internal/errors"
	"github.com/mickaelvieira/dpop-oidc-client-go/internal/oidc"
	"github.com/mickaelvieira/dpop-oidc-client-go/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// fakeProvider rotates refresh tokens and answers user-info from a fixed set
// of claims. Tokens listed in invalid are rejected with invalid_grant.
type fakeProvider struct {
	lock sync.Mutex

	invalid    map[string]bool
	noRotate   bool
	refreshErr error
	refreshes  []string

	claims    oidc.Claims
	userErrs  []error
	userCalls []string

	logins   int
	loginErr error

	counter int
}

func (f *fakeProvider) next(prefix string) string {
	f.counter++
	return prefix + strconv.Itoa(f.counter)
}

func (f *fakeProvider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.refreshes = append(f.refreshes, refreshToken)

	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	if f.invalid[refreshToken] {
		return nil, derrors.Wrap(derrors.CodeRefreshInvalid, "status 400", oidc.ErrorResponse{Code: oidc.OAuthInvalidGrantCode})
	}

	tok := &oauth2.Token{AccessToken: f.next("at-"), TokenType: "DPoP", Expiry: time.Now().Add(time.Minute)}
	if !f.noRotate {
		tok.RefreshToken = f.next("rt-")
	}
	return tok, nil
}

func (f *fakeProvider) UserInfo(ctx context.Context, accessToken string) (oidc.Claims, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.userCalls = append(f.userCalls, accessToken)
	if len(f.userErrs) > 0 {
		err := f.userErrs[0]
		f.userErrs = f.userErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.claims, nil
}

func (f *fakeProvider) Login(ctx context.Context) (*oauth2.Token, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.logins++
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &oauth2.Token{
		AccessToken:  f.next("login-at-"),
		RefreshToken: f.next("login-rt-"),
		TokenType:    "DPoP",
		Expiry:       time.Now().Add(time.Minute),
	}, nil
}

func newTestManager(blob *storage.Memory, f *fakeProvider) *Manager {
	return NewManager(NewRefreshStore(blob), f, f, WithKeyThumbprint("jkt-1"))
}

func storedToken(t *testing.T, blob *storage.Memory) string {
	t.Helper()
	b, err := blob.Load(context.Background())
	if errors.Is(err, storage.ErrNotFound) {
		return ""
	}
	require.NoError(t, err)
	return string(b)
}

func TestBootstrapWithoutStoredTokenLogsInOnce(t *testing.T) {
	blob := storage.NewMemory(nil)
	f := &fakeProvider{}
	m := newTestManager(blob, f)

	s, err := m.Bootstrap(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, f.logins)
	assert.Empty(t, f.refreshes)
	assert.Equal(t, 1, blob.Saves())
	assert.Equal(t, s.RefreshToken, storedToken(t, blob))
	assert.Equal(t, "jkt-1", s.KeyThumbprint)
	assert.Same(t, s, m.Current())
}

func TestBootstrapRefreshesStoredToken(t *testing.T) {
	blob := storage.NewMemory([]byte("rt-stored\n"))
	f := &fakeProvider{}
	m := newTestManager(blob, f)

	s, err := m.Bootstrap(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"rt-stored"}, f.refreshes)
	assert.Zero(t, f.logins)
	assert.Equal(t, s.RefreshToken, storedToken(t, blob))
	assert.NotEqual(t, "rt-stored", s.RefreshToken)

	tok, err := m.Token()
	require.NoError(t, err)
	assert.Equal(t, s.AccessToken, tok.AccessToken)
}

func TestBootstrapFallsBackToLogin(t *testing.T) {
	blob := storage.NewMemory([]byte("rt-revoked"))
	f := &fakeProvider{invalid: map[string]bool{"rt-revoked": true}}
	m := newTestManager(blob, f)

	s, err := m.Bootstrap(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"rt-revoked"}, f.refreshes)
	assert.Equal(t, 1, f.logins)
	assert.Equal(t, s.RefreshToken, storedToken(t, blob))
}

func TestBootstrapSurfacesSigningErrors(t *testing.T) {
	blob := storage.NewMemory([]byte("rt-1"))
	f := &fakeProvider{refreshErr: derrors.New(derrors.CodeSigning, "failed to sign DPoP proof")}
	m := newTestManager(blob, f)

	_, err := m.Bootstrap(context.Background())
	assert.True(t, derrors.IsCode(err, derrors.CodeSigning))
	assert.Zero(t, f.logins)
}

func TestRefreshKeepsTokenWhenNotRotated(t *testing.T) {
	blob := storage.NewMemory([]byte("rt-1"))
	f := &fakeProvider{noRotate: true}
	m := newTestManager(blob, f)

	s, err := m.Refresh(context.Background(), "rt-1")
	require.NoError(t, err)

	assert.Equal(t, "rt-1", s.RefreshToken)
	assert.Zero(t, blob.Saves(), "unchanged token is not rewritten")
}

func TestRefreshInvalidIsNeverRetried(t *testing.T) {
	blob := storage.NewMemory([]byte("rt-bad"))
	f := &fakeProvider{invalid: map[string]bool{"rt-bad": true}}
	m := newTestManager(blob, f)
	ctx := context.Background()

	_, err := m.Refresh(ctx, "rt-bad")
	require.Error(t, err)
	assert.True(t, derrors.IsCode(err, derrors.CodeRefreshInvalid))
	assert.True(t, derrors.IsRecoverable(err))
	assert.Nil(t, m.Current())
	assert.Empty(t, storedToken(t, blob), "rejected token is deleted")

	_, err = m.Refresh(ctx, "rt-bad")
	assert.True(t, derrors.IsCode(err, derrors.CodeRefreshInvalid))
	assert.Len(t, f.refreshes, 1, "the same token is not sent twice")

	_, err = m.Token()
	assert.ErrorIs(t, err, derrors.ErrNoSession)
}

func TestCheckAuthorized(t *testing.T) {
	tests := []struct {
		name   string
		claims oidc.Claims
		want   bool
	}{
		{"verified", oidc.Claims{{Type: "email_verified", Value: "true"}}, true},
		{"not verified", oidc.Claims{{Type: "email_verified", Value: "false"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob := storage.NewMemory([]byte("rt-0"))
			f := &fakeProvider{claims: tt.claims}
			m := newTestManager(blob, f)

			ok, err := m.CheckAuthorized(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)

			require.Len(t, f.userCalls, 1)
			assert.Equal(t, m.Current().AccessToken, f.userCalls[0], "user info uses the new access token")
		})
	}
}

func TestCheckAuthorizedRefreshesEachTime(t *testing.T) {
	blob := storage.NewMemory([]byte("rt-0"))
	f := &fakeProvider{claims: oidc.Claims{{Type: "email_verified", Value: "true"}}}
	m := newTestManager(blob, f)
	ctx := context.Background()

	_, err := m.CheckAuthorized(ctx)
	require.NoError(t, err)
	first := m.Current().RefreshToken

	_, err = m.CheckAuthorized(ctx)
	require.NoError(t, err)

	require.Len(t, f.refreshes, 2)
	assert.Equal(t, first, f.refreshes[1], "the rotated token is used next")
	assert.Equal(t, m.Current().RefreshToken, storedToken(t, blob))
}

func TestCheckAuthorizedMissingClaim(t *testing.T) {
	f := &fakeProvider{claims: oidc.Claims{{Type: "sub", Value: "u1"}}}
	m := newTestManager(storage.NewMemory([]byte("rt-0")), f)

	ok, err := m.CheckAuthorized(context.Background())
	assert.False(t, ok)
	assert.True(t, derrors.IsCode(err, derrors.CodeMissingClaim))
}

func TestCheckAuthorizedCustomClaim(t *testing.T) {
	f := &fakeProvider{claims: oidc.Claims{{Type: "active", Value: "1"}}}
	m := NewManager(NewRefreshStore(storage.NewMemory([]byte("rt-0"))), f, f, WithVerifiedClaim("active"))

	ok, err := m.CheckAuthorized(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckAuthorizedReauthenticatesOnceOnUnauthorized(t *testing.T) {
	unauthorized := derrors.New(derrors.CodeUnauthorized, "user info request failed")

	t.Run("recovers", func(t *testing.T) {
		f := &fakeProvider{
			claims:   oidc.Claims{{Type: "email_verified", Value: "true"}},
			userErrs: []error{unauthorized},
		}
		m := newTestManager(storage.NewMemory([]byte("rt-0")), f)

		ok, err := m.CheckAuthorized(context.Background())
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 1, f.logins)
		assert.Len(t, f.userCalls, 2)
	})

	t.Run("gives up", func(t *testing.T) {
		f := &fakeProvider{userErrs: []error{unauthorized, unauthorized}}
		m := newTestManager(storage.NewMemory([]byte("rt-0")), f)

		ok, err := m.CheckAuthorized(context.Background())
		assert.False(t, ok)
		assert.True(t, derrors.IsCode(err, derrors.CodeUnauthorized))
		assert.Equal(t, 1, f.logins)
		assert.Len(t, f.userCalls, 2)
	})
}

func TestCheckAuthorizedLogsInOnceWhenRefreshRejected(t *testing.T) {
	blob := storage.NewMemory([]byte("rt-0"))
	f := &fakeProvider{claims: oidc.Claims{{Type: "email_verified", Value: "true"}}}
	m := newTestManager(blob, f)
	ctx := context.Background()

	_, err := m.Bootstrap(ctx)
	require.NoError(t, err)

	f.invalid = map[string]bool{m.Current().RefreshToken: true}

	ok, err := m.CheckAuthorized(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, f.logins)
	assert.Equal(t, m.Current().RefreshToken, storedToken(t, blob))
}

func TestLoginFailure(t *testing.T) {
	f := &fakeProvider{loginErr: errors.New("browser closed")}
	m := newTestManager(storage.NewMemory(nil), f)

	_, err := m.Bootstrap(context.Background())
	assert.True(t, derrors.IsCode(err, derrors.CodeLoginFailed))
	assert.Nil(t, m.Current())
}

func TestLogout(t *testing.T) {
	blob := storage.NewMemory(nil)
	m := newTestManager(blob, &fakeProvider{})
	ctx := context.Background()

	_, err := m.Bootstrap(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Logout(ctx))
	assert.Nil(t, m.Current())
	assert.Empty(t, storedToken(t, blob))
}

func TestRefreshStore(t *testing.T) {
	ctx := context.Background()
	rs := NewRefreshStore(storage.NewMemory(nil))

	tok, err := rs.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, tok)

	require.NoError(t, rs.Save(ctx, "rt-1"))
	tok, err = rs.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rt-1", tok)

	require.NoError(t, rs.Delete(ctx))
	require.NoError(t, rs.Delete(ctx))
}
