package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	derrors "github.com/mickaelvieira/dpop-oidc-client-go/internal/errors"
	"github.com/mickaelvieira/dpop-oidc-client-go/internal/storage"
	"golang.org/x/oauth2"
)

const MsgFailedRefreshStore = "failed to access refresh token storage"

// Session is the current token pair. Only the refresh token is persisted.
type Session struct {
	AccessToken   string
	RefreshToken  string
	TokenType     string
	Expiry        time.Time
	KeyThumbprint string
}

func newSession(tok *oauth2.Token, previousRefresh, thumbprint string) *Session {
	s := &Session{
		AccessToken:   tok.AccessToken,
		RefreshToken:  tok.RefreshToken,
		TokenType:     tok.TokenType,
		Expiry:        tok.Expiry,
		KeyThumbprint: thumbprint,
	}
	if s.RefreshToken == "" {
		s.RefreshToken = previousRefresh
	}
	return s
}

// Token returns the access token in the form an oauth2 transport expects.
func (s *Session) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		TokenType:    s.TokenType,
		RefreshToken: s.RefreshToken,
		Expiry:       s.Expiry,
	}
}

func (s *Session) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("access_token", strings.Repeat("x", len(s.AccessToken))),
		slog.String("refresh_token", strings.Repeat("x", len(s.RefreshToken))),
		slog.String("token_type", s.TokenType),
		slog.Time("expiry", s.Expiry),
		slog.String("jkt", s.KeyThumbprint))
}

// RefreshStore persists the single current refresh token.
type RefreshStore struct {
	blob storage.Blob
}

func NewRefreshStore(blob storage.Blob) *RefreshStore {
	return &RefreshStore{blob: blob}
}

// Load returns the stored refresh token, or an empty string when there is none.
func (r *RefreshStore) Load(ctx context.Context) (string, error) {
	b, err := r.blob.Load(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", derrors.Wrap(derrors.CodeStorageUnavailable, MsgFailedRefreshStore, err)
	}
	return strings.TrimSpace(string(b)), nil
}

func (r *RefreshStore) Save(ctx context.Context, token string) error {
	if err := r.blob.Save(ctx, []byte(token)); err != nil {
		return derrors.Wrap(derrors.CodeStorageUnavailable, MsgFailedRefreshStore, err)
	}
	return nil
}

func (r *RefreshStore) Delete(ctx context.Context) error {
	if err := r.blob.Delete(ctx); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return derrors.Wrap(derrors.CodeStorageUnavailable, MsgFailedRefreshStore, err)
	}
	return nil
}
