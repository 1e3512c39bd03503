package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-logr/logr"
	"github.com/mickaelvieira/dpop-oidc-client-go/internal/config"
	"github.com/mickaelvieira/dpop-oidc-client-go/internal/database"
	"github.com/mickaelvieira/dpop-oidc-client-go/internal/dpop"
	"github.com/mickaelvieira/dpop-oidc-client-go/internal/oidc"
	"github.com/mickaelvieira/dpop-oidc-client-go/internal/session"
	"github.com/mickaelvieira/dpop-oidc-client-go/internal/storage"
)

// app is the fully wired client shared by the commands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	key     *dpop.ProofKey
	api     *dpop.OriginTransport
	manager *session.Manager
}

func openStorage(cfg config.StorageConfig) (keyBlob, refreshBlob storage.Blob, err error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		db, err := database.Open(cfg.DatabasePath)
		if err != nil {
			return nil, nil, err
		}
		st := database.New(db)
		return st.ProofKey, st.RefreshToken, nil
	default:
		return storage.NewFile(cfg.KeyPath), storage.NewFile(cfg.RefreshTokenPath), nil
	}
}

func providerMetadata(ctx context.Context, cfg *config.Config) (oidc.ProviderMetadata, error) {
	p := cfg.Provider
	if p.TokenEndpoint != "" {
		return oidc.ProviderMetadata{
			Issuer:                p.Issuer,
			AuthorizationEndpoint: p.AuthorizationEndpoint,
			TokenEndpoint:         p.TokenEndpoint,
			UserinfoEndpoint:      p.UserinfoEndpoint,
		}, nil
	}

	return oidc.FetchProviderMetadata(ctx, &http.Client{Timeout: cfg.HTTP.Timeout}, p.Issuer)
}

func loadAssertionKey(path string) (jose.JSONWebKey, error) {
	var key jose.JSONWebKey

	b, err := os.ReadFile(path)
	if err != nil {
		return key, err
	}

	if err := json.Unmarshal(b, &key); err != nil {
		return key, fmt.Errorf("invalid assertion key %s: %w", path, err)
	}

	return key, nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	keyBlob, refreshBlob, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}

	dlog := logr.FromSlogHandler(logger.Handler())

	keys := dpop.NewKeyStore(keyBlob,
		dpop.WithKeyType(dpop.KeyType(strings.ToUpper(cfg.DPoP.KeyType))),
		dpop.WithKeyStoreLogger(dlog),
	)

	key, err := keys.GetOrCreateKey(ctx)
	if err != nil {
		return nil, err
	}

	jkt, err := key.Thumbprint()
	if err != nil {
		return nil, err
	}

	policy := dpop.RetryOnFailure
	if cfg.DPoP.RetryPolicy == config.RetryOnNonceChange {
		policy = dpop.RetryOnNonceChange
	}

	factory := dpop.NewFactory(key)

	transport := dpop.NewOriginTransport(factory,
		dpop.WithRetryPolicy(policy),
		dpop.WithLogger(dlog),
	)

	metadata, err := providerMetadata(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if alg, err := key.Algorithm(); err == nil && !metadata.SupportsDPoPAlgorithm(string(alg)) {
		logger.Warn("provider does not advertise the proof key algorithm", "alg", alg, "supported", metadata.DPoPSigningAlgValuesSupported)
	}

	opts := []oidc.Option{
		oidc.WithClientSecret(cfg.Provider.ClientSecret),
		oidc.WithAuthMethod(oidc.AuthMethod(cfg.Provider.AuthMethod)),
		oidc.WithRedirectURI(cfg.Provider.RedirectURI),
		oidc.WithScopes(cfg.Provider.Scopes...),
		oidc.WithTimeout(cfg.HTTP.Timeout),
		oidc.WithLogger(logger),
	}

	if cfg.Provider.AssertionKeyPath != "" {
		k, err := loadAssertionKey(cfg.Provider.AssertionKeyPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, oidc.WithAssertionKey(k))
	}

	client := oidc.NewClient(metadata, cfg.Provider.ClientID, transport, opts...)

	loginOpts := []oidc.LoginOption{oidc.WithLoginLogger(logger)}
	if cfg.DPoP.BindCode {
		loginOpts = append(loginOpts, oidc.WithKeyThumbprint(key.Thumbprint))
	}

	manager := session.NewManager(
		session.NewRefreshStore(refreshBlob),
		client,
		oidc.NewBrowserLogin(client, loginOpts...),
		session.WithVerifiedClaim(cfg.Provider.VerifiedClaim),
		session.WithKeyThumbprint(jkt),
		session.WithLogger(logger),
	)

	api := dpop.NewOriginTransport(factory,
		dpop.WithRetryPolicy(policy),
		dpop.WithTokenSource(manager),
		dpop.WithLogger(dlog),
	)

	logger.Debug("client ready", "issuer", metadata.Issuer, "jkt", jkt, "storage", cfg.Storage.Backend)

	return &app{
		cfg:     cfg,
		logger:  logger,
		key:     key,
		api:     api,
		manager: manager,
	}, nil
}
