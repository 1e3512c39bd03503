package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const EnvPrefix = "DPOP_CLIENT_"

type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	DPoP     DPoPConfig     `yaml:"dpop"`
	Storage  StorageConfig  `yaml:"storage"`
	HTTP     HTTPConfig     `yaml:"http"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ProviderConfig struct {
	Issuer           string   `yaml:"issuer"`
	ClientID         string   `yaml:"client_id"`
	ClientSecret     string   `yaml:"client_secret"`
	AuthMethod       string   `yaml:"auth_method"`
	AssertionKeyPath string   `yaml:"assertion_key_path"`
	Scopes           []string `yaml:"scopes"`
	RedirectURI      string   `yaml:"redirect_uri"`
	VerifiedClaim    string   `yaml:"verified_claim"`
	APIURL           string   `yaml:"api_url"`

	// Endpoints skip discovery when TokenEndpoint is set.
	AuthorizationEndpoint string `yaml:"authorization_endpoint"`
	TokenEndpoint         string `yaml:"token_endpoint"`
	UserinfoEndpoint      string `yaml:"userinfo_endpoint"`
}

type DPoPConfig struct {
	KeyType     string `yaml:"key_type"`
	RetryPolicy string `yaml:"retry_policy"`
	BindCode    bool   `yaml:"bind_authorization_code"`
}

type StorageConfig struct {
	Backend          string `yaml:"backend"`
	KeyPath          string `yaml:"key_path"`
	RefreshTokenPath string `yaml:"refresh_token_path"`
	DatabasePath     string `yaml:"database_path"`
}

type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type ServerConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	SessionSecret string        `yaml:"session_secret"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"

	RetryOnFailure     = "on_failure"
	RetryOnNonceChange = "on_nonce_change"
)

func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			AuthMethod:    "client_secret_basic",
			Scopes:        []string{"openid", "profile", "offline_access"},
			RedirectURI:   "http://localhost:2001/signin-oidc",
			VerifiedClaim: "email_verified",
		},
		DPoP: DPoPConfig{
			KeyType:     "EC",
			RetryPolicy: RetryOnFailure,
			BindCode:    true,
		},
		Storage: StorageConfig{
			Backend:          BackendFile,
			KeyPath:          "proofkey.json",
			RefreshTokenPath: "refresh_token",
			DatabasePath:     "dpop-client.db",
		},
		HTTP: HTTPConfig{
			Timeout: 60 * time.Second,
		},
		Server: ServerConfig{
			Host:          "127.0.0.1",
			Port:          9000,
			CheckInterval: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// DPOP_CLIENT_* environment overrides. A missing file is not an error when
// optional is set.
func Load(path string, optional bool) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case optional && errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	cfg.ApplyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnv overrides secrets and endpoints from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	set("ISSUER", &c.Provider.Issuer)
	set("CLIENT_ID", &c.Provider.ClientID)
	set("CLIENT_SECRET", &c.Provider.ClientSecret)
	set("API_URL", &c.Provider.APIURL)
	set("SESSION_SECRET", &c.Server.SessionSecret)
	set("STORAGE_BACKEND", &c.Storage.Backend)
	set("LOG_LEVEL", &c.Logging.Level)
	set("LOG_FORMAT", &c.Logging.Format)
}

func (c *Config) Validate() error {
	var errs []error

	if c.Provider.Issuer == "" && c.Provider.TokenEndpoint == "" {
		errs = append(errs, errors.New("provider.issuer or provider.token_endpoint is required"))
	}

	if c.Provider.ClientID == "" {
		errs = append(errs, errors.New("provider.client_id is required"))
	}

	switch c.Provider.AuthMethod {
	case "client_secret_basic", "client_secret_post":
		if c.Provider.ClientSecret == "" {
			errs = append(errs, fmt.Errorf("provider.client_secret is required for %s", c.Provider.AuthMethod))
		}
	case "private_key_jwt":
		if c.Provider.AssertionKeyPath == "" {
			errs = append(errs, errors.New("provider.assertion_key_path is required for private_key_jwt"))
		}
	case "none":
	default:
		errs = append(errs, fmt.Errorf("unsupported provider.auth_method %q", c.Provider.AuthMethod))
	}

	switch strings.ToUpper(c.DPoP.KeyType) {
	case "EC", "RSA":
	default:
		errs = append(errs, fmt.Errorf("unsupported dpop.key_type %q", c.DPoP.KeyType))
	}

	switch c.DPoP.RetryPolicy {
	case RetryOnFailure, RetryOnNonceChange:
	default:
		errs = append(errs, fmt.Errorf("unsupported dpop.retry_policy %q", c.DPoP.RetryPolicy))
	}

	switch c.Storage.Backend {
	case BackendFile, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("unsupported storage.backend %q", c.Storage.Backend))
	}

	if c.Server.CheckInterval <= 0 {
		errs = append(errs, errors.New("server.check_interval must be positive"))
	}

	return errors.Join(errs...)
}
