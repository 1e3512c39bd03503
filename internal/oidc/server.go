package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	derrors "github.com/mickaelvieira/dpop-oidc-client-go/internal/errors"
	"golang.org/x/oauth2"
)

// ProviderMetadata holds the endpoints the client uses. Other discovery
// fields are ignored and nothing is validated beyond their presence.
// https://openid.net/specs/openid-connect-discovery-1_0.html#ProviderMetadata
type ProviderMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint"`
	JwksURI                           string   `json:"jwks_uri"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	EndSessionEndpoint                string   `json:"end_session_endpoint"`
	ScopesSupported                   []string `json:"scopes_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	DPoPSigningAlgValuesSupported     []string `json:"dpop_signing_alg_values_supported"`
}

func (m ProviderMetadata) Endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:   m.AuthorizationEndpoint,
		TokenURL:  m.TokenEndpoint,
		AuthStyle: oauth2.AuthStyleInHeader,
	}
}

// SupportsDPoPAlgorithm reports whether the provider advertises alg. A
// provider that advertises nothing is assumed to accept any algorithm.
func (m ProviderMetadata) SupportsDPoPAlgorithm(alg string) bool {
	if len(m.DPoPSigningAlgValuesSupported) == 0 {
		return true
	}
	for _, a := range m.DPoPSigningAlgValuesSupported {
		if a == alg {
			return true
		}
	}
	return false
}

func FetchProviderMetadata(ctx context.Context, client *http.Client, issuer string) (ProviderMetadata, error) {
	endpoint := fmt.Sprintf("%s/.well-known/openid-configuration", strings.TrimSuffix(issuer, "/"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ProviderMetadata{}, derrors.Wrap(derrors.CodeInvalidResponse, MsgFailedDiscovery, err)
	}

	res, err := client.Do(req)
	if err != nil {
		return ProviderMetadata{}, derrors.Wrap(derrors.CodeInvalidResponse, MsgFailedDiscovery, err)
	}

	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return ProviderMetadata{}, derrors.New(derrors.CodeInvalidResponse, fmt.Sprintf("%s: status %d", MsgFailedDiscovery, res.StatusCode))
	}

	var data ProviderMetadata
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		return ProviderMetadata{}, derrors.Wrap(derrors.CodeInvalidResponse, MsgFailedParsing, err)
	}

	if data.TokenEndpoint == "" {
		return ProviderMetadata{}, derrors.New(derrors.CodeInvalidResponse, MsgFailedDiscovery+": missing token_endpoint")
	}

	return data, nil
}
