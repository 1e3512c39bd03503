package oidc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/mickaelvieira/dpop-oidc-client-go/internal/dpop"
	derrors "github.com/mickaelvieira/dpop-oidc-client-go/internal/errors"
)

// Claim is a single user-info claim. Non-string values keep their JSON text.
type Claim struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type Claims []Claim

// ParseClaims flattens a user-info JSON object. An array yields one claim per
// element and null values are dropped. Claims are ordered by type.
func ParseClaims(data []byte) (Claims, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, derrors.Wrap(derrors.CodeInvalidResponse, MsgFailedParsing, err)
	}

	types := make([]string, 0, len(raw))
	for t := range raw {
		types = append(types, t)
	}
	sort.Strings(types)

	var claims Claims
	for _, t := range types {
		value := bytes.TrimSpace(raw[t])

		if len(value) > 0 && value[0] == '[' {
			var items []json.RawMessage
			if err := json.Unmarshal(value, &items); err != nil {
				return nil, derrors.Wrap(derrors.CodeInvalidResponse, MsgFailedParsing, err)
			}
			for _, item := range items {
				if v, ok := claimValue(item); ok {
					claims = append(claims, Claim{Type: t, Value: v})
				}
			}
			continue
		}

		if v, ok := claimValue(value); ok {
			claims = append(claims, Claim{Type: t, Value: v})
		}
	}

	return claims, nil
}

func claimValue(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}

	var s string
	if raw[0] == '"' && json.Unmarshal(raw, &s) == nil {
		return s, true
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return string(raw), true
	}
	return compact.String(), true
}

// Find returns the value of the first claim of type t.
func (c Claims) Find(t string) (string, bool) {
	for _, claim := range c {
		if claim.Type == t {
			return claim.Value, true
		}
	}
	return "", false
}

func (c Claims) Values(t string) []string {
	var values []string
	for _, claim := range c {
		if claim.Type == t {
			values = append(values, claim.Value)
		}
	}
	return values
}

// Bool reads claim t as a boolean.
func (c Claims) Bool(t string) (bool, error) {
	v, ok := c.Find(t)
	if !ok {
		return false, derrors.New(derrors.CodeMissingClaim, fmt.Sprintf("claim %q not present", t))
	}

	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, derrors.Wrap(derrors.CodeInvalidResponse, fmt.Sprintf("claim %q is not a boolean", t), err)
	}
	return b, nil
}

// UserInfo fetches the claims of the user owning accessToken. The request is
// sent with a DPoP authorization header, so the transport binds the proof to
// the token.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (Claims, error) {
	if c.metadata.UserinfoEndpoint == "" {
		return nil, derrors.New(derrors.CodeInvalidResponse, MsgFailedUserInfo+": provider has no userinfo_endpoint")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.metadata.UserinfoEndpoint, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", dpop.SchemeDPoP+" "+accessToken)
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", MsgFailedUserInfo, err)
	}

	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", MsgFailedUserInfo, err)
	}

	switch res.StatusCode {
	case http.StatusOK:
		return ParseClaims(b)
	case http.StatusUnauthorized:
		challenge := parseChallenge(res.Header.Get("WWW-Authenticate"))
		if challenge.Code == OAuthNonceErrorCode {
			return nil, derrors.Wrap(derrors.CodeNonceRetryExhausted, MsgFailedUserInfo, challenge)
		}
		return nil, derrors.Wrap(derrors.CodeUnauthorized, MsgFailedUserInfo, challenge)
	}

	return nil, derrors.New(derrors.CodeInvalidResponse, fmt.Sprintf("%s: status %d", MsgFailedUserInfo, res.StatusCode))
}

// parseChallenge reads the error attributes of a WWW-Authenticate header.
// https://datatracker.ietf.org/doc/html/rfc6750#section-3
func parseChallenge(header string) ErrorResponse {
	e := ErrorResponse{Code: OAuthInvalidTokenCode}

	_, params, _ := strings.Cut(header, " ")
	for _, part := range strings.Split(params, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		v = strings.Trim(v, `"`)
		switch k {
		case "error":
			e.Code = v
		case "error_description":
			e.Description = v
		case "error_uri":
			e.URI = v
		}
	}

	return e
}
