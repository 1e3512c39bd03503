package dpop

import (
	"fmt"
	"net/url"
	"strings"
)

// CanonicalURL returns the htu form of a request URL: lower-cased scheme and
// host, default ports removed, path kept as-is, query and fragment dropped.
func CanonicalURL(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%s: empty URL", MsgFailedDPoP)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%s: %w", MsgFailedDPoP, err)
	}

	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%s: URL %q must have a scheme and a host", MsgFailedDPoP, raw)
	}

	return Origin(u) + canonicalPath(u), nil
}

// Origin returns scheme://host[:port] with default ports removed.
func Origin(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	if port := u.Port(); port != "" {
		if !(scheme == "https" && port == "443") && !(scheme == "http" && port == "80") {
			host += ":" + port
		}
	}

	return scheme + "://" + host
}

func canonicalPath(u *url.URL) string {
	path := u.EscapedPath()
	if path == "" {
		return "/"
	}
	return path
}
