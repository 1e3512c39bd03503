package dpop

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// decodeProof splits a compact proof into its header and payload objects.
func decodeProof(t *testing.T, proof string) (map[string]any, map[string]any) {
	t.Helper()

	parts := strings.Split(proof, ".")
	require.Len(t, parts, 3, "proof must be a compact JWS")

	decode := func(segment string) map[string]any {
		b, err := base64.RawURLEncoding.DecodeString(segment)
		require.NoError(t, err)
		var out map[string]any
		require.NoError(t, json.Unmarshal(b, &out))
		return out
	}

	return decode(parts[0]), decode(parts[1])
}

func mustGenerateKey(t *testing.T, kt KeyType) *ProofKey {
	t.Helper()
	k, err := GenerateKey(kt)
	require.NoError(t, err)
	return k
}

// recordingProofs records every proof request and returns a fixed proof.
type recordingProofs struct {
	calls []ProofRequest
	err   error
}

func (r *recordingProofs) CreateProof(req ProofRequest) (string, error) {
	r.calls = append(r.calls, req)
	if r.err != nil {
		return "", r.err
	}
	return "proof-" + req.Nonce, nil
}
