// Package dpop implements the client side of OAuth 2.0 Demonstrating
// Proof-of-Possession (RFC 9449).
//
// A ProofKey is loaded or created once through a KeyStore and shared by every
// proof built during the process lifetime. Each outgoing request gets a fresh
// proof from a Factory: a compact JWS with typ "dpop+jwt", the public JWK of the
// proof key in its header, and the jti, htm, htu, iat, ath and nonce claims.
//
// Transport is an http.RoundTripper that attaches the proof, remembers the
// DPoP-Nonce the server hands out and, when the nonce changes on a failed
// response, resends the request once with a proof carrying the new nonce:
//
//	key, err := dpop.NewKeyStore(storage.NewFile("proofkey")).GetOrCreateKey(ctx)
//	transport := dpop.NewTransport(dpop.NewFactory(key))
//	res, err := transport.Send(req, accessToken)
//
// A Transport tracks a single nonce. OriginTransport keeps one Transport per
// origin so that nonces issued by different servers never mix.
package dpop
