package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mickaelvieira/dpop-oidc-client-go/internal/dpop"
)

func main() {
	kty := flag.String("type", "EC", "The key type to generate: EC (P-256) or RSA (2048 bits)")
	out := flag.String("out", "", "Write the key to this file (mode 0600) instead of stdout")
	flag.Parse()

	// Generate a private JWK usable as a proof key or a private_key_jwt assertion key
	key, err := dpop.GenerateKey(dpop.KeyType(strings.ToUpper(*kty)))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	b, err := key.MarshalJSON()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *out == "" {
		fmt.Printf("%s\n", b)
		return
	}

	if err := os.WriteFile(*out, b, 0o600); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
