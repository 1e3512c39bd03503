package main

import (
	"os"

	"github.com/mickaelvieira/dpop-oidc-client-go/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
