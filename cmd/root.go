package cmd

import (
	"os"

	"github.com/mickaelvieira/dpop-oidc-client-go/internal/config"
	"github.com/spf13/cobra"
)

var BuildVersion = "dev"

const defaultConfigPath = "config.yaml"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "dpop-client",
	Short:         "DPoP-bound OIDC client",
	Long:          "Keeps a DPoP-bound access token valid and checks the user's authorization state.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML config file. Can also be set via DPOP_CLIENT_CONFIG.")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number of the DPoP client",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("%s\n", BuildVersion)
		},
	})
}

// setup loads the configuration and wires the client for a command.
func setup(cmd *cobra.Command) (*app, error) {
	path := configPath
	if path == "" {
		path = os.Getenv(config.EnvPrefix + "CONFIG")
	}

	optional := path == ""
	if optional {
		path = defaultConfigPath
	}

	cfg, err := config.Load(path, optional)
	if err != nil {
		return nil, err
	}

	logger := config.InitLogger(cfg.Logging, cmd.ErrOrStderr())

	return newApp(cmd.Context(), cfg, logger)
}

func Execute() error {
	return rootCmd.Execute()
}
