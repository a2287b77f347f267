package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	server  string
	verbose bool
)

// Execute runs the CLI
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "contraverify",
		Short:   "Smart contract bytecode verification CLI",
		Long:    `Contraverify recompiles contract sources and checks them against the bytecode deployed on chain.`,
		Version: version,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: contraverify.toml)")
	rootCmd.PersistentFlags().StringVar(&server, "server", "", "server URL (default from config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log every verification step")

	rootCmd.AddCommand(createVerifyCmd())
	rootCmd.AddCommand(createRemoteCmd())
	rootCmd.AddCommand(createConfigCmd())

	return rootCmd
}

// getServer returns the server URL from flag, env, config file, or the default
func getServer() string {
	// 1. Command line flag
	if server != "" {
		return server
	}

	// 2. Environment variable
	if env := os.Getenv("CONTRAVERIFY_SERVER"); env != "" {
		return env
	}

	// 3. Project config file (TOML)
	if config := loadProjectConfigSilent(); config != nil && config.Server != "" {
		return config.Server
	}

	// 4. Default
	return "http://localhost:8080"
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
