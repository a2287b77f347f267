package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/pendergraft/contraverify/internal/chains/evm"
)

// projectConfigFile is the project config file name
const projectConfigFile = "contraverify.toml"

// ProjectConfig is the project-level TOML configuration
type ProjectConfig struct {
	Server            string          `toml:"server"`
	IPFSGateway       string          `toml:"ipfs_gateway,omitempty"`
	RPCTimeoutSeconds int             `toml:"rpc_timeout_seconds,omitempty"`
	Compilers         CompilersConfig `toml:"compilers"`
	Chains            []evm.Config    `toml:"chains,omitempty"`
}

// CompilersConfig locates the compiler binaries used for local verification
type CompilersConfig struct {
	SolcDir        string `toml:"solc_dir,omitempty"`
	SolcAltDir     string `toml:"solc_alt_dir,omitempty"`
	VyperDir       string `toml:"vyper_dir,omitempty"`
	TimeoutSeconds int    `toml:"timeout_seconds,omitempty"`
}

func defaultProjectConfig() *ProjectConfig {
	return &ProjectConfig{
		Server:            "http://localhost:8080",
		IPFSGateway:       "https://ipfs.io",
		RPCTimeoutSeconds: 10,
		Compilers: CompilersConfig{
			SolcDir:        "./compilers/solc",
			VyperDir:       "./compilers/vyper",
			TimeoutSeconds: 300,
		},
	}
}

// chain returns the configured chain with id.
func (c *ProjectConfig) chain(id uint64) (evm.Config, error) {
	for _, ch := range c.Chains {
		if ch.ID == id {
			return ch, nil
		}
	}
	return evm.Config{}, fmt.Errorf("chain %d is not configured in %s (or pass --rpc)", id, projectConfigFile)
}

func (c *ProjectConfig) rpcTimeout() time.Duration {
	if c.RPCTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.RPCTimeoutSeconds) * time.Second
}

func createConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	cmd.AddCommand(createConfigInitCmd())
	cmd.AddCommand(createConfigShowCmd())

	return cmd
}

func createConfigInitCmd() *cobra.Command {
	var serverURL string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create config file",
		Long: `Create a contraverify.toml configuration file in the current directory.

This file stores the server URL, where compiler binaries live and the
RPC providers used by local verification.

EXAMPLES:
  # Create config with default server
  contraverify config init

  # Create config for a specific server
  contraverify config init --server https://verify.example.com

  # Overwrite existing config
  contraverify config init --force
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(projectConfigFile, serverURL, force)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "server URL")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")

	return cmd
}

func createConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current config",
		Long: `Display the current configuration.

EXAMPLES:
  contraverify config show
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow()
		},
	}
}

func runConfigInit(configPath, serverURL string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
	}

	content := fmt.Sprintf(`# Contraverify project configuration

server = "%s"

# Gateway used to fetch on-chain metadata for perfect matches ("" disables)
ipfs_gateway = "https://ipfs.io"
rpc_timeout_seconds = 10

[compilers]
# Binaries are named solc-<version> / vyper-<version>
solc_dir = "./compilers/solc"
# solc_alt_dir = "./compilers/solc-emscripten"
vyper_dir = "./compilers/vyper"
timeout_seconds = 300

# RPC providers for local verification. trace is "trace_transaction" or
# "debug_traceTransaction" when the provider can trace factory deployments.
# [[chains]]
# id = 1
# name = "mainnet"
#   [[chains.rpc]]
#   url = "https://eth.example.org/${ETH_API_KEY}"
#   trace = "trace_transaction"
`, serverURL)

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Created %s\n", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Printf("  1. Add your chains and compiler directories to %s\n", configPath)
	fmt.Println("  2. Run 'forge build' so build-info is available")
	fmt.Println("  3. Run 'contraverify verify MyContract --chain-id 1 --address 0x...'")

	return nil
}

func runConfigShow() error {
	fmt.Println("Configuration sources (in order of precedence):")
	fmt.Println()

	fmt.Println("1. Command line flags")
	fmt.Println("   --server, --config")
	fmt.Println()

	fmt.Println("2. Environment variables")
	if env := os.Getenv("CONTRAVERIFY_SERVER"); env != "" {
		fmt.Printf("   CONTRAVERIFY_SERVER=%s\n", env)
	} else {
		fmt.Println("   CONTRAVERIFY_SERVER=(not set)")
	}
	fmt.Println()

	fmt.Println("3. Project config (contraverify.toml)")
	cfg, path, err := loadProjectConfig()
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("   (not found)")
		} else {
			fmt.Printf("   Error: %v\n", err)
		}
	} else {
		fmt.Printf("   Loaded from: %s\n", path)
		fmt.Printf("   ipfs_gateway: %s\n", cfg.IPFSGateway)
		fmt.Printf("   solc_dir: %s\n", cfg.Compilers.SolcDir)
		if cfg.Compilers.SolcAltDir != "" {
			fmt.Printf("   solc_alt_dir: %s\n", cfg.Compilers.SolcAltDir)
		}
		fmt.Printf("   vyper_dir: %s\n", cfg.Compilers.VyperDir)
		for _, ch := range cfg.Chains {
			fmt.Printf("   chain %d (%s): %d provider(s)\n", ch.ID, ch.Name, len(ch.Providers))
		}
	}
	fmt.Println()

	fmt.Println("Effective configuration:")
	fmt.Printf("   Server: %s\n", getServer())

	return nil
}

// loadProjectConfig loads the project config over the defaults.
// Returns the config, the path it was loaded from, and an error.
func loadProjectConfig() (*ProjectConfig, string, error) {
	path := cfgFile
	if path == "" {
		path = projectConfigFile
	}
	if _, err := os.Stat(path); err != nil {
		return nil, path, err
	}
	cfg, err := loadProjectConfigFromPath(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// loadProjectConfigFromPath loads a project config from a specific path
func loadProjectConfigFromPath(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := defaultProjectConfig()
	if _, err := toml.Decode(string(data), config); err != nil {
		return nil, fmt.Errorf("parsing TOML: %w", err)
	}
	for i := range config.Chains {
		for j := range config.Chains[i].Providers {
			config.Chains[i].Providers[j].URL = os.ExpandEnv(config.Chains[i].Providers[j].URL)
		}
	}

	return config, nil
}

// loadProjectConfigSilent loads the project config without returning errors for missing files.
// Returns nil if the file doesn't exist, but reports parse failures.
func loadProjectConfigSilent() *ProjectConfig {
	config, _, err := loadProjectConfig()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		fmt.Fprintf(os.Stderr, "Warning: failed to load project config: %v\n", err)
		return nil
	}
	return config
}

// projectConfigOrDefault is the loaded project config, or the defaults.
func projectConfigOrDefault() *ProjectConfig {
	if cfg := loadProjectConfigSilent(); cfg != nil {
		return cfg
	}
	return defaultProjectConfig()
}
