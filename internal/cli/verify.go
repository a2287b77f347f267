package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/pendergraft/contraverify/internal/chains/evm"
	"github.com/pendergraft/contraverify/internal/compiler"
	"github.com/pendergraft/contraverify/internal/sources"
	"github.com/pendergraft/contraverify/internal/validation"
	"github.com/pendergraft/contraverify/internal/verification/compilation"
	"github.com/pendergraft/contraverify/internal/verification/engine"
	"github.com/pendergraft/contraverify/internal/verification/match"
)

type verifyOptions struct {
	projectDir   string
	contract     string
	chainID      uint64
	address      string
	txHash       string
	rpcURL       string
	trace        string
	fromMetadata bool
	jsonOutput   bool
}

func createVerifyCmd() *cobra.Command {
	var opts verifyOptions

	cmd := &cobra.Command{
		Use:   "verify <contract>",
		Short: "Verify a deployed contract against local sources",
		Long: `Recompile a contract of the Foundry project in the current directory and
match it against the bytecode deployed at --address. Runs entirely locally:
compilers come from contraverify.toml and the chain is read over RPC.

<contract> is a contract name or a "path:Name" identifier.

EXAMPLES:
  # Verify runtime code
  contraverify verify Token --chain-id 1 --address 0x1234...

  # Also match the creation code and constructor arguments
  contraverify verify src/Token.sol:Token \
    --chain-id 1 \
    --address 0x1234... \
    --tx 0xabcd...

  # Use a one-off RPC URL
  contraverify verify Token --chain-id 11155111 --address 0x1234... \
    --rpc https://sepolia.example.com
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.contract = args[0]
			return runVerify(cmd.Context(), opts)
		},
	}

	addVerifyFlags(cmd, &opts)
	cmd.Flags().StringVar(&opts.rpcURL, "rpc", "", "RPC URL (default: chain from contraverify.toml)")
	cmd.Flags().StringVar(&opts.trace, "trace", "", "tracing API of --rpc: trace_transaction or debug_traceTransaction")

	return cmd
}

// addVerifyFlags registers the flags shared by local and remote verification.
func addVerifyFlags(cmd *cobra.Command, opts *verifyOptions) {
	cmd.Flags().StringVar(&opts.projectDir, "project", ".", "Foundry project directory")
	cmd.Flags().Uint64Var(&opts.chainID, "chain-id", 0, "chain ID (required)")
	cmd.Flags().StringVar(&opts.address, "address", "", "contract address (required)")
	cmd.Flags().StringVar(&opts.txHash, "tx", "", "creation transaction hash")
	cmd.Flags().BoolVar(&opts.fromMetadata, "from-metadata", false, "rebuild the input from artifact metadata instead of build-info")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "print the verification export as JSON")
	_ = cmd.MarkFlagRequired("chain-id")
	_ = cmd.MarkFlagRequired("address")
}

func (o verifyOptions) validate() error {
	if err := validation.ValidateAddress(o.address); err != nil {
		return err
	}
	if err := validation.ValidateChainID(o.chainID); err != nil {
		return err
	}
	if o.txHash != "" {
		if err := validation.ValidateTxHash(o.txHash); err != nil {
			return err
		}
	}
	return nil
}

func runVerify(ctx context.Context, opts verifyOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := opts.validate(); err != nil {
		return err
	}

	cfg := projectConfigOrDefault()
	logger := newLogger()

	in, err := loadProjectInput(opts.projectDir, opts.contract, opts.fromMetadata)
	if err != nil {
		return err
	}

	chainCfg := evm.Config{ID: opts.chainID, Providers: []evm.Provider{{URL: opts.rpcURL, Trace: evm.TraceMethod(opts.trace)}}}
	if opts.rpcURL == "" {
		if chainCfg, err = cfg.chain(opts.chainID); err != nil {
			return err
		}
	}
	if err := chainCfg.Validate(); err != nil {
		return fmt.Errorf("chain %d: %w", opts.chainID, err)
	}

	chain, err := evm.Dial(ctx, chainCfg, cfg.rpcTimeout(), logger)
	if err != nil {
		return err
	}
	defer chain.Close()

	exec, err := compiler.New(compiler.Config{
		SolcDir:    cfg.Compilers.SolcDir,
		SolcAltDir: cfg.Compilers.SolcAltDir,
		VyperDir:   cfg.Compilers.VyperDir,
		Timeout:    seconds(cfg.Compilers.TimeoutSeconds),
	}, logger)
	if err != nil {
		return err
	}

	engineOpts := []engine.Option{engine.WithLogger(logger)}
	if cfg.IPFSGateway != "" {
		gateway := sources.NewGateway(cfg.IPFSGateway, cfg.rpcTimeout())
		engineOpts = append(engineOpts, engine.WithMetadataRecoverer(sources.NewRecoverer(gateway, logger)))
	}

	req := engine.Request{
		Address:     common.HexToAddress(opts.address),
		ChainID:     opts.chainID,
		Compilation: newCompilation(exec, in),
	}
	if opts.txHash != "" {
		h := common.HexToHash(opts.txHash)
		req.CreationTxHash = &h
	}

	if !opts.jsonOutput {
		fmt.Printf("🔍 Verifying %s (%s %s)\n", in.Target, in.Language, in.Version)
		fmt.Printf("   Chain:   %d\n", opts.chainID)
		fmt.Printf("   Address: %s\n", opts.address)
	}

	v, err := engine.New(chain, engineOpts...).Verify(ctx, req)
	if v == nil {
		return fmt.Errorf("verification failed: %s: %w", engine.ErrorCode(err), err)
	}

	export, exportErr := v.Export()
	if exportErr != nil {
		return exportErr
	}
	if opts.jsonOutput {
		if err := printJSON(os.Stdout, export); err != nil {
			return err
		}
	} else {
		printStatus(os.Stdout, statusPtr(export.Status.RuntimeMatch), statusPtr(export.Status.CreationMatch), export.CreationError)
	}
	return err
}

func newCompilation(c compilation.Compiler, in *projectInput) *compilation.Compilation {
	return compilation.New(c, in.Language, in.Version, in.Input, in.Target)
}

func statusPtr(s *match.Status) *string {
	if s == nil {
		return nil
	}
	str := string(*s)
	return &str
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
