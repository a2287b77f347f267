package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pendergraft/contraverify/pkg/client"
)

func createRemoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Verify and look up contracts through a contraverify server",
	}

	cmd.AddCommand(createRemoteVerifyCmd())
	cmd.AddCommand(createRemoteGetCmd())
	cmd.AddCommand(createRemoteListCmd())

	return cmd
}

func createRemoteVerifyCmd() *cobra.Command {
	var opts verifyOptions

	cmd := &cobra.Command{
		Use:   "verify <contract>",
		Short: "Submit local sources to the server for verification",
		Long: `Send the compiler input of a Foundry project contract to the server, which
compiles it, matches it against the chain and stores the result.

EXAMPLES:
  contraverify remote verify Token --chain-id 1 --address 0x1234...
  contraverify --server https://verify.example.com remote verify src/Token.sol:Token \
    --chain-id 1 --address 0x1234... --tx 0xabcd...
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.contract = args[0]
			return runRemoteVerify(cmd.Context(), client.New(getServer()), opts)
		},
	}

	addVerifyFlags(cmd, &opts)
	return cmd
}

func runRemoteVerify(ctx context.Context, c *client.Client, opts verifyOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := opts.validate(); err != nil {
		return err
	}

	in, err := loadProjectInput(opts.projectDir, opts.contract, opts.fromMetadata)
	if err != nil {
		return err
	}
	input, err := json.Marshal(in.Input)
	if err != nil {
		return fmt.Errorf("encoding compiler input: %w", err)
	}

	if !opts.jsonOutput {
		fmt.Printf("🔍 Submitting %s (%s %s)\n", in.Target, in.Language, in.Version)
	}

	resp, err := c.Verify(ctx, client.VerifyRequest{
		ChainID:            opts.chainID,
		Address:            opts.address,
		CreationTxHash:     opts.txHash,
		Language:           string(in.Language),
		CompilerVersion:    in.Version,
		ContractIdentifier: in.Target.String(),
		StdJSONInput:       input,
	})
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}

	if opts.jsonOutput {
		return printJSON(os.Stdout, resp)
	}
	printStatus(os.Stdout, resp.Verification.Status.RuntimeMatch, resp.Verification.Status.CreationMatch, resp.Verification.CreationError)
	if !resp.Stored {
		fmt.Println("   A better match is already stored; it was kept")
	}
	return nil
}

func createRemoteGetCmd() *cobra.Command {
	var chainID uint64
	var address string

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show the stored verification of an address",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemoteGet(cmd.Context(), client.New(getServer()), chainID, address)
		},
	}

	cmd.Flags().Uint64Var(&chainID, "chain-id", 0, "chain ID (required)")
	cmd.Flags().StringVar(&address, "address", "", "contract address (required)")
	_ = cmd.MarkFlagRequired("chain-id")
	_ = cmd.MarkFlagRequired("address")

	return cmd
}

func runRemoteGet(ctx context.Context, c *client.Client, chainID uint64, address string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	vc, err := c.Get(ctx, chainID, address)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, vc)
}

func createRemoteListCmd() *cobra.Command {
	var opts client.ListOptions

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List verified contracts",
		Long: `List verified contracts, newest first.

EXAMPLES:
  contraverify remote list --chain-id 1 --match perfect
  contraverify remote list --limit 50 --cursor 01920a...
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemoteList(cmd.Context(), client.New(getServer()), opts)
		},
	}

	cmd.Flags().Uint64Var(&opts.ChainID, "chain-id", 0, "only this chain")
	cmd.Flags().StringVar(&opts.Match, "match", "", "only perfect or partial matches")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "page size")
	cmd.Flags().StringVar(&opts.Cursor, "cursor", "", "cursor from a previous page")

	return cmd
}

func runRemoteList(ctx context.Context, c *client.Client, opts client.ListOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	resp, err := c.List(ctx, opts)
	if err != nil {
		return err
	}

	if len(resp.Data) == 0 {
		fmt.Println("No verified contracts found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHAIN\tADDRESS\tCONTRACT\tRUNTIME\tCREATION\tVERIFIED")
	for _, vc := range resp.Data {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			vc.ChainID, truncateAddress(vc.Address), vc.FullyQualifiedName,
			orDash(vc.RuntimeMatch), orDash(vc.CreationMatch), vc.VerifiedAt)
	}
	w.Flush()

	if resp.HasMore {
		fmt.Printf("\nMore results: --cursor %s\n", resp.NextCursor)
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
