// Package evm reads contract code and deployment data from EVM networks over JSON-RPC.
package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/pendergraft/contraverify/internal/chains"
	"github.com/pendergraft/contraverify/internal/observability/metrics"
	"github.com/pendergraft/contraverify/internal/verification/bytecode"
)

// DefaultTimeout bounds each provider attempt when no timeout is configured.
const DefaultTimeout = 10 * time.Second

var (
	// ErrAllProvidersFailed is returned when every provider failed an operation.
	ErrAllProvidersFailed = errors.New("all rpc providers failed")
	// ErrNoProviders is returned when a chain is configured without providers.
	ErrNoProviders = errors.New("no rpc providers configured")
	// ErrChainIDMismatch is returned when a provider serves another network.
	ErrChainIDMismatch = errors.New("provider chain id mismatch")
)

// TraceMethod names the tracing API a provider exposes.
type TraceMethod string

const (
	TraceNone   TraceMethod = ""
	TraceParity TraceMethod = "trace_transaction"
	TraceGeth   TraceMethod = "debug_traceTransaction"
)

// Provider is one RPC endpoint.
type Provider struct {
	URL   string      `yaml:"url" toml:"url"`
	Trace TraceMethod `yaml:"trace,omitempty" toml:"trace,omitempty"`
}

// Config describes one chain.
type Config struct {
	ID        uint64     `yaml:"id" toml:"id"`
	Name      string     `yaml:"name" toml:"name"`
	Providers []Provider `yaml:"rpc" toml:"rpc"`
}

type provider struct {
	host   string
	trace  TraceMethod
	client *rpc.Client
	eth    *ethclient.Client
}

// Chain implements chains.Chain. Providers are tried in order; each attempt gets its
// own timeout and a failure moves on to the next provider.
type Chain struct {
	id        uint64
	name      string
	providers []*provider
	timeout   time.Duration
	logger    *slog.Logger
}

var _ chains.Chain = (*Chain)(nil)

// Dial connects to every provider of cfg. HTTP providers connect lazily.
func Dial(ctx context.Context, cfg Config, timeout time.Duration, logger *slog.Logger) (*Chain, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("%w: chain %d", ErrNoProviders, cfg.ID)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Chain{
		id:      cfg.ID,
		name:    cfg.Name,
		timeout: timeout,
		logger:  logger.With("chain_id", cfg.ID),
	}
	for _, p := range cfg.Providers {
		client, err := rpc.DialContext(ctx, p.URL)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("dialing %s: %w", redact(p.URL), err)
		}
		c.providers = append(c.providers, &provider{
			host:   redact(p.URL),
			trace:  p.Trace,
			client: client,
			eth:    ethclient.NewClient(client),
		})
	}
	return c, nil
}

// Close releases every provider connection.
func (c *Chain) Close() {
	for _, p := range c.providers {
		p.client.Close()
	}
}

// ChainID returns the configured chain id.
func (c *Chain) ChainID() uint64 {
	return c.id
}

// Name returns the configured chain name.
func (c *Chain) Name() string {
	return c.name
}

// CheckChainID asks every provider for its chain id and reports the first mismatch.
func (c *Chain) CheckChainID(ctx context.Context) error {
	for _, p := range c.providers {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		id, err := p.eth.ChainID(callCtx)
		cancel()
		if err != nil {
			c.logger.Warn("could not read provider chain id", "provider", p.host, "error", err)
			continue
		}
		if id.Uint64() != c.id {
			return fmt.Errorf("%w: %s reports %d, configured %d", ErrChainIDMismatch, p.host, id.Uint64(), c.id)
		}
	}
	return nil
}

// GetBytecode returns the code at address on the latest block.
func (c *Chain) GetBytecode(ctx context.Context, address common.Address) (bytecode.Bytecode, error) {
	return try(ctx, c, "eth_getCode", nil, func(ctx context.Context, p *provider) (bytecode.Bytecode, error) {
		code, err := p.eth.CodeAt(ctx, address, nil)
		if err != nil {
			return nil, err
		}
		return bytecode.Bytecode(code), nil
	})
}

type rpcTransaction struct {
	Hash  common.Hash     `json:"hash"`
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Input hexutil.Bytes   `json:"input"`
}

// GetTransaction fetches a transaction. The raw RPC form is decoded so that chains
// with non-standard transaction types still work.
func (c *Chain) GetTransaction(ctx context.Context, hash common.Hash) (*chains.Transaction, error) {
	return try(ctx, c, "eth_getTransactionByHash", nil, func(ctx context.Context, p *provider) (*chains.Transaction, error) {
		var tx *rpcTransaction
		if err := p.client.CallContext(ctx, &tx, "eth_getTransactionByHash", hash); err != nil {
			return nil, err
		}
		if tx == nil {
			return nil, ethereum.NotFound
		}
		return &chains.Transaction{
			Hash:  tx.Hash,
			From:  tx.From,
			To:    tx.To,
			Input: bytecode.Bytecode(tx.Input),
		}, nil
	})
}

type rpcReceipt struct {
	ContractAddress  *common.Address `json:"contractAddress"`
	BlockNumber      hexutil.Uint64  `json:"blockNumber"`
	TransactionIndex hexutil.Uint    `json:"transactionIndex"`
	Status           hexutil.Uint64  `json:"status"`
}

// GetTransactionReceipt fetches a receipt.
func (c *Chain) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*chains.Receipt, error) {
	return try(ctx, c, "eth_getTransactionReceipt", nil, func(ctx context.Context, p *provider) (*chains.Receipt, error) {
		var r *rpcReceipt
		if err := p.client.CallContext(ctx, &r, "eth_getTransactionReceipt", hash); err != nil {
			return nil, err
		}
		if r == nil {
			return nil, ethereum.NotFound
		}
		return &chains.Receipt{
			ContractAddress:  r.ContractAddress,
			BlockNumber:      uint64(r.BlockNumber),
			TransactionIndex: uint(r.TransactionIndex),
			Status:           uint64(r.Status),
		}, nil
	})
}

// GetCreationBytecode recovers the init code that created address inside the
// transaction. Only providers with a trace method are asked.
func (c *Chain) GetCreationBytecode(ctx context.Context, hash common.Hash, address common.Address) (bytecode.Bytecode, error) {
	canTrace := func(p *provider) bool { return p.trace != TraceNone }
	return try(ctx, c, "trace", canTrace, func(ctx context.Context, p *provider) (bytecode.Bytecode, error) {
		switch p.trace {
		case TraceParity:
			var traces []parityTrace
			if err := p.client.CallContext(ctx, &traces, string(TraceParity), hash); err != nil {
				return nil, err
			}
			return creationFromParity(traces, address)
		case TraceGeth:
			var frame callFrame
			if err := p.client.CallContext(ctx, &frame, string(TraceGeth), hash, map[string]any{"tracer": "callTracer"}); err != nil {
				return nil, err
			}
			return creationFromCallFrame(&frame, address)
		default:
			return nil, fmt.Errorf("%w: %q", chains.ErrTraceUnsupported, p.trace)
		}
	})
}

// try runs fn against each eligible provider in order until one succeeds.
func try[T any](ctx context.Context, c *Chain, method string, eligible func(*provider) bool, fn func(context.Context, *provider) (T, error)) (T, error) {
	var (
		zero T
		errs []error
	)
	for _, p := range c.providers {
		if eligible != nil && !eligible(p) {
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		start := time.Now()
		v, err := fn(callCtx, p)
		cancel()
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		metrics.RPCProviderFailure(c.id, method)
		c.logger.Warn("rpc provider failed",
			"provider", p.host,
			"method", method,
			"duration", time.Since(start),
			"error", err,
		)
		errs = append(errs, fmt.Errorf("%s: %w", p.host, err))
	}

	if len(errs) == 0 {
		if eligible != nil {
			return zero, chains.ErrTraceUnsupported
		}
		return zero, ErrNoProviders
	}
	return zero, fmt.Errorf("%w: %s: %w", ErrAllProvidersFailed, method, errors.Join(errs...))
}

// redact keeps only the host of a provider URL; paths and queries often carry keys.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "invalid-url"
	}
	return u.Scheme + "://" + u.Host
}
