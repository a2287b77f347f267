// Package chains provides chain access for verification and the registry of
// configured chains.
package chains

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/contraverify/internal/verification/bytecode"
)

var (
	// ErrChainNotFound is returned when no chain is registered for an id.
	ErrChainNotFound = errors.New("chain not found")
	// ErrTraceUnsupported is returned when no provider can trace transactions.
	ErrTraceUnsupported = errors.New("transaction tracing not supported")
)

// Chain reads contract code and deployment data from one network.
type Chain interface {
	// Metadata
	ChainID() uint64
	Name() string

	GetBytecode(ctx context.Context, address common.Address) (bytecode.Bytecode, error)
	GetTransaction(ctx context.Context, hash common.Hash) (*Transaction, error)
	GetTransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error)
	// GetCreationBytecode recovers the init code that created address inside the
	// transaction, for contracts deployed by another contract.
	GetCreationBytecode(ctx context.Context, hash common.Hash, address common.Address) (bytecode.Bytecode, error)
}

// Transaction is the subset of a transaction verification needs.
type Transaction struct {
	Hash  common.Hash       `json:"hash"`
	From  common.Address    `json:"from"`
	To    *common.Address   `json:"to,omitempty"`
	Input bytecode.Bytecode `json:"input"`
}

// Receipt is the subset of a transaction receipt verification needs.
type Receipt struct {
	ContractAddress  *common.Address `json:"contractAddress,omitempty"`
	BlockNumber      uint64          `json:"blockNumber"`
	TransactionIndex uint            `json:"transactionIndex"`
	Status           uint64          `json:"status"`
}

// Registry holds the configured chains keyed by chain id.
type Registry struct {
	mu     sync.RWMutex
	chains map[uint64]Chain
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		chains: make(map[uint64]Chain),
	}
}

// Register adds or replaces a chain
func (r *Registry) Register(c Chain) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains[c.ChainID()] = c
}

// Get retrieves a chain by id
func (r *Registry) Get(chainID uint64) (Chain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chains[chainID]
	if !ok {
		return nil, ErrChainNotFound
	}
	return c, nil
}

// List returns all registered chains ordered by id
func (r *Registry) List() []Chain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Chain, 0, len(r.chains))
	for _, c := range r.chains {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID() < out[j].ChainID() })
	return out
}
