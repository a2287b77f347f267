// Package engine runs a verification: it fetches on-chain code, recompiles the
// claimed sources and matches runtime and creation bytecode, applying the known
// compiler-bug workarounds along the way.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/contraverify/internal/chains"
	"github.com/pendergraft/contraverify/internal/verification/bytecode"
	"github.com/pendergraft/contraverify/internal/verification/compilation"
	"github.com/pendergraft/contraverify/internal/verification/match"
)

// maxBackendAttempts bounds the IR-ordering retry to one extra compile.
const maxBackendAttempts = 2

// irOrderingFixedIn is the first solc release that orders IR output deterministically.
const irOrderingFixedIn = "0.8.21"

// ChainReader is the chain access the engine needs.
type ChainReader interface {
	GetBytecode(ctx context.Context, address common.Address) (bytecode.Bytecode, error)
	GetTransaction(ctx context.Context, hash common.Hash) (*chains.Transaction, error)
	GetTransactionReceipt(ctx context.Context, hash common.Hash) (*chains.Receipt, error)
	GetCreationBytecode(ctx context.Context, hash common.Hash, address common.Address) (bytecode.Bytecode, error)
}

// MetadataRecoverer rebuilds a compiler input whose metadata hashes to the digest
// embedded in onchainAuxdata.
type MetadataRecoverer interface {
	RecoverInput(ctx context.Context, input *compilation.JSONInput, target compilation.Target, onchainAuxdata bytecode.Bytecode) (*compilation.JSONInput, error)
}

// Request names the contract to verify and the compilation that should produce it.
type Request struct {
	Address common.Address
	ChainID uint64
	// CreationTxHash enables creation bytecode matching when set.
	CreationTxHash *common.Hash
	Compilation    *compilation.Compilation
}

// Engine verifies contracts on one chain. It holds no per-run state and is safe for
// concurrent use.
type Engine struct {
	chain     ChainReader
	recoverer MetadataRecoverer
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetadataRecoverer enables perfect metadata recovery for Solidity.
func WithMetadataRecoverer(r MetadataRecoverer) Option {
	return func(e *Engine) {
		e.recoverer = r
	}
}

// New creates an engine reading from chain.
func New(chain ChainReader, opts ...Option) *Engine {
	e := &Engine{
		chain:  chain,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// attempt is the state threaded through one run.
type attempt struct {
	req       Request
	comp      *compilation.Compilation
	forced    bool
	optimizer bool
	viaIR     bool
	state  State
	result *Verification
	logger *slog.Logger
}

func (a *attempt) transition(s State) {
	a.logger.Debug("verification state", "from", a.state.String(), "to", s.String())
	a.state = s
}

// Verify runs the verification. On ErrNoMatch the returned Verification still carries
// the attempted results; any other error returns a nil Verification.
func (e *Engine) Verify(ctx context.Context, req Request) (*Verification, error) {
	if req.Compilation == nil {
		return nil, fmt.Errorf("%w: missing compilation", ErrNoCompilerOutput)
	}

	a := &attempt{
		req:   req,
		comp:  req.Compilation,
		state: StateInit,
		result: &Verification{
			Address: req.Address,
			ChainID: req.ChainID,
		},
		logger: e.logger.With("address", req.Address.Hex(), "chain_id", req.ChainID, "target", req.Compilation.Target.String()),
	}

	v, err := e.run(ctx, a)
	if err != nil {
		a.transition(StateFailed)
		a.logger.Info("verification failed", "error", err, "code", ErrorCode(err))
		return v, err
	}
	a.transition(StateSucceeded)
	a.logger.Info("verification succeeded",
		"runtime_match", v.RuntimeStatus(),
		"creation_match", v.CreationStatus(),
	)
	return v, nil
}

func (e *Engine) run(ctx context.Context, a *attempt) (*Verification, error) {
	if err := readSettings(a); err != nil {
		return nil, err
	}
	if err := e.fetchRuntime(ctx, a); err != nil {
		return nil, err
	}

	for i := 1; ; i++ {
		res, err := e.matchRuntime(ctx, a)
		if err != nil {
			return nil, err
		}
		a.result.RuntimeMatch = res
		if res.Status.IsMatch() {
			break
		}
		if err := e.checkExtraFileInputBug(a); err != nil {
			return nil, err
		}
		if i >= maxBackendAttempts || !needsAlternateBackend(a) {
			break
		}
		a.logger.Info("runtime match failed with IR ordering conditions, retrying with alternate backend",
			"version", a.comp.Version)
		a.forced = true
	}

	a.result.Compilation = a.comp
	a.result.ForcedAlternateBackend = a.comp.ForcedAlternateBackend()

	if a.req.CreationTxHash != nil {
		if err := e.matchCreation(ctx, a); err != nil {
			return nil, err
		}
	}

	if !a.result.Succeeded() {
		return a.result, ErrNoMatch
	}
	return a.result, nil
}

func (e *Engine) fetchRuntime(ctx context.Context, a *attempt) error {
	code, err := e.chain.GetBytecode(ctx, a.req.Address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCannotFetchBytecode, err)
	}
	if len(code) == 0 {
		return ErrContractNotDeployed
	}
	a.result.OnchainRuntimeBytecode = code
	a.transition(StateOnchainRuntimeFetched)
	return nil
}

// matchRuntime runs compile through runtime matching for the current backend.
func (e *Engine) matchRuntime(ctx context.Context, a *attempt) (*match.Result, error) {
	if err := a.comp.Compile(ctx, a.forced); err != nil {
		return nil, err
	}
	artifact := a.comp.Artifact()
	if len(artifact.RuntimeBytecode) == 0 || len(artifact.CreationBytecode) == 0 {
		return nil, ErrCompiledBytecodeIsZero
	}
	a.transition(StateCompiled)

	if err := e.recoverMetadata(ctx, a); err != nil {
		return nil, err
	}
	artifact = a.comp.Artifact()

	if err := e.checkLength(a, artifact); err != nil {
		return nil, err
	}
	a.transition(StateLengthChecked)

	runtimePositions, _, err := a.comp.GenerateAuxdataPositions(ctx)
	if err != nil {
		a.logger.Warn("continuing without auxdata positions", "error", err)
		runtimePositions = nil
	}
	a.transition(StateAuxdataPositioned)

	res, err := match.Runtime(match.RuntimeInput{
		Input: match.Input{
			Template:         artifact.RuntimeBytecode,
			Placeholders:     artifact.RuntimePlaceholders,
			Onchain:          a.result.OnchainRuntimeBytecode,
			LinkReferences:   artifact.RuntimeLinkReferences,
			AuxdataPositions: runtimePositions,
			AuxdataStyle:     artifact.AuxdataStyle,
		},
		ImmutableReferences: artifact.ImmutableReferences,
		AppendedImmutables:  artifact.AppendedImmutables,
	})
	if err != nil {
		return nil, err
	}
	a.transition(StateRuntimeMatchAttempted)
	a.logger.Debug("runtime match", "status", res.Status, "transformations", len(res.Transformations))
	return res, nil
}

// recoverMetadata swaps in a compilation whose auxdata equals the on-chain auxdata when
// the recoverer can build one. Failure to recover is not an error.
func (e *Engine) recoverMetadata(ctx context.Context, a *attempt) error {
	if e.recoverer == nil || a.comp.Language != compilation.Solidity {
		return nil
	}
	artifact := a.comp.Artifact()
	onchainAux := bytecode.TailAuxdata(a.result.OnchainRuntimeBytecode, artifact.AuxdataStyle)
	if onchainAux == nil || !bytecode.HasContentHash(onchainAux, artifact.AuxdataStyle) {
		return nil
	}
	if bytecode.Bytecode(onchainAux).Equal(bytecode.TailAuxdata(artifact.RuntimeBytecode, artifact.AuxdataStyle)) {
		return nil
	}

	a.transition(StatePerfectMetadataRecovery)
	input, err := e.recoverer.RecoverInput(ctx, a.comp.Input, a.comp.Target, onchainAux)
	if err != nil {
		a.logger.Info("metadata recovery unavailable", "error", err)
		return nil
	}

	recovered := a.comp.WithInput(input)
	if err := recovered.Compile(ctx, a.forced); err != nil {
		a.logger.Info("recompiling recovered input failed", "error", err)
		return nil
	}
	got := recovered.Artifact()
	if !bytecode.Bytecode(onchainAux).Equal(bytecode.TailAuxdata(got.RuntimeBytecode, got.AuxdataStyle)) {
		a.logger.Info("recovered input does not reproduce on-chain metadata")
		return nil
	}
	a.logger.Info("recovered perfect metadata")
	a.comp = recovered
	return nil
}

func (e *Engine) checkLength(a *attempt, artifact *compilation.Artifact) error {
	onchain := len(a.result.OnchainRuntimeBytecode)
	recompiled := len(artifact.RuntimeBytecode)

	ok := recompiled == onchain
	if a.comp.Language == compilation.Vyper {
		ok = recompiled <= onchain
	}
	if ok {
		return nil
	}
	if err := e.checkExtraFileInputBug(a); err != nil {
		return err
	}
	return fmt.Errorf("%w: recompiled %d bytes, on-chain %d bytes", ErrBytecodeLengthMismatch, recompiled, onchain)
}

// checkExtraFileInputBug reports ErrExtraFileInputBug when the metadata digests agree
// but the code does not, under optimization.
func (e *Engine) checkExtraFileInputBug(a *attempt) error {
	if a.comp.Language != compilation.Solidity || !a.optimizer {
		return nil
	}
	artifact := a.comp.Artifact()
	onchain := a.result.OnchainRuntimeBytecode
	onchainAux := bytecode.TailAuxdata(onchain, artifact.AuxdataStyle)
	if onchainAux == nil {
		return nil
	}
	if !bytecode.Bytecode(onchainAux).Equal(bytecode.TailAuxdata(artifact.RuntimeBytecode, artifact.AuxdataStyle)) {
		return nil
	}
	if onchain.Equal(artifact.RuntimeBytecode) {
		return nil
	}
	return ErrExtraFileInputBug
}

// needsAlternateBackend reports the IR output ordering conditions.
func needsAlternateBackend(a *attempt) bool {
	if a.forced || a.comp.Language != compilation.Solidity {
		return false
	}
	return compilation.VersionBefore(a.comp.Version, irOrderingFixedIn) &&
		!a.optimizer &&
		a.viaIR
}

// readSettings decodes the settings the workarounds depend on. A malformed value
// would be rejected by the compiler too.
func readSettings(a *attempt) error {
	settings := a.comp.Input.Settings
	var err error
	if a.optimizer, err = settings.OptimizerEnabled(); err != nil {
		return fmt.Errorf("%w: %w", ErrCompilerError, err)
	}
	if a.viaIR, err = settings.ViaIR(); err != nil {
		return fmt.Errorf("%w: %w", ErrCompilerError, err)
	}
	return nil
}

func (e *Engine) matchCreation(ctx context.Context, a *attempt) error {
	onchain, err := e.resolveCreation(ctx, a)
	if err != nil {
		a.result.CreationError = ErrorCode(err)
		a.logger.Warn("skipping creation match", "error", err)
		return nil
	}
	a.result.OnchainCreationBytecode = onchain
	a.transition(StateCreationTxResolved)

	artifact := a.comp.Artifact()
	inputs, err := artifact.ConstructorInputs()
	if err != nil {
		return err
	}
	_, creationPositions := a.comp.AuxdataPositions()

	res, err := match.Creation(match.CreationInput{
		Input: match.Input{
			Template:         artifact.CreationBytecode,
			Placeholders:     artifact.CreationPlaceholders,
			Onchain:          onchain,
			LinkReferences:   artifact.CreationLinkReferences,
			AuxdataPositions: creationPositions,
			AuxdataStyle:     artifact.AuxdataStyle,
		},
		ConstructorInputs: inputs,
	})
	if err != nil {
		return err
	}
	a.result.CreationMatch = res
	a.transition(StateCreationMatchAttempted)
	a.logger.Debug("creation match", "status", res.Status, "transformations", len(res.Transformations))
	return nil
}

// resolveCreation loads the creation transaction and returns the init code. Contracts
// created by another contract are recovered from a trace.
func (e *Engine) resolveCreation(ctx context.Context, a *attempt) (bytecode.Bytecode, error) {
	hash := *a.req.CreationTxHash

	tx, err := e.chain.GetTransaction(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching transaction: %v", ErrOnchainCreationBytecodeNotAvailable, err)
	}
	receipt, err := e.chain.GetTransactionReceipt(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching receipt: %v", ErrOnchainCreationBytecodeNotAvailable, err)
	}

	block, index, deployer := receipt.BlockNumber, receipt.TransactionIndex, tx.From
	a.result.Deployment = Deployment{
		TransactionHash:  &hash,
		BlockNumber:      &block,
		TransactionIndex: &index,
		Deployer:         &deployer,
	}

	if receipt.ContractAddress != nil && *receipt.ContractAddress == a.req.Address {
		if len(tx.Input) == 0 {
			return nil, ErrOnchainCreationBytecodeNotAvailable
		}
		return tx.Input, nil
	}

	code, err := e.chain.GetCreationBytecode(ctx, hash, a.req.Address)
	if err != nil {
		if errors.Is(err, ErrOnchainCreationBytecodeNotAvailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrOnchainCreationBytecodeNotAvailable, err)
	}
	if len(code) == 0 {
		return nil, ErrOnchainCreationBytecodeNotAvailable
	}
	return code, nil
}
