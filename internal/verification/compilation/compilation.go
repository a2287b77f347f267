// Package compilation drives a compiler for one contract target and normalises its
// output into the accessors the matcher needs. Solidity and Vyper differ in how
// auxdata is delimited and located, how immutables are placed, and whether libraries
// are linked.
package compilation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/pendergraft/contraverify/internal/verification/bytecode"
)

var (
	ErrNoCompilerOutput = errors.New("no compiler output")
	ErrContractNotFound = errors.New("contract not found in compiler output")
	ErrCompilerError    = errors.New("compiler error")
	ErrNotCompiled      = errors.New("compilation has not run")
	// ErrCannotGenerateAuxdataPositions is a soft failure: matching continues without
	// auxdata relaxation.
	ErrCannotGenerateAuxdataPositions = errors.New("cannot generate cbor auxdata positions")
)

// Artifact is the normalised output for the compilation target.
type Artifact struct {
	Target   Target
	ABI      json.RawMessage
	Metadata string

	CreationBytecode       bytecode.Bytecode
	CreationPlaceholders   bytecode.Placeholders
	CreationLinkReferences bytecode.LinkReferences

	RuntimeBytecode       bytecode.Bytecode
	RuntimePlaceholders   bytecode.Placeholders
	RuntimeLinkReferences bytecode.LinkReferences

	ImmutableReferences bytecode.ImmutableReferences
	// AppendedImmutables is set when immutables follow the runtime code instead of
	// being written in place.
	AppendedImmutables bool

	AuxdataStyle bytecode.AuxdataStyle
	// Auxdata lists the compiler-reported auxdata blocks in listing order.
	Auxdata    []bytecode.Bytecode
	auxdataErr error
}

// ConstructorInputs returns the constructor parameters declared in the ABI.
func (a *Artifact) ConstructorInputs() (abi.Arguments, error) {
	if len(a.ABI) == 0 {
		return nil, nil
	}
	parsed, err := abi.JSON(strings.NewReader(string(a.ABI)))
	if err != nil {
		return nil, fmt.Errorf("parsing abi: %w", err)
	}
	return parsed.Constructor.Inputs, nil
}

// Compilation is one compile of a target with its memoized auxdata positions.
type Compilation struct {
	Language Language
	Version  string
	Input    *JSONInput
	Target   Target

	compiler              Compiler
	forceAlternateBackend bool
	artifact              *Artifact

	mu                sync.Mutex
	positioned        bool
	runtimePositions  bytecode.AuxdataPositions
	creationPositions bytecode.AuxdataPositions
}

// New prepares a compilation. Nothing runs until Compile.
func New(compiler Compiler, language Language, version string, input *JSONInput, target Target) *Compilation {
	return &Compilation{
		Language: language,
		Version:  version,
		Input:    input,
		Target:   target,
		compiler: compiler,
	}
}

// WithInput returns a fresh compilation of the same target and compiler version over
// a different input.
func (c *Compilation) WithInput(input *JSONInput) *Compilation {
	return New(c.compiler, c.Language, c.Version, input, c.Target)
}

// Compile runs the compiler and normalises the target's output.
func (c *Compilation) Compile(ctx context.Context, forceAlternateBackend bool) error {
	artifact, err := c.run(ctx, c.Input, forceAlternateBackend)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.artifact = artifact
	c.forceAlternateBackend = forceAlternateBackend
	c.positioned = false
	c.runtimePositions, c.creationPositions = nil, nil
	return nil
}

// Artifact returns the compiled target, or nil before Compile succeeded.
func (c *Compilation) Artifact() *Artifact {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.artifact
}

// ForcedAlternateBackend reports whether the last Compile used the alternate backend.
func (c *Compilation) ForcedAlternateBackend() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forceAlternateBackend
}

func (c *Compilation) run(ctx context.Context, input *JSONInput, forceAlternateBackend bool) (*Artifact, error) {
	prepared := input.Clone()
	if prepared.Language == "" {
		prepared.Language = string(c.Language)
	}
	if err := prepared.Settings.Set("outputSelection", c.outputSelection()); err != nil {
		return nil, err
	}

	out, err := c.compiler.Compile(ctx, c.Version, prepared, forceAlternateBackend)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompilerError, err)
	}
	if out == nil {
		return nil, ErrNoCompilerOutput
	}
	if msgs := out.ErrorMessages(); len(msgs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrCompilerError, strings.Join(msgs, "; "))
	}
	if len(out.Contracts) == 0 {
		return nil, ErrNoCompilerOutput
	}
	contract, ok := out.Contracts[c.Target.Path][c.Target.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContractNotFound, c.Target)
	}

	switch c.Language {
	case Vyper:
		return normalizeVyper(c.Target, c.Version, contract)
	default:
		return normalizeSolidity(c.Target, contract)
	}
}

func (c *Compilation) outputSelection() any {
	if c.Language == Vyper {
		return map[string][]string{"*": vyperOutputSelection}
	}
	return map[string]map[string][]string{"*": {"*": solidityOutputSelection}}
}

// GenerateAuxdataPositions locates every auxdata block in the runtime and creation
// code. The first successful result is memoized. A failure wraps
// ErrCannotGenerateAuxdataPositions.
func (c *Compilation) GenerateAuxdataPositions(ctx context.Context) (runtime, creation bytecode.AuxdataPositions, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.artifact == nil {
		return nil, nil, ErrNotCompiled
	}
	if c.positioned {
		return clonePositions(c.runtimePositions), clonePositions(c.creationPositions), nil
	}

	switch c.Language {
	case Vyper:
		runtime, creation = vyperAuxdataPositions(c.artifact)
	default:
		runtime, creation, err = c.solidityAuxdataPositions(ctx)
		if err != nil {
			return nil, nil, err
		}
	}

	c.positioned = true
	c.runtimePositions, c.creationPositions = runtime, creation
	return clonePositions(runtime), clonePositions(creation), nil
}

// AuxdataPositions returns the memoized positions, empty when none were generated.
func (c *Compilation) AuxdataPositions() (runtime, creation bytecode.AuxdataPositions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return clonePositions(c.runtimePositions), clonePositions(c.creationPositions)
}

func clonePositions(p bytecode.AuxdataPositions) bytecode.AuxdataPositions {
	out := make(bytecode.AuxdataPositions, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
