// Package match classifies a recompiled bytecode against on-chain code as a perfect,
// partial or failed match, recording every substitution it needed.
package match

import (
	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/pendergraft/contraverify/internal/verification/bytecode"
	"github.com/pendergraft/contraverify/internal/verification/transform"
)

// Status is the outcome of a comparison.
type Status string

const (
	StatusPerfect Status = "perfect"
	StatusPartial Status = "partial"
	StatusNone    Status = "none"
)

// IsMatch reports whether s is perfect or partial.
func (s Status) IsMatch() bool {
	return s == StatusPerfect || s == StatusPartial
}

// Result is produced once per comparison and never modified afterwards.
type Result struct {
	Status          Status                     `json:"status"`
	Transformations []transform.Transformation `json:"transformations"`
	Values          transform.Values           `json:"transformationValues"`
	Populated       bytecode.Bytecode          `json:"populatedBytecode"`
	LibraryMap      map[string]string          `json:"libraryMap,omitempty"`
}

// Input is what every comparison needs.
type Input struct {
	// Template is the recompiled code with library slots zero-filled.
	Template     bytecode.Bytecode
	Placeholders bytecode.Placeholders
	Onchain      bytecode.Bytecode

	LinkReferences   bytecode.LinkReferences
	AuxdataPositions bytecode.AuxdataPositions
	AuxdataStyle     bytecode.AuxdataStyle
}

// RuntimeInput adds the runtime-only substitutions.
type RuntimeInput struct {
	Input
	ImmutableReferences bytecode.ImmutableReferences
	AppendedImmutables  bool
}

// CreationInput adds the constructor parameters used to validate trailing arguments.
type CreationInput struct {
	Input
	ConstructorInputs abi.Arguments
}

// Bytecodes links libraries into the template and compares it with the on-chain code:
// equality for runtime code, a prefix for creation code.
func Bytecodes(creation bool, in Input) (*Result, error) {
	libs, err := transform.Libraries(in.Template, in.Placeholders, in.Onchain, in.LinkReferences)
	if err != nil {
		return nil, err
	}
	return compare(creation, libs, in), nil
}

// Runtime fills call protection, libraries and immutables, in that order, before
// comparing.
func Runtime(in RuntimeInput) (*Result, error) {
	acc := transform.CallProtection(in.Template, in.Onchain)

	libs, err := transform.Libraries(acc.Populated, in.Placeholders, in.Onchain, in.LinkReferences)
	if err != nil {
		return nil, err
	}
	acc = acc.Then(libs)

	if in.AppendedImmutables {
		acc = acc.Then(transform.AppendedImmutables(acc.Populated, in.Onchain, in.ImmutableReferences))
	} else {
		acc = acc.Then(transform.Immutables(acc.Populated, in.Onchain, in.ImmutableReferences))
	}
	return compare(false, acc, in.Input), nil
}

// Creation compares creation code and, on a match, validates the trailing constructor
// arguments. A constructor argument mismatch is returned as an error.
func Creation(in CreationInput) (*Result, error) {
	res, err := Bytecodes(true, in.Input)
	if err != nil || !res.Status.IsMatch() {
		return res, err
	}

	args, err := transform.ConstructorArguments(res.Populated, in.Onchain, in.ConstructorInputs)
	if err != nil {
		return nil, err
	}
	acc := transform.Extraction{
		Populated:       res.Populated,
		Transformations: res.Transformations,
		Values:          res.Values,
		LibraryMap:      res.LibraryMap,
	}.Then(args)
	return newResult(res.Status, acc), nil
}

func compare(creation bool, acc transform.Extraction, in Input) *Result {
	if matches(creation, acc.Populated, in.Onchain) {
		return newResult(classify(in.AuxdataPositions, in.AuxdataStyle), acc)
	}
	if len(in.AuxdataPositions) == 0 {
		return &Result{Status: StatusNone, Populated: acc.Populated}
	}

	relaxed := acc.Then(transform.Auxdata(acc.Populated, in.Onchain, in.AuxdataPositions))
	if matches(creation, relaxed.Populated, in.Onchain) {
		return newResult(StatusPartial, relaxed)
	}
	return &Result{Status: StatusNone, Populated: relaxed.Populated}
}

func matches(creation bool, populated, onchain bytecode.Bytecode) bool {
	if creation {
		return len(populated) > 0 && onchain.HasPrefix(populated)
	}
	return onchain.Equal(populated)
}

// classify is perfect only when every auxdata block binds the metadata by hash.
func classify(positions bytecode.AuxdataPositions, style bytecode.AuxdataStyle) Status {
	if len(positions) == 0 {
		return StatusPartial
	}
	for _, pos := range positions {
		if !bytecode.HasContentHash(pos.Value, style) {
			return StatusPartial
		}
	}
	return StatusPerfect
}

func newResult(status Status, acc transform.Extraction) *Result {
	transformations := acc.Transformations
	if transformations == nil {
		transformations = []transform.Transformation{}
	}
	return &Result{
		Status:          status,
		Transformations: transformations,
		Values:          acc.Values,
		Populated:       acc.Populated,
		LibraryMap:      acc.LibraryMap,
	}
}
