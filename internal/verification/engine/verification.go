package engine

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/contraverify/internal/verification/bytecode"
	"github.com/pendergraft/contraverify/internal/verification/compilation"
	"github.com/pendergraft/contraverify/internal/verification/match"
	"github.com/pendergraft/contraverify/internal/verification/transform"
)

// Deployment describes the transaction that created the contract.
type Deployment struct {
	TransactionHash  *common.Hash    `json:"transactionHash,omitempty"`
	BlockNumber      *uint64         `json:"blockNumber,omitempty"`
	TransactionIndex *uint           `json:"transactionIndex,omitempty"`
	Deployer         *common.Address `json:"deployer,omitempty"`
}

// Verification is the result of one engine run. Runtime and creation outcomes are
// reported independently.
type Verification struct {
	Address     common.Address
	ChainID     uint64
	Compilation *compilation.Compilation

	OnchainRuntimeBytecode  bytecode.Bytecode
	OnchainCreationBytecode bytecode.Bytecode

	RuntimeMatch  *match.Result
	CreationMatch *match.Result
	// CreationError records why the creation step was skipped, as an error code.
	CreationError string

	Deployment             Deployment
	ForcedAlternateBackend bool
}

// RuntimeStatus returns the runtime outcome, StatusNone when not attempted.
func (v *Verification) RuntimeStatus() match.Status {
	return statusOf(v.RuntimeMatch)
}

// CreationStatus returns the creation outcome, StatusNone when not attempted.
func (v *Verification) CreationStatus() match.Status {
	return statusOf(v.CreationMatch)
}

// Succeeded reports whether either kind matched.
func (v *Verification) Succeeded() bool {
	return v.RuntimeStatus().IsMatch() || v.CreationStatus().IsMatch()
}

func statusOf(r *match.Result) match.Status {
	if r == nil {
		return match.StatusNone
	}
	return r.Status
}

// Export is the serializable snapshot of a verification. Offsets are in bytes and
// bytecodes render as 0x-prefixed lowercase hex.
type Export struct {
	Address     string         `json:"address"`
	ChainID     uint64         `json:"chainId"`
	Status      ExportStatus   `json:"status"`
	Compilation ExportCompiler `json:"compilation"`

	OnchainRuntimeBytecode     bytecode.Bytecode `json:"onchainRuntimeBytecode"`
	OnchainCreationBytecode    bytecode.Bytecode `json:"onchainCreationBytecode,omitempty"`
	RecompiledRuntimeBytecode  bytecode.Bytecode `json:"recompiledRuntimeBytecode"`
	RecompiledCreationBytecode bytecode.Bytecode `json:"recompiledCreationBytecode"`

	Transformations ExportTransformations `json:"transformations"`
	Deployment      Deployment            `json:"deployment"`
	LibraryMap      ExportLibraryMap      `json:"libraryMap"`
	CreationError   string                `json:"creationError,omitempty"`
}

// ExportStatus holds the match status per kind; a kind that was not attempted is null.
type ExportStatus struct {
	RuntimeMatch  *match.Status `json:"runtimeMatch"`
	CreationMatch *match.Status `json:"creationMatch"`
}

// ExportCompiler identifies what was compiled.
type ExportCompiler struct {
	Language               compilation.Language `json:"language"`
	CompilerVersion        string               `json:"compilerVersion"`
	FullyQualifiedName     string               `json:"fullyQualifiedName"`
	ForcedAlternateBackend bool                 `json:"forcedAlternateBackend,omitempty"`
}

// ExportTransformations holds the transformation lists and values per kind.
type ExportTransformations struct {
	Runtime  ExportTransformationSet `json:"runtime"`
	Creation ExportTransformationSet `json:"creation"`
}

// ExportTransformationSet is one kind's transformations.
type ExportTransformationSet struct {
	List   []transform.Transformation `json:"list"`
	Values transform.Values           `json:"values"`
}

// ExportLibraryMap maps placeholders to linked addresses per kind.
type ExportLibraryMap struct {
	Runtime  map[string]string `json:"runtime,omitempty"`
	Creation map[string]string `json:"creation,omitempty"`
}

// Export builds the snapshot. It fails when the runtime code was never fetched.
func (v *Verification) Export() (*Export, error) {
	if v.OnchainRuntimeBytecode == nil {
		return nil, ErrOnchainRuntimeBytecodeNotAvailable
	}

	out := &Export{
		Address:                 v.Address.Hex(),
		ChainID:                 v.ChainID,
		OnchainRuntimeBytecode:  v.OnchainRuntimeBytecode,
		OnchainCreationBytecode: v.OnchainCreationBytecode,
		Deployment:              v.Deployment,
		CreationError:           v.CreationError,
		Transformations: ExportTransformations{
			Runtime:  exportSet(v.RuntimeMatch),
			Creation: exportSet(v.CreationMatch),
		},
	}

	if v.Compilation != nil {
		out.Compilation = ExportCompiler{
			Language:               v.Compilation.Language,
			CompilerVersion:        v.Compilation.Version,
			FullyQualifiedName:     v.Compilation.Target.String(),
			ForcedAlternateBackend: v.ForcedAlternateBackend,
		}
		if a := v.Compilation.Artifact(); a != nil {
			out.RecompiledRuntimeBytecode = a.RuntimeBytecode
			out.RecompiledCreationBytecode = a.CreationBytecode
		}
	}

	if v.RuntimeMatch != nil {
		s := v.RuntimeMatch.Status
		out.Status.RuntimeMatch = &s
		out.LibraryMap.Runtime = v.RuntimeMatch.LibraryMap
	}
	if v.CreationMatch != nil {
		s := v.CreationMatch.Status
		out.Status.CreationMatch = &s
		out.LibraryMap.Creation = v.CreationMatch.LibraryMap
	}
	return out, nil
}

func exportSet(r *match.Result) ExportTransformationSet {
	set := ExportTransformationSet{List: []transform.Transformation{}}
	if r == nil || !r.Status.IsMatch() {
		return set
	}
	set.List = r.Transformations
	set.Values = r.Values
	return set
}
