package compilation

import (
	"fmt"

	"github.com/pendergraft/contraverify/internal/verification/bytecode"
)

var vyperOutputSelection = []string{"abi", "evm.bytecode", "evm.deployedBytecode"}

// VyperAuxdataStyle returns the trailer layout produced by a vyper version.
func VyperAuxdataStyle(version string) bytecode.AuxdataStyle {
	switch {
	case VersionBefore(version, "0.3.5"):
		return bytecode.AuxdataStyleVyperLt035
	case VersionBefore(version, "0.3.10"):
		return bytecode.AuxdataStyleVyperLt0310
	default:
		return bytecode.AuxdataStyleVyper
	}
}

func normalizeVyper(target Target, version string, out ContractOutput) (*Artifact, error) {
	creation, err := bytecode.Parse(out.EVM.Bytecode.Object)
	if err != nil {
		return nil, fmt.Errorf("%w: creation bytecode: %v", ErrNoCompilerOutput, err)
	}
	runtime, err := bytecode.Parse(out.EVM.DeployedBytecode.Object)
	if err != nil {
		return nil, fmt.Errorf("%w: runtime bytecode: %v", ErrNoCompilerOutput, err)
	}

	style := VyperAuxdataStyle(version)
	a := &Artifact{
		Target:           target,
		ABI:              out.ABI,
		CreationBytecode: creation,
		RuntimeBytecode:  runtime,
		AuxdataStyle:     style,
	}

	// From 0.3.10 the trailer lives only in the creation code and carries the size of
	// the immutables appended to the runtime code at deploy time.
	if style == bytecode.AuxdataStyleVyper {
		tail := bytecode.TailAuxdata(creation, style)
		if tail != nil {
			a.Auxdata = []bytecode.Bytecode{tail}
			if size, ok := bytecode.VyperImmutableSize(tail); ok && size > 0 {
				a.AppendedImmutables = true
				a.ImmutableReferences = bytecode.ImmutableReferences{
					"0": {{Start: len(runtime), Length: size}},
				}
			}
		}
		return a, nil
	}

	if tail := bytecode.TailAuxdata(runtime, style); tail != nil {
		a.Auxdata = []bytecode.Bytecode{tail}
	}
	return a, nil
}

// vyperAuxdataPositions reads the single trailer directly; vyper has no listing to
// disambiguate, and the trailer is always last.
func vyperAuxdataPositions(a *Artifact) (runtime, creation bytecode.AuxdataPositions) {
	runtime, creation = bytecode.AuxdataPositions{}, bytecode.AuxdataPositions{}
	if a.AuxdataStyle != bytecode.AuxdataStyleVyper {
		if aux := bytecode.TailAuxdata(a.RuntimeBytecode, a.AuxdataStyle); aux != nil {
			runtime["1"] = bytecode.AuxdataPosition{Offset: len(a.RuntimeBytecode) - len(aux), Value: aux}
		}
	}
	if aux := bytecode.TailAuxdata(a.CreationBytecode, a.AuxdataStyle); aux != nil {
		creation["1"] = bytecode.AuxdataPosition{Offset: len(a.CreationBytecode) - len(aux), Value: aux}
	}
	return runtime, creation
}
