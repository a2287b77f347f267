package compilation

import (
	"fmt"

	"github.com/pendergraft/contraverify/internal/verification/bytecode"
)

var solidityOutputSelection = []string{
	"abi",
	"metadata",
	"userdoc",
	"devdoc",
	"evm.bytecode.object",
	"evm.bytecode.linkReferences",
	"evm.deployedBytecode.object",
	"evm.deployedBytecode.linkReferences",
	"evm.deployedBytecode.immutableReferences",
	"evm.legacyAssembly",
}

func normalizeSolidity(target Target, out ContractOutput) (*Artifact, error) {
	creation, creationPlaceholders, err := bytecode.ParseUnlinked(out.EVM.Bytecode.Object)
	if err != nil {
		return nil, fmt.Errorf("%w: creation bytecode: %v", ErrNoCompilerOutput, err)
	}
	runtime, runtimePlaceholders, err := bytecode.ParseUnlinked(out.EVM.DeployedBytecode.Object)
	if err != nil {
		return nil, fmt.Errorf("%w: runtime bytecode: %v", ErrNoCompilerOutput, err)
	}

	a := &Artifact{
		Target:                 target,
		ABI:                    out.ABI,
		Metadata:               out.Metadata,
		CreationBytecode:       creation,
		CreationPlaceholders:   creationPlaceholders,
		CreationLinkReferences: out.EVM.Bytecode.LinkReferences,
		RuntimeBytecode:        runtime,
		RuntimePlaceholders:    runtimePlaceholders,
		RuntimeLinkReferences:  out.EVM.DeployedBytecode.LinkReferences,
		ImmutableReferences:    out.EVM.DeployedBytecode.ImmutableReferences,
		AuxdataStyle:           bytecode.AuxdataStyleSolidity,
	}

	reported, err := auxdataFromAssembly(out.EVM.LegacyAssembly)
	if err != nil {
		a.auxdataErr = err
		return a, nil
	}
	for i, s := range reported {
		aux, err := bytecode.Parse(s)
		if err != nil {
			a.auxdataErr = fmt.Errorf("auxdata %d: %w", i+1, err)
			return a, nil
		}
		a.Auxdata = append(a.Auxdata, bytecode.NormalizeAuxdata(aux, a.AuxdataStyle))
	}
	return a, nil
}
