package engine

import (
	"errors"

	"github.com/pendergraft/contraverify/internal/verification/compilation"
	"github.com/pendergraft/contraverify/internal/verification/transform"
)

// Fetch failures.
var (
	ErrCannotFetchBytecode                 = errors.New("cannot fetch bytecode")
	ErrContractNotDeployed                 = errors.New("contract not deployed")
	ErrOnchainRuntimeBytecodeNotAvailable  = errors.New("onchain runtime bytecode not available")
	ErrOnchainCreationBytecodeNotAvailable = errors.New("onchain creation bytecode not available")
)

// Compiler failures.
var (
	ErrNoCompilerOutput                 = compilation.ErrNoCompilerOutput
	ErrContractNotFoundInCompilerOutput = compilation.ErrContractNotFound
	ErrCompilerError                    = compilation.ErrCompilerError
)

// Structural and matching failures.
var (
	ErrBytecodeLengthMismatch = errors.New("bytecode length mismatch")
	ErrCompiledBytecodeIsZero = errors.New("compiled bytecode is zero")
	ErrExtraFileInputBug      = errors.New("extra file input bug: metadata hashes match but bytecodes differ, resubmit with only the files used in compilation")
	ErrNoMatch                = errors.New("no match")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrCannotFetchBytecode, "cannot_fetch_bytecode"},
	{ErrContractNotDeployed, "contract_not_deployed"},
	{ErrOnchainRuntimeBytecodeNotAvailable, "onchain_runtime_bytecode_not_available"},
	{ErrOnchainCreationBytecodeNotAvailable, "onchain_creation_bytecode_not_available"},
	{ErrNoCompilerOutput, "no_compiler_output"},
	{ErrContractNotFoundInCompilerOutput, "contract_not_found_in_compiler_output"},
	{ErrCompilerError, "compiler_error"},
	{ErrBytecodeLengthMismatch, "bytecode_length_mismatch"},
	{ErrCompiledBytecodeIsZero, "compiled_bytecode_is_zero"},
	{ErrExtraFileInputBug, "extra_file_input_bug"},
	{ErrNoMatch, "no_match"},
	{compilation.ErrCannotGenerateAuxdataPositions, "cannot_generate_cbor_auxdata_positions"},
	{transform.ErrLibraryPlaceholderMismatch, "library_placeholder_mismatch"},
	{transform.ErrConstructorArgumentsMismatch, "constructor_arguments_mismatch"},
}

// ErrorCode maps err to its stable error kind. Unknown errors map to "internal_error".
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal_error"
}
