package compilation

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/contraverify/internal/verification/bytecode"
)

type fakeCompiler struct {
	calls  int
	forced []bool
	build  func(input *JSONInput) (*Output, error)
}

func (f *fakeCompiler) Compile(_ context.Context, _ string, input *JSONInput, force bool) (*Output, error) {
	f.calls++
	f.forced = append(f.forced, force)
	return f.build(input)
}

func solcAuxdata(t *testing.T, seed byte) bytecode.Bytecode {
	t.Helper()
	aux, err := bytecode.EncodeAuxdata(map[string]any{
		"ipfs": append([]byte{0x12, 0x20}, bytes.Repeat([]byte{seed}, 32)...),
		"solc": []byte{0x00, 0x08, 0x13},
	}, bytecode.AuxdataStyleSolidity)
	require.NoError(t, err)
	return aux
}

func concat(parts ...[]byte) bytecode.Bytecode {
	var out bytecode.Bytecode
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

type program struct {
	runtime  bytecode.Bytecode
	creation bytecode.Bytecode
	auxdata  []bytecode.Bytecode
}

var (
	initCode    = []byte{0x60, 0x80, 0x60, 0x40, 0x52, 0x34, 0x80}
	runtimeHead = []byte{0x60, 0x80, 0x60, 0x40, 0x52}
)

// nestedProgram embeds a child contract with its own auxdata inside the runtime code.
func nestedProgram(t *testing.T, seed byte) program {
	aux1 := solcAuxdata(t, seed)
	aux2 := solcAuxdata(t, seed+1)
	runtime := concat(runtimeHead, []byte{0x60, 0x0a}, aux2, []byte{0x5b, 0x00}, aux1)
	return program{
		runtime:  runtime,
		creation: concat(initCode, runtime),
		auxdata:  []bytecode.Bytecode{aux1, aux2},
	}
}

func simpleProgram(t *testing.T, seed byte) program {
	aux := solcAuxdata(t, seed)
	runtime := concat(runtimeHead, []byte{0x5b, 0x00}, aux)
	return program{runtime: runtime, creation: concat(initCode, runtime), auxdata: []bytecode.Bytecode{aux}}
}

// legacyAssembly nests each auxdata one level deeper, the way solc lists a contract
// and the sub-assemblies of the contracts it creates.
func legacyAssembly(auxdata []bytecode.Bytecode) json.RawMessage {
	inner := `{".code":[]}`
	for i := len(auxdata) - 1; i >= 0; i-- {
		inner = fmt.Sprintf(`{".auxdata":%q,".code":[],".data":{"0":%s}}`, hex.EncodeToString(auxdata[i]), inner)
	}
	return json.RawMessage(fmt.Sprintf(`{".code":[{"name":"PUSH"}],".data":{"0":%s}}`, inner))
}

func outputFor(p program) *Output {
	return &Output{Contracts: map[string]map[string]ContractOutput{
		"a.sol": {"A": {
			ABI: json.RawMessage(`[]`),
			EVM: EVMOutput{
				Bytecode:         BytecodeOutput{Object: hex.EncodeToString(p.creation)},
				DeployedBytecode: BytecodeOutput{Object: hex.EncodeToString(p.runtime)},
				LegacyAssembly:   legacyAssembly(p.auxdata),
			},
		}},
	}}
}

func isEdited(input *JSONInput) bool {
	return strings.HasSuffix(input.Sources["a.sol"].Content, " ")
}

func testInput() *JSONInput {
	return &JSONInput{
		Language: "Solidity",
		Sources:  map[string]Source{"a.sol": {Content: "contract A {}"}, "b.sol": {Content: "contract B {}"}},
		Settings: Settings{"optimizer": json.RawMessage(`{"enabled":true,"runs":200}`)},
	}
}

func newTestCompilation(c Compiler) *Compilation {
	return New(c, Solidity, "0.8.19+commit.7dd6d404", testInput(), Target{Path: "a.sol", Name: "A"})
}

func TestParseTarget(t *testing.T) {
	target, err := ParseTarget("contracts/dir:with/A.sol:Token")
	require.NoError(t, err)
	assert.Equal(t, Target{Path: "contracts/dir:with/A.sol", Name: "Token"}, target)
	assert.Equal(t, "contracts/dir:with/A.sol:Token", target.String())

	for _, bad := range []string{"Token", ":Token", "a.sol:"} {
		_, err := ParseTarget(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseLanguage(t *testing.T) {
	lang, err := ParseLanguage("vyper")
	require.NoError(t, err)
	assert.Equal(t, Vyper, lang)

	lang, err = ParseLanguage("")
	require.NoError(t, err)
	assert.Equal(t, Solidity, lang)

	_, err = ParseLanguage("yul")
	assert.Error(t, err)
}

func TestVersionBefore(t *testing.T) {
	tests := []struct {
		version   string
		threshold string
		want      bool
	}{
		{"0.8.20+commit.a1b79de6", "0.8.21", true},
		{"0.8.21+commit.d9974bed", "0.8.21", false},
		{"v0.8.26", "0.8.21", false},
		{"0.4.26", "0.5.0", true},
		{"0.3.10rc1", "0.3.10", true},
		{"0.3.9", "0.3.10", true},
		{"0.4.0", "0.3.10", false},
		{"garbage", "0.8.21", false},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			assert.Equal(t, tt.want, VersionBefore(tt.version, tt.threshold))
		})
	}
}

func TestVyperAuxdataStyle(t *testing.T) {
	assert.Equal(t, bytecode.AuxdataStyleVyperLt035, VyperAuxdataStyle("0.3.4"))
	assert.Equal(t, bytecode.AuxdataStyleVyperLt0310, VyperAuxdataStyle("0.3.7+commit.6020b8bb"))
	assert.Equal(t, bytecode.AuxdataStyleVyper, VyperAuxdataStyle("0.3.10"))
	assert.Equal(t, bytecode.AuxdataStyleVyper, VyperAuxdataStyle("0.4.0"))
}

func TestAuxdataFromAssemblyOrder(t *testing.T) {
	raw := json.RawMessage(`{
		".code": [],
		".data": {
			"10": {".auxdata": "cc"},
			"2": {".auxdata": "bb", ".data": {"0": {".auxdata": "b0"}}},
			"0": {".auxdata": "aa"}
		},
		".auxdata": "ff"
	}`)

	got, err := auxdataFromAssembly(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"aa", "bb", "b0", "cc", "ff"}, got)

	got, err = auxdataFromAssembly(nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = auxdataFromAssembly(json.RawMessage(`{".auxdata": `))
	assert.Error(t, err)
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name    string
		output  *Output
		err     error
		wantErr error
	}{
		{name: "compiler failure", err: errors.New("exec: solc not found"), wantErr: ErrCompilerError},
		{name: "nil output", wantErr: ErrNoCompilerOutput},
		{name: "no contracts", output: &Output{}, wantErr: ErrNoCompilerOutput},
		{
			name:    "error diagnostics",
			output:  &Output{Errors: []Message{{Severity: "warning", Message: "w"}, {Severity: "error", Message: "ParserError"}}},
			wantErr: ErrCompilerError,
		},
		{
			name:    "target missing",
			output:  &Output{Contracts: map[string]map[string]ContractOutput{"a.sol": {"B": {}}}},
			wantErr: ErrContractNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCompilation(&fakeCompiler{build: func(*JSONInput) (*Output, error) { return tt.output, tt.err }})
			err := c.Compile(context.Background(), false)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, c.Artifact())
		})
	}
}

func TestCompileSetsOutputSelection(t *testing.T) {
	var seen *JSONInput
	fc := &fakeCompiler{build: func(in *JSONInput) (*Output, error) {
		seen = in
		return outputFor(simpleProgram(t, 0x11)), nil
	}}
	c := newTestCompilation(fc)
	require.NoError(t, c.Compile(context.Background(), true))

	assert.Contains(t, string(seen.Settings["outputSelection"]), "evm.legacyAssembly")
	assert.NotContains(t, c.Input.Settings, "outputSelection", "caller input is not modified")
	assert.True(t, c.ForcedAlternateBackend())
	enabled, err := seen.Settings.OptimizerEnabled()
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestGenerateAuxdataPositionsNone(t *testing.T) {
	p := program{runtime: bytecode.Bytecode{0x60, 0x00}, creation: bytecode.Bytecode{0x60, 0x01, 0x60, 0x00}}
	fc := &fakeCompiler{build: func(*JSONInput) (*Output, error) { return outputFor(p), nil }}
	c := newTestCompilation(fc)
	require.NoError(t, c.Compile(context.Background(), false))

	runtime, creation, err := c.GenerateAuxdataPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runtime)
	assert.Empty(t, creation)
}

func TestGenerateAuxdataPositionsSingleTail(t *testing.T) {
	p := simpleProgram(t, 0x11)
	fc := &fakeCompiler{build: func(*JSONInput) (*Output, error) { return outputFor(p), nil }}
	c := newTestCompilation(fc)
	require.NoError(t, c.Compile(context.Background(), false))

	runtime, creation, err := c.GenerateAuxdataPositions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fc.calls, "tail auxdata needs no second compile")

	require.Contains(t, runtime, "1")
	assert.Equal(t, len(p.runtime)-len(p.auxdata[0]), runtime["1"].Offset)
	assert.Equal(t, p.auxdata[0], runtime["1"].Value)
	assert.Equal(t, len(p.creation)-len(p.auxdata[0]), creation["1"].Offset)
}

func TestGenerateAuxdataPositionsSingleMismatch(t *testing.T) {
	p := simpleProgram(t, 0x11)
	p.auxdata = []bytecode.Bytecode{solcAuxdata(t, 0x99)}
	fc := &fakeCompiler{build: func(*JSONInput) (*Output, error) { return outputFor(p), nil }}
	c := newTestCompilation(fc)
	require.NoError(t, c.Compile(context.Background(), false))

	_, _, err := c.GenerateAuxdataPositions(context.Background())
	assert.ErrorIs(t, err, ErrCannotGenerateAuxdataPositions)
}

func TestGenerateAuxdataPositionsDifferential(t *testing.T) {
	original := nestedProgram(t, 0x11)
	edited := nestedProgram(t, 0x21)
	fc := &fakeCompiler{build: func(in *JSONInput) (*Output, error) {
		if isEdited(in) {
			return outputFor(edited), nil
		}
		return outputFor(original), nil
	}}
	c := newTestCompilation(fc)
	require.NoError(t, c.Compile(context.Background(), true))

	runtime, creation, err := c.GenerateAuxdataPositions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fc.calls)
	assert.Equal(t, []bool{true, true}, fc.forced, "differential compile reuses the backend")

	aux1, aux2 := original.auxdata[0], original.auxdata[1]
	child := len(runtimeHead) + 2
	wantRuntime := bytecode.AuxdataPositions{
		"1": {Offset: len(original.runtime) - len(aux1), Value: aux1},
		"2": {Offset: child, Value: aux2},
	}
	assert.Equal(t, wantRuntime, runtime)
	assert.Equal(t, len(initCode)+child, creation["2"].Offset)
	assert.Equal(t, len(original.creation)-len(aux1), creation["1"].Offset)

	// Memoized and stable.
	again, againCreation, err := c.GenerateAuxdataPositions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fc.calls)
	assert.True(t, runtime.Equal(again))
	assert.True(t, creation.Equal(againCreation))
}

func TestGenerateAuxdataPositionsIdempotentAcrossCompilations(t *testing.T) {
	original := nestedProgram(t, 0x11)
	edited := nestedProgram(t, 0x21)
	build := func(in *JSONInput) (*Output, error) {
		if isEdited(in) {
			return outputFor(edited), nil
		}
		return outputFor(original), nil
	}

	var results []bytecode.AuxdataPositions
	for i := 0; i < 2; i++ {
		c := newTestCompilation(&fakeCompiler{build: build})
		require.NoError(t, c.Compile(context.Background(), false))
		runtime, _, err := c.GenerateAuxdataPositions(context.Background())
		require.NoError(t, err)
		results = append(results, runtime)
	}
	assert.True(t, results[0].Equal(results[1]))
}

func TestLocateAuxdataBracketsContentHash(t *testing.T) {
	original := nestedProgram(t, 0x11)
	edited := nestedProgram(t, 0x21)

	diffs, err := AuxdataDiffs(original.auxdata, edited.auxdata)
	require.NoError(t, err)
	require.Len(t, diffs, 2)

	start, end, ok := bytecode.DiffRange(original.auxdata[0], edited.auxdata[0])
	require.True(t, ok)
	// a2 64 "ipfs" 58 22 12 20 | hash (32 bytes) | 64 "solc" 43 ...
	assert.Equal(t, 10, start)
	assert.Equal(t, 41, end)

	positions := LocateAuxdata(original.runtime, edited.runtime, diffs)
	for _, p := range bytecode.DiffPositions(original.runtime, edited.runtime) {
		inside := false
		for _, pos := range positions {
			if p >= pos.Offset+start && p <= pos.Offset+end {
				inside = true
			}
		}
		assert.True(t, inside, "diff at %d lies inside a content hash", p)
	}
}

func TestLocateAuxdataIgnoresImitation(t *testing.T) {
	aux := solcAuxdata(t, 0x11)
	// The contract embeds a copy of its own auxdata as data; only the genuine trailer
	// changes between compiles.
	original := concat(runtimeHead, aux, []byte{0x00}, aux)
	edited := concat(runtimeHead, aux, []byte{0x00}, solcAuxdata(t, 0x21))

	diffs, err := AuxdataDiffs([]bytecode.Bytecode{aux}, []bytecode.Bytecode{solcAuxdata(t, 0x21)})
	require.NoError(t, err)

	positions := LocateAuxdata(original, edited, diffs)
	require.Len(t, positions, 1)
	assert.Equal(t, len(original)-len(aux), positions["1"].Offset)
}

func TestWhitespaceVariant(t *testing.T) {
	in := testInput()
	edited := WhitespaceVariant(in)
	assert.Equal(t, "contract A {} ", edited.Sources["a.sol"].Content)
	assert.Equal(t, "contract B {} ", edited.Sources["b.sol"].Content)
	assert.Equal(t, "contract A {}", in.Sources["a.sol"].Content)
}

func TestVyperModernAppendsImmutables(t *testing.T) {
	aux, err := bytecode.EncodeAuxdata([]any{4, []any{}, 32, map[string]any{"vyper": []any{0, 3, 10}}}, bytecode.AuxdataStyleVyper)
	require.NoError(t, err)
	runtime := bytecode.Bytecode{0x60, 0x00, 0x35, 0x00}
	creation := concat([]byte{0x61, 0x00, 0x04}, runtime, aux)

	out := &Output{Contracts: map[string]map[string]ContractOutput{
		"a.vy": {"a": {
			ABI: json.RawMessage(`[]`),
			EVM: EVMOutput{
				Bytecode:         BytecodeOutput{Object: creation.Hex()},
				DeployedBytecode: BytecodeOutput{Object: runtime.Hex()},
			},
		}},
	}}
	var seen *JSONInput
	c := New(&fakeCompiler{build: func(in *JSONInput) (*Output, error) { seen = in; return out, nil }},
		Vyper, "0.3.10", &JSONInput{Language: "Vyper", Sources: map[string]Source{"a.vy": {}}, Settings: Settings{}},
		Target{Path: "a.vy", Name: "a"})
	require.NoError(t, c.Compile(context.Background(), false))
	assert.JSONEq(t, `{"*":["abi","evm.bytecode","evm.deployedBytecode"]}`, string(seen.Settings["outputSelection"]))

	a := c.Artifact()
	assert.Equal(t, bytecode.AuxdataStyleVyper, a.AuxdataStyle)
	assert.True(t, a.AppendedImmutables)
	assert.Equal(t, bytecode.ImmutableReferences{"0": {{Start: 4, Length: 32}}}, a.ImmutableReferences)

	runtimePos, creationPos, err := c.GenerateAuxdataPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runtimePos)
	assert.Equal(t, len(creation)-len(aux), creationPos["1"].Offset)
}

func TestConstructorInputs(t *testing.T) {
	a := &Artifact{ABI: json.RawMessage(`[{"type":"constructor","inputs":[{"name":"v","type":"uint256"}],"stateMutability":"nonpayable"}]`)}
	args, err := a.ConstructorInputs()
	require.NoError(t, err)
	require.Len(t, args, 1)
	assert.Equal(t, "uint256", args[0].Type.String())

	empty := &Artifact{ABI: json.RawMessage(`[]`)}
	args, err = empty.ConstructorInputs()
	require.NoError(t, err)
	assert.Empty(t, args)
}

func TestSettingsFlags(t *testing.T) {
	tests := []struct {
		name          string
		settings      Settings
		wantOptimizer bool
		wantViaIR     bool
		wantErr       bool
	}{
		{"absent", Settings{}, false, false, false},
		{"enabled", Settings{"optimizer": json.RawMessage(`{"enabled":true}`), "viaIR": json.RawMessage(`true`)}, true, true, false},
		{"malformed optimizer", Settings{"optimizer": json.RawMessage(`[1]`)}, false, false, true},
		{"malformed viaIR", Settings{"viaIR": json.RawMessage(`"yes"`)}, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			optimizer, optErr := tt.settings.OptimizerEnabled()
			viaIR, irErr := tt.settings.ViaIR()
			if tt.wantErr {
				assert.True(t, optErr != nil || irErr != nil)
				return
			}
			require.NoError(t, optErr)
			require.NoError(t, irErr)
			assert.Equal(t, tt.wantOptimizer, optimizer)
			assert.Equal(t, tt.wantViaIR, viaIR)
		})
	}
}
