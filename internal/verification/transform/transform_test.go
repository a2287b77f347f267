package transform

import (
	"bytes"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/contraverify/internal/verification/bytecode"
)

var libAddress = bytes.Repeat([]byte{0xab}, 20)

func uint256Args(t *testing.T) abi.Arguments {
	t.Helper()
	typ, err := abi.NewType("uint256", "", nil)
	require.NoError(t, err)
	return abi.Arguments{{Name: "value", Type: typ}}
}

func TestCallProtection(t *testing.T) {
	template := append([]byte{opPush20}, make([]byte, 20)...)
	template = append(template, 0x30, 0x14)
	onchain := append([]byte{opPush20}, libAddress...)
	onchain = append(onchain, 0x30, 0x14)

	got := CallProtection(template, onchain)
	assert.Equal(t, bytecode.Bytecode(onchain), got.Populated)
	require.Len(t, got.Transformations, 1)
	assert.Equal(t, Transformation{Type: TypeReplace, Reason: ReasonCallProtection, Offset: 1}, got.Transformations[0])
	assert.Equal(t, "0x"+strings.Repeat("ab", 20), got.Values.CallProtection)

	plain := CallProtection(bytecode.Bytecode{0x60, 0x80}, bytecode.Bytecode{0x60, 0x80})
	assert.Empty(t, plain.Transformations)
}

func TestLibraries(t *testing.T) {
	fqn := "contracts/Math.sol:Math"
	refs := bytecode.LinkReferences{"contracts/Math.sol": {"Math": {{Start: 1, Length: 20}}}}

	tests := []struct {
		name     string
		unlinked string
		wantKey  string
		wantErr  bool
	}{
		{name: "keccak placeholder", unlinked: "0x73" + KeccakPlaceholder(fqn) + "00", wantKey: KeccakPlaceholder(fqn)},
		{name: "legacy placeholder", unlinked: "0x73" + LegacyPlaceholder(fqn) + "00", wantKey: LegacyPlaceholder(fqn)},
		{name: "zeroed slot", unlinked: "0x73" + strings.Repeat("00", 20) + "00", wantKey: KeccakPlaceholder(fqn)},
		{name: "foreign placeholder", unlinked: "0x73" + KeccakPlaceholder("other.sol:Other") + "00", wantErr: true},
		{name: "non-zero slot", unlinked: "0x73" + strings.Repeat("11", 20) + "00", wantErr: true},
	}

	onchain := append(append([]byte{opPush20}, libAddress...), 0x00)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			template, placeholders, err := bytecode.ParseUnlinked(tt.unlinked)
			require.NoError(t, err)

			got, err := Libraries(template, placeholders, onchain, refs)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrLibraryPlaceholderMismatch)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, bytecode.Bytecode(onchain), got.Populated)
			require.Len(t, got.Transformations, 1)
			assert.Equal(t, Transformation{Type: TypeReplace, Reason: ReasonLibrary, Offset: 1, ID: fqn}, got.Transformations[0])
			assert.Equal(t, "0x"+strings.Repeat("ab", 20), got.Values.Libraries[fqn])
			assert.Equal(t, "0x"+strings.Repeat("ab", 20), got.LibraryMap[tt.wantKey])
		})
	}
}

func TestLegacyPlaceholder(t *testing.T) {
	p := LegacyPlaceholder("a/very/long/path/to/some/Contract.sol:LibraryName")
	assert.Len(t, p, 40)
	assert.True(t, strings.HasPrefix(p, "__a/very/long/path"))

	short := LegacyPlaceholder("L.sol:L")
	assert.Equal(t, "__L.sol:L"+strings.Repeat("_", 31), short)
}

func TestImmutables(t *testing.T) {
	template := bytecode.Bytecode{0x7f, 0, 0, 0, 0x60, 0, 0}
	onchain := bytecode.Bytecode{0x7f, 1, 2, 3, 0x60, 4, 5}
	refs := bytecode.ImmutableReferences{
		"12": {{Start: 1, Length: 3}},
		"3":  {{Start: 5, Length: 2}},
	}

	got := Immutables(template, onchain, refs)
	assert.Equal(t, onchain, got.Populated)
	require.Len(t, got.Transformations, 2)
	assert.Equal(t, "3", got.Transformations[0].ID)
	assert.Equal(t, "12", got.Transformations[1].ID)
	assert.Equal(t, bytecode.Bytecode{1, 2, 3}, got.Values.Immutables["12"])
	assert.Equal(t, bytecode.Bytecode{0, 0, 0}, template[1:4], "template is not modified")
}

func TestAppendedImmutables(t *testing.T) {
	template := bytecode.Bytecode{0x60, 0x00}
	onchain := bytecode.Bytecode{0x60, 0x00, 0xaa, 0xbb}
	refs := bytecode.ImmutableReferences{"0": {{Start: 2, Length: 2}}}

	got := AppendedImmutables(template, onchain, refs)
	assert.Equal(t, onchain, got.Populated)
	require.Len(t, got.Transformations, 1)
	assert.Equal(t, Transformation{Type: TypeInsert, Reason: ReasonImmutable, Offset: 2, ID: "0"}, got.Transformations[0])
}

func TestAuxdata(t *testing.T) {
	template := bytecode.Bytecode{0x60, 0x01, 0x02, 0x03, 0x00, 0x03}
	onchain := bytecode.Bytecode{0x60, 0x09, 0x08, 0x07, 0x00, 0x03}
	positions := bytecode.AuxdataPositions{"1": {Offset: 1, Value: template[1:]}}

	got := Auxdata(template, onchain, positions)
	assert.Equal(t, onchain, got.Populated)
	require.Len(t, got.Transformations, 1)
	assert.Equal(t, Transformation{Type: TypeReplace, Reason: ReasonCBORAuxdata, Offset: 1, ID: "1"}, got.Transformations[0])
	assert.Equal(t, onchain[1:], got.Values.CBORAuxdata["1"])
}

func TestConstructorArguments(t *testing.T) {
	args := uint256Args(t)
	encoded, err := args.Pack(big.NewInt(12345))
	require.NoError(t, err)

	creation := bytecode.Bytecode{0x60, 0x80, 0x60, 0x40}
	onchain := append(creation.Clone(), encoded...)

	got, err := ConstructorArguments(creation, onchain, args)
	require.NoError(t, err)
	require.Len(t, got.Transformations, 1)
	assert.Equal(t, Transformation{Type: TypeInsert, Reason: ReasonConstructorArguments, Offset: 4}, got.Transformations[0])

	decoded, err := args.Unpack(got.Values.ConstructorArguments)
	require.NoError(t, err)
	assert.Equal(t, int64(12345), decoded[0].(*big.Int).Int64())
	assert.Equal(t, onchain, got.Populated)
}

func TestConstructorArgumentsMismatch(t *testing.T) {
	creation := bytecode.Bytecode{0x60, 0x80}

	tests := []struct {
		name    string
		surplus []byte
		args    abi.Arguments
	}{
		{name: "no constructor inputs", surplus: make([]byte, 32), args: nil},
		{name: "short encoding", surplus: []byte{0x01, 0x02}, args: uint256Args(t)},
		{name: "non-canonical trailing bytes", surplus: make([]byte, 33), args: uint256Args(t)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			onchain := append(creation.Clone(), tt.surplus...)
			_, err := ConstructorArguments(creation, onchain, tt.args)
			assert.ErrorIs(t, err, ErrConstructorArgumentsMismatch)
		})
	}
}

func TestConstructorArgumentsAbsent(t *testing.T) {
	creation := bytecode.Bytecode{0x60, 0x80}
	got, err := ConstructorArguments(creation, creation, uint256Args(t))
	require.NoError(t, err)
	assert.Empty(t, got.Transformations)
	assert.Equal(t, creation, got.Populated)
}

func TestApplyRoundTrip(t *testing.T) {
	fqn := "L.sol:L"
	template, placeholders, err := bytecode.ParseUnlinked("0x73" + strings.Repeat("00", 20) + "61" + KeccakPlaceholder(fqn) + "7f0000" + "a1b2")
	require.NoError(t, err)

	onchain := bytecode.Bytecode{opPush20}
	onchain = append(onchain, bytes.Repeat([]byte{0x01}, 20)...)
	onchain = append(onchain, 0x61)
	onchain = append(onchain, libAddress...)
	onchain = append(onchain, 0x7f, 0xbe, 0xef, 0xc1, 0xd2)

	refs := bytecode.LinkReferences{"L.sol": {"L": {{Start: 22, Length: 20}}}}
	immutables := bytecode.ImmutableReferences{"7": {{Start: 43, Length: 2}}}
	positions := bytecode.AuxdataPositions{"1": {Offset: 45, Value: bytecode.Bytecode{0xa1, 0xb2}}}

	result := CallProtection(template, onchain)
	libs, err := Libraries(result.Populated, placeholders, onchain, refs)
	require.NoError(t, err)
	result = result.Then(libs)
	result = result.Then(Immutables(result.Populated, onchain, immutables))
	result = result.Then(Auxdata(result.Populated, onchain, positions))

	require.Equal(t, onchain, result.Populated)

	reasons := make([]Reason, 0, len(result.Transformations))
	for _, tr := range result.Transformations {
		reasons = append(reasons, tr.Reason)
	}
	assert.Equal(t, []Reason{ReasonCallProtection, ReasonLibrary, ReasonImmutable, ReasonCBORAuxdata}, reasons)

	replayed, err := Apply(template, result.Transformations, result.Values)
	require.NoError(t, err)
	assert.Equal(t, onchain, replayed)
}

func TestApplyMissingValue(t *testing.T) {
	_, err := Apply(bytecode.Bytecode{0x00}, []Transformation{{Type: TypeReplace, Reason: ReasonImmutable, ID: "1"}}, Values{})
	assert.ErrorIs(t, err, ErrMissingValue)
}

func TestValuesMerge(t *testing.T) {
	a := Values{Libraries: map[string]string{"a": "1"}, CallProtection: "0x01"}
	b := Values{Libraries: map[string]string{"b": "2"}}

	merged := a.Merge(b)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, merged.Libraries)
	assert.Equal(t, "0x01", merged.CallProtection)
	assert.Len(t, a.Libraries, 1)
}
