package bytecode

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidityMetadata() map[string]any {
	return map[string]any{
		"ipfs": append([]byte{0x12, 0x20}, bytes.Repeat([]byte{0x11}, 32)...),
		"solc": []byte{0x00, 0x08, 0x13},
	}
}

func TestSplitAuxdataSolidity(t *testing.T) {
	aux, err := EncodeAuxdata(solidityMetadata(), AuxdataStyleSolidity)
	require.NoError(t, err)
	exec := Bytecode{0x60, 0x80, 0x60, 0x40, 0xfe}
	code := append(exec.Clone(), aux...)

	gotExec, gotAux, ok := SplitAuxdata(code, AuxdataStyleSolidity)
	require.True(t, ok)
	assert.Equal(t, []byte(exec), gotExec)
	assert.Equal(t, aux, gotAux)
	assert.True(t, HasContentHash(gotAux, AuxdataStyleSolidity))

	kind, hash, ok := ContentHash(gotAux, AuxdataStyleSolidity)
	require.True(t, ok)
	assert.Equal(t, HashIPFS, kind)
	assert.Len(t, hash, 34)
}

func TestSplitAuxdataRejects(t *testing.T) {
	aux, err := EncodeAuxdata(solidityMetadata(), AuxdataStyleSolidity)
	require.NoError(t, err)

	tests := []struct {
		name string
		code []byte
	}{
		{name: "no trailer", code: []byte{0x60, 0x80, 0x60, 0x40}},
		{name: "trailer is whole code", code: aux},
		{name: "length past start", code: []byte{0x60, 0xff, 0xff}},
		{name: "garbage payload", code: []byte{0x60, 0x80, 0xff, 0xff, 0x00, 0x02}},
		{name: "too short", code: []byte{0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec, got, ok := SplitAuxdata(tt.code, AuxdataStyleSolidity)
			assert.False(t, ok)
			assert.Nil(t, got)
			assert.Equal(t, tt.code, exec)
		})
	}
}

func TestSplitAuxdataVyperStyles(t *testing.T) {
	exec := []byte{0x60, 0x00, 0x35}

	modern, err := EncodeAuxdata([]any{10, []any{}, 64, map[string]any{"vyper": []any{0, 3, 10}}}, AuxdataStyleVyper)
	require.NoError(t, err)
	_, aux, ok := SplitAuxdata(append(append([]byte{}, exec...), modern...), AuxdataStyleVyper)
	require.True(t, ok)
	assert.Equal(t, modern, aux)

	size, ok := VyperImmutableSize(modern)
	require.True(t, ok)
	assert.Equal(t, 64, size)

	// The same bytes read with the solidity convention over-count by two.
	_, _, ok = SplitAuxdata(append(append([]byte{}, exec...), modern...), AuxdataStyleSolidity)
	assert.False(t, ok)

	legacy, err := EncodeAuxdata(map[string]any{"vyper": []any{0, 3, 4}}, AuxdataStyleVyperLt035)
	require.NoError(t, err)
	require.Len(t, legacy, 11)
	_, aux, ok = SplitAuxdata(append(append([]byte{}, exec...), legacy...), AuxdataStyleVyperLt035)
	require.True(t, ok)
	assert.Equal(t, legacy, aux)
	assert.False(t, HasContentHash(aux, AuxdataStyleVyperLt035))
}

func TestNormalizeAuxdata(t *testing.T) {
	aux, err := EncodeAuxdata(solidityMetadata(), AuxdataStyleSolidity)
	require.NoError(t, err)
	payload := aux[:len(aux)-2]

	assert.Equal(t, aux, NormalizeAuxdata(payload, AuxdataStyleSolidity))
	assert.Equal(t, aux, NormalizeAuxdata(aux, AuxdataStyleSolidity))
}

func TestHasContentHashWithoutHash(t *testing.T) {
	aux, err := EncodeAuxdata(map[string]any{"solc": []byte{0, 8, 19}}, AuxdataStyleSolidity)
	require.NoError(t, err)
	assert.False(t, HasContentHash(aux, AuxdataStyleSolidity))
	assert.False(t, HasContentHash([]byte{0x00, 0x01}, AuxdataStyleSolidity))
}
