package compilation

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pendergraft/contraverify/internal/verification/bytecode"
)

// AuxdataDiff is one reported auxdata block together with the offset of its first
// byte that changes when the sources change.
type AuxdataDiff struct {
	Key       string
	Value     bytecode.Bytecode
	DiffStart int
}

// LocateTailAuxdata returns the position of reported when it is exactly the auxdata
// trailer of code.
func LocateTailAuxdata(code bytecode.Bytecode, reported bytecode.Bytecode, style bytecode.AuxdataStyle) (bytecode.AuxdataPosition, bool) {
	tail := bytecode.TailAuxdata(code, style)
	if tail == nil || !reported.Equal(tail) {
		return bytecode.AuxdataPosition{}, false
	}
	return bytecode.AuxdataPosition{Offset: len(code) - len(tail), Value: tail}, true
}

// LocateAuxdata finds each auxdata block of original by comparing it with edited, a
// compile of the same program whose sources differ only in whitespace. Each run of
// differing bytes starts at DiffStart bytes into exactly one auxdata block.
func LocateAuxdata(original, edited bytecode.Bytecode, diffs []AuxdataDiff) bytecode.AuxdataPositions {
	positions := make(bytecode.AuxdataPositions)
	for _, p := range bytecode.RunStarts(bytecode.DiffPositions(original, edited)) {
		for _, d := range diffs {
			if _, done := positions[d.Key]; done {
				continue
			}
			offset := p - d.DiffStart
			if offset < 0 || offset+len(d.Value) > len(original) {
				continue
			}
			if original[offset : offset+len(d.Value)].Equal(d.Value) {
				positions[d.Key] = bytecode.AuxdataPosition{Offset: offset, Value: d.Value}
				break
			}
		}
	}
	return positions
}

// AuxdataDiffs pairs the auxdata reported by two compiles of the same program.
// Blocks that did not change are skipped since they cannot be located.
func AuxdataDiffs(original, edited []bytecode.Bytecode) ([]AuxdataDiff, error) {
	if len(original) != len(edited) {
		return nil, fmt.Errorf("auxdata count changed from %d to %d", len(original), len(edited))
	}
	var out []AuxdataDiff
	for i := range original {
		start, _, ok := bytecode.DiffRange(original[i], edited[i])
		if !ok {
			continue
		}
		out = append(out, AuxdataDiff{Key: strconv.Itoa(i + 1), Value: original[i], DiffStart: start})
	}
	return out, nil
}

// WhitespaceVariant appends one space to every source so only metadata hashes change.
func WhitespaceVariant(input *JSONInput) *JSONInput {
	edited := input.Clone()
	for path, src := range edited.Sources {
		src.Content += " "
		edited.Sources[path] = src
	}
	return edited
}

// solidityAuxdataPositions must be called with c.mu held.
func (c *Compilation) solidityAuxdataPositions(ctx context.Context) (runtime, creation bytecode.AuxdataPositions, err error) {
	a := c.artifact
	if a.auxdataErr != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCannotGenerateAuxdataPositions, a.auxdataErr)
	}

	switch len(a.Auxdata) {
	case 0:
		return bytecode.AuxdataPositions{}, bytecode.AuxdataPositions{}, nil
	case 1:
		rt, ok := LocateTailAuxdata(a.RuntimeBytecode, a.Auxdata[0], a.AuxdataStyle)
		if !ok {
			return nil, nil, fmt.Errorf("%w: runtime trailer differs from reported auxdata", ErrCannotGenerateAuxdataPositions)
		}
		if cr, ok := LocateTailAuxdata(a.CreationBytecode, a.Auxdata[0], a.AuxdataStyle); ok {
			return bytecode.AuxdataPositions{"1": rt}, bytecode.AuxdataPositions{"1": cr}, nil
		}
	}

	edited, err := c.run(ctx, WhitespaceVariant(c.Input), c.forceAlternateBackend)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: differential compile: %v", ErrCannotGenerateAuxdataPositions, err)
	}
	if edited.auxdataErr != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCannotGenerateAuxdataPositions, edited.auxdataErr)
	}
	diffs, err := AuxdataDiffs(a.Auxdata, edited.Auxdata)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCannotGenerateAuxdataPositions, err)
	}

	runtime = LocateAuxdata(a.RuntimeBytecode, edited.RuntimeBytecode, diffs)
	creation = LocateAuxdata(a.CreationBytecode, edited.CreationBytecode, diffs)
	return runtime, creation, nil
}
