// Package transform extracts the per-deployment substitutions that separate a
// recompiled bytecode from its on-chain counterpart, and replays them.
package transform

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/contraverify/internal/verification/bytecode"
)

// Type is the edit applied at an offset.
type Type string

const (
	TypeInsert  Type = "insert"
	TypeReplace Type = "replace"
)

// Reason names what a transformation substitutes.
type Reason string

const (
	ReasonConstructorArguments Reason = "constructorArguments"
	ReasonLibrary              Reason = "library"
	ReasonImmutable            Reason = "immutable"
	ReasonCBORAuxdata          Reason = "cborAuxdata"
	ReasonCallProtection       Reason = "callProtection"
)

var (
	// ErrLibraryPlaceholderMismatch is returned when a link slot holds neither a
	// recognised placeholder nor zeros.
	ErrLibraryPlaceholderMismatch = errors.New("library placeholder mismatch")
	// ErrConstructorArgumentsMismatch is returned when trailing creation bytes do not
	// round-trip through the constructor ABI.
	ErrConstructorArgumentsMismatch = errors.New("constructor arguments mismatch")
	// ErrMissingValue is returned by Apply when a transformation has no recorded value.
	ErrMissingValue = errors.New("transformation value missing")
)

// Transformation is one recorded substitution. Offsets are in bytes.
type Transformation struct {
	Type   Type   `json:"type"`
	Reason Reason `json:"reason"`
	Offset int    `json:"offset"`
	ID     string `json:"id,omitempty"`
}

// Values holds the on-chain literals substituted by the transformations.
type Values struct {
	ConstructorArguments bytecode.Bytecode            `json:"constructorArguments,omitempty"`
	CallProtection       string                       `json:"callProtection,omitempty"`
	Libraries            map[string]string            `json:"libraries,omitempty"`
	Immutables           map[string]bytecode.Bytecode `json:"immutables,omitempty"`
	CBORAuxdata          map[string]bytecode.Bytecode `json:"cborAuxdata,omitempty"`
}

// Merge returns v overlaid with other. Neither input is modified.
func (v Values) Merge(other Values) Values {
	out := Values{
		ConstructorArguments: v.ConstructorArguments,
		CallProtection:       v.CallProtection,
		Libraries:            mergeMap(v.Libraries, other.Libraries),
		Immutables:           mergeMap(v.Immutables, other.Immutables),
		CBORAuxdata:          mergeMap(v.CBORAuxdata, other.CBORAuxdata),
	}
	if other.ConstructorArguments != nil {
		out.ConstructorArguments = other.ConstructorArguments
	}
	if other.CallProtection != "" {
		out.CallProtection = other.CallProtection
	}
	return out
}

func mergeMap[V any](a, b map[string]V) map[string]V {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(map[string]V, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Extraction is the outcome of one extractor: the template with real values filled
// in, what was substituted and where.
type Extraction struct {
	Populated       bytecode.Bytecode
	Transformations []Transformation
	Values          Values
	LibraryMap      map[string]string
}

// Then appends next to e, keeping e's transformations first. next.Populated wins.
func (e Extraction) Then(next Extraction) Extraction {
	out := Extraction{
		Populated:       next.Populated,
		Transformations: make([]Transformation, 0, len(e.Transformations)+len(next.Transformations)),
		Values:          e.Values.Merge(next.Values),
		LibraryMap:      mergeMap(e.LibraryMap, next.LibraryMap),
	}
	out.Transformations = append(out.Transformations, e.Transformations...)
	out.Transformations = append(out.Transformations, next.Transformations...)
	return out
}

// overwrite copies src into dst at offset, clipped to dst.
func overwrite(dst bytecode.Bytecode, offset int, src []byte) {
	if offset < 0 || offset >= len(dst) {
		return
	}
	copy(dst[offset:], src)
}

// Apply replays transformations in order onto code using values and returns the
// resulting bytecode. code is not modified.
func Apply(code bytecode.Bytecode, transformations []Transformation, values Values) (bytecode.Bytecode, error) {
	out := code.Clone()
	for _, t := range transformations {
		value, err := valueFor(t, values)
		if err != nil {
			return nil, err
		}
		switch t.Type {
		case TypeReplace:
			if t.Offset < 0 || t.Offset+len(value) > len(out) {
				return nil, fmt.Errorf("replace %s at %d: out of range", t.Reason, t.Offset)
			}
			copy(out[t.Offset:], value)
		case TypeInsert:
			if t.Offset < 0 || t.Offset > len(out) {
				return nil, fmt.Errorf("insert %s at %d: out of range", t.Reason, t.Offset)
			}
			grown := make(bytecode.Bytecode, 0, len(out)+len(value))
			grown = append(grown, out[:t.Offset]...)
			grown = append(grown, value...)
			out = append(grown, out[t.Offset:]...)
		default:
			return nil, fmt.Errorf("unknown transformation type %q", t.Type)
		}
	}
	return out, nil
}

func valueFor(t Transformation, values Values) ([]byte, error) {
	var (
		value []byte
		ok    bool
	)
	switch t.Reason {
	case ReasonConstructorArguments:
		value, ok = values.ConstructorArguments, values.ConstructorArguments != nil
	case ReasonCallProtection:
		value, ok = addressBytes(values.CallProtection)
	case ReasonLibrary:
		value, ok = addressBytes(values.Libraries[t.ID])
	case ReasonImmutable:
		value, ok = values.Immutables[t.ID]
	case ReasonCBORAuxdata:
		value, ok = values.CBORAuxdata[t.ID]
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s %q", ErrMissingValue, t.Reason, t.ID)
	}
	return value, nil
}

func addressBytes(s string) ([]byte, bool) {
	if !common.IsHexAddress(s) {
		return nil, false
	}
	return common.HexToAddress(s).Bytes(), true
}
