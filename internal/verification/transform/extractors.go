package transform

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/pendergraft/contraverify/internal/verification/bytecode"
)

const (
	opPush20           = 0x73
	addressLength      = 20
	placeholderHexSize = 40
)

// CallProtection fills the PUSH20 zero-address guard that libraries carry at the start
// of their runtime code.
func CallProtection(template, onchain bytecode.Bytecode) Extraction {
	out := Extraction{Populated: template.Clone()}
	if len(template) < 1+addressLength || template[0] != opPush20 || !template.Slice(1, addressLength).IsZero() {
		return out
	}
	if len(onchain) < 1+addressLength {
		return out
	}
	guard := onchain[1 : 1+addressLength]
	overwrite(out.Populated, 1, guard)
	out.Transformations = []Transformation{{Type: TypeReplace, Reason: ReasonCallProtection, Offset: 1}}
	out.Values.CallProtection = hexutil.Encode(guard)
	return out
}

// KeccakPlaceholder returns the solc >= 0.5.0 placeholder for a fully qualified library name.
func KeccakPlaceholder(fqn string) string {
	digest := hex.EncodeToString(crypto.Keccak256([]byte(fqn)))
	return "__$" + digest[:34] + "$__"
}

// LegacyPlaceholder returns the pre-0.5.0 placeholder: the name truncated to 36
// characters, wrapped in underscores to 40.
func LegacyPlaceholder(fqn string) string {
	if len(fqn) > 36 {
		fqn = fqn[:36]
	}
	p := "__" + fqn
	return p + strings.Repeat("_", placeholderHexSize-len(p))
}

// Libraries substitutes library addresses for every link slot. placeholders holds the
// placeholder text found at each slot of the template; a slot without text must be
// zero-filled.
func Libraries(template bytecode.Bytecode, placeholders bytecode.Placeholders, onchain bytecode.Bytecode, refs bytecode.LinkReferences) (Extraction, error) {
	out := Extraction{Populated: template.Clone()}
	for _, ref := range refs.Sorted() {
		fqn := ref.FullyQualifiedName()
		keccak := KeccakPlaceholder(fqn)

		key := keccak
		if text, ok := placeholders.At(ref.Start); ok {
			if text != keccak && text != LegacyPlaceholder(fqn) {
				return Extraction{}, fmt.Errorf("%w: %s at offset %d has %q", ErrLibraryPlaceholderMismatch, fqn, ref.Start, text)
			}
			key = text
		} else if !template.Slice(ref.Start, ref.Length).IsZero() {
			return Extraction{}, fmt.Errorf("%w: %s at offset %d is not a placeholder", ErrLibraryPlaceholderMismatch, fqn, ref.Start)
		}

		address := hexutil.Encode(onchain.Slice(ref.Start, ref.Length))
		overwrite(out.Populated, ref.Start, onchain.Slice(ref.Start, ref.Length))

		out.Transformations = append(out.Transformations, Transformation{
			Type: TypeReplace, Reason: ReasonLibrary, Offset: ref.Start, ID: fqn,
		})
		if out.Values.Libraries == nil {
			out.Values.Libraries = make(map[string]string)
			out.LibraryMap = make(map[string]string)
		}
		out.Values.Libraries[fqn] = address
		out.LibraryMap[key] = address
	}
	return out, nil
}

// Immutables overwrites each immutable slot of the template with the on-chain value.
func Immutables(template, onchain bytecode.Bytecode, refs bytecode.ImmutableReferences) Extraction {
	out := Extraction{Populated: template.Clone()}
	for _, ref := range refs.Sorted() {
		value := onchain.Slice(ref.Start, ref.Length).Clone()
		overwrite(out.Populated, ref.Start, value)
		out.Transformations = append(out.Transformations, Transformation{
			Type: TypeReplace, Reason: ReasonImmutable, Offset: ref.Start, ID: ref.ASTID,
		})
		if out.Values.Immutables == nil {
			out.Values.Immutables = make(map[string]bytecode.Bytecode)
		}
		out.Values.Immutables[ref.ASTID] = value
	}
	return out
}

// AppendedImmutables handles compilers that write immutables after the end of the
// runtime code at deploy time. Each reference marks the appended region in the
// on-chain code; the template is extended with those bytes.
func AppendedImmutables(template, onchain bytecode.Bytecode, refs bytecode.ImmutableReferences) Extraction {
	out := Extraction{Populated: template.Clone()}
	for _, ref := range refs.Sorted() {
		if ref.Start != len(out.Populated) {
			continue
		}
		value := onchain.Slice(ref.Start, ref.Length).Clone()
		out.Populated = append(out.Populated, value...)
		out.Transformations = append(out.Transformations, Transformation{
			Type: TypeInsert, Reason: ReasonImmutable, Offset: ref.Start, ID: ref.ASTID,
		})
		if out.Values.Immutables == nil {
			out.Values.Immutables = make(map[string]bytecode.Bytecode)
		}
		out.Values.Immutables[ref.ASTID] = value
	}
	return out
}

// Auxdata copies the on-chain bytes over every located auxdata block.
func Auxdata(template, onchain bytecode.Bytecode, positions bytecode.AuxdataPositions) Extraction {
	out := Extraction{Populated: template.Clone()}
	for _, key := range positions.Keys() {
		pos := positions[key]
		value := onchain.Slice(pos.Offset, len(pos.Value)).Clone()
		overwrite(out.Populated, pos.Offset, value)
		out.Transformations = append(out.Transformations, Transformation{
			Type: TypeReplace, Reason: ReasonCBORAuxdata, Offset: pos.Offset, ID: key,
		})
		if out.Values.CBORAuxdata == nil {
			out.Values.CBORAuxdata = make(map[string]bytecode.Bytecode)
		}
		out.Values.CBORAuxdata[key] = value
	}
	return out
}

// ConstructorArguments treats the on-chain bytes past the end of the populated creation
// code as ABI-encoded constructor arguments and checks they round-trip through args.
func ConstructorArguments(populated, onchain bytecode.Bytecode, args abi.Arguments) (Extraction, error) {
	out := Extraction{Populated: populated.Clone()}
	if len(onchain) <= len(populated) {
		return out, nil
	}
	encoded := onchain[len(populated):].Clone()
	if len(args) == 0 {
		return Extraction{}, fmt.Errorf("%w: %d trailing bytes but constructor takes no arguments", ErrConstructorArgumentsMismatch, len(encoded))
	}
	decoded, err := args.Unpack(encoded)
	if err != nil {
		return Extraction{}, fmt.Errorf("%w: %v", ErrConstructorArgumentsMismatch, err)
	}
	reencoded, err := args.Pack(decoded...)
	if err != nil {
		return Extraction{}, fmt.Errorf("%w: %v", ErrConstructorArgumentsMismatch, err)
	}
	if !bytes.Equal(reencoded, encoded) {
		return Extraction{}, fmt.Errorf("%w: re-encoding does not reproduce on-chain bytes", ErrConstructorArgumentsMismatch)
	}

	out.Populated = append(out.Populated, encoded...)
	out.Transformations = []Transformation{{
		Type: TypeInsert, Reason: ReasonConstructorArguments, Offset: len(populated),
	}}
	out.Values.ConstructorArguments = encoded
	return out, nil
}
