package bytecode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// AuxdataStyle selects how the CBOR trailer of a bytecode is delimited.
type AuxdataStyle string

const (
	// AuxdataStyleSolidity ends with a 2-byte big-endian length that excludes itself.
	AuxdataStyleSolidity AuxdataStyle = "solidity"
	// AuxdataStyleVyper (>= 0.3.10) ends with a 2-byte length that includes itself.
	AuxdataStyleVyper AuxdataStyle = "vyper"
	// AuxdataStyleVyperLt0310 is delimited like Solidity.
	AuxdataStyleVyperLt0310 AuxdataStyle = "vyper_lt_0_3_10"
	// AuxdataStyleVyperLt035 is a fixed 11-byte trailer without a length suffix.
	AuxdataStyleVyperLt035 AuxdataStyle = "vyper_lt_0_3_5"
)

const lengthSuffixSize = 2

// legacyVyperTrailerPrefix is {"vyper": [ in CBOR; three single-byte version numbers follow.
var legacyVyperTrailerPrefix = []byte{0xa1, 0x65, 'v', 'y', 'p', 'e', 'r', 0x83}

const legacyVyperTrailerSize = 11

// Content hash keys embedded by solc.
const (
	HashIPFS  = "ipfs"
	HashBzzr0 = "bzzr0"
	HashBzzr1 = "bzzr1"
)

var (
	// ErrNoAuxdata is returned when a bytecode does not end in a decodable CBOR trailer.
	ErrNoAuxdata = errors.New("no cbor auxdata")
	// ErrUnknownAuxdataStyle is returned for an unrecognized style tag.
	ErrUnknownAuxdataStyle = errors.New("unknown auxdata style")
)

// auxdataSize returns the total trailer length (payload plus suffix) announced by the
// tail of code, and the payload bounds inside that trailer.
func auxdataSize(code []byte, style AuxdataStyle) (total, payloadLen int, err error) {
	switch style {
	case AuxdataStyleSolidity, AuxdataStyleVyperLt0310:
		if len(code) < lengthSuffixSize {
			return 0, 0, ErrNoAuxdata
		}
		n := int(binary.BigEndian.Uint16(code[len(code)-lengthSuffixSize:]))
		return n + lengthSuffixSize, n, nil
	case AuxdataStyleVyper:
		if len(code) < lengthSuffixSize {
			return 0, 0, ErrNoAuxdata
		}
		n := int(binary.BigEndian.Uint16(code[len(code)-lengthSuffixSize:]))
		if n <= lengthSuffixSize {
			return 0, 0, ErrNoAuxdata
		}
		return n, n - lengthSuffixSize, nil
	case AuxdataStyleVyperLt035:
		if len(code) < legacyVyperTrailerSize {
			return 0, 0, ErrNoAuxdata
		}
		if !bytes.HasPrefix(code[len(code)-legacyVyperTrailerSize:], legacyVyperTrailerPrefix) {
			return 0, 0, ErrNoAuxdata
		}
		return legacyVyperTrailerSize, legacyVyperTrailerSize, nil
	default:
		return 0, 0, fmt.Errorf("%w: %q", ErrUnknownAuxdataStyle, style)
	}
}

// SplitAuxdata separates code into the executable part and its CBOR auxdata trailer.
// ok is false when the trailer is missing, would consume the whole code, or does not
// decode as CBOR.
func SplitAuxdata(code []byte, style AuxdataStyle) (execution, auxdata []byte, ok bool) {
	total, payloadLen, err := auxdataSize(code, style)
	if err != nil || payloadLen == 0 || total >= len(code) {
		return code, nil, false
	}
	split := len(code) - total
	trailer := code[split:]
	var v any
	if err := cbor.Unmarshal(trailer[:payloadLen], &v); err != nil {
		return code, nil, false
	}
	return code[:split], trailer, true
}

// TailAuxdata returns the trailer of code, or nil when there is none.
func TailAuxdata(code []byte, style AuxdataStyle) []byte {
	_, aux, ok := SplitAuxdata(code, style)
	if !ok {
		return nil
	}
	return aux
}

// NormalizeAuxdata returns a compiler-reported auxdata literal with its length suffix,
// appending one when the compiler omitted it.
func NormalizeAuxdata(reported []byte, style AuxdataStyle) []byte {
	if len(reported) == 0 {
		return reported
	}
	if total, _, err := auxdataSize(reported, style); err == nil && total == len(reported) {
		return reported
	}
	var n int
	switch style {
	case AuxdataStyleSolidity, AuxdataStyleVyperLt0310:
		n = len(reported)
	case AuxdataStyleVyper:
		n = len(reported) + lengthSuffixSize
	default:
		return reported
	}
	out := make([]byte, len(reported), len(reported)+lengthSuffixSize)
	copy(out, reported)
	return binary.BigEndian.AppendUint16(out, uint16(n))
}

// DecodeAuxdata decodes the CBOR payload of a full trailer (payload plus suffix).
func DecodeAuxdata(auxdata []byte, style AuxdataStyle) (any, error) {
	total, payloadLen, err := auxdataSize(auxdata, style)
	if err != nil {
		return nil, err
	}
	if total != len(auxdata) || payloadLen == 0 {
		return nil, fmt.Errorf("%w: trailer announces %d bytes, have %d", ErrNoAuxdata, total, len(auxdata))
	}
	var v any
	if err := cbor.Unmarshal(auxdata[:payloadLen], &v); err != nil {
		return nil, fmt.Errorf("decoding auxdata cbor: %w", err)
	}
	return v, nil
}

// EncodeAuxdata builds a trailer for payload in the given style.
func EncodeAuxdata(payload any, style AuxdataStyle) ([]byte, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	body, err := enc.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding auxdata cbor: %w", err)
	}
	switch style {
	case AuxdataStyleSolidity, AuxdataStyleVyperLt0310:
		return binary.BigEndian.AppendUint16(body, uint16(len(body))), nil
	case AuxdataStyleVyper:
		return binary.BigEndian.AppendUint16(body, uint16(len(body)+lengthSuffixSize)), nil
	case AuxdataStyleVyperLt035:
		return body, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAuxdataStyle, style)
	}
}

// ContentHash returns the metadata content hash embedded in the auxdata, if any.
func ContentHash(auxdata []byte, style AuxdataStyle) (kind string, hash []byte, ok bool) {
	v, err := DecodeAuxdata(auxdata, style)
	if err != nil {
		return "", nil, false
	}
	for _, key := range []string{HashIPFS, HashBzzr1, HashBzzr0} {
		if h, found := lookupBytes(v, key); found && len(h) > 0 {
			return key, h, true
		}
	}
	return "", nil, false
}

// HasContentHash reports whether the auxdata binds a metadata document by hash.
func HasContentHash(auxdata []byte, style AuxdataStyle) bool {
	_, _, ok := ContentHash(auxdata, style)
	return ok
}

// VyperImmutableSize reads the immutable section size from a Vyper >= 0.3.10 creation
// trailer, encoded as [runtime_size, data_sizes, immutable_size, {"vyper": [...]}].
// Newer releases prefix the array with an integrity hash.
func VyperImmutableSize(auxdata []byte) (int, bool) {
	v, err := DecodeAuxdata(auxdata, AuxdataStyleVyper)
	if err != nil {
		return 0, false
	}
	arr, ok := v.([]any)
	if !ok {
		return 0, false
	}
	if len(arr) > 0 {
		if _, integrity := arr[0].([]byte); integrity {
			arr = arr[1:]
		}
	}
	if len(arr) < 3 {
		return 0, false
	}
	switch n := arr[2].(type) {
	case uint64:
		return int(n), true
	case int64:
		if n >= 0 {
			return int(n), true
		}
	}
	return 0, false
}

func lookupBytes(v any, key string) ([]byte, bool) {
	var raw any
	switch m := v.(type) {
	case map[any]any:
		raw = m[key]
	case map[string]any:
		raw = m[key]
	default:
		return nil, false
	}
	b, ok := raw.([]byte)
	return b, ok
}
