// Package bytecode holds the data model shared by the matching engine: raw EVM code,
// unlinked library placeholders, link/immutable references and CBOR auxdata positions.
package bytecode

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// placeholderLength is the hex length of a library address slot (20 bytes).
const placeholderLength = 40

var (
	// ErrInvalidHex is returned when a bytecode string is not valid hex.
	ErrInvalidHex = errors.New("invalid bytecode hex")
	// ErrTruncatedPlaceholder is returned when a library placeholder runs past the end of the code.
	ErrTruncatedPlaceholder = errors.New("truncated library placeholder")
)

// Bytecode is raw EVM code. It renders as 0x-prefixed lowercase hex.
type Bytecode []byte

// Parse decodes a hex string with or without the 0x prefix.
func Parse(s string) (Bytecode, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode("0x" + s[2:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return Bytecode(b), nil
}

// MustParse is like Parse but panics on malformed input. Intended for tests and constants.
func MustParse(s string) Bytecode {
	b, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return b
}

// ParseUnlinked decodes a compiler bytecode object that may still contain library
// placeholders. Each placeholder slot is zero-filled in the returned code and its text
// is recorded in the returned Placeholders keyed by byte offset.
func ParseUnlinked(s string) (Bytecode, Placeholders, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if !strings.Contains(s, "_") {
		b, err := Parse(s)
		return b, nil, err
	}

	var (
		clean        strings.Builder
		placeholders = make(Placeholders)
	)
	clean.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] != '_' {
			clean.WriteByte(s[i])
			i++
			continue
		}
		if i%2 != 0 {
			return nil, nil, fmt.Errorf("%w: placeholder at odd hex index %d", ErrInvalidHex, i)
		}
		if i+placeholderLength > len(s) {
			return nil, nil, fmt.Errorf("%w at hex index %d", ErrTruncatedPlaceholder, i)
		}
		placeholders[i/2] = s[i : i+placeholderLength]
		clean.WriteString(strings.Repeat("0", placeholderLength))
		i += placeholderLength
	}

	b, err := Parse(clean.String())
	if err != nil {
		return nil, nil, err
	}
	return b, placeholders, nil
}

// Hex returns the canonical 0x-prefixed lowercase rendering.
func (b Bytecode) Hex() string {
	return hexutil.Encode(b)
}

// String implements fmt.Stringer.
func (b Bytecode) String() string {
	return b.Hex()
}

// MarshalText implements encoding.TextMarshaler.
func (b Bytecode) MarshalText() ([]byte, error) {
	return []byte(b.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Bytecode) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Equal reports whether two bytecodes are byte-identical.
func (b Bytecode) Equal(other Bytecode) bool {
	return bytes.Equal(b, other)
}

// HasPrefix reports whether b starts with prefix.
func (b Bytecode) HasPrefix(prefix Bytecode) bool {
	return bytes.HasPrefix(b, prefix)
}

// Clone returns a copy that can be modified without affecting b.
func (b Bytecode) Clone() Bytecode {
	if b == nil {
		return nil
	}
	out := make(Bytecode, len(b))
	copy(out, b)
	return out
}

// Slice returns b[start:start+length] clamped to the bounds of b.
func (b Bytecode) Slice(start, length int) Bytecode {
	if start < 0 || start >= len(b) || length <= 0 {
		return Bytecode{}
	}
	end := start + length
	if end > len(b) {
		end = len(b)
	}
	return b[start:end]
}

// IsZero reports whether every byte of b is zero. Empty code is zero.
func (b Bytecode) IsZero() bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// Placeholders maps a byte offset to the 40-character library placeholder text that
// occupied that slot in the compiler output.
type Placeholders map[int]string

// At returns the placeholder text at offset, if any.
func (p Placeholders) At(offset int) (string, bool) {
	if p == nil {
		return "", false
	}
	s, ok := p[offset]
	return s, ok
}
