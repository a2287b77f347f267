package bytecode

import (
	"sort"
	"strconv"
)

// Range is a byte span inside a bytecode.
type Range struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}

// End returns the exclusive end offset.
func (r Range) End() int {
	return r.Start + r.Length
}

// LinkReferences maps file -> library name -> slots, as reported by solc.
type LinkReferences map[string]map[string][]Range

// LinkReference is one flattened library slot.
type LinkReference struct {
	File    string
	Library string
	Range
}

// FullyQualifiedName returns "file:Library".
func (l LinkReference) FullyQualifiedName() string {
	return l.File + ":" + l.Library
}

// Sorted flattens the references with files and libraries in lexical order and the
// slots of each library in reported order.
func (l LinkReferences) Sorted() []LinkReference {
	files := make([]string, 0, len(l))
	for file := range l {
		files = append(files, file)
	}
	sort.Strings(files)

	var out []LinkReference
	for _, file := range files {
		libs := make([]string, 0, len(l[file]))
		for lib := range l[file] {
			libs = append(libs, lib)
		}
		sort.Strings(libs)
		for _, lib := range libs {
			for _, r := range l[file][lib] {
				out = append(out, LinkReference{File: file, Library: lib, Range: r})
			}
		}
	}
	return out
}

// ImmutableReferences maps a compiler AST id to the slots holding that immutable.
type ImmutableReferences map[string][]Range

// ImmutableReference is one flattened immutable slot.
type ImmutableReference struct {
	ASTID string
	Range
}

// Sorted flattens the references ordered by numeric AST id.
func (i ImmutableReferences) Sorted() []ImmutableReference {
	ids := make([]string, 0, len(i))
	for id := range i {
		ids = append(ids, id)
	}
	sortNumericKeys(ids)

	var out []ImmutableReference
	for _, id := range ids {
		for _, r := range i[id] {
			out = append(out, ImmutableReference{ASTID: id, Range: r})
		}
	}
	return out
}

// AuxdataPosition locates one CBOR auxdata block inside a bytecode.
type AuxdataPosition struct {
	Offset int      `json:"offset"`
	Value  Bytecode `json:"value"`
}

// AuxdataPositions is keyed by the 1-based index of the block in the compiler's
// assembly listing.
type AuxdataPositions map[string]AuxdataPosition

// Keys returns the map keys in numeric order.
func (a AuxdataPositions) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sortNumericKeys(keys)
	return keys
}

// Equal reports whether both maps hold the same positions and values.
func (a AuxdataPositions) Equal(other AuxdataPositions) bool {
	if len(a) != len(other) {
		return false
	}
	for k, v := range a {
		o, ok := other[k]
		if !ok || o.Offset != v.Offset || !o.Value.Equal(v.Value) {
			return false
		}
	}
	return true
}

func sortNumericKeys(keys []string) {
	sort.Slice(keys, func(a, b int) bool {
		na, errA := strconv.Atoi(keys[a])
		nb, errB := strconv.Atoi(keys[b])
		switch {
		case errA == nil && errB == nil:
			return na < nb
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return keys[a] < keys[b]
		}
	})
}
