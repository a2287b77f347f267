package compilation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
)

const auxdataKey = ".auxdata"

// assemblyNode is a JSON object with its keys in document order.
type assemblyNode struct {
	keys   []string
	values map[string]any
}

// auxdataFromAssembly collects every ".auxdata" string of a solc legacyAssembly listing.
// Objects are visited with integer-like keys first in numeric order, then the
// remaining keys in document order, depth first.
func auxdataFromAssembly(raw json.RawMessage) ([]string, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	root, err := decodeOrdered(dec)
	if err != nil {
		return nil, fmt.Errorf("reading legacy assembly: %w", err)
	}
	var out []string
	collectAuxdata(root, &out)
	return out, nil
}

func decodeOrdered(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '{':
		node := &assemblyNode{values: make(map[string]any)}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, errors.New("object key is not a string")
			}
			value, err := decodeOrdered(dec)
			if err != nil {
				return nil, err
			}
			if _, seen := node.values[key]; !seen {
				node.keys = append(node.keys, key)
			}
			node.values[key] = value
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return node, nil
	case '[':
		var items []any
		for dec.More() {
			item, err := decodeOrdered(dec)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return items, nil
	default:
		return nil, io.ErrUnexpectedEOF
	}
}

func collectAuxdata(v any, out *[]string) {
	switch node := v.(type) {
	case *assemblyNode:
		for _, key := range node.orderedKeys() {
			if key == auxdataKey {
				if s, ok := node.values[key].(string); ok {
					*out = append(*out, s)
				}
				continue
			}
			collectAuxdata(node.values[key], out)
		}
	case []any:
		for _, item := range node {
			collectAuxdata(item, out)
		}
	}
}

func (n *assemblyNode) orderedKeys() []string {
	var numeric, named []string
	for _, k := range n.keys {
		if isArrayIndex(k) {
			numeric = append(numeric, k)
		} else {
			named = append(named, k)
		}
	}
	sort.Slice(numeric, func(i, j int) bool {
		a, _ := strconv.ParseUint(numeric[i], 10, 32)
		b, _ := strconv.ParseUint(numeric[j], 10, 32)
		return a < b
	})
	return append(numeric, named...)
}

func isArrayIndex(k string) bool {
	if k == "" || (len(k) > 1 && k[0] == '0') {
		return false
	}
	_, err := strconv.ParseUint(k, 10, 32)
	return err == nil
}
