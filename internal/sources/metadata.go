// Package sources rebuilds compiler inputs from solc metadata documents. It backs
// perfect metadata recovery: when the claimed sources compile to the same code but a
// different metadata hash, the on-chain metadata names the exact files and settings
// that were used.
package sources

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/pendergraft/contraverify/internal/verification/compilation"
)

// ErrInvalidMetadata is returned for a metadata document that cannot be used.
var ErrInvalidMetadata = errors.New("invalid metadata")

// Metadata is a solc metadata document.
type Metadata struct {
	Compiler struct {
		Version string `json:"version"`
	} `json:"compiler"`
	Language string                     `json:"language"`
	Settings map[string]json.RawMessage `json:"settings"`
	Sources  map[string]SourceMeta      `json:"sources"`
	Version  int                        `json:"version"`
}

// SourceMeta describes one source file of a metadata document.
type SourceMeta struct {
	Keccak256 string   `json:"keccak256"`
	Content   string   `json:"content,omitempty"`
	License   string   `json:"license,omitempty"`
	URLs      []string `json:"urls,omitempty"`
}

// ParseMetadata decodes a metadata document.
func ParseMetadata(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	if len(m.Sources) == 0 {
		return nil, fmt.Errorf("%w: no sources", ErrInvalidMetadata)
	}
	return &m, nil
}

// Target returns the compilation target recorded in the settings.
func (m *Metadata) Target() (compilation.Target, error) {
	var targets map[string]string
	if raw, ok := m.Settings["compilationTarget"]; ok {
		if err := json.Unmarshal(raw, &targets); err != nil {
			return compilation.Target{}, fmt.Errorf("%w: compilationTarget: %v", ErrInvalidMetadata, err)
		}
	}
	if len(targets) != 1 {
		return compilation.Target{}, fmt.Errorf("%w: expected one compilation target, got %d", ErrInvalidMetadata, len(targets))
	}
	for path, name := range targets {
		return compilation.Target{Path: path, Name: name}, nil
	}
	return compilation.Target{}, nil
}

// FirstLicense returns the first license found in sources
func (m *Metadata) FirstLicense() string {
	for _, src := range m.Sources {
		if src.License != "" {
			return src.License
		}
	}
	return ""
}

// InputSettings converts metadata settings into standard JSON settings: the
// compilation target is dropped and "file:Lib" library keys are nested.
func (m *Metadata) InputSettings() (compilation.Settings, error) {
	out := make(compilation.Settings, len(m.Settings))
	for k, v := range m.Settings {
		switch k {
		case "compilationTarget":
			continue
		case "libraries":
			libs, err := nestLibraries(v)
			if err != nil {
				return nil, err
			}
			if err := out.Set("libraries", libs); err != nil {
				return nil, err
			}
		default:
			out[k] = v
		}
	}
	return out, nil
}

func nestLibraries(raw json.RawMessage) (map[string]map[string]string, error) {
	var flat map[string]string
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("%w: libraries: %v", ErrInvalidMetadata, err)
	}
	nested := make(map[string]map[string]string)
	for fqn, addr := range flat {
		file, lib := "", fqn
		if i := strings.LastIndex(fqn, ":"); i >= 0 {
			file, lib = fqn[:i], fqn[i+1:]
		}
		if nested[file] == nil {
			nested[file] = make(map[string]string)
		}
		nested[file][lib] = addr
	}
	return nested, nil
}

// Keccak256 returns the 0x-prefixed keccak256 of content, as recorded in metadata.
func Keccak256(content string) string {
	return crypto.Keccak256Hash([]byte(content)).Hex()
}
