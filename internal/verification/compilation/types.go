package compilation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pendergraft/contraverify/internal/verification/bytecode"
)

// Language selects the compilation variant.
type Language string

const (
	Solidity Language = "Solidity"
	Vyper    Language = "Vyper"
)

// ParseLanguage accepts the standard JSON "language" values case-insensitively.
func ParseLanguage(s string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "solidity", "":
		return Solidity, nil
	case "vyper":
		return Vyper, nil
	default:
		return "", fmt.Errorf("unsupported language %q", s)
	}
}

// Target identifies one contract in a compiler output.
type Target struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// ParseTarget splits a fully qualified "path:Name" identifier.
func ParseTarget(s string) (Target, error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return Target{}, fmt.Errorf("invalid contract identifier %q, expected path:Name", s)
	}
	return Target{Path: s[:i], Name: s[i+1:]}, nil
}

// String returns "path:Name".
func (t Target) String() string {
	return t.Path + ":" + t.Name
}

// Compiler runs a standard JSON compilation for input.Language. Implementations must be
// deterministic for identical version and input. forceAlternateBackend selects a second
// build of the same compiler version.
type Compiler interface {
	Compile(ctx context.Context, version string, input *JSONInput, forceAlternateBackend bool) (*Output, error)
}

// JSONInput is a standard JSON compiler input.
type JSONInput struct {
	Language string            `json:"language"`
	Sources  map[string]Source `json:"sources"`
	Settings Settings          `json:"settings"`
}

// Source is one input file.
type Source struct {
	Content string `json:"content"`
}

// Clone returns a copy whose maps can be modified independently.
func (in *JSONInput) Clone() *JSONInput {
	out := &JSONInput{
		Language: in.Language,
		Sources:  make(map[string]Source, len(in.Sources)),
		Settings: make(Settings, len(in.Settings)),
	}
	for k, v := range in.Sources {
		out.Sources[k] = v
	}
	for k, v := range in.Settings {
		out.Settings[k] = v
	}
	return out
}

// Settings keeps every compiler setting verbatim so a round-trip through this type
// never changes the produced bytecode.
type Settings map[string]json.RawMessage

// OptimizerEnabled reads settings.optimizer.enabled.
func (s Settings) OptimizerEnabled() (bool, error) {
	var opt struct {
		Enabled bool `json:"enabled"`
	}
	if raw, ok := s["optimizer"]; ok {
		if err := json.Unmarshal(raw, &opt); err != nil {
			return false, fmt.Errorf("decoding settings.optimizer: %w", err)
		}
	}
	return opt.Enabled, nil
}

// ViaIR reads settings.viaIR.
func (s Settings) ViaIR() (bool, error) {
	var viaIR bool
	if raw, ok := s["viaIR"]; ok {
		if err := json.Unmarshal(raw, &viaIR); err != nil {
			return false, fmt.Errorf("decoding settings.viaIR: %w", err)
		}
	}
	return viaIR, nil
}

// Set stores v under key.
func (s Settings) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding setting %s: %w", key, err)
	}
	s[key] = raw
	return nil
}

// Output is a standard JSON compiler output.
type Output struct {
	Errors    []Message                            `json:"errors,omitempty"`
	Contracts map[string]map[string]ContractOutput `json:"contracts"`
}

// Message is a compiler diagnostic.
type Message struct {
	Severity         string `json:"severity"`
	Type             string `json:"type"`
	Component        string `json:"component,omitempty"`
	Message          string `json:"message"`
	FormattedMessage string `json:"formattedMessage,omitempty"`
}

// ErrorMessages returns the messages with error severity.
func (o *Output) ErrorMessages() []string {
	var out []string
	for _, m := range o.Errors {
		if m.Severity != "error" {
			continue
		}
		if m.FormattedMessage != "" {
			out = append(out, strings.TrimSpace(m.FormattedMessage))
		} else {
			out = append(out, m.Message)
		}
	}
	return out
}

// ContractOutput is the per-contract section of an Output.
type ContractOutput struct {
	ABI      json.RawMessage `json:"abi"`
	Metadata string          `json:"metadata,omitempty"`
	Userdoc  json.RawMessage `json:"userdoc,omitempty"`
	Devdoc   json.RawMessage `json:"devdoc,omitempty"`
	EVM      EVMOutput       `json:"evm"`
}

// EVMOutput holds the code sections of a ContractOutput.
type EVMOutput struct {
	Bytecode         BytecodeOutput  `json:"bytecode"`
	DeployedBytecode BytecodeOutput  `json:"deployedBytecode"`
	LegacyAssembly   json.RawMessage `json:"legacyAssembly,omitempty"`
}

// BytecodeOutput is a compiler bytecode object, possibly unlinked.
type BytecodeOutput struct {
	Object              string                       `json:"object"`
	SourceMap           string                       `json:"sourceMap,omitempty"`
	LinkReferences      bytecode.LinkReferences      `json:"linkReferences,omitempty"`
	ImmutableReferences bytecode.ImmutableReferences `json:"immutableReferences,omitempty"`
}
