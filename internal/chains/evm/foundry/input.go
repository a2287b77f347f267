package foundry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pendergraft/contraverify/internal/verification/compilation"
)

// BuildInfo represents a Foundry build-info file (hh-sol-build-info-1 format)
type BuildInfo struct {
	ID              string          `json:"id"`
	SolcVersion     string          `json:"solcVersion"`     // Short: "0.8.28"
	SolcLongVersion string          `json:"solcLongVersion"` // Full: "0.8.28+commit.7893614a"
	Input           json.RawMessage `json:"input"`           // Standard JSON Input
	Output          json.RawMessage `json:"output"`          // Compilation output
}

// buildInfoOutputContracts represents output.contracts from Solidity compiler output
type buildInfoOutputContracts map[string]map[string]json.RawMessage

// foundryStandardJSONKeysToStrip are top-level keys Foundry adds that the Solidity compiler rejects.
// The standard JSON input spec only allows: language, sources, settings.
var foundryStandardJSONKeysToStrip = []string{"allowPaths", "basePath", "includePaths", "version"}

// BuildInfoInput returns the project-wide standard JSON input that produced target and
// the full compiler version. It reproduces the build exactly, including files the
// target does not import.
func (p *Project) BuildInfoInput(target compilation.Target) (*compilation.JSONInput, string, error) {
	buildInfoDir := filepath.Join(p.dir, "out", "build-info")

	entries, err := os.ReadDir(buildInfoDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", ErrBuildInfoDisabled
		}
		return nil, "", fmt.Errorf("reading build-info directory: %w", err)
	}

	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(buildInfoDir, entry.Name()))
		if err != nil {
			continue
		}

		var buildInfo BuildInfo
		if err := json.Unmarshal(data, &buildInfo); err != nil {
			continue
		}

		// Only the build-info that produced the requested contract
		var output struct {
			Contracts buildInfoOutputContracts `json:"contracts"`
		}
		if err := json.Unmarshal(buildInfo.Output, &output); err != nil {
			continue
		}
		if _, ok := output.Contracts[target.Path][target.Name]; !ok {
			continue
		}

		input, err := decodeStandardJSON(buildInfo.Input)
		if err != nil {
			return nil, "", fmt.Errorf("build-info %s: %w", entry.Name(), err)
		}
		return input, buildInfo.SolcLongVersion, nil
	}

	return nil, "", fmt.Errorf("%w: %s", ErrBuildInfoNotFound, target)
}

// decodeStandardJSON removes Foundry-specific keys from standard JSON input
// so it conforms to the Solidity compiler's expected format.
func decodeStandardJSON(raw json.RawMessage) (*compilation.JSONInput, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	for _, key := range foundryStandardJSONKeysToStrip {
		delete(m, key)
	}
	cleaned, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}

	var input compilation.JSONInput
	if err := json.Unmarshal(cleaned, &input); err != nil {
		return nil, err
	}
	if input.Language == "" {
		input.Language = string(compilation.Solidity)
	}
	return &input, nil
}

// MetadataInput builds a minimal standard JSON input from the artifact's rawMetadata,
// containing only the contract's actual dependencies read from disk. Unlike the
// project-wide build-info, this input reproduces the metadata hash in the bytecode.
func (p *Project) MetadataInput(target compilation.Target) (*compilation.JSONInput, string, error) {
	artifact, err := p.LoadArtifact(target)
	if err != nil {
		return nil, "", err
	}
	meta, err := artifact.Metadata()
	if err != nil {
		return nil, "", err
	}

	// Read each source file from disk
	srcs := make(map[string]compilation.Source, len(meta.Sources))
	for srcPath := range meta.Sources {
		content, err := os.ReadFile(filepath.Join(p.dir, srcPath))
		if err != nil {
			return nil, "", fmt.Errorf("reading source %s: %w", srcPath, err)
		}
		srcs[srcPath] = compilation.Source{Content: string(content)}
	}

	settings, err := meta.InputSettings()
	if err != nil {
		return nil, "", err
	}

	lang := meta.Language
	if lang == "" {
		lang = string(compilation.Solidity)
	}
	return &compilation.JSONInput{
		Language: lang,
		Sources:  srcs,
		Settings: settings,
	}, meta.Compiler.Version, nil
}
