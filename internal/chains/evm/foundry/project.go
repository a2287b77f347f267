// Package foundry loads verification inputs from a Foundry project's build output.
package foundry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pendergraft/contraverify/internal/sources"
	"github.com/pendergraft/contraverify/internal/verification/compilation"
)

var (
	ErrNotFoundryProject  = errors.New("not a foundry project")
	ErrArtifactNotFound   = errors.New("artifact not found")
	ErrAmbiguousContract  = errors.New("contract name is ambiguous")
	ErrBuildInfoNotFound  = errors.New("build-info not found")
	ErrBuildInfoDisabled  = errors.New("build-info directory not found - run 'forge build --build-info' first")
	ErrMissingRawMetadata = errors.New("artifact has no rawMetadata")
)

// ConfigFile marks a Foundry project root.
const ConfigFile = "foundry.toml"

// Project is a Foundry project directory with build output under out/.
type Project struct {
	dir string
}

// Detect checks if a directory is a Foundry project
func Detect(dir string) (bool, error) {
	_, err := os.Stat(filepath.Join(dir, ConfigFile))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Open returns the project rooted at dir.
func Open(dir string) (*Project, error) {
	ok, err := Detect(dir)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no %s in %s", ErrNotFoundryProject, ConfigFile, dir)
	}
	return &Project{dir: dir}, nil
}

// Artifact is the part of a Foundry artifact file verification reads.
type Artifact struct {
	ABI         json.RawMessage `json:"abi"`
	RawMetadata string          `json:"rawMetadata"`
	Bytecode    struct {
		Object string `json:"object"`
	} `json:"bytecode"`
}

// Metadata decodes the artifact's rawMetadata.
func (a *Artifact) Metadata() (*sources.Metadata, error) {
	if a.RawMetadata == "" {
		return nil, ErrMissingRawMetadata
	}
	return sources.ParseMetadata([]byte(a.RawMetadata))
}

// FindTarget resolves a contract name, or a "path:Name" identifier, to its
// compilation target.
func (p *Project) FindTarget(name string) (compilation.Target, error) {
	if strings.Contains(name, ":") {
		return compilation.ParseTarget(name)
	}

	outDir := filepath.Join(p.dir, "out")
	if _, err := os.Stat(outDir); os.IsNotExist(err) {
		return compilation.Target{}, fmt.Errorf("out directory not found - run 'forge build' first")
	}

	found := make(map[compilation.Target]bool)
	// out/{Source}.sol/{Contract}.json
	err := filepath.Walk(outDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == "build-info" {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Name() != name+".json" {
			return nil
		}

		artifact, err := readArtifact(path)
		if err != nil {
			return nil // Skip artifacts we can't read
		}
		meta, err := artifact.Metadata()
		if err != nil {
			return nil
		}
		target, err := meta.Target()
		if err != nil || target.Name != name {
			return nil
		}
		found[target] = true
		return nil
	})
	if err != nil {
		return compilation.Target{}, fmt.Errorf("walking artifacts: %w", err)
	}

	switch len(found) {
	case 0:
		return compilation.Target{}, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
	case 1:
		for t := range found {
			return t, nil
		}
	}
	candidates := make([]string, 0, len(found))
	for t := range found {
		candidates = append(candidates, t.String())
	}
	sort.Strings(candidates)
	return compilation.Target{}, fmt.Errorf("%w: %s", ErrAmbiguousContract, strings.Join(candidates, ", "))
}

// LoadArtifact reads out/{File}/{Name}.json for target.
func (p *Project) LoadArtifact(target compilation.Target) (*Artifact, error) {
	path := filepath.Join(p.dir, "out", filepath.Base(target.Path), target.Name+".json")
	artifact, err := readArtifact(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, target)
		}
		return nil, err
	}
	return artifact, nil
}

func readArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parsing artifact JSON: %w", err)
	}
	return &a, nil
}
