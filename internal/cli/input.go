package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/pendergraft/contraverify/internal/chains/evm/foundry"
	"github.com/pendergraft/contraverify/internal/verification/compilation"
)

// projectInput is everything needed to recompile one contract of a project.
type projectInput struct {
	Input    *compilation.JSONInput
	Target   compilation.Target
	Version  string
	Language compilation.Language
}

// loadProjectInput resolves contract in the Foundry project at dir. Build-info is
// preferred since it reproduces the exact build; without it the input is rebuilt
// from the artifact metadata.
func loadProjectInput(dir, contract string, fromMetadata bool) (*projectInput, error) {
	p, err := foundry.Open(dir)
	if err != nil {
		return nil, err
	}

	target, err := p.FindTarget(contract)
	if err != nil {
		return nil, err
	}

	var (
		input   *compilation.JSONInput
		version string
	)
	if !fromMetadata {
		input, version, err = p.BuildInfoInput(target)
		if errors.Is(err, foundry.ErrBuildInfoDisabled) || errors.Is(err, foundry.ErrBuildInfoNotFound) {
			fmt.Fprintf(os.Stderr, "No build-info for %s, using artifact metadata (enable build_info in foundry.toml for exact builds)\n", target)
			fromMetadata = true
		} else if err != nil {
			return nil, err
		}
	}
	if fromMetadata {
		input, version, err = p.MetadataInput(target)
		if err != nil {
			return nil, err
		}
	}

	lang, err := compilation.ParseLanguage(input.Language)
	if err != nil {
		return nil, err
	}

	return &projectInput{
		Input:    input,
		Target:   target,
		Version:  version,
		Language: lang,
	}, nil
}
