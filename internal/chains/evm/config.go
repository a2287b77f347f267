package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pendergraft/contraverify/internal/chains"
)

// ErrInvalidChainsFile is returned for a malformed chains file.
var ErrInvalidChainsFile = errors.New("invalid chains file")

type chainsFile struct {
	Chains []Config `yaml:"chains"`
}

// LoadChainsFile reads chain definitions from a YAML file. Environment variables in
// provider URLs are expanded so API keys can stay out of the file.
//
//	chains:
//	  - id: 1
//	    name: mainnet
//	    rpc:
//	      - url: https://eth.example.org/${ETH_API_KEY}
//	        trace: trace_transaction
func LoadChainsFile(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading chains file: %w", err)
	}
	return ParseChains(data)
}

// ParseChains decodes and validates YAML chain definitions.
func ParseChains(data []byte) ([]Config, error) {
	var f chainsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChainsFile, err)
	}

	seen := make(map[uint64]bool, len(f.Chains))
	for i := range f.Chains {
		cfg := &f.Chains[i]
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("%w: chain %d: %v", ErrInvalidChainsFile, i, err)
		}
		if seen[cfg.ID] {
			return nil, fmt.Errorf("%w: duplicate chain id %d", ErrInvalidChainsFile, cfg.ID)
		}
		seen[cfg.ID] = true
		for j := range cfg.Providers {
			cfg.Providers[j].URL = os.ExpandEnv(cfg.Providers[j].URL)
		}
	}
	return f.Chains, nil
}

// Validate checks a chain definition.
func (c Config) Validate() error {
	if c.ID == 0 {
		return errors.New("id is required")
	}
	if len(c.Providers) == 0 {
		return ErrNoProviders
	}
	for _, p := range c.Providers {
		if p.URL == "" {
			return errors.New("provider url is required")
		}
		switch p.Trace {
		case TraceNone, TraceParity, TraceGeth:
		default:
			return fmt.Errorf("unknown trace method %q", p.Trace)
		}
	}
	return nil
}

// NewRegistry dials every configured chain and registers it.
func NewRegistry(ctx context.Context, cfgs []Config, timeout time.Duration, logger *slog.Logger) (*chains.Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	registry := chains.NewRegistry()
	for _, cfg := range cfgs {
		c, err := Dial(ctx, cfg, timeout, logger)
		if err != nil {
			return nil, fmt.Errorf("chain %d: %w", cfg.ID, err)
		}
		registry.Register(c)
		logger.Info("chain registered", "chain_id", cfg.ID, "name", cfg.Name, "providers", len(cfg.Providers))
	}
	return registry, nil
}
