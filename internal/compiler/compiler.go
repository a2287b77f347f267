// Package compiler runs solc and vyper binaries in standard JSON mode.
package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pendergraft/contraverify/internal/observability/metrics"
	"github.com/pendergraft/contraverify/internal/verification/compilation"
)

var (
	ErrCompilerNotFound  = errors.New("compiler not found")
	ErrCompilationFailed = errors.New("compilation failed")
	ErrInvalidVersion    = errors.New("invalid compiler version")
	ErrTimeout           = errors.New("compilation timeout")
	ErrNoAlternate       = errors.New("no alternate compiler backend configured")
)

// DefaultTimeout bounds a single compiler invocation.
const DefaultTimeout = 5 * time.Minute

// Config selects the binary directories. Binaries are named "solc-<version>" and
// "vyper-<version>", e.g. "solc-0.8.28+commit.7893614a".
type Config struct {
	SolcDir string
	// SolcAltDir holds a second build of each solc version, used when the
	// engine forces the alternate backend.
	SolcAltDir string
	VyperDir   string
	Timeout    time.Duration
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.SolcDir == "" && c.VyperDir == "" {
		return fmt.Errorf("at least one of SolcDir and VyperDir is required")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	return nil
}

// Exec implements compilation.Compiler by spawning a compiler process per call.
type Exec struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a compiler runner.
func New(cfg Config, logger *slog.Logger) (*Exec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exec{cfg: cfg, logger: logger}, nil
}

// Compile writes input to the compiler's stdin and decodes its stdout.
func (e *Exec) Compile(ctx context.Context, version string, input *compilation.JSONInput, forceAlternateBackend bool) (*compilation.Output, error) {
	lang, err := compilation.ParseLanguage(input.Language)
	if err != nil {
		return nil, err
	}
	bin, err := e.Binary(lang, version, forceAlternateBackend)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encoding compiler input: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, "--standard-json")
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	e.logger.Debug("compiler finished",
		"binary", filepath.Base(bin),
		"duration_ms", elapsed.Milliseconds(),
		"alternate", forceAlternateBackend,
	)

	if ctx.Err() == context.DeadlineExceeded {
		metrics.CompileDuration(string(lang), "timeout", elapsed)
		return nil, fmt.Errorf("%w after %s", ErrTimeout, e.cfg.Timeout)
	}
	// solc exits non-zero for some input errors but still prints a JSON report.
	if runErr != nil && stdout.Len() == 0 {
		metrics.CompileDuration(string(lang), "error", elapsed)
		return nil, fmt.Errorf("%w: %v: %s", ErrCompilationFailed, runErr, strings.TrimSpace(stderr.String()))
	}

	var out compilation.Output
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		metrics.CompileDuration(string(lang), "error", elapsed)
		return nil, fmt.Errorf("%w: decoding output: %v", ErrCompilationFailed, err)
	}

	status := "success"
	if len(out.ErrorMessages()) > 0 {
		status = "error"
	}
	metrics.CompileDuration(string(lang), status, elapsed)
	return &out, nil
}

// Binary returns the path of the compiler for lang and version. A "+commit" suffix
// is optional in the file name.
func (e *Exec) Binary(lang compilation.Language, version string, forceAlternateBackend bool) (string, error) {
	if compilation.CanonicalVersion(version) == "" || strings.ContainsAny(version, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidVersion, version)
	}

	var dir, name string
	switch lang {
	case compilation.Vyper:
		dir, name = e.cfg.VyperDir, "vyper"
	default:
		dir, name = e.cfg.SolcDir, "solc"
		if forceAlternateBackend {
			if e.cfg.SolcAltDir == "" {
				return "", ErrNoAlternate
			}
			dir = e.cfg.SolcAltDir
		}
	}
	if dir == "" {
		return "", fmt.Errorf("%w: no directory configured for %s", ErrCompilerNotFound, lang)
	}

	candidates := []string{name + "-" + version}
	if i := strings.IndexByte(version, '+'); i >= 0 {
		candidates = append(candidates, name+"-"+version[:i])
	}
	for _, c := range candidates {
		path := filepath.Join(dir, c)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s %s in %s", ErrCompilerNotFound, name, version, dir)
}
