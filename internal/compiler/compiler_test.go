package compiler

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/contraverify/internal/verification/compilation"
)

const okOutput = `{"contracts":{"src/A.sol":{"A":{"abi":[],"evm":{"bytecode":{"object":"6080"},"deployedBytecode":{"object":"6080"}}}}}}`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// writeScript installs a fake compiler that runs body after checking its argument.
func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	script := "#!/bin/sh\n[ \"$1\" = \"--standard-json\" ] || exit 64\n" + body + "\n"
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(script), 0o755))
}

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
}

func solidityInput() *compilation.JSONInput {
	return &compilation.JSONInput{
		Language: "Solidity",
		Sources:  map[string]compilation.Source{"src/A.sol": {Content: "contract A {}"}},
		Settings: compilation.Settings{},
	}
}

func TestNew_Validate(t *testing.T) {
	_, err := New(Config{}, testLogger())
	require.Error(t, err)

	e, err := New(Config{SolcDir: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, e.cfg.Timeout)
}

func TestBinary(t *testing.T) {
	solc, alt, vyper := t.TempDir(), t.TempDir(), t.TempDir()
	writeScript(t, solc, "solc-0.8.28+commit.7893614a", "")
	writeScript(t, solc, "solc-0.7.6", "")
	writeScript(t, alt, "solc-0.8.19", "")
	writeScript(t, vyper, "vyper-0.3.10", "")

	e, err := New(Config{SolcDir: solc, SolcAltDir: alt, VyperDir: vyper}, testLogger())
	require.NoError(t, err)

	tests := []struct {
		name    string
		lang    compilation.Language
		version string
		alt     bool
		want    string
		wantErr error
	}{
		{"full version", compilation.Solidity, "0.8.28+commit.7893614a", false, filepath.Join(solc, "solc-0.8.28+commit.7893614a"), nil},
		{"short file name", compilation.Solidity, "0.7.6+commit.7338295f", false, filepath.Join(solc, "solc-0.7.6"), nil},
		{"alternate backend", compilation.Solidity, "0.8.19+commit.7dd6d404", true, filepath.Join(alt, "solc-0.8.19"), nil},
		{"vyper", compilation.Vyper, "0.3.10", false, filepath.Join(vyper, "vyper-0.3.10"), nil},
		{"missing", compilation.Solidity, "0.8.0", false, "", ErrCompilerNotFound},
		{"path traversal", compilation.Solidity, "0.8.0/../../bin/sh", false, "", ErrInvalidVersion},
		{"not a version", compilation.Solidity, "latest", false, "", ErrInvalidVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Binary(tt.lang, tt.version, tt.alt)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBinary_NoAlternate(t *testing.T) {
	e, err := New(Config{SolcDir: t.TempDir()}, testLogger())
	require.NoError(t, err)

	_, err = e.Binary(compilation.Solidity, "0.8.19", true)
	require.ErrorIs(t, err, ErrNoAlternate)
}

func TestCompile(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	writeScript(t, dir, "solc-0.8.28", "cat > /dev/null\necho '"+okOutput+"'")

	e, err := New(Config{SolcDir: dir}, testLogger())
	require.NoError(t, err)

	out, err := e.Compile(context.Background(), "0.8.28", solidityInput(), false)
	require.NoError(t, err)
	require.Contains(t, out.Contracts, "src/A.sol")
	assert.Equal(t, "6080", out.Contracts["src/A.sol"]["A"].EVM.DeployedBytecode.Object)
}

func TestCompile_ReceivesInputOnStdin(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	// Succeeds only when the source content reached stdin.
	writeScript(t, dir, "solc-0.8.28", "grep -q 'contract A' || exit 3\necho '"+okOutput+"'")

	e, err := New(Config{SolcDir: dir}, testLogger())
	require.NoError(t, err)

	_, err = e.Compile(context.Background(), "0.8.28", solidityInput(), false)
	require.NoError(t, err)
}

func TestCompile_Failures(t *testing.T) {
	skipOnWindows(t)

	tests := []struct {
		name     string
		body     string
		timeout  time.Duration
		wantErr  error
		contains string
	}{
		{"crash with stderr", "echo 'segfault' >&2\nexit 1", time.Minute, ErrCompilationFailed, "segfault"},
		{"garbage output", "echo 'not json'", time.Minute, ErrCompilationFailed, "decoding output"},
		{"timeout", "exec sleep 5", 100 * time.Millisecond, ErrTimeout, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeScript(t, dir, "solc-0.8.28", tt.body)
			e, err := New(Config{SolcDir: dir, Timeout: tt.timeout}, testLogger())
			require.NoError(t, err)

			_, err = e.Compile(context.Background(), "0.8.28", solidityInput(), false)
			require.ErrorIs(t, err, tt.wantErr)
			if tt.contains != "" {
				assert.Contains(t, err.Error(), tt.contains)
			}
		})
	}
}

func TestCompile_ErrorReportWithNonZeroExit(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	report := `{"errors":[{"severity":"error","type":"ParserError","message":"Expected ';'"}]}`
	writeScript(t, dir, "solc-0.8.28", "cat <<'EOF'\n"+report+"\nEOF\nexit 1")

	e, err := New(Config{SolcDir: dir}, testLogger())
	require.NoError(t, err)

	out, err := e.Compile(context.Background(), "0.8.28", solidityInput(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"Expected ';'"}, out.ErrorMessages())
}

func TestCompile_UnsupportedLanguage(t *testing.T) {
	e, err := New(Config{SolcDir: t.TempDir()}, testLogger())
	require.NoError(t, err)

	input := solidityInput()
	input.Language = "Yul"
	_, err = e.Compile(context.Background(), "0.8.28", input, false)
	require.Error(t, err)
}

func TestCompile_SatisfiesInterface(t *testing.T) {
	var _ compilation.Compiler = (*Exec)(nil)
}
