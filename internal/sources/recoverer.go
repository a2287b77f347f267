package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/pendergraft/contraverify/internal/verification/bytecode"
	"github.com/pendergraft/contraverify/internal/verification/compilation"
)

var (
	// ErrUnsupportedHash is returned when the auxdata does not carry an IPFS hash.
	ErrUnsupportedHash = errors.New("auxdata has no ipfs metadata hash")
	// ErrTargetMismatch is returned when the metadata compiles a different contract.
	ErrTargetMismatch = errors.New("metadata compilation target does not match")
	// ErrMissingSources is returned when some metadata sources cannot be found.
	ErrMissingSources = errors.New("metadata sources missing")
)

// Fetcher retrieves IPFS documents by CID.
type Fetcher interface {
	Fetch(ctx context.Context, id string) ([]byte, error)
}

// Recoverer rebuilds the compiler input described by the on-chain metadata hash.
type Recoverer struct {
	fetcher Fetcher
	logger  *slog.Logger
}

// NewRecoverer creates a recoverer fetching through f.
func NewRecoverer(f Fetcher, logger *slog.Logger) *Recoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recoverer{fetcher: f, logger: logger}
}

// RecoverInput fetches the metadata named by onchainAuxdata and assembles its sources
// from the supplied input, the metadata itself, or IPFS. Supplied files are matched by
// content hash, so renamed paths are recovered too.
func (r *Recoverer) RecoverInput(ctx context.Context, input *compilation.JSONInput, target compilation.Target, onchainAuxdata bytecode.Bytecode) (*compilation.JSONInput, error) {
	kind, hash, ok := bytecode.ContentHash(onchainAuxdata, bytecode.AuxdataStyleSolidity)
	if !ok || kind != bytecode.HashIPFS {
		return nil, ErrUnsupportedHash
	}
	id, err := CIDFromMultihash(hash)
	if err != nil {
		return nil, err
	}

	doc, err := r.fetcher.Fetch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching metadata %s: %w", id, err)
	}
	meta, err := ParseMetadata(doc)
	if err != nil {
		return nil, err
	}

	metaTarget, err := meta.Target()
	if err != nil {
		return nil, err
	}
	if metaTarget.Name != target.Name {
		return nil, fmt.Errorf("%w: metadata has %s, requested %s", ErrTargetMismatch, metaTarget, target)
	}

	byHash := indexByKeccak(input)

	sources := make(map[string]compilation.Source, len(meta.Sources))
	var missing []string
	for path, src := range meta.Sources {
		content, ok := r.resolve(ctx, path, src, byHash)
		if !ok {
			missing = append(missing, path)
			continue
		}
		sources[path] = compilation.Source{Content: content}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %s", ErrMissingSources, strings.Join(missing, ", "))
	}

	settings, err := meta.InputSettings()
	if err != nil {
		return nil, err
	}
	language := meta.Language
	if language == "" {
		language = input.Language
	}

	r.logger.Debug("rebuilt input from metadata", "cid", id, "sources", len(sources), "target", metaTarget.String())
	return &compilation.JSONInput{
		Language: language,
		Sources:  sources,
		Settings: settings,
	}, nil
}

func (r *Recoverer) resolve(ctx context.Context, path string, src SourceMeta, byHash map[string]string) (string, bool) {
	want := strings.ToLower(src.Keccak256)
	if src.Content != "" && Keccak256(src.Content) == want {
		return src.Content, true
	}
	if content, ok := byHash[want]; ok {
		return content, true
	}
	for _, u := range src.URLs {
		id, ok := CIDFromURL(u)
		if !ok {
			continue
		}
		data, err := r.fetcher.Fetch(ctx, id)
		if err != nil {
			r.logger.Debug("source fetch failed", "path", path, "cid", id, "error", err)
			continue
		}
		if Keccak256(string(data)) == want {
			return string(data), true
		}
	}
	return "", false
}

// indexByKeccak maps the keccak256 of every supplied source, and of its common
// line-ending and trailing-newline variants, to the matching content.
func indexByKeccak(input *compilation.JSONInput) map[string]string {
	out := make(map[string]string)
	if input == nil {
		return out
	}
	for _, src := range input.Sources {
		for _, variant := range Variants(src.Content) {
			h := Keccak256(variant)
			if _, seen := out[h]; !seen {
				out[h] = variant
			}
		}
	}
	return out
}

// Variants returns content and the edits that editors and tooling commonly apply
// without changing the program.
func Variants(content string) []string {
	lf := strings.ReplaceAll(content, "\r\n", "\n")
	crlf := strings.ReplaceAll(lf, "\n", "\r\n")
	candidates := []string{
		content,
		lf,
		crlf,
		strings.TrimRight(content, "\r\n"),
		content + "\n",
		strings.TrimRight(lf, "\n") + "\n",
	}

	seen := make(map[string]bool, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}
