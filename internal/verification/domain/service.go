package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/contraverify/internal/chains"
	"github.com/pendergraft/contraverify/internal/observability/metrics"
	"github.com/pendergraft/contraverify/internal/storage"
	"github.com/pendergraft/contraverify/internal/validation"
	"github.com/pendergraft/contraverify/internal/verification/compilation"
	"github.com/pendergraft/contraverify/internal/verification/engine"
	"github.com/pendergraft/contraverify/internal/verification/match"
)

// Common errors returned by the verification service.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidAddress = errors.New("invalid address")
	ErrInvalidChainID = errors.New("invalid chain ID")
	ErrChainNotFound  = errors.New("chain not supported")
	ErrInvalidCursor  = errors.New("invalid cursor")
)

// Store defines the storage operations needed by the verification domain.
type Store interface {
	SaveVerification(ctx context.Context, v *storage.VerifiedContract) error
	GetVerification(ctx context.Context, chainID uint64, address string) (*storage.VerifiedContract, error)
	ListVerifications(ctx context.Context, filter storage.VerificationFilter, pagination storage.PaginationParams) (*storage.PaginatedResult[storage.VerifiedContract], error)
}

// ChainRegistry resolves chain ids to chain access.
type ChainRegistry interface {
	Get(chainID uint64) (chains.Chain, error)
}

// Option configures the service.
type Option func(*service)

// WithLogger sets the logger passed to each engine run.
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithMetadataRecoverer enables perfect metadata recovery.
func WithMetadataRecoverer(r engine.MetadataRecoverer) Option {
	return func(s *service) {
		s.recoverer = r
	}
}

// WithTimeout bounds a whole verification run.
func WithTimeout(d time.Duration) Option {
	return func(s *service) {
		s.timeout = d
	}
}

type service struct {
	store     Store
	chains    ChainRegistry
	compiler  compilation.Compiler
	recoverer engine.MetadataRecoverer
	logger    *slog.Logger
	timeout   time.Duration
}

// NewService creates a new verification service.
func NewService(store Store, registry ChainRegistry, compiler compilation.Compiler, opts ...Option) *service {
	s := &service{
		store:    store,
		chains:   registry,
		compiler: compiler,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Verify recompiles the submitted sources, matches them against the chain and
// stores the result unless a better match is already stored. Engine failures are
// returned unchanged so callers can map them with engine.ErrorCode.
func (s *service) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	lang, target, err := validateRequest(req)
	if err != nil {
		return nil, err
	}

	chain, err := s.chains.Get(req.ChainID)
	if err != nil {
		if errors.Is(err, chains.ErrChainNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrChainNotFound, req.ChainID)
		}
		return nil, fmt.Errorf("resolving chain: %w", err)
	}

	engReq := engine.Request{
		Address:     common.HexToAddress(req.Address),
		ChainID:     req.ChainID,
		Compilation: compilation.New(s.compiler, lang, req.CompilerVersion, req.StdJSONInput, target),
	}
	if req.CreationTxHash != "" {
		h := common.HexToHash(req.CreationTxHash)
		engReq.CreationTxHash = &h
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	opts := []engine.Option{engine.WithLogger(s.logger)}
	if s.recoverer != nil {
		opts = append(opts, engine.WithMetadataRecoverer(s.recoverer))
	}

	start := time.Now()
	v, err := engine.New(chain, opts...).Verify(ctx, engReq)
	metrics.VerificationDuration(string(lang), time.Since(start))
	recordOutcome(req.ChainID, v, err)
	if err != nil {
		return nil, err
	}

	export, err := v.Export()
	if err != nil {
		return nil, err
	}
	return s.persist(ctx, req, v, export)
}

func validateRequest(req VerifyRequest) (compilation.Language, compilation.Target, error) {
	if err := validation.ValidateAddress(req.Address); err != nil {
		return "", compilation.Target{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if err := validation.ValidateChainID(req.ChainID); err != nil {
		return "", compilation.Target{}, fmt.Errorf("%w: %v", ErrInvalidChainID, err)
	}
	if req.CreationTxHash != "" {
		if err := validation.ValidateTxHash(req.CreationTxHash); err != nil {
			return "", compilation.Target{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	if err := validation.ValidateCompilerVersion(req.CompilerVersion); err != nil {
		return "", compilation.Target{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := validation.ValidateContractIdentifier(req.ContractIdentifier); err != nil {
		return "", compilation.Target{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.StdJSONInput == nil || len(req.StdJSONInput.Sources) == 0 {
		return "", compilation.Target{}, fmt.Errorf("%w: stdJsonInput with at least one source is required", ErrInvalidRequest)
	}

	langName := req.Language
	if langName == "" {
		langName = req.StdJSONInput.Language
	}
	lang, err := compilation.ParseLanguage(langName)
	if err != nil {
		return "", compilation.Target{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	target, _ := compilation.ParseTarget(req.ContractIdentifier)
	if _, ok := req.StdJSONInput.Sources[target.Path]; !ok {
		return "", compilation.Target{}, fmt.Errorf("%w: source %s not in stdJsonInput", ErrInvalidRequest, target.Path)
	}
	return lang, target, nil
}

func recordOutcome(chainID uint64, v *engine.Verification, err error) {
	runtime, creation := "", ""
	if v != nil {
		runtime, creation = string(v.RuntimeStatus()), string(v.CreationStatus())
	}
	metrics.Verification(chainID, runtime, creation, engine.ErrorCode(err))
}

func (s *service) persist(ctx context.Context, req VerifyRequest, v *engine.Verification, export *engine.Export) (*VerifyResult, error) {
	record := &storage.VerifiedContract{
		ChainID:            req.ChainID,
		Address:            v.Address.Hex(),
		Language:           string(export.Compilation.Language),
		CompilerVersion:    export.Compilation.CompilerVersion,
		FullyQualifiedName: export.Compilation.FullyQualifiedName,
		RuntimeMatch:       matchLabel(v.RuntimeStatus()),
		CreationMatch:      matchLabel(v.CreationStatus()),
		CreationTxHash:     req.CreationTxHash,
	}

	existing, err := s.store.GetVerification(ctx, record.ChainID, record.Address)
	switch {
	case err == nil:
		if rank(existing.RuntimeMatch, existing.CreationMatch) > rank(record.RuntimeMatch, record.CreationMatch) {
			return &VerifyResult{ID: existing.ID, Verification: export, Stored: false}, nil
		}
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("loading stored verification: %w", err)
	}

	record.Export, err = json.Marshal(export)
	if err != nil {
		return nil, fmt.Errorf("encoding verification: %w", err)
	}
	if err := s.store.SaveVerification(ctx, record); err != nil {
		return nil, fmt.Errorf("storing verification: %w", err)
	}
	return &VerifyResult{ID: record.ID, Verification: export, Stored: true}, nil
}

// matchLabel stores only matches; "none" is kept as an empty column.
func matchLabel(s match.Status) string {
	if !s.IsMatch() {
		return ""
	}
	return string(s)
}

// rank orders stored results: perfect beats partial per kind, runtime first.
func rank(runtime, creation string) int {
	score := func(s string) int {
		switch match.Status(s) {
		case match.StatusPerfect:
			return 2
		case match.StatusPartial:
			return 1
		}
		return 0
	}
	return score(runtime)*3 + score(creation)
}

// Get returns the stored verification for an address.
func (s *service) Get(ctx context.Context, chainID uint64, address string) (*VerifiedContract, error) {
	if err := validation.ValidateAddress(address); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if err := validation.ValidateChainID(chainID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChainID, err)
	}

	rec, err := s.store.GetVerification(ctx, chainID, common.HexToAddress(address).Hex())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting verification: %w", err)
	}
	out := toVerifiedContract(rec)
	out.Verification = rec.Export
	return &out, nil
}

// List returns stored verifications, newest first.
func (s *service) List(ctx context.Context, filter ListFilter, pagination PaginationParams) (*ListResult, error) {
	switch filter.Match {
	case "", string(match.StatusPerfect), string(match.StatusPartial):
	default:
		return nil, fmt.Errorf("%w: match must be perfect or partial", ErrInvalidRequest)
	}

	res, err := s.store.ListVerifications(ctx,
		storage.VerificationFilter{ChainID: filter.ChainID, Match: filter.Match},
		storage.PaginationParams{Limit: pagination.Limit, Cursor: pagination.Cursor},
	)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidCursor) {
			return nil, ErrInvalidCursor
		}
		return nil, fmt.Errorf("listing verifications: %w", err)
	}

	out := &ListResult{
		Data:       make([]VerifiedContract, 0, len(res.Data)),
		HasMore:    res.HasMore,
		NextCursor: res.NextCursor,
	}
	for i := range res.Data {
		out.Data = append(out.Data, toVerifiedContract(&res.Data[i]))
	}
	return out, nil
}

func toVerifiedContract(rec *storage.VerifiedContract) VerifiedContract {
	verifiedAt := rec.UpdatedAt
	if verifiedAt == "" {
		verifiedAt = rec.CreatedAt
	}
	return VerifiedContract{
		ID:                 rec.ID,
		ChainID:            rec.ChainID,
		Address:            rec.Address,
		Language:           rec.Language,
		CompilerVersion:    rec.CompilerVersion,
		FullyQualifiedName: rec.FullyQualifiedName,
		RuntimeMatch:       rec.RuntimeMatch,
		CreationMatch:      rec.CreationMatch,
		VerifiedAt:         verifiedAt,
	}
}
