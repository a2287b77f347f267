package domain

import (
	"context"
	"log/slog"
	"time"
)

// loggingService is the interface required for logging middleware.
type loggingService interface {
	Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error)
	Get(ctx context.Context, chainID uint64, address string) (*VerifiedContract, error)
	List(ctx context.Context, filter ListFilter, pagination PaginationParams) (*ListResult, error)
}

// LoggingMiddleware returns a service middleware that logs all operations.
func LoggingMiddleware(logger *slog.Logger) func(loggingService) *loggingMiddleware {
	return func(next loggingService) *loggingMiddleware {
		return &loggingMiddleware{
			next:   next,
			logger: logger,
		}
	}
}

type loggingMiddleware struct {
	next   loggingService
	logger *slog.Logger
}

func (m *loggingMiddleware) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	start := time.Now()
	res, err := m.next.Verify(ctx, req)
	attrs := []any{
		"chain_id", req.ChainID,
		"address", req.Address,
		"contract", req.ContractIdentifier,
		"compiler", req.CompilerVersion,
		"duration", time.Since(start),
		"error", err,
	}
	if res != nil && res.Verification != nil {
		st := res.Verification.Status
		if st.RuntimeMatch != nil {
			attrs = append(attrs, "runtime_match", *st.RuntimeMatch)
		}
		if st.CreationMatch != nil {
			attrs = append(attrs, "creation_match", *st.CreationMatch)
		}
		attrs = append(attrs, "stored", res.Stored)
	}
	m.logger.Info("Verify", attrs...)
	return res, err
}

func (m *loggingMiddleware) Get(ctx context.Context, chainID uint64, address string) (*VerifiedContract, error) {
	start := time.Now()
	v, err := m.next.Get(ctx, chainID, address)
	m.logger.Debug("Get",
		"chain_id", chainID,
		"address", address,
		"duration", time.Since(start),
		"error", err,
	)
	return v, err
}

func (m *loggingMiddleware) List(ctx context.Context, filter ListFilter, pagination PaginationParams) (*ListResult, error) {
	start := time.Now()
	res, err := m.next.List(ctx, filter, pagination)
	m.logger.Debug("List",
		"chain_id", filter.ChainID,
		"match", filter.Match,
		"limit", pagination.Limit,
		"duration", time.Since(start),
		"error", err,
	)
	return res, err
}
