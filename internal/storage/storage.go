package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pendergraft/contraverify/internal/config"
)

// VerificationStore persists verified contracts, one row per chain and address.
type VerificationStore interface {
	// SaveVerification inserts or replaces the row for (ChainID, Address). The id
	// and creation time of an existing row are kept.
	SaveVerification(ctx context.Context, v *VerifiedContract) error
	GetVerification(ctx context.Context, chainID uint64, address string) (*VerifiedContract, error)
	ListVerifications(ctx context.Context, filter VerificationFilter, pagination PaginationParams) (*PaginatedResult[VerifiedContract], error)
}

// Store combines all storage interfaces with lifecycle methods.
// Domain services define their own minimal interfaces based on their actual usage.
type Store interface {
	VerificationStore

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// VerifiedContract is a stored verification result.
type VerifiedContract struct {
	ID                 string
	ChainID            uint64
	Address            string // EIP-55 checksummed
	Language           string
	CompilerVersion    string
	FullyQualifiedName string
	RuntimeMatch       string // "perfect", "partial" or "" when not attempted
	CreationMatch      string
	CreationTxHash     string
	Export             []byte // JSON verification export
	CreatedAt          string
	UpdatedAt          string
}

// VerificationFilter contains filter options for listing verified contracts
type VerificationFilter struct {
	ChainID uint64 // 0 matches every chain
	Match   string // "perfect" or "partial"; matches either kind
}

// PaginationParams contains pagination options
type PaginationParams struct {
	Limit  int
	Cursor string
}

// PaginatedResult contains paginated results
type PaginatedResult[T any] struct {
	Data       []T
	HasMore    bool
	NextCursor string
}

// New creates a new store based on configuration
func New(cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteStore(cfg.SQLite.Path, logger)
	case "postgres":
		return NewPostgresStore(cfg.Postgres.URL, logger)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// page trims the extra row fetched to detect a following page.
func page(rows []VerifiedContract, limit int) *PaginatedResult[VerifiedContract] {
	res := &PaginatedResult[VerifiedContract]{Data: rows}
	if len(rows) > limit {
		res.Data = rows[:limit]
		res.HasMore = true
		res.NextCursor = res.Data[limit-1].ID
	}
	if res.Data == nil {
		res.Data = []VerifiedContract{}
	}
	return res
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultPageSize
	case limit > maxPageSize:
		return maxPageSize
	}
	return limit
}
