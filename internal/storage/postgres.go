package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new Postgres store
func NewPostgresStore(url string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresStore{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS verified_contracts (
		id UUID PRIMARY KEY,
		chain_id BIGINT NOT NULL,
		address TEXT NOT NULL,
		language TEXT NOT NULL,
		compiler_version TEXT NOT NULL,
		fully_qualified_name TEXT NOT NULL,
		runtime_match TEXT NOT NULL DEFAULT '',
		creation_match TEXT NOT NULL DEFAULT '',
		creation_tx_hash TEXT NOT NULL DEFAULT '',
		export JSONB NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		updated_at TIMESTAMPTZ DEFAULT NOW(),
		UNIQUE(chain_id, address)
	);

	CREATE INDEX IF NOT EXISTS idx_verified_contracts_chain ON verified_contracts(chain_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Info("database migrations complete")
	return nil
}

// SaveVerification upserts a verified contract
func (s *PostgresStore) SaveVerification(ctx context.Context, v *VerifiedContract) error {
	query := `
		INSERT INTO verified_contracts (id, chain_id, address, language, compiler_version, fully_qualified_name,
			runtime_match, creation_match, creation_tx_hash, export)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (chain_id, address) DO UPDATE SET
			language = EXCLUDED.language,
			compiler_version = EXCLUDED.compiler_version,
			fully_qualified_name = EXCLUDED.fully_qualified_name,
			runtime_match = EXCLUDED.runtime_match,
			creation_match = EXCLUDED.creation_match,
			creation_tx_hash = EXCLUDED.creation_tx_hash,
			export = EXCLUDED.export,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	if v.ID == "" {
		v.ID = generateID()
	}
	var createdAt, updatedAt time.Time
	err := s.db.QueryRowContext(ctx, query,
		v.ID, int64(v.ChainID), v.Address, v.Language, v.CompilerVersion, v.FullyQualifiedName,
		v.RuntimeMatch, v.CreationMatch, v.CreationTxHash, string(v.Export),
	).Scan(&v.ID, &createdAt, &updatedAt)
	if err != nil {
		return err
	}
	v.CreatedAt = createdAt.Format("2006-01-02 15:04:05")
	v.UpdatedAt = updatedAt.Format("2006-01-02 15:04:05")
	return nil
}

// GetVerification retrieves a verified contract
func (s *PostgresStore) GetVerification(ctx context.Context, chainID uint64, address string) (*VerifiedContract, error) {
	query := `
		SELECT id, chain_id, address, language, compiler_version, fully_qualified_name,
			runtime_match, creation_match, creation_tx_hash, export, created_at, updated_at
		FROM verified_contracts
		WHERE chain_id = $1 AND address = $2
	`
	v, err := scanPostgresVerification(s.db.QueryRowContext(ctx, query, int64(chainID), address))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return v, err
}

// ListVerifications lists verified contracts, newest first, with cursor-based pagination
func (s *PostgresStore) ListVerifications(ctx context.Context, filter VerificationFilter, pagination PaginationParams) (*PaginatedResult[VerifiedContract], error) {
	limit := normalizeLimit(pagination.Limit)

	var where []string
	var args []any
	argNum := 1
	if pagination.Cursor != "" {
		if !validCursor(pagination.Cursor) {
			return nil, ErrInvalidCursor
		}
		where = append(where, fmt.Sprintf("id < $%d", argNum))
		args = append(args, pagination.Cursor)
		argNum++
	}
	if filter.ChainID != 0 {
		where = append(where, fmt.Sprintf("chain_id = $%d", argNum))
		args = append(args, int64(filter.ChainID))
		argNum++
	}
	if filter.Match != "" {
		where = append(where, fmt.Sprintf("(runtime_match = $%d OR creation_match = $%d)", argNum, argNum))
		args = append(args, filter.Match)
		argNum++
	}

	query := `SELECT id, chain_id, address, language, compiler_version, fully_qualified_name,
		runtime_match, creation_match, creation_tx_hash, export, created_at, updated_at
		FROM verified_contracts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d", argNum)
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VerifiedContract
	for rows.Next() {
		v, err := scanPostgresVerification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return page(out, limit), nil
}

func scanPostgresVerification(row rowScanner) (*VerifiedContract, error) {
	var v VerifiedContract
	var chainID int64
	var createdAt, updatedAt time.Time
	err := row.Scan(&v.ID, &chainID, &v.Address, &v.Language, &v.CompilerVersion, &v.FullyQualifiedName,
		&v.RuntimeMatch, &v.CreationMatch, &v.CreationTxHash, &v.Export, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	v.ChainID = uint64(chainID)
	v.CreatedAt = createdAt.Format("2006-01-02 15:04:05")
	v.UpdatedAt = updatedAt.Format("2006-01-02 15:04:05")
	return &v, nil
}
