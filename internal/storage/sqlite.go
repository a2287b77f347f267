package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS verified_contracts (
		id TEXT PRIMARY KEY,
		chain_id INTEGER NOT NULL,
		address TEXT NOT NULL,
		language TEXT NOT NULL,
		compiler_version TEXT NOT NULL,
		fully_qualified_name TEXT NOT NULL,
		runtime_match TEXT NOT NULL DEFAULT '',
		creation_match TEXT NOT NULL DEFAULT '',
		creation_tx_hash TEXT NOT NULL DEFAULT '',
		export TEXT NOT NULL,
		created_at TEXT DEFAULT (datetime('now')),
		updated_at TEXT DEFAULT (datetime('now')),
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
func (s *SQLiteStore) SaveVerification(ctx context.Context, v *VerifiedContract) error {
	query := `
		INSERT INTO verified_contracts (id, chain_id, address, language, compiler_version, fully_qualified_name,
			runtime_match, creation_match, creation_tx_hash, export, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'), datetime('now'))
		ON CONFLICT(chain_id, address) DO UPDATE SET
			language = excluded.language,
			compiler_version = excluded.compiler_version,
			fully_qualified_name = excluded.fully_qualified_name,
			runtime_match = excluded.runtime_match,
			creation_match = excluded.creation_match,
			creation_tx_hash = excluded.creation_tx_hash,
			export = excluded.export,
			updated_at = datetime('now')
		RETURNING id, created_at, updated_at
	`
	if v.ID == "" {
		v.ID = generateID()
	}
	return s.db.QueryRowContext(ctx, query,
		v.ID, int64(v.ChainID), v.Address, v.Language, v.CompilerVersion, v.FullyQualifiedName,
		v.RuntimeMatch, v.CreationMatch, v.CreationTxHash, string(v.Export),
	).Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt)
}

// GetVerification retrieves a verified contract
func (s *SQLiteStore) GetVerification(ctx context.Context, chainID uint64, address string) (*VerifiedContract, error) {
	query := `
		SELECT id, chain_id, address, language, compiler_version, fully_qualified_name,
			runtime_match, creation_match, creation_tx_hash, export, created_at, updated_at
		FROM verified_contracts
		WHERE chain_id = ? AND address = ?
	`
	v, err := scanVerification(s.db.QueryRowContext(ctx, query, int64(chainID), address))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return v, err
}

// ListVerifications lists verified contracts, newest first, with cursor-based pagination
func (s *SQLiteStore) ListVerifications(ctx context.Context, filter VerificationFilter, pagination PaginationParams) (*PaginatedResult[VerifiedContract], error) {
	limit := normalizeLimit(pagination.Limit)

	var where []string
	var args []any
	if pagination.Cursor != "" {
		if !validCursor(pagination.Cursor) {
			return nil, ErrInvalidCursor
		}
		where = append(where, "id < ?")
		args = append(args, pagination.Cursor)
	}
	if filter.ChainID != 0 {
		where = append(where, "chain_id = ?")
		args = append(args, int64(filter.ChainID))
	}
	if filter.Match != "" {
		where = append(where, "(runtime_match = ? OR creation_match = ?)")
		args = append(args, filter.Match, filter.Match)
	}

	query := `SELECT id, chain_id, address, language, compiler_version, fully_qualified_name,
		runtime_match, creation_match, creation_tx_hash, export, created_at, updated_at
		FROM verified_contracts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VerifiedContract
	for rows.Next() {
		v, err := scanVerification(rows)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVerification(row rowScanner) (*VerifiedContract, error) {
	var v VerifiedContract
	var chainID int64
	err := row.Scan(&v.ID, &chainID, &v.Address, &v.Language, &v.CompilerVersion, &v.FullyQualifiedName,
		&v.RuntimeMatch, &v.CreationMatch, &v.CreationTxHash, &v.Export, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	v.ChainID = uint64(chainID)
	return &v, nil
}
