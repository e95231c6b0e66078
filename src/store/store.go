// Package store implements the single-file node store (C4): schema
// management, node CRUD through sqlx, and incremental blob I/O through the
// raw mattn/go-sqlite3 driver connection.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Store wraps the sqlite connection pool the way the teacher's database.DB
// wraps *sql.DB: a thin layer carrying a logger alongside the pool, not a
// repository of its own.
type Store struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// Open opens (or creates) the store file at path, applies the schema
// pragmas, and fails fast if the file cannot be reached or pinged.
func Open(ctx context.Context, path string, logger *logrus.Logger) (*Store, error) {
	logger.WithField("path", path).Info("opening cipherpad store")

	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// A single-file store has no concurrent-writer story worth pooling for;
	// sqlite itself serializes writers, so one connection avoids SQLITE_BUSY
	// noise from Go's pool opening a second handle mid-transaction.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s := &Store{db: db, logger: logger}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA auto_vacuum = FULL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := s.createTablesIfNotExists(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("cipherpad store ready")
	return s, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// HealthCheck verifies the store connection is still alive.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.WithError(err).Error("store health check failed")
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) createTablesIfNotExists(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreError, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS node (
		id TEXT PRIMARY KEY,
		parent_id TEXT,
		pad_metadata BLOB NOT NULL,
		pad_data BLOB NOT NULL,
		FOREIGN KEY (parent_id) REFERENCES node (id) ON DELETE CASCADE
	);`); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreError, err)
	}

	if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS config (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		master_key_salt BLOB
	);`); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreError, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreError, err)
	}
	return nil
}

// GetOrCreateSalt returns the store's master key salt, generating and
// persisting one on first open.
func (s *Store) GetOrCreateSalt(ctx context.Context, generate func() ([]byte, error)) ([]byte, error) {
	var salt []byte
	err := s.db.GetContext(ctx, &salt, "SELECT master_key_salt FROM config WHERE id = 1;")
	if err == nil {
		return salt, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %v", ErrStoreError, err)
	}

	salt, genErr := generate()
	if genErr != nil {
		return nil, genErr
	}
	if _, err := s.db.ExecContext(ctx, "INSERT INTO config (id, master_key_salt) VALUES (1, ?);", salt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreError, err)
	}
	return salt, nil
}

// NodeRow is a single raw row from the node table, metadata and data still
// sealed.
type NodeRow struct {
	ID          uuid.UUID     `db:"id"`
	ParentID    uuid.NullUUID `db:"parent_id"`
	PadMetadata []byte        `db:"pad_metadata"`
	PadData     []byte        `db:"pad_data"`
}

// ListNodes returns every row in the node table.
func (s *Store) ListNodes(ctx context.Context) ([]NodeRow, error) {
	var rows []NodeRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT id, parent_id, pad_metadata, pad_data FROM node;"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreError, err)
	}
	return rows, nil
}

// BlobDataLength returns the current byte length of a node's pad_data
// column without reading its contents.
func (s *Store) BlobDataLength(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT length(pad_data) FROM node WHERE id = ?;", id.String())
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreError, err)
	}
	return n, nil
}

// GetNode returns a single node's full row, metadata and data still sealed.
func (s *Store) GetNode(ctx context.Context, id uuid.UUID) (NodeRow, error) {
	var row NodeRow
	err := s.db.GetContext(ctx, &row, "SELECT id, parent_id, pad_metadata, pad_data FROM node WHERE id = ?;", id.String())
	if err == sql.ErrNoRows {
		return NodeRow{}, ErrNotFound
	}
	if err != nil {
		return NodeRow{}, fmt.Errorf("%w: %v", ErrStoreError, err)
	}
	return row, nil
}

// GetPadData returns a single node's sealed pad_data column.
func (s *Store) GetPadData(ctx context.Context, id uuid.UUID) ([]byte, error) {
	var data []byte
	err := s.db.GetContext(ctx, &data, "SELECT pad_data FROM node WHERE id = ?;", id.String())
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreError, err)
	}
	return data, nil
}

// InsertNode creates a new node row with the given sealed metadata and
// data envelopes.
func (s *Store) InsertNode(ctx context.Context, id uuid.UUID, parentID *uuid.UUID, sealedMetadata, sealedData []byte) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO node (id, parent_id, pad_metadata, pad_data) VALUES (?, ?, ?, ?);",
		id.String(), nullableUUIDString(parentID), sealedMetadata, sealedData)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreError, err)
	}
	return nil
}

// UpdateNodeFields rewrites a node's parent, metadata, and data envelopes.
// A nil parentID clears the parent (the node becomes a root).
func (s *Store) UpdateNodeFields(ctx context.Context, id uuid.UUID, parentID *uuid.UUID, sealedMetadata, sealedData []byte) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE node SET parent_id = ?, pad_metadata = ?, pad_data = ? WHERE id = ?;",
		nullableUUIDString(parentID), sealedMetadata, sealedData, id.String())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreError, err)
	}
	return requireAffected(res)
}

// DeleteNode removes a node row. ON DELETE CASCADE takes care of
// descendants at the SQL level.
func (s *Store) DeleteNode(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM node WHERE id = ?;", id.String())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreError, err)
	}
	return requireAffected(res)
}

// RowID returns the sqlite rowid for a node, needed for blob I/O.
func (s *Store) RowID(ctx context.Context, id uuid.UUID) (int64, error) {
	var rowID int64
	err := s.db.GetContext(ctx, &rowID, "SELECT rowid FROM node WHERE id = ?;", id.String())
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreError, err)
	}
	return rowID, nil
}

// PreallocatePadData zero-fills pad_data to size and stores sealedMetadata,
// ahead of an incremental blob write of exactly that size.
func (s *Store) PreallocatePadData(ctx context.Context, id uuid.UUID, sealedMetadata []byte, size int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE node SET pad_metadata = ?, pad_data = ZEROBLOB(?) WHERE id = ?;",
		sealedMetadata, size, id.String())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreError, err)
	}
	return requireAffected(res)
}

// ClearPadData truncates a node's pad_data to an empty blob, the step the
// original takes before re-encrypting an attachment onto the same row.
func (s *Store) ClearPadData(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, "UPDATE node SET pad_data = ZEROBLOB(0) WHERE id = ?;", id.String())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreError, err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreError, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableUUIDString(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return id.String()
}
