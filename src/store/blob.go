package store

import (
	"context"
	"database/sql/driver"
	"fmt"
	"io"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// WithBlobWriter opens the pad_data blob at rowID for writing and invokes
// fn with it. The blob must already be pre-allocated (via
// PreallocatePadData) to at least as many bytes as fn will write. This is
// the one place node I/O bypasses sqlx: sqlite's incremental blob API has
// no row-oriented shape for Get/Select to map onto, so the raw driver
// connection is used directly — the same shape as the original reaching
// for rusqlite's blob_open callback instead of its query helpers.
func (s *Store) WithBlobWriter(ctx context.Context, rowID int64, fn func(io.Writer) error) error {
	return s.withRawBlob(ctx, rowID, true, func(blob *sqlite3.SQLiteBlob) error {
		return fn(blob)
	})
}

// WithBlobReader opens the pad_data blob at rowID for reading and invokes
// fn with it. Reads are sequential from the start of the blob, matching
// how the attachment pipeline consumes it: the sizes header first, then
// each chunk in order.
func (s *Store) WithBlobReader(ctx context.Context, rowID int64, fn func(io.Reader) error) error {
	return s.withRawBlob(ctx, rowID, false, func(blob *sqlite3.SQLiteBlob) error {
		return fn(blob)
	})
}

// ReadExactChunk fills buf completely from r, retrying short reads, the Go
// equivalent of read_exact_chunk: a partial read from a blob reader must
// not be mistaken for end of stream.
func ReadExactChunk(r io.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if n == 0 || err != nil {
			break
		}
	}
	return total, nil
}

func (s *Store) withRawBlob(ctx context.Context, rowID int64, write bool, fn func(*sqlite3.SQLiteBlob) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreError, err)
	}
	defer conn.Close()

	var fnErr error
	rawErr := conn.Raw(func(driverConn interface{}) error {
		sqliteConn, ok := driverConn.(*sqlite3.SQLiteConn)
		if !ok {
			return fmt.Errorf("unexpected driver connection type %T", driverConn)
		}
		blob, err := sqliteConn.Blob("main", "node", "pad_data", rowID, write)
		if err != nil {
			return err
		}
		defer blob.Close()
		fnErr = fn(blob)
		return fnErr
	})
	if fnErr != nil {
		// fn's own errors (crypto failures, corrupt attachments) reach the
		// caller unwrapped so they can be told apart from store failures.
		return fnErr
	}
	if rawErr != nil {
		if rawErr == driver.ErrBadConn {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, rawErr)
		}
		return fmt.Errorf("%w: %v", ErrStoreError, rawErr)
	}
	return nil
}
