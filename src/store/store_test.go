package store

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s, err := Open(context.Background(), ":memory:", logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetOrCreateSaltIsStable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	calls := 0
	generate := func() ([]byte, error) {
		calls++
		return []byte("0123456789abcdef"), nil
	}

	first, err := s.GetOrCreateSalt(ctx, generate)
	if err != nil {
		t.Fatalf("GetOrCreateSalt: %v", err)
	}
	second, err := s.GetOrCreateSalt(ctx, generate)
	if err != nil {
		t.Fatalf("GetOrCreateSalt: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("salt changed between calls: %x vs %x", first, second)
	}
	if calls != 1 {
		t.Fatalf("expected generate to run once, ran %d times", calls)
	}
}

func TestNodeCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := uuid.New()
	if err := s.InsertNode(ctx, id, nil, []byte("metadata-v1"), []byte("data-v1")); err != nil {
		t.Fatalf("InsertNode: %v", err)
	}

	rows, err := s.ListNodes(ctx)
	if err != nil {
		t.Fatalf("ListNodes: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != id {
		t.Fatalf("expected one row for %s, got %+v", id, rows)
	}
	if rows[0].ParentID.Valid {
		t.Fatalf("expected no parent, got %v", rows[0].ParentID)
	}

	if err := s.UpdateNodeFields(ctx, id, nil, []byte("metadata-v2"), []byte("data-v2")); err != nil {
		t.Fatalf("UpdateNodeFields: %v", err)
	}
	rows, _ = s.ListNodes(ctx)
	if string(rows[0].PadMetadata) != "metadata-v2" {
		t.Fatalf("update did not persist, got %q", rows[0].PadMetadata)
	}

	if err := s.DeleteNode(ctx, id); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}
	rows, _ = s.ListNodes(ctx)
	if len(rows) != 0 {
		t.Fatalf("expected no rows after delete, got %d", len(rows))
	}
}

func TestDeleteNodeCascadesToChildren(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parent := uuid.New()
	child := uuid.New()
	if err := s.InsertNode(ctx, parent, nil, []byte("p"), []byte("pd")); err != nil {
		t.Fatalf("InsertNode parent: %v", err)
	}
	if err := s.InsertNode(ctx, child, &parent, []byte("c"), []byte("cd")); err != nil {
		t.Fatalf("InsertNode child: %v", err)
	}

	if err := s.DeleteNode(ctx, parent); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}
	rows, err := s.ListNodes(ctx)
	if err != nil {
		t.Fatalf("ListNodes: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected cascade delete to remove child, got %+v", rows)
	}
}

func TestDeleteNodeMissingIsNotFound(t *testing.T) {
	s := newTestStore(t)
	if err := s.DeleteNode(context.Background(), uuid.New()); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBlobWriteReadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := uuid.New()
	if err := s.InsertNode(ctx, id, nil, []byte("meta"), []byte{}); err != nil {
		t.Fatalf("InsertNode: %v", err)
	}
	payload := []byte("the encrypted attachment bytes go here")
	if err := s.PreallocatePadData(ctx, id, []byte("meta-sized"), len(payload)); err != nil {
		t.Fatalf("PreallocatePadData: %v", err)
	}

	rowID, err := s.RowID(ctx, id)
	if err != nil {
		t.Fatalf("RowID: %v", err)
	}

	if err := s.WithBlobWriter(ctx, rowID, func(w io.Writer) error {
		_, err := w.Write(payload)
		return err
	}); err != nil {
		t.Fatalf("WithBlobWriter: %v", err)
	}

	var got bytes.Buffer
	if err := s.WithBlobReader(ctx, rowID, func(r io.Reader) error {
		_, err := io.Copy(&got, r)
		return err
	}); err != nil {
		t.Fatalf("WithBlobReader: %v", err)
	}

	if !bytes.Equal(got.Bytes(), payload) {
		t.Fatalf("round trip mismatch: got %q want %q", got.Bytes(), payload)
	}
}

func TestClearPadData(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := uuid.New()
	if err := s.InsertNode(ctx, id, nil, []byte("meta"), []byte("stale data")); err != nil {
		t.Fatalf("InsertNode: %v", err)
	}
	if err := s.ClearPadData(ctx, id); err != nil {
		t.Fatalf("ClearPadData: %v", err)
	}
	rows, _ := s.ListNodes(ctx)
	if len(rows[0].PadData) != 0 {
		t.Fatalf("expected empty pad_data, got %d bytes", len(rows[0].PadData))
	}
}
