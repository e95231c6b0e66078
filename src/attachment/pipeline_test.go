package attachment

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"io"
	"reflect"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	cpcrypto "github.com/cipherpad/engine/src/crypto"
	"github.com/cipherpad/engine/src/domain/pad"
	"github.com/cipherpad/engine/src/store"
)

// sealedEnvelopeOverhead is crypto.NonceSize + crypto.InfoSize + crypto.TagSize:
// the fixed per-envelope cost Seal adds on top of plaintext length.
const sealedEnvelopeOverhead = cpcrypto.NonceSize + cpcrypto.InfoSize + cpcrypto.TagSize

// zeroReader produces remaining zero bytes without ever holding them all in
// memory at once, so an oversized-attachment test doesn't need a literal
// multi-hundred-megabyte buffer.
type zeroReader struct {
	remaining int64
}

func (z *zeroReader) Read(p []byte) (int, error) {
	if z.remaining <= 0 {
		return 0, io.EOF
	}
	n := int64(len(p))
	if n > z.remaining {
		n = z.remaining
	}
	for i := int64(0); i < n; i++ {
		p[i] = 0
	}
	z.remaining -= n
	return int(n), nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	s, err := store.Open(context.Background(), ":memory:", logger)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testMasterKey(t *testing.T) []byte {
	t.Helper()
	salt, err := cpcrypto.NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	return cpcrypto.DeriveMasterKey("correct horse battery staple", salt)
}

func newPadNode(t *testing.T, st *store.Store, masterKey []byte) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	id := uuid.New()
	meta := pad.Metadata{Type: "file", Name: "notes.bin"}
	sealedMeta, err := sealMetadata(meta, masterKey)
	if err != nil {
		t.Fatalf("sealMetadata: %v", err)
	}
	if err := st.InsertNode(ctx, id, nil, sealedMeta, []byte{}); err != nil {
		t.Fatalf("InsertNode: %v", err)
	}
	return id
}

func TestEncryptDecryptRoundTripSmallFile(t *testing.T) {
	st := newTestStore(t)
	masterKey := testMasterKey(t)
	ctx := context.Background()
	id := newPadNode(t, st, masterKey)

	content := []byte("a short note that fits in a single chunk")
	if err := EncryptFileToPad(ctx, st, id, masterKey, pad.Metadata{Type: "file", Name: "a.txt"}, bytes.NewReader(content)); err != nil {
		t.Fatalf("EncryptFileToPad: %v", err)
	}

	metadata := readBackMetadata(t, st, id, masterKey)
	got, err := DecryptPadToBytes(ctx, st, id, masterKey, metadata)
	if err != nil {
		t.Fatalf("DecryptPadToBytes: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("round trip mismatch: got %d bytes want %d", len(got), len(content))
	}
}

func TestEncryptDecryptRoundTripMultiChunk(t *testing.T) {
	st := newTestStore(t)
	masterKey := testMasterKey(t)
	ctx := context.Background()
	id := newPadNode(t, st, masterKey)

	content := make([]byte, ChunkSize*3+17)
	if _, err := rand.Read(content); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	if err := EncryptFileToPad(ctx, st, id, masterKey, pad.Metadata{Type: "file", Name: "blob.bin"}, bytes.NewReader(content)); err != nil {
		t.Fatalf("EncryptFileToPad: %v", err)
	}

	metadata := readBackMetadata(t, st, id, masterKey)
	got, err := DecryptPadToBytes(ctx, st, id, masterKey, metadata)
	if err != nil {
		t.Fatalf("DecryptPadToBytes: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("round trip mismatch across chunk boundary")
	}
}

func TestEncryptEmptyFile(t *testing.T) {
	st := newTestStore(t)
	masterKey := testMasterKey(t)
	ctx := context.Background()
	id := newPadNode(t, st, masterKey)

	if err := EncryptFileToPad(ctx, st, id, masterKey, pad.Metadata{Type: "file", Name: "empty.bin"}, bytes.NewReader(nil)); err != nil {
		t.Fatalf("EncryptFileToPad: %v", err)
	}
	metadata := readBackMetadata(t, st, id, masterKey)
	got, err := DecryptPadToBytes(ctx, st, id, masterKey, metadata)
	if err != nil {
		t.Fatalf("DecryptPadToBytes: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty attachment, got %d bytes", len(got))
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	st := newTestStore(t)
	masterKey := testMasterKey(t)
	otherKey := testMasterKey(t)
	ctx := context.Background()
	id := newPadNode(t, st, masterKey)

	if err := EncryptFileToPad(ctx, st, id, masterKey, pad.Metadata{Type: "file", Name: "secret.bin"}, bytes.NewReader([]byte("top secret"))); err != nil {
		t.Fatalf("EncryptFileToPad: %v", err)
	}
	metadata := readBackMetadata(t, st, id, masterKey)
	if _, err := DecryptPadToBytes(ctx, st, id, otherKey, metadata); err == nil {
		t.Fatal("expected decryption under the wrong key to fail")
	}
}

// sidecarEntrySizes opens a node's sizes sidecar directly, duplicating the
// first step of DecryptPadTo, to expose the per-chunk sealed lengths that
// no public decrypt path returns.
func sidecarEntrySizes(t *testing.T, st *store.Store, id uuid.UUID, masterKey []byte, metadata pad.Metadata) []uint64 {
	t.Helper()
	ctx := context.Background()
	rowID, err := st.RowID(ctx, id)
	if err != nil {
		t.Fatalf("RowID: %v", err)
	}

	var entries []uint64
	err = st.WithBlobReader(ctx, rowID, func(r io.Reader) error {
		sealedSizes := make([]byte, metadata.EncryptedDataOffset)
		if n, _ := store.ReadExactChunk(r, sealedSizes); n != len(sealedSizes) {
			t.Fatalf("short read of sizes sidecar: got %d want %d", n, len(sealedSizes))
		}
		sizesBytes, err := cpcrypto.Open(sealedSizes, masterKey)
		if err != nil {
			return err
		}
		if len(sizesBytes)%sizeFieldWidth != 0 {
			t.Fatalf("sizes sidecar length %d not a multiple of %d", len(sizesBytes), sizeFieldWidth)
		}
		for offset := 0; offset < len(sizesBytes); offset += sizeFieldWidth {
			entries = append(entries, binary.BigEndian.Uint64(sizesBytes[offset:offset+sizeFieldWidth]))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithBlobReader: %v", err)
	}
	return entries
}

// TestChunkCountInvariant is S4's own scenario: a 10,000-byte file of all
// 0xAB bytes splits into plaintext chunks of 4096, 4096, 1808, and the
// sizes sidecar records one sealed-length entry per chunk, each equal to
// the plaintext chunk length plus the fixed envelope overhead.
func TestChunkCountInvariant(t *testing.T) {
	st := newTestStore(t)
	masterKey := testMasterKey(t)
	ctx := context.Background()
	id := newPadNode(t, st, masterKey)

	const fileSize = 10_000
	content := bytes.Repeat([]byte{0xAB}, fileSize)
	if err := EncryptFileToPad(ctx, st, id, masterKey, pad.Metadata{Type: "file", Name: "ab.bin"}, bytes.NewReader(content)); err != nil {
		t.Fatalf("EncryptFileToPad: %v", err)
	}

	metadata := readBackMetadata(t, st, id, masterKey)
	got, err := DecryptPadToBytes(ctx, st, id, masterKey, metadata)
	if err != nil {
		t.Fatalf("DecryptPadToBytes: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("round trip mismatch for %d-byte file", fileSize)
	}

	wantPlainSizes := []uint64{4096, 4096, 1808}
	entries := sidecarEntrySizes(t, st, id, masterKey, metadata)
	if len(entries) != len(wantPlainSizes) {
		t.Fatalf("expected %d sidecar entries (ceil(%d/%d)), got %d", len(wantPlainSizes), fileSize, ChunkSize, len(entries))
	}
	for i, plainSize := range wantPlainSizes {
		want := plainSize + sealedEnvelopeOverhead
		if entries[i] != want {
			t.Fatalf("entry %d: want %d (plaintext %d + overhead %d), got %d", i, want, plainSize, sealedEnvelopeOverhead, entries[i])
		}
	}
}

// TestEncryptFileTooLargeLeavesNodeConsistent covers S7: a file whose
// sealed total would meet or exceed MaxBlobSize is rejected with
// ErrFileTooLarge, and the node's stored metadata and pad_data are left
// exactly as they were before the attempt (neither half of the pair is
// updated), never a half-written attachment visible to a later decrypt.
func TestEncryptFileTooLargeLeavesNodeConsistent(t *testing.T) {
	st := newTestStore(t)
	masterKey := testMasterKey(t)
	ctx := context.Background()
	id := newPadNode(t, st, masterKey)

	before := readBackMetadata(t, st, id, masterKey)
	lengthBefore, err := st.BlobDataLength(ctx, id)
	if err != nil {
		t.Fatalf("BlobDataLength: %v", err)
	}

	oversized := &zeroReader{remaining: MaxBlobSize + 1}
	err = EncryptFileToPad(ctx, st, id, masterKey, pad.Metadata{Type: "file", Name: "huge.bin"}, oversized)
	if err != ErrFileTooLarge {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}

	after := readBackMetadata(t, st, id, masterKey)
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("metadata changed after a rejected oversized attachment: before %+v after %+v", before, after)
	}

	lengthAfter, err := st.BlobDataLength(ctx, id)
	if err != nil {
		t.Fatalf("BlobDataLength: %v", err)
	}
	if lengthAfter != lengthBefore {
		t.Fatalf("pad_data length changed after rejection: before %d after %d", lengthBefore, lengthAfter)
	}
}

func readBackMetadata(t *testing.T, st *store.Store, id uuid.UUID, masterKey []byte) pad.Metadata {
	t.Helper()
	rows, err := st.ListNodes(context.Background())
	if err != nil {
		t.Fatalf("ListNodes: %v", err)
	}
	for _, row := range rows {
		if row.ID == id {
			raw, err := cpcrypto.Open(row.PadMetadata, masterKey)
			if err != nil {
				t.Fatalf("Open metadata: %v", err)
			}
			metadata, err := pad.UnmarshalMetadata(raw)
			if err != nil {
				t.Fatalf("UnmarshalMetadata: %v", err)
			}
			return metadata
		}
	}
	t.Fatalf("node %s not found", id)
	return pad.Metadata{}
}
