// Package attachment implements the chunked attachment pipeline (C3):
// streaming a file into a node's pad_data blob as a sequence of
// independently sealed chunks, with a sealed sizes sidecar recording how
// to split the blob back apart on read.
package attachment

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/cipherpad/engine/src/crypto"
	"github.com/cipherpad/engine/src/domain/pad"
	"github.com/cipherpad/engine/src/store"
)

const (
	// ChunkSize is the plaintext chunk size streamed from the source file
	// before each chunk is sealed independently.
	ChunkSize = 4096

	// MaxBlobSize bounds the sealed sizes sidecar plus every sealed chunk,
	// summed, that a single attachment may occupy.
	MaxBlobSize = 1_000_000_000

	sizeFieldWidth = 8 // bytes per big-endian chunk length in the sizes sidecar
)

// EncryptFileToPad reads src in ChunkSize pieces, seals each chunk under
// masterKey, and writes the sealed chunks plus a sealed sizes sidecar into
// the node's pad_data blob. metadata.EncryptedDataOffset is set to the
// sidecar's sealed length before metadata is itself sealed and stored.
//
// The sealed chunks are staged to a temp file first because the final
// blob size — sidecar length plus every sealed chunk length — is only
// known once every chunk has been sealed, and pad_data must be
// pre-allocated with ZEROBLOB before any incremental write can begin.
func EncryptFileToPad(ctx context.Context, st *store.Store, id uuid.UUID, masterKey []byte, metadata pad.Metadata, src io.Reader) error {
	rowID, err := st.RowID(ctx, id)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp("", "cipherpad_"+id.String()+"_*")
	if err != nil {
		return fmt.Errorf("cipherpad: stage attachment: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	var sizes []byte
	buf := make([]byte, ChunkSize)
	for {
		n, readErr := io.ReadFull(src, buf)
		if n > 0 {
			sealed, err := crypto.Seal(buf[:n], masterKey)
			if err != nil {
				tmp.Close()
				return err
			}
			if _, err := tmp.Write(sealed); err != nil {
				tmp.Close()
				return fmt.Errorf("cipherpad: stage attachment: %w", err)
			}
			sizes = appendChunkSize(sizes, len(sealed))
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			tmp.Close()
			return fmt.Errorf("cipherpad: read attachment source: %w", readErr)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cipherpad: stage attachment: %w", err)
	}

	tmpInfo, err := os.Stat(tmpPath)
	if err != nil {
		return fmt.Errorf("cipherpad: stage attachment: %w", err)
	}

	sealedSizes, err := crypto.Seal(sizes, masterKey)
	if err != nil {
		return err
	}

	totalSize := len(sealedSizes) + int(tmpInfo.Size())
	if totalSize >= MaxBlobSize {
		return ErrFileTooLarge
	}

	if err := st.ClearPadData(ctx, id); err != nil {
		return err
	}

	metadata.EncryptedDataOffset = len(sealedSizes)
	sealedMetadata, err := sealMetadata(metadata, masterKey)
	if err != nil {
		return err
	}

	if err := st.PreallocatePadData(ctx, id, sealedMetadata, totalSize); err != nil {
		return err
	}

	return st.WithBlobWriter(ctx, rowID, func(w io.Writer) error {
		if _, err := w.Write(sealedSizes); err != nil {
			return err
		}
		staged, err := os.Open(tmpPath)
		if err != nil {
			return err
		}
		defer staged.Close()
		_, err = io.Copy(w, staged)
		return err
	})
}

// DecryptPadTo streams a node's attachment, decrypted, into dst. metadata
// must be the node's already-decrypted pad.Metadata (its
// EncryptedDataOffset locates the sizes sidecar within the blob).
func DecryptPadTo(ctx context.Context, st *store.Store, id uuid.UUID, masterKey []byte, metadata pad.Metadata, dst io.Writer) error {
	rowID, err := st.RowID(ctx, id)
	if err != nil {
		return err
	}

	return st.WithBlobReader(ctx, rowID, func(r io.Reader) error {
		sealedSizes := make([]byte, metadata.EncryptedDataOffset)
		if n, _ := store.ReadExactChunk(r, sealedSizes); n != len(sealedSizes) {
			return ErrCorruptAttachment
		}
		sizesBytes, err := crypto.Open(sealedSizes, masterKey)
		if err != nil {
			return err
		}
		if len(sizesBytes)%sizeFieldWidth != 0 {
			return ErrCorruptAttachment
		}

		for offset := 0; offset < len(sizesBytes); offset += sizeFieldWidth {
			chunkLen := binary.BigEndian.Uint64(sizesBytes[offset : offset+sizeFieldWidth])
			sealedChunk := make([]byte, chunkLen)
			if n, _ := store.ReadExactChunk(r, sealedChunk); uint64(n) != chunkLen {
				return ErrCorruptAttachment
			}
			plain, err := crypto.Open(sealedChunk, masterKey)
			if err != nil {
				return err
			}
			if _, err := dst.Write(plain); err != nil {
				return err
			}
		}
		return nil
	})
}

// DecryptPadToBytes is DecryptPadTo collected into memory, for callers
// (the blob command) that want the whole attachment as a single value.
func DecryptPadToBytes(ctx context.Context, st *store.Store, id uuid.UUID, masterKey []byte, metadata pad.Metadata) ([]byte, error) {
	var buf bytes.Buffer
	if err := DecryptPadTo(ctx, st, id, masterKey, metadata, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func appendChunkSize(sizes []byte, n int) []byte {
	var field [sizeFieldWidth]byte
	binary.BigEndian.PutUint64(field[:], uint64(n))
	return append(sizes, field[:]...)
}

func sealMetadata(metadata pad.Metadata, masterKey []byte) ([]byte, error) {
	raw, err := pad.MarshalMetadata(metadata)
	if err != nil {
		return nil, fmt.Errorf("cipherpad: marshal pad metadata: %w", err)
	}
	return crypto.Seal(raw, masterKey)
}
