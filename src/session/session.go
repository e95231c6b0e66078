// Package session implements the session controller (C6): the
// {Fresh, Locked, Unlocked} state machine that holds the master key and
// decrypted-metadata cache, serialized behind a single mutex so only one
// command runs against session state at a time.
package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/cipherpad/engine/src/attachment"
	cpcrypto "github.com/cipherpad/engine/src/crypto"
	"github.com/cipherpad/engine/src/domain/pad"
	"github.com/cipherpad/engine/src/store"
	"github.com/cipherpad/engine/src/tree"
)

// State is one vertex of the session's state machine.
type State string

const (
	Fresh    State = "fresh"
	Locked   State = "locked"
	Unlocked State = "unlocked"
)

// Options configures the unlock rate limiter. Zero values fall back to
// DefaultUnlockMaxAttempts / DefaultUnlockLockout.
type Options struct {
	UnlockMaxAttempts int
	UnlockLockout     time.Duration
}

const (
	DefaultUnlockMaxAttempts = 5
	DefaultUnlockLockout     = 5 * time.Minute
)

// Session is the single owner of the store handle and master key. All
// exported methods take the session's mutex, matching spec's "async
// mutex... only one command executes against the session state at a time".
type Session struct {
	mu sync.Mutex

	logger *logrus.Logger
	opts   Options

	state     State
	st        *store.Store
	masterKey []byte
	padMap    pad.Map
	limiter   *rate.Limiter
}

// New returns a Fresh session. opts.UnlockMaxAttempts/UnlockLockout of zero
// use the package defaults.
func New(logger *logrus.Logger, opts Options) *Session {
	if opts.UnlockMaxAttempts <= 0 {
		opts.UnlockMaxAttempts = DefaultUnlockMaxAttempts
	}
	if opts.UnlockLockout <= 0 {
		opts.UnlockLockout = DefaultUnlockLockout
	}
	return &Session{
		logger:  logger,
		opts:    opts,
		state:   Fresh,
		padMap:  pad.NewMap(),
		limiter: newLockoutLimiter(opts),
	}
}

func newLockoutLimiter(opts Options) *rate.Limiter {
	return rate.NewLimiter(rate.Every(opts.UnlockLockout/time.Duration(opts.UnlockMaxAttempts)), opts.UnlockMaxAttempts)
}

// Close releases the underlying store handle, if one was opened.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st == nil {
		return nil
	}
	return s.st.Close()
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HealthCheck pings the underlying store connection, if one has been
// opened. A Fresh session (no store opened yet) has nothing to probe and
// reports ErrStoreUnavailable.
func (s *Session) HealthCheck(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st == nil {
		return store.ErrStoreUnavailable
	}
	return s.st.HealthCheck(ctx)
}

// OpenOrCreate opens (creating if necessary) the store file at path and
// moves a Fresh session to Locked. Calling it again on an already-open
// session is a no-op — it does not reset the master key or cache.
func (s *Session) OpenOrCreate(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.st != nil {
		return nil
	}

	st, err := store.Open(ctx, path, s.logger)
	if err != nil {
		return err
	}
	s.st = st
	s.state = Locked
	s.logger.WithField("path", path).Info("cipherpad store opened")
	return nil
}

// Unlock derives the master key from password and the store's salt, then
// validates it by attempting to decrypt every existing pad's metadata
// envelope. Success moves Locked to Unlocked and caches the decrypted pad
// map; failure leaves the session Locked and counts against the unlock
// rate limit.
func (s *Session) Unlock(ctx context.Context, password string) (pad.Tree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.st == nil {
		return pad.Tree{}, store.ErrStoreUnavailable
	}
	if s.state == Unlocked {
		return pad.Tree{}, ErrAlreadyUnlocked
	}
	if !s.limiter.Allow() {
		s.logger.Warn("unlock rejected: rate limit active")
		return pad.Tree{}, ErrRateLimited
	}

	salt, err := s.st.GetOrCreateSalt(ctx, cpcrypto.NewSalt)
	if err != nil {
		return pad.Tree{}, err
	}
	candidateKey := cpcrypto.DeriveMasterKey(password, salt)

	rebuiltTree, padMap, err := s.rebuildCache(ctx, candidateKey)
	if err != nil {
		s.logger.Warn("unlock failed: derived key could not decrypt existing pads")
		return pad.Tree{}, err
	}

	s.masterKey = candidateKey
	s.padMap = padMap
	s.state = Unlocked
	s.limiter = newLockoutLimiter(s.opts)
	s.logger.Info("cipherpad unlocked")
	return rebuiltTree, nil
}

// Lock wipes the master key and decrypted cache and moves Unlocked back to
// Locked. Locking an already-Locked session is a no-op.
func (s *Session) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.masterKey {
		s.masterKey[i] = 0
	}
	s.masterKey = nil
	s.padMap = pad.NewMap()
	if s.state == Unlocked {
		s.state = Locked
	}
	s.logger.Info("cipherpad locked")
}

// GetNodeTree re-reads every node row, refreshes the decrypted pad map
// cache, and returns the reconstructed forest.
func (s *Session) GetNodeTree(ctx context.Context) (pad.Tree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Unlocked {
		return pad.Tree{}, ErrLocked
	}

	t, padMap, err := s.rebuildCache(ctx, s.masterKey)
	if err != nil {
		return pad.Tree{}, err
	}
	s.padMap = padMap
	return t, nil
}

// GetPadMap returns a snapshot of the cached decrypted pad map, without
// re-querying the store.
func (s *Session) GetPadMap() (pad.Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Unlocked {
		return pad.Map{}, ErrLocked
	}
	return s.padMap.Clone(), nil
}

// CreatePad seals metadataJSON/dataJSON under the master key and inserts a
// new node, returning its id.
func (s *Session) CreatePad(ctx context.Context, parentID *uuid.UUID, metadataJSON, dataJSON string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Unlocked {
		return uuid.UUID{}, ErrLocked
	}

	sealedMetadata, err := cpcrypto.Seal([]byte(metadataJSON), s.masterKey)
	if err != nil {
		return uuid.UUID{}, err
	}
	sealedData, err := cpcrypto.Seal([]byte(dataJSON), s.masterKey)
	if err != nil {
		return uuid.UUID{}, err
	}

	id := uuid.New()
	if err := s.st.InsertNode(ctx, id, parentID, sealedMetadata, sealedData); err != nil {
		return uuid.UUID{}, err
	}
	return id, nil
}

// UpdatePad reseals and overwrites an existing pad's parent, metadata, and
// data.
func (s *Session) UpdatePad(ctx context.Context, id uuid.UUID, parentID *uuid.UUID, metadataJSON, dataJSON string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Unlocked {
		return ErrLocked
	}

	sealedMetadata, err := cpcrypto.Seal([]byte(metadataJSON), s.masterKey)
	if err != nil {
		return err
	}
	sealedData, err := cpcrypto.Seal([]byte(dataJSON), s.masterKey)
	if err != nil {
		return err
	}
	return s.st.UpdateNodeFields(ctx, id, parentID, sealedMetadata, sealedData)
}

// DeletePad removes a pad the cache already knows about.
func (s *Session) DeletePad(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Unlocked {
		return ErrLocked
	}
	if _, ok := s.padMap.Pads[id]; !ok {
		return store.ErrNotFound
	}
	return s.st.DeleteNode(ctx, id)
}

// DecryptPad decrypts and returns a pad's pad_data column as text.
func (s *Session) DecryptPad(ctx context.Context, id uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Unlocked {
		return "", ErrLocked
	}
	if _, ok := s.padMap.Pads[id]; !ok {
		return "", store.ErrNotFound
	}

	sealed, err := s.st.GetPadData(ctx, id)
	if err != nil {
		return "", err
	}
	plain, err := cpcrypto.Open(sealed, s.masterKey)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// EncryptFileToPad streams src into the pad's attachment blob, reusing the
// pad's existing decrypted metadata for everything but the blob offset.
func (s *Session) EncryptFileToPad(ctx context.Context, id uuid.UUID, src io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Unlocked {
		return ErrLocked
	}
	metadata, err := s.decryptedMetadataLocked(id)
	if err != nil {
		return err
	}
	return attachment.EncryptFileToPad(ctx, s.st, id, s.masterKey, metadata, src)
}

// DecryptPadToBlob decrypts a pad's attachment into memory.
func (s *Session) DecryptPadToBlob(ctx context.Context, id uuid.UUID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Unlocked {
		return nil, ErrLocked
	}
	metadata, err := s.decryptedMetadataLocked(id)
	if err != nil {
		return nil, err
	}
	return attachment.DecryptPadToBytes(ctx, s.st, id, s.masterKey, metadata)
}

// DecryptPadToFile decrypts a pad's attachment directly to a file on disk.
func (s *Session) DecryptPadToFile(ctx context.Context, id uuid.UUID, destPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Unlocked {
		return ErrLocked
	}
	metadata, err := s.decryptedMetadataLocked(id)
	if err != nil {
		return err
	}

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("cipherpad: create destination file: %w", err)
	}
	defer f.Close()
	return attachment.DecryptPadTo(ctx, s.st, id, s.masterKey, metadata, f)
}

// SweepReport summarizes one read-only consistency pass.
type SweepReport struct {
	OrphanCount             int
	SizeInvariantViolations int
}

// Sweep lists every node and reports, without repairing anything: how many
// rows declare a parent_id that resolves to no surviving node (orphans),
// and how many file pads have a pad_data blob smaller than their declared
// EncryptedDataOffset, or at/over MaxBlobSize — both violations of the
// attachment size invariants. Sweep never mutates the store.
func (s *Session) Sweep(ctx context.Context) (SweepReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Unlocked {
		return SweepReport{}, ErrLocked
	}

	rows, err := s.st.ListNodes(ctx)
	if err != nil {
		return SweepReport{}, err
	}

	treeRows := make([]tree.Row, 0, len(rows))
	for _, row := range rows {
		var parentID *uuid.UUID
		if row.ParentID.Valid {
			id := row.ParentID.UUID
			parentID = &id
		}
		treeRows = append(treeRows, tree.Row{ID: row.ID, ParentID: parentID})
	}
	report := SweepReport{OrphanCount: tree.CountOrphans(treeRows)}

	for _, row := range rows {
		plainMetadata, err := cpcrypto.Open(row.PadMetadata, s.masterKey)
		if err != nil {
			continue
		}
		metadata, err := pad.UnmarshalMetadata(plainMetadata)
		if err != nil || metadata.Type != string(pad.BodyFile) {
			continue
		}
		blobLen, err := s.st.BlobDataLength(ctx, row.ID)
		if err != nil {
			continue
		}
		if blobLen < metadata.EncryptedDataOffset || blobLen >= attachment.MaxBlobSize {
			report.SizeInvariantViolations++
		}
	}

	return report, nil
}

// decryptedMetadataLocked parses the cached metadata string for id. Callers
// must already hold s.mu.
func (s *Session) decryptedMetadataLocked(id uuid.UUID) (pad.Metadata, error) {
	encryptedPad, ok := s.padMap.Pads[id]
	if !ok {
		return pad.Metadata{}, store.ErrNotFound
	}
	return pad.UnmarshalMetadata([]byte(encryptedPad.Metadata))
}

// rebuildCache re-reads every row, decrypts each pad's metadata under key,
// and reconstructs the tree. It does not mutate session state; callers
// decide whether to commit the result.
func (s *Session) rebuildCache(ctx context.Context, key []byte) (pad.Tree, pad.Map, error) {
	rows, err := s.st.ListNodes(ctx)
	if err != nil {
		return pad.Tree{}, pad.Map{}, err
	}

	padMap := pad.NewMap()
	treeRows := make([]tree.Row, 0, len(rows))
	for _, row := range rows {
		plainMetadata, err := cpcrypto.Open(row.PadMetadata, key)
		if err != nil {
			return pad.Tree{}, pad.Map{}, err
		}

		var parentID *uuid.UUID
		if row.ParentID.Valid {
			id := row.ParentID.UUID
			parentID = &id
		}

		padMap.Pads[row.ID] = pad.EncryptedPad{
			ID:       row.ID,
			ParentID: parentID,
			Metadata: string(plainMetadata),
		}
		treeRows = append(treeRows, tree.Row{ID: row.ID, ParentID: parentID})
	}

	return tree.Build(treeRows), padMap, nil
}
