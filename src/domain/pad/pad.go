// Package pad holds the in-memory shapes cipherpad reconstructs from
// decrypted node rows: tree nodes, the decrypted-metadata pad map, and the
// tagged pad-body variant exposed to callers.
package pad

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Node is one vertex of the reconstructed parent/child forest. It carries
// only an id and its children — never pad data — so the tree can be handed
// to a caller without also leaking decrypted contents.
type Node struct {
	ID       uuid.UUID `json:"id"`
	Children []Node    `json:"children"`
}

// NewNode returns a childless node for id.
func NewNode(id uuid.UUID) Node {
	return Node{ID: id, Children: make([]Node, 0)}
}

// Tree is the forest returned by get_node_tree: every node with no
// parent_id becomes a root. Nodes whose declared parent_id does not
// resolve to a surviving node are dropped silently, per the store's
// no-repair stance on orphans.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// EncryptedPad is a single node row with its metadata already decrypted to
// a JSON string; pad_data stays encrypted at rest and is only decrypted on
// demand by the attachment or text-read paths.
type EncryptedPad struct {
	ID       uuid.UUID  `json:"id"`
	ParentID *uuid.UUID `json:"parentId,omitempty"`
	Metadata string     `json:"metadata"`
}

// Map is a read-only snapshot of every node's decrypted metadata, keyed by
// id. Callers receive a copy, never the session's live map, so holding a
// Map cannot observe a concurrent lock/unlock cycle.
type Map struct {
	Pads map[uuid.UUID]EncryptedPad `json:"pads"`
}

// NewMap returns an empty pad map.
func NewMap() Map {
	return Map{Pads: make(map[uuid.UUID]EncryptedPad)}
}

// Clone returns a deep-enough copy of m suitable for handing to a caller:
// mutating the result never touches the session's cache.
func (m Map) Clone() Map {
	out := NewMap()
	for id, p := range m.Pads {
		out.Pads[id] = p
	}
	return out
}

// BodyKind tags which arm of PadBody is populated.
type BodyKind string

const (
	BodyText BodyKind = "text"
	BodyFile BodyKind = "file"
)

// Body is the tagged variant the command surface exposes instead of a
// struct with both fields always present: a pad is either decrypted prose
// or a decrypted file, never both at once.
type Body struct {
	Kind BodyKind `json:"kind"`
	Text string   `json:"text,omitempty"`
	File []byte   `json:"file,omitempty"`
}

// TextBody wraps decrypted pad text as a Body.
func TextBody(text string) Body {
	return Body{Kind: BodyText, Text: text}
}

// FileBody wraps a decrypted attachment blob as a Body.
func FileBody(data []byte) Body {
	return Body{Kind: BodyFile, File: data}
}

// Metadata is the decrypted, structured form of a pad's pad_metadata
// envelope. CreatedAt/LastModifiedAt are kept as raw JSON rather than
// time.Time: the engine never interprets them, it only round-trips
// whatever the caller that created the pad put there.
type Metadata struct {
	Type                string          `json:"type"`
	Name                string          `json:"name"`
	CreatedAt           json.RawMessage `json:"createdAt"`
	LastModifiedAt      json.RawMessage `json:"lastModifiedAt"`
	FileName            string          `json:"fileName"`
	EncryptedDataOffset int             `json:"encryptedDataOffset"`
}

// MarshalMetadata serializes m for sealing into the pad_metadata envelope.
func MarshalMetadata(m Metadata) ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalMetadata parses a decrypted pad_metadata payload.
func UnmarshalMetadata(data []byte) (Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, err
	}
	return m, nil
}
