package tree

import (
	"testing"

	"github.com/google/uuid"
)

func ptr(id uuid.UUID) *uuid.UUID { return &id }

func TestBuildSimpleForest(t *testing.T) {
	root := uuid.New()
	child := uuid.New()
	grandchild := uuid.New()
	otherRoot := uuid.New()

	rows := []Row{
		{ID: root, ParentID: nil},
		{ID: child, ParentID: ptr(root)},
		{ID: grandchild, ParentID: ptr(child)},
		{ID: otherRoot, ParentID: nil},
	}

	result := Build(rows)
	if len(result.Nodes) != 2 {
		t.Fatalf("expected 2 roots, got %d", len(result.Nodes))
	}

	found := false
	for _, n := range result.Nodes {
		if n.ID == root {
			found = true
			if len(n.Children) != 1 || n.Children[0].ID != child {
				t.Fatalf("expected root to have one child %s, got %+v", child, n.Children)
			}
			if len(n.Children[0].Children) != 1 || n.Children[0].Children[0].ID != grandchild {
				t.Fatalf("expected child to have one grandchild, got %+v", n.Children[0].Children)
			}
		}
	}
	if !found {
		t.Fatalf("root node missing from result")
	}
}

func TestBuildDropsOrphansSilently(t *testing.T) {
	root := uuid.New()
	orphan := uuid.New()
	missingParent := uuid.New()

	rows := []Row{
		{ID: root, ParentID: nil},
		{ID: orphan, ParentID: ptr(missingParent)},
	}

	result := Build(rows)
	if len(result.Nodes) != 1 || result.Nodes[0].ID != root {
		t.Fatalf("expected only root in result, got %+v", result.Nodes)
	}
}

func TestCountOrphans(t *testing.T) {
	root := uuid.New()
	missingParent := uuid.New()
	orphanA := uuid.New()
	orphanB := uuid.New()

	rows := []Row{
		{ID: root, ParentID: nil},
		{ID: orphanA, ParentID: ptr(missingParent)},
		{ID: orphanB, ParentID: ptr(missingParent)},
	}

	if got := CountOrphans(rows); got != 2 {
		t.Fatalf("expected 2 orphans, got %d", got)
	}
}

func TestBuildHandlesDeepChains(t *testing.T) {
	const depth = 10000
	rows := make([]Row, 0, depth)
	var parent *uuid.UUID
	var rootID uuid.UUID
	for i := 0; i < depth; i++ {
		id := uuid.New()
		if i == 0 {
			rootID = id
		}
		rows = append(rows, Row{ID: id, ParentID: parent})
		parent = ptr(id)
	}

	result := Build(rows)
	if len(result.Nodes) != 1 || result.Nodes[0].ID != rootID {
		t.Fatalf("expected a single deep root, got %d roots", len(result.Nodes))
	}
}

func TestBuildEmpty(t *testing.T) {
	result := Build(nil)
	if len(result.Nodes) != 0 {
		t.Fatalf("expected no nodes, got %d", len(result.Nodes))
	}
}
