// Package tree reconstructs the node forest from a flat row set using the
// iterative two-stack walk: a pre-order work stack to discover every
// reachable node, then a post-order stack to assemble children bottom-up.
// Recursion depth would otherwise be bounded by tree depth, which an
// adversarial or merely large note hierarchy could grow without limit.
package tree

import (
	"github.com/google/uuid"

	"github.com/cipherpad/engine/src/domain/pad"
)

// Row is the shape tree.Build needs from each store row: just the id and
// its declared parent, if any.
type Row struct {
	ID       uuid.UUID
	ParentID *uuid.UUID
}

// Build reconstructs the forest from rows. Any row whose ParentID is
// non-nil but does not match another row's ID is an orphan: it is reached
// by neither stack and is silently excluded from the result, matching the
// store's no-repair stance — callers that need to know about orphans use
// CountOrphans on the same rows.
func Build(rows []Row) pad.Tree {
	arena := make(map[uuid.UUID]*pad.Node, len(rows))
	parentOf := make(map[uuid.UUID]uuid.UUID, len(rows))
	childrenOf := make(map[uuid.UUID][]uuid.UUID, len(rows))
	roots := make([]uuid.UUID, 0)

	for _, row := range rows {
		n := pad.NewNode(row.ID)
		arena[row.ID] = &n
		if row.ParentID != nil {
			parentOf[row.ID] = *row.ParentID
		} else {
			roots = append(roots, row.ID)
		}
	}
	for child, parent := range parentOf {
		childrenOf[parent] = append(childrenOf[parent], child)
	}

	workStack := make([]uuid.UUID, 0, len(rows))
	postponedStack := make([]uuid.UUID, 0, len(rows))

	for _, rootID := range roots {
		if _, ok := arena[rootID]; ok {
			workStack = append(workStack, rootID)
		}
	}

	for len(workStack) > 0 {
		currentID := workStack[len(workStack)-1]
		workStack = workStack[:len(workStack)-1]

		postponedStack = append(postponedStack, currentID)

		for _, childID := range childrenOf[currentID] {
			if _, ok := arena[childID]; ok {
				workStack = append(workStack, childID)
			}
		}
	}

	for len(postponedStack) > 0 {
		childID := postponedStack[len(postponedStack)-1]
		postponedStack = postponedStack[:len(postponedStack)-1]

		parentID, hasParent := parentOf[childID]
		if !hasParent {
			continue
		}
		parentNode, ok := arena[parentID]
		if !ok {
			continue
		}
		parentNode.Children = append(parentNode.Children, *arena[childID])
	}

	result := pad.Tree{Nodes: make([]pad.Node, 0, len(roots))}
	for _, rootID := range roots {
		if n, ok := arena[rootID]; ok {
			result.Nodes = append(result.Nodes, *n)
		}
	}
	return result
}

// CountOrphans returns how many rows declare a parent_id that does not
// match any row's id. Used by the consistency sweep; never by Build, which
// drops orphans unconditionally instead of counting them.
func CountOrphans(rows []Row) int {
	ids := make(map[uuid.UUID]struct{}, len(rows))
	for _, row := range rows {
		ids[row.ID] = struct{}{}
	}
	orphans := 0
	for _, row := range rows {
		if row.ParentID == nil {
			continue
		}
		if _, ok := ids[*row.ParentID]; !ok {
			orphans++
		}
	}
	return orphans
}
