package notes

import "fmt"

// ValidateMove checks whether reparenting noteID under newParentID keeps the
// hierarchy acyclic and within the depth bound. It is called before any
// mutation so a rejected move leaves the collection untouched. An empty
// newParentID moves the note to the root level and always passes the cycle
// checks.
func ValidateMove(collection []Note, noteID, newParentID string, maxDepth int) error {
	if maxDepth <= 0 {
		maxDepth = MaxHierarchyDepth
	}

	byID := make(map[string]Note, len(collection))
	for _, note := range collection {
		byID[note.ID] = note
	}

	moving, exists := byID[noteID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNoteNotFound, noteID)
	}

	if newParentID == "" {
		return nil
	}
	if newParentID == noteID {
		return fmt.Errorf("%w: note %s cannot be its own parent", ErrHierarchy, noteID)
	}
	parent, exists := byID[newParentID]
	if !exists {
		return fmt.Errorf("%w: parent %s does not exist", ErrHierarchy, newParentID)
	}

	// Walk upward from the new parent; finding the moving note means the
	// parent is one of its descendants.
	ancestorID := parent.ID
	hops := 0
	for ancestorID != "" {
		if ancestorID == moving.ID {
			return fmt.Errorf("%w: %s is a descendant of %s", ErrHierarchy, newParentID, noteID)
		}
		ancestor, found := byID[ancestorID]
		if !found {
			break
		}
		ancestorID = ancestor.ParentID
		hops++
		if hops > maxDepth {
			break
		}
	}

	parentDepth := depthOf(byID, parent, maxDepth)
	subtreeHeight := subtreeHeightOf(collection, moving.ID)
	if parentDepth+1+subtreeHeight > maxDepth {
		return fmt.Errorf("%w: move exceeds depth limit %d", ErrHierarchy, maxDepth)
	}

	return nil
}

func depthOf(byID map[string]Note, note Note, maxDepth int) int {
	depth := 0
	current := note
	for current.ParentID != "" && depth <= maxDepth {
		parent, found := byID[current.ParentID]
		if !found {
			break
		}
		current = parent
		depth++
	}
	return depth
}

func subtreeHeightOf(collection []Note, rootID string) int {
	childrenByParent := make(map[string][]string, len(collection))
	for _, note := range collection {
		if note.ParentID != "" {
			childrenByParent[note.ParentID] = append(childrenByParent[note.ParentID], note.ID)
		}
	}

	var height func(id string, remaining int) int
	height = func(id string, remaining int) int {
		if remaining <= 0 {
			return 0
		}
		tallest := 0
		for _, childID := range childrenByParent[id] {
			childHeight := 1 + height(childID, remaining-1)
			if childHeight > tallest {
				tallest = childHeight
			}
		}
		return tallest
	}
	return height(rootID, MaxHierarchyDepth+1)
}
