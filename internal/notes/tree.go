package notes

import "sort"

// TreeNode is a derived, read-only view of one note in the materialized
// forest. It is rebuilt in full from the flat collection on every structural
// change and never mutated independently.
type TreeNode struct {
	ID       string      `json:"id"`
	Title    string      `json:"title"`
	ParentID string      `json:"parent_id,omitempty"`
	Position int         `json:"position"`
	Archived bool        `json:"archived"`
	Depth    int         `json:"depth"`
	Path     []string    `json:"path,omitempty"`
	Children []*TreeNode `json:"children,omitempty"`
}

// BuildTree materializes the ordered forest from the flat collection in a
// single grouping pass over the notes. Roots are notes without a parent plus
// orphans whose stated parent is absent from the collection; archived notes
// are excluded from traversal but remain in the flat collection. Children are
// ordered ascending by position, with creation time and then identifier
// breaking ties so the ordering is deterministic.
func BuildTree(collection []Note) []*TreeNode {
	present := make(map[string]struct{}, len(collection))
	for _, note := range collection {
		present[note.ID] = struct{}{}
	}

	childrenByParent := make(map[string][]Note, len(collection))
	roots := make([]Note, 0)
	for _, note := range collection {
		if note.Archived {
			continue
		}
		if note.ParentID == "" {
			roots = append(roots, note)
			continue
		}
		if _, parentExists := present[note.ParentID]; !parentExists {
			// Orphaned subtree: adopt as root rather than dropping data.
			roots = append(roots, note)
			continue
		}
		childrenByParent[note.ParentID] = append(childrenByParent[note.ParentID], note)
	}

	sortSiblings(roots)
	forest := make([]*TreeNode, 0, len(roots))
	for _, root := range roots {
		forest = append(forest, buildSubtree(root, childrenByParent, 0, nil))
	}
	return forest
}

func buildSubtree(note Note, childrenByParent map[string][]Note, depth int, ancestors []string) *TreeNode {
	node := &TreeNode{
		ID:       note.ID,
		Title:    note.Title,
		ParentID: note.ParentID,
		Position: note.Position,
		Archived: note.Archived,
		Depth:    depth,
	}
	if len(ancestors) > 0 {
		node.Path = append([]string(nil), ancestors...)
	}

	children := childrenByParent[note.ID]
	if len(children) == 0 {
		return node
	}
	sortSiblings(children)

	childAncestors := append(append([]string(nil), ancestors...), note.ID)
	node.Children = make([]*TreeNode, 0, len(children))
	for _, child := range children {
		node.Children = append(node.Children, buildSubtree(child, childrenByParent, depth+1, childAncestors))
	}
	return node
}

func sortSiblings(siblings []Note) {
	sort.SliceStable(siblings, func(i, j int) bool {
		if siblings[i].Position != siblings[j].Position {
			return siblings[i].Position < siblings[j].Position
		}
		if !siblings[i].CreatedAt.Equal(siblings[j].CreatedAt) {
			return siblings[i].CreatedAt.Before(siblings[j].CreatedAt)
		}
		return siblings[i].ID < siblings[j].ID
	})
}

// FlattenTree walks the forest depth-first and returns every node in display
// order. Useful for callers rendering the hierarchy as a list.
func FlattenTree(forest []*TreeNode) []*TreeNode {
	flattened := make([]*TreeNode, 0)
	var walk func(nodes []*TreeNode)
	walk = func(nodes []*TreeNode) {
		for _, node := range nodes {
			flattened = append(flattened, node)
			walk(node.Children)
		}
	}
	walk(forest)
	return flattened
}
