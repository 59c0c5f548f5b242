package identity

import "foodcore/pkg/ontology"

// Index deduplicates canonical nodes by path. Two chains that canonicalize
// to the same path intern to exactly one node. It is not safe for
// concurrent use; the compiler interns from a single goroutine.
type Index struct {
	nodes []ontology.CanonicalNode
	byID  map[string]int
}

// NewIndex returns an empty node index.
func NewIndex() *Index {
	return &Index{byID: make(map[string]int)}
}

// Intern records the node unless its path is already present and returns
// the canonical copy either way.
func (ix *Index) Intern(node ontology.CanonicalNode) ontology.CanonicalNode {
	if at, ok := ix.byID[node.ID]; ok {
		return ix.nodes[at]
	}
	ix.byID[node.ID] = len(ix.nodes)
	ix.nodes = append(ix.nodes, node)
	return node
}

// Get returns the interned node for a canonical path.
func (ix *Index) Get(id string) (ontology.CanonicalNode, bool) {
	at, ok := ix.byID[id]
	if !ok {
		return ontology.CanonicalNode{}, false
	}
	return ix.nodes[at], true
}

// Contains reports whether the canonical path has been interned.
func (ix *Index) Contains(id string) bool {
	_, ok := ix.byID[id]
	return ok
}

// Nodes returns the interned nodes in insertion order. The slice is shared;
// callers must not modify it.
func (ix *Index) Nodes() []ontology.CanonicalNode {
	return ix.nodes
}

// Len returns the number of interned nodes.
func (ix *Index) Len() int {
	return len(ix.nodes)
}
