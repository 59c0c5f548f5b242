// Package closure precomputes ancestor and descendant closures for the
// taxon tree and the part forest. Tables are built once per build with a
// single DFS pass; membership checks are interval comparisons, never
// repeated tree walks.
package closure

import (
	"fmt"
	"sort"
)

// Node is one (id, parent) edge of the forest handed to Build. Roots have
// an empty Parent.
type Node struct {
	ID     string
	Parent string
}

// Table is an arena-indexed closure over one forest. Arena positions follow
// a deterministic pre-order (children visited in lexicographic ID order),
// so a node's subtree occupies the contiguous interval [pos, exit).
type Table struct {
	ids     []string
	pos     map[string]int
	exit    []int
	parent  []int
	depth   []int
	lineage [][]string
}

// Build validates the forest and computes its closure table. Duplicate IDs,
// unknown parents, self-parents, and cycles are errors.
func Build(nodes []Node) (*Table, error) {
	n := len(nodes)
	byID := make(map[string]Node, n)
	for _, node := range nodes {
		if node.ID == "" {
			return nil, fmt.Errorf("node with empty id")
		}
		if _, exists := byID[node.ID]; exists {
			return nil, fmt.Errorf("duplicate node id %q", node.ID)
		}
		if node.Parent == node.ID {
			return nil, fmt.Errorf("node %q is its own parent", node.ID)
		}
		byID[node.ID] = node
	}
	children := make(map[string][]string, n)
	var roots []string
	for _, node := range byID {
		if node.Parent == "" {
			roots = append(roots, node.ID)
			continue
		}
		if _, ok := byID[node.Parent]; !ok {
			return nil, fmt.Errorf("node %q references unknown parent %q", node.ID, node.Parent)
		}
		children[node.Parent] = append(children[node.Parent], node.ID)
	}
	sort.Strings(roots)
	for _, kids := range children {
		sort.Strings(kids)
	}

	t := &Table{
		ids:     make([]string, 0, n),
		pos:     make(map[string]int, n),
		exit:    make([]int, n),
		parent:  make([]int, n),
		depth:   make([]int, n),
		lineage: make([][]string, n),
	}

	type frame struct {
		id        string
		parentPos int
	}
	stack := make([]frame, 0, n)
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, frame{id: roots[i], parentPos: -1})
	}
	// Iterative pre-order; exits are fixed up afterwards from subtree sizes.
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		p := len(t.ids)
		t.pos[f.id] = p
		t.ids = append(t.ids, f.id)
		t.parent[p] = f.parentPos
		if f.parentPos >= 0 {
			t.depth[p] = t.depth[f.parentPos] + 1
			chain := t.lineage[f.parentPos]
			line := make([]string, len(chain)+1)
			copy(line, chain)
			line[len(chain)] = f.id
			t.lineage[p] = line
		} else {
			t.lineage[p] = []string{f.id}
		}
		kids := children[f.id]
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, frame{id: kids[i], parentPos: p})
		}
	}
	if len(t.ids) != n {
		for id := range byID {
			if _, visited := t.pos[id]; !visited {
				return nil, fmt.Errorf("cycle detected involving node %q", id)
			}
		}
	}
	for p := n - 1; p >= 0; p-- {
		if t.exit[p] < p+1 {
			t.exit[p] = p + 1
		}
		if pp := t.parent[p]; pp >= 0 && t.exit[p] > t.exit[pp] {
			t.exit[pp] = t.exit[p]
		}
	}
	return t, nil
}

// Len returns the number of nodes in the table.
func (t *Table) Len() int { return len(t.ids) }

// Contains reports whether id is part of the forest.
func (t *Table) Contains(id string) bool {
	_, ok := t.pos[id]
	return ok
}

// IDs returns every node ID in deterministic pre-order.
func (t *Table) IDs() []string {
	out := make([]string, len(t.ids))
	copy(out, t.ids)
	return out
}

// Parent returns the parent of id, if it has one.
func (t *Table) Parent(id string) (string, bool) {
	p, ok := t.pos[id]
	if !ok || t.parent[p] < 0 {
		return "", false
	}
	return t.ids[t.parent[p]], true
}

// Depth returns the distance from id's root, zero for roots and for
// unknown IDs.
func (t *Table) Depth(id string) int {
	p, ok := t.pos[id]
	if !ok {
		return 0
	}
	return t.depth[p]
}

// Lineage returns the ancestor chain of id from its root down to id
// itself. The returned slice is shared; callers must not mutate it.
func (t *Table) Lineage(id string) []string {
	p, ok := t.pos[id]
	if !ok {
		return nil
	}
	return t.lineage[p]
}

// Within reports whether id lies inside the subtree rooted at ancestorID,
// counting the root itself.
func (t *Table) Within(id, ancestorID string) bool {
	p, ok := t.pos[id]
	if !ok {
		return false
	}
	a, ok := t.pos[ancestorID]
	if !ok {
		return false
	}
	return a <= p && p < t.exit[a]
}

// Subtree returns the IDs of the subtree rooted at id in pre-order, id
// first. The returned slice is shared; callers must not mutate it.
func (t *Table) Subtree(id string) []string {
	p, ok := t.pos[id]
	if !ok {
		return nil
	}
	return t.ids[p:t.exit[p]]
}

// IsLeaf reports whether id has no children.
func (t *Table) IsLeaf(id string) bool {
	p, ok := t.pos[id]
	if !ok {
		return false
	}
	return t.exit[p] == p+1
}
