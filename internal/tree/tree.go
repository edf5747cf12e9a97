// Package tree materializes hierarchical paths from flat file node records.
//
// Project files are stored as flat rows with optional parent pointers; the
// remote repository speaks slash-joined paths. This package goes between the
// two representations without touching storage.
package tree

import (
	"sort"
	"strings"

	"github.com/axiomcode/reposync/internal/project"
)

// Index holds parent-indexed lookups over one project's file nodes.
// Build it once per operation; it is never persisted.
type Index struct {
	byID     map[string]*project.FileNode
	children map[string][]*project.FileNode // parent ID -> children; "" for roots
	nodes    []project.FileNode
}

// rootKey indexes nodes with no parent.
const rootKey = ""

// NewIndex builds an Index from the full unordered node set of a project.
func NewIndex(nodes []project.FileNode) *Index {
	idx := &Index{
		byID:     make(map[string]*project.FileNode, len(nodes)),
		children: make(map[string][]*project.FileNode),
		nodes:    nodes,
	}
	for i := range nodes {
		n := &idx.nodes[i]
		idx.byID[n.ID] = n
		key := rootKey
		if n.ParentID != nil {
			key = *n.ParentID
		}
		idx.children[key] = append(idx.children[key], n)
	}
	return idx
}

// Node returns the node with the given ID, or nil.
func (idx *Index) Node(id string) *project.FileNode {
	return idx.byID[id]
}

// Children returns the direct children of the node with the given ID.
// Pass the empty string for root-level nodes. No ordering guarantee.
func (idx *Index) Children(parentID string) []*project.FileNode {
	return idx.children[parentID]
}

// Path returns the full slash-joined path of the node, walking parent
// references until none remain. A parent reference to a missing node is
// treated as "reached root", so partially deleted chains still resolve.
// A visited set guards against corrupt cyclic chains.
func (idx *Index) Path(id string) string {
	n := idx.byID[id]
	if n == nil {
		return ""
	}

	parts := []string{n.Name}
	visited := map[string]bool{n.ID: true}

	for n.ParentID != nil {
		parent := idx.byID[*n.ParentID]
		if parent == nil || visited[parent.ID] {
			break
		}
		visited[parent.ID] = true
		parts = append(parts, parent.Name)
		n = parent
	}

	// Reverse: collected leaf-first.
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}

// Paths returns the full path index: slash-joined path -> node.
func (idx *Index) Paths() map[string]*project.FileNode {
	paths := make(map[string]*project.FileNode, len(idx.nodes))
	for i := range idx.nodes {
		n := &idx.nodes[i]
		paths[idx.Path(n.ID)] = n
	}
	return paths
}

// Descendants returns the IDs of the node and all its descendants,
// collected breadth-first. Used for transitive folder deletion.
func (idx *Index) Descendants(rootID string) []string {
	ids := make([]string, 0, 1)
	queue := []string{rootID}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ids = append(ids, id)

		for _, child := range idx.children[id] {
			queue = append(queue, child.ID)
		}
	}
	return ids
}

// SortSiblings orders nodes for display: folders before files, then
// alphabetical, case-insensitive.
func SortSiblings(nodes []project.FileNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Kind != nodes[j].Kind {
			return nodes[i].Kind == project.KindFolder
		}
		return strings.ToLower(nodes[i].Name) < strings.ToLower(nodes[j].Name)
	})
}

// Depth returns the number of path segments in a slash-joined path.
func Depth(path string) int {
	if path == "" {
		return 0
	}
	return strings.Count(path, "/") + 1
}

// SplitPath splits a slash-joined path into its parent path and base name.
// The parent path is empty for top-level entries.
func SplitPath(path string) (parent, name string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}
