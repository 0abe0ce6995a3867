// Package hierarchy implements the directed acyclic graph shared by the
// regular role, administrative role and both organizational-unit hierarchies.
// The graph is a point-in-time view over externally persisted edges: nodes
// are stable identifiers and edges are id pairs in adjacency maps, never
// object pointers.
package hierarchy

import (
	"sort"

	"github.com/sentra-iam/sentra/internal/shared"
)

// Kind names one of the four persisted hierarchies.
type Kind string

const (
	KindRole      Kind = "role"
	KindAdminRole Kind = "admin_role"
	KindUserOU    Kind = "user_ou"
	KindPermOU    Kind = "perm_ou"
)

// Edge is a persisted parent→child inheritance pair. The child inherits
// everything the parent is permitted.
type Edge struct {
	Parent string
	Child  string
}

// Graph holds the adjacency maps for one hierarchy plus a closure cache that
// is dropped on every mutation.
type Graph struct {
	children map[string]map[string]struct{} // parent → children
	parents  map[string]map[string]struct{} // child → parents

	ascCache  map[string]map[string]struct{}
	descCache map[string]map[string]struct{}
}

// New builds a graph from a persisted edge snapshot. Edges are assumed to
// have passed the acyclicity check when they were written; a corrupt store
// snapshot is not re-validated here.
func New(edges []Edge) *Graph {
	g := &Graph{
		children: make(map[string]map[string]struct{}),
		parents:  make(map[string]map[string]struct{}),
	}
	for _, e := range edges {
		g.link(e.Parent, e.Child)
	}
	return g
}

// AddEdge inserts parent→child. It fails with HIER_EDGE_EXISTS when the edge
// is already present and with HIER_CYCLE when the child is already an
// ascendant of the parent, which is exactly the case where the new edge
// would close a cycle.
func (g *Graph) AddEdge(parent, child string) error {
	if parent == "" || child == "" {
		return shared.NewError(shared.CodeNullInput, shared.KindValidation, "hierarchy edge requires parent and child")
	}
	if parent == child {
		return shared.Errorf(shared.CodeHierCycle, shared.KindConstraint, "role %q cannot inherit itself", parent)
	}
	if _, ok := g.children[parent][child]; ok {
		return shared.Errorf(shared.CodeHierEdgeExists, shared.KindAlreadyExists, "edge %q->%q already exists", parent, child)
	}
	if g.IsAscendant(child, parent) {
		return shared.Errorf(shared.CodeHierCycle, shared.KindConstraint, "edge %q->%q would create a cycle", parent, child)
	}
	g.link(parent, child)
	g.invalidate()
	return nil
}

// RemoveEdge deletes parent→child, failing with HIER_EDGE_NOT_FOUND when the
// edge does not exist.
func (g *Graph) RemoveEdge(parent, child string) error {
	if _, ok := g.children[parent][child]; !ok {
		return shared.Errorf(shared.CodeHierEdgeNotFound, shared.KindNotFound, "edge %q->%q does not exist", parent, child)
	}
	delete(g.children[parent], child)
	delete(g.parents[child], parent)
	g.invalidate()
	return nil
}

// Ascendants returns every node reachable upward from id, excluding id
// itself. Activating a role authorizes its ascendants' permissions.
func (g *Graph) Ascendants(id string) []string {
	return setToSorted(g.ascendantSet(id))
}

// Descendants returns every node reachable downward from id, excluding id
// itself.
func (g *Graph) Descendants(id string) []string {
	return setToSorted(g.descendantSet(id))
}

// IsAscendant reports whether a is a (strict) ascendant of b.
func (g *Graph) IsAscendant(a, b string) bool {
	_, ok := g.ascendantSet(b)[a]
	return ok
}

// IsDescendant reports whether a is a (strict) descendant of b.
func (g *Graph) IsDescendant(a, b string) bool {
	_, ok := g.descendantSet(b)[a]
	return ok
}

// HasEdges reports whether id participates in any inheritance edge. Role
// deletion is refused while this holds; the hierarchy never cascades.
func (g *Graph) HasEdges(id string) bool {
	return len(g.children[id]) > 0 || len(g.parents[id]) > 0
}

// Closure returns id together with all of its ascendants as a set. This is
// the authorized-role expansion used by access checks.
func (g *Graph) Closure(id string) map[string]struct{} {
	out := make(map[string]struct{}, len(g.ascendantSet(id))+1)
	out[id] = struct{}{}
	for a := range g.ascendantSet(id) {
		out[a] = struct{}{}
	}
	return out
}

// Edges returns the current edge set, sorted for deterministic output.
func (g *Graph) Edges() []Edge {
	var out []Edge
	for parent, kids := range g.children {
		for child := range kids {
			out = append(out, Edge{Parent: parent, Child: child})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Parent != out[j].Parent {
			return out[i].Parent < out[j].Parent
		}
		return out[i].Child < out[j].Child
	})
	return out
}

func (g *Graph) link(parent, child string) {
	if g.children[parent] == nil {
		g.children[parent] = make(map[string]struct{})
	}
	if g.parents[child] == nil {
		g.parents[child] = make(map[string]struct{})
	}
	g.children[parent][child] = struct{}{}
	g.parents[child][parent] = struct{}{}
}

func (g *Graph) invalidate() {
	g.ascCache = nil
	g.descCache = nil
}

func (g *Graph) ascendantSet(id string) map[string]struct{} {
	if cached, ok := g.ascCache[id]; ok {
		return cached
	}
	set := g.walk(id, g.parents)
	if g.ascCache == nil {
		g.ascCache = make(map[string]map[string]struct{})
	}
	g.ascCache[id] = set
	return set
}

func (g *Graph) descendantSet(id string) map[string]struct{} {
	if cached, ok := g.descCache[id]; ok {
		return cached
	}
	set := g.walk(id, g.children)
	if g.descCache == nil {
		g.descCache = make(map[string]map[string]struct{})
	}
	g.descCache[id] = set
	return set
}

// walk runs a breadth-first traversal over the given adjacency map.
func (g *Graph) walk(start string, adj map[string]map[string]struct{}) map[string]struct{} {
	seen := make(map[string]struct{})
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for next := range adj[cur] {
			if _, ok := seen[next]; ok {
				continue
			}
			seen[next] = struct{}{}
			queue = append(queue, next)
		}
	}
	delete(seen, start)
	return seen
}

func setToSorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
