// Package commitorder orders entity types so prerequisites commit before dependents.
package commitorder

type visitState uint8

const (
	notVisited visitState = iota
	inProgress
	visited
)

// Edge is a dependency edge: From commits after To.
type Edge[K comparable] struct {
	From K
	To   K
}

// Calculator computes a commit order over registered nodes using a depth-first
// traversal. Nodes are addressed by dense integer handles; adjacency and
// visitation state are handle-indexed slices.
//
// A Calculator is not safe for concurrent use.
type Calculator[K comparable] struct {
	nodes      []K
	handles    map[K]int
	dependents [][]int
	edges      map[[2]int]struct{}

	// working state of the last CommitOrder call
	state  []visitState
	sorted []int
	cycles []Edge[K]
}

// New creates an empty Calculator.
func New[K comparable]() *Calculator[K] {
	return &Calculator[K]{
		handles: make(map[K]int),
		edges:   make(map[[2]int]struct{}),
	}
}

// AddClass registers a node. Registering the same node twice is a no-op.
func (c *Calculator[K]) AddClass(node K) {
	c.handle(node)
}

// HasClass reports whether node is registered.
func (c *Calculator[K]) HasClass(node K) bool {
	_, ok := c.handles[node]
	return ok
}

// AddDependency records that from must be committed after to.
// Unregistered endpoints are registered implicitly.
func (c *Calculator[K]) AddDependency(from, to K) {
	f := c.handle(from)
	t := c.handle(to)
	key := [2]int{f, t}
	if _, ok := c.edges[key]; ok {
		return
	}
	c.edges[key] = struct{}{}
	c.dependents[t] = append(c.dependents[t], f)
}

// HasDependency reports whether from is recorded as committing after to.
func (c *Calculator[K]) HasDependency(from, to K) bool {
	f, ok := c.handles[from]
	if !ok {
		return false
	}
	t, ok := c.handles[to]
	if !ok {
		return false
	}
	_, ok = c.edges[[2]int{f, t}]
	return ok
}

// Len returns the number of registered nodes.
func (c *Calculator[K]) Len() int {
	return len(c.nodes)
}

// CommitOrder returns every registered node ordered so that, for each
// dependency, the prerequisite precedes its dependent.
//
// A dependency that closes a cycle is skipped; cyclic sets still receive a
// deterministic order and the skipped edges are reported by Cycles.
// The registered graph is kept, so repeated calls recompute the same order.
func (c *Calculator[K]) CommitOrder() []K {
	c.cycles = nil
	switch len(c.nodes) {
	case 0:
		return []K{}
	case 1:
		return []K{c.nodes[0]}
	}

	c.state = make([]visitState, len(c.nodes))
	c.sorted = make([]int, 0, len(c.nodes))
	for h := range c.nodes {
		if c.state[h] == notVisited {
			c.visit(h)
		}
	}

	order := make([]K, len(c.sorted))
	for i, h := range c.sorted {
		order[len(c.sorted)-1-i] = c.nodes[h]
	}

	c.state = nil
	c.sorted = nil
	return order
}

// visit walks the dependents of h; a node finishes after everything that
// must commit after it, so the reversed finish list puts prerequisites first.
func (c *Calculator[K]) visit(h int) {
	c.state[h] = inProgress
	for _, d := range c.dependents[h] {
		switch c.state[d] {
		case notVisited:
			c.visit(d)
		case inProgress:
			c.cycles = append(c.cycles, Edge[K]{From: c.nodes[d], To: c.nodes[h]})
		}
	}
	c.state[h] = visited
	c.sorted = append(c.sorted, h)
}

// Cycles returns the dependency edges skipped by the last CommitOrder call
// because they closed a cycle.
func (c *Calculator[K]) Cycles() []Edge[K] {
	return c.cycles
}

// Clear removes all nodes and dependencies.
func (c *Calculator[K]) Clear() {
	c.nodes = nil
	c.handles = make(map[K]int)
	c.dependents = nil
	c.edges = make(map[[2]int]struct{})
	c.state = nil
	c.sorted = nil
	c.cycles = nil
}

func (c *Calculator[K]) handle(node K) int {
	if h, ok := c.handles[node]; ok {
		return h
	}
	h := len(c.nodes)
	c.nodes = append(c.nodes, node)
	c.handles[node] = h
	c.dependents = append(c.dependents, nil)
	return h
}
