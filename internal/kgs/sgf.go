package kgs

import "sync"

// SgfProp is one property attached to an SgfNode (e.g. MOVE, PLAYERNAME,
// PLACE, GAMENAME). Color and the value fields are optional; zero values
// mean "absent" except where explicitly noted.
type SgfProp struct {
	Name  string
	Color string // "black"/"white", "" if not colour-specific
	Loc   *Loc
	Text  *string
	Int   *int
	Float *float64
}

// SgfNode is one node of the mirrored SGF tree.
type SgfNode struct {
	ID         int
	ParentNode int // -1 for the root
	Position   int // sibling order among ParentNode's children
	Props      []SgfProp
}

// SgfGame is a live, tree-shaped mirror of one KGS demonstration game. It
// is never authoritative — the referee is — and is mutated only by the
// KgsSession's receive goroutine as sgfEvents arrive.
type SgfGame struct {
	mu         sync.Mutex
	nodes      map[int]*SgfNode
	activeNode int
}

// NewSgfGame returns a game with just its root node (id 0, parent -1).
func NewSgfGame() *SgfGame {
	return &SgfGame{
		nodes: map[int]*SgfNode{
			0: {ID: 0, ParentNode: -1},
		},
		activeNode: 0,
	}
}

// ActiveNode returns the id of the currently active node.
func (g *SgfGame) ActiveNode() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activeNode
}

// Node returns a copy of the node with the given id, or nil if absent.
func (g *SgfGame) Node(id int) *SgfNode {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	cp := *n
	cp.Props = append([]SgfProp(nil), n.Props...)
	return &cp
}

// FirstChild returns the id of id's child with the lowest Position, or -1
// if id has no children. Used to walk "the first-position descendant".
func (g *SgfGame) FirstChild(id int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	best := -1
	bestPos := 0
	for _, n := range g.nodes {
		if n.ParentNode != id {
			continue
		}
		if best == -1 || n.Position < bestPos {
			best = n.ID
			bestPos = n.Position
		}
	}
	return best
}

// applyChildAdded creates a new child node under parentID.
func (g *SgfGame) applyChildAdded(parentID, childID, position int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.nodes[childID]; exists {
		return
	}
	g.nodes[childID] = &SgfNode{ID: childID, ParentNode: parentID, Position: position}
}

// applyChildrenReordered sets each listed child's Position to its index.
func (g *SgfGame) applyChildrenReordered(children []int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, id := range children {
		if n, ok := g.nodes[id]; ok {
			n.Position = i
		}
	}
}

// applyActivated sets the active node.
func (g *SgfGame) applyActivated(nodeID int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.activeNode = nodeID
}

// samePropIdentity reports whether two props should be considered "the
// same slot" for PROP_ADDED/PROP_CHANGED replacement purposes: same name,
// and same colour when the incoming prop specifies one.
func samePropIdentity(existing, incoming SgfProp) bool {
	if existing.Name != incoming.Name {
		return false
	}
	if incoming.Color != "" && existing.Color != incoming.Color {
		return false
	}
	return true
}

// applyPropAdded removes any existing prop with the same name (and colour,
// if given) then appends the new one.
func (g *SgfGame) applyPropAdded(nodeID int, prop SgfProp) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[nodeID]
	if !ok {
		return
	}
	kept := n.Props[:0:0]
	for _, p := range n.Props {
		if !samePropIdentity(p, prop) {
			kept = append(kept, p)
		}
	}
	n.Props = append(kept, prop)
}

// applyPropRemoved removes props matching name (and colour, if given).
func (g *SgfGame) applyPropRemoved(nodeID int, prop SgfProp) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[nodeID]
	if !ok {
		return
	}
	kept := n.Props[:0:0]
	for _, p := range n.Props {
		if !samePropIdentity(p, prop) {
			kept = append(kept, p)
		}
	}
	n.Props = kept
}
