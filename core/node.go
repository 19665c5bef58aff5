package core

import (
	"fmt"

	"github.com/signalsfoundry/connection-matrix/model"
)

// NodeKind is the closed set of hierarchy node variants.
type NodeKind uint8

const (
	KindEntity NodeKind = iota + 1
	KindRedundantGroup
	KindStream
)

func (k NodeKind) String() string {
	switch k {
	case KindEntity:
		return "entity"
	case KindRedundantGroup:
		return "redundant_group"
	case KindStream:
		return "stream"
	default:
		return "invalid"
	}
}

// NodeID addresses a node slot in a Hierarchy arena. The generation makes
// IDs of released nodes detectably stale instead of silently aliasing a
// reused slot. The zero value is never a valid ID.
type NodeID struct {
	slot uint32
	gen  uint32
}

// Valid reports whether the ID was ever handed out by a Hierarchy.
func (id NodeID) Valid() bool { return id.gen != 0 }

func (id NodeID) String() string {
	if !id.Valid() {
		return "node(nil)"
	}
	return fmt.Sprintf("node(%d@%d)", id.slot, id.gen)
}

// Node is one element of a talker or listener hierarchy. Fields are
// read through accessors; only the orchestrator mutates cached state.
type Node struct {
	id       NodeID
	kind     NodeKind
	side     model.Side
	name     string
	parent   NodeID
	children []NodeID
	ordinal  int

	entityID model.EntityID

	redundantIndex model.RedundantIndex

	streamIndex       model.StreamIndex
	avbInterface      model.AvbInterfaceIndex
	redundantMember   bool
	format            model.StreamFormat
	grandmasterID     model.GrandmasterID
	grandmasterDomain uint8
	linkStatus        model.LinkStatus
	running           bool
	mediaLock         model.MediaLock
}

func (n Node) ID() NodeID                 { return n.id }
func (n Node) Kind() NodeKind             { return n.kind }
func (n Node) Side() model.Side           { return n.side }
func (n Node) Name() string               { return n.name }
func (n Node) Parent() NodeID             { return n.parent }
func (n Node) EntityID() model.EntityID   { return n.entityID }
func (n Node) ChildrenCount() int         { return len(n.children) }
func (n Node) IsStream() bool             { return n.kind == KindStream }
func (n Node) IsRedundantMember() bool    { return n.kind == KindStream && n.redundantMember }
func (n Node) Running() bool              { return n.running }
func (n Node) MediaLock() model.MediaLock { return n.mediaLock }

// Ordinal is the node's position among its parent's children. For
// redundant members it is the pairing key across sides.
func (n Node) Ordinal() int { return n.ordinal }

// ChildAt returns the i-th child.
func (n Node) ChildAt(i int) NodeID { return n.children[i] }

// RedundantIndex is only meaningful for KindRedundantGroup nodes.
func (n Node) RedundantIndex() model.RedundantIndex { return n.redundantIndex }

// Stream attributes, only meaningful for KindStream nodes.
func (n Node) StreamIndex() model.StreamIndex        { return n.streamIndex }
func (n Node) AvbInterface() model.AvbInterfaceIndex { return n.avbInterface }
func (n Node) StreamFormat() model.StreamFormat      { return n.format }
func (n Node) GrandmasterID() model.GrandmasterID    { return n.grandmasterID }
func (n Node) GrandmasterDomain() uint8              { return n.grandmasterDomain }
func (n Node) LinkStatus() model.LinkStatus          { return n.linkStatus }
func (n Node) Identification() model.StreamIdentification {
	return model.StreamIdentification{EntityID: n.entityID, StreamIndex: n.streamIndex}
}

type arenaSlot struct {
	node Node
	live bool
}

// Hierarchy is an arena holding every node of one matrix side. Entity
// nodes are roots; parent/child links are NodeIDs into the same arena.
//
// Pointers returned by Node are only valid until the next allocation.
type Hierarchy struct {
	side  model.Side
	slots []arenaSlot
	free  []uint32
	live  int
}

// NewHierarchy returns an empty arena for one side.
func NewHierarchy(side model.Side) *Hierarchy {
	return &Hierarchy{side: side}
}

// Side returns the side every node of this hierarchy belongs to.
func (h *Hierarchy) Side() model.Side { return h.side }

// Len returns the number of live nodes.
func (h *Hierarchy) Len() int { return h.live }

// Node resolves id, reporting false for stale or foreign IDs.
func (h *Hierarchy) Node(id NodeID) (*Node, bool) {
	if !id.Valid() || int(id.slot) >= len(h.slots) {
		return nil, false
	}
	s := &h.slots[id.slot]
	if !s.live || s.node.id.gen != id.gen {
		return nil, false
	}
	return &s.node, true
}

func (h *Hierarchy) mustNode(id NodeID) *Node {
	n, ok := h.Node(id)
	if !ok {
		invariant(ErrStaleNode, "%s on %s side", id, h.side)
	}
	return n
}

// Parent returns the parent of id, or false for roots.
func (h *Hierarchy) Parent(id NodeID) (NodeID, bool) {
	n := h.mustNode(id)
	return n.parent, n.parent.Valid()
}

func (h *Hierarchy) alloc(n Node) NodeID {
	var slot uint32
	if k := len(h.free); k > 0 {
		slot = h.free[k-1]
		h.free = h.free[:k-1]
	} else {
		slot = uint32(len(h.slots))
		h.slots = append(h.slots, arenaSlot{})
	}
	s := &h.slots[slot]
	gen := s.node.id.gen + 1
	n.id = NodeID{slot: slot, gen: gen}
	n.side = h.side
	s.node = n
	s.live = true
	h.live++
	return n.id
}

// addChild allocates n under parent and returns its ID.
func (h *Hierarchy) addChild(parent NodeID, n Node) NodeID {
	n.parent = parent
	n.ordinal = len(h.mustNode(parent).children)
	id := h.alloc(n)
	p := h.mustNode(parent)
	p.children = append(p.children, id)
	return id
}

// Release frees id and its whole subtree. The IDs become stale.
func (h *Hierarchy) Release(id NodeID) {
	n := h.mustNode(id)
	children := n.children
	for _, child := range children {
		h.Release(child)
	}
	s := &h.slots[id.slot]
	s.live = false
	s.node.children = nil
	h.free = append(h.free, id.slot)
	h.live--
}

// Reset drops every node; all previously issued IDs become stale.
func (h *Hierarchy) Reset() {
	for i := range h.slots {
		if h.slots[i].live {
			h.slots[i].live = false
			h.slots[i].node.children = nil
			h.free = append(h.free, uint32(i))
		}
	}
	h.live = 0
}

// Walk visits id and then its subtree depth-first, children in insertion
// order. This order is the authoritative flattening used for sections.
func (h *Hierarchy) Walk(id NodeID, fn func(*Node)) {
	n := h.mustNode(id)
	fn(n)
	for i := 0; i < len(n.children); i++ {
		h.Walk(n.children[i], fn)
	}
}

// WalkInterface visits only the stream nodes under id that are bound to the
// given AVB interface.
func (h *Hierarchy) WalkInterface(id NodeID, avb model.AvbInterfaceIndex, fn func(*Node)) {
	h.Walk(id, func(n *Node) {
		if n.kind == KindStream && n.avbInterface == avb {
			fn(n)
		}
	})
}

// AbsoluteChildrenCount returns the number of strict descendants of id.
func (h *Hierarchy) AbsoluteChildrenCount(id NodeID) int {
	count := 0
	for _, child := range h.mustNode(id).children {
		count += 1 + h.AbsoluteChildrenCount(child)
	}
	return count
}

// Flatten appends the depth-first flattening of id to dst.
func (h *Hierarchy) Flatten(id NodeID, dst []NodeID) []NodeID {
	h.Walk(id, func(n *Node) {
		dst = append(dst, n.id)
	})
	return dst
}

// Ancestors returns the strict ancestors of id, nearest first.
func (h *Hierarchy) Ancestors(id NodeID) []NodeID {
	var out []NodeID
	for p := h.mustNode(id).parent; p.Valid(); p = h.mustNode(p).parent {
		out = append(out, p)
	}
	return out
}

// Root returns the entity node id belongs to.
func (h *Hierarchy) Root(id NodeID) NodeID {
	for {
		n := h.mustNode(id)
		if !n.parent.Valid() {
			return id
		}
		id = n.parent
	}
}
