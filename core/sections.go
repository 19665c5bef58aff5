package core

import (
	"fmt"

	"github.com/signalsfoundry/connection-matrix/model"
)

// StreamKey identifies a stream node by protocol identifiers, which is how
// device-state notifications address streams.
type StreamKey struct {
	Entity model.EntityID
	Stream model.StreamIndex
}

// sectionIndex maps the depth-first flattening of one side to flat matrix
// positions. It is always rebuilt from scratch after a structural edit.
type sectionIndex struct {
	nodes    []NodeID
	byNode   map[NodeID]int
	byStream map[StreamKey]int
	byEntity map[model.EntityID]int
}

func newSectionIndex() *sectionIndex {
	return &sectionIndex{
		byNode:   make(map[NodeID]int),
		byStream: make(map[StreamKey]int),
		byEntity: make(map[model.EntityID]int),
	}
}

// rebuild recomputes every map from the flattening of roots, in order.
func (s *sectionIndex) rebuild(h *Hierarchy, roots []NodeID) {
	s.nodes = s.nodes[:0]
	for _, root := range roots {
		s.nodes = h.Flatten(root, s.nodes)
	}
	clear(s.byNode)
	clear(s.byStream)
	clear(s.byEntity)
	for i, id := range s.nodes {
		s.byNode[id] = i
		n := h.mustNode(id)
		switch n.kind {
		case KindEntity:
			s.byEntity[n.entityID] = i
		case KindStream:
			s.byStream[StreamKey{Entity: n.entityID, Stream: n.streamIndex}] = i
		}
	}
}

func (s *sectionIndex) reset() {
	s.nodes = s.nodes[:0]
	clear(s.byNode)
	clear(s.byStream)
	clear(s.byEntity)
}

func (s *sectionIndex) count() int { return len(s.nodes) }

// IndexOf returns the section of id or ErrSectionNotFound.
func (s *sectionIndex) IndexOf(id NodeID) (int, error) {
	i, ok := s.byNode[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrSectionNotFound, id)
	}
	return i, nil
}

// mustIndexOf is IndexOf for callers that hold a node known to be tracked.
func (s *sectionIndex) mustIndexOf(id NodeID) int {
	i, ok := s.byNode[id]
	if !ok {
		invariant(ErrSectionNotFound, "%s", id)
	}
	return i
}

func (s *sectionIndex) nodeAt(section int) NodeID { return s.nodes[section] }

func (s *sectionIndex) entity(id model.EntityID) (int, bool) {
	i, ok := s.byEntity[id]
	return i, ok
}

func (s *sectionIndex) stream(id model.EntityID, stream model.StreamIndex) (int, bool) {
	i, ok := s.byStream[StreamKey{Entity: id, Stream: stream}]
	return i, ok
}
