package core

import (
	"regexp"
	"slices"

	"github.com/signalsfoundry/connection-matrix/model"
)

// SectionState is the presentation state of one header section.
type SectionState struct {
	Expanded bool
	Visible  bool
}

// SectionStates keeps per-section expand/visibility state in lockstep with
// a Model's structural notifications. Redundant groups start collapsed, so
// their member streams start hidden. Register it with Model.AddObserver.
type SectionStates struct {
	NopObserver

	m      *Model
	states [2][]SectionState
	filter *regexp.Regexp
	// expanded across a reset, keyed by node; nil outside a reset.
	saved map[NodeID]bool
}

// NewSectionStates returns section states synchronized with m and
// registered as one of its observers.
func NewSectionStates(m *Model) *SectionStates {
	s := &SectionStates{m: m}
	s.resync()
	m.AddObserver(s)
	return s
}

func (s *SectionStates) side(side model.Side) *[]SectionState {
	return &s.states[side]
}

func (s *SectionStates) resync() {
	for _, side := range []model.Side{model.Talker, model.Listener} {
		st := s.side(side)
		*st = (*st)[:0]
		n := s.m.sideOf(side).sections.count()
		s.insertDefaults(side, 0, n)
	}
}

func (s *SectionStates) insertDefaults(side model.Side, first, count int) {
	st := s.side(side)
	added := make([]SectionState, count)
	*st = slices.Insert(*st, first, added...)
	for i := first; i < first+count; i++ {
		n := s.m.Node(side, i)
		(*st)[i].Expanded = n.Kind() != KindRedundantGroup
	}
	for i := first; i < first+count; i++ {
		if s.m.Node(side, i).Kind() == KindEntity {
			s.refreshEntity(side, i)
		}
	}
}

// refreshEntity recomputes visibility below the entity at section: a node
// is visible when the entity passes the filter and every ancestor is
// expanded.
func (s *SectionStates) refreshEntity(side model.Side, section int) {
	st := *s.side(side)
	shown := s.filter == nil || s.filter.MatchString(s.m.Node(side, section).Name())
	s.m.Walk(side, section, func(sec int, n *Node) {
		visible := shown
		if p := n.Parent(); p.Valid() {
			ps, err := s.m.SectionOf(side, p)
			if err != nil {
				invariant(ErrSectionNotFound, "parent of section %d", sec)
			}
			visible = st[ps].Visible && st[ps].Expanded
		}
		st[sec].Visible = visible
	})
}

func (s *SectionStates) refreshAll(side model.Side) {
	for _, id := range s.m.Entities(side) {
		if sec, ok := s.m.sideOf(side).sections.entity(id); ok {
			s.refreshEntity(side, sec)
		}
	}
}

// EndInsert adds default state for the inserted sections.
func (s *SectionStates) EndInsert(side model.Side, first, last int) {
	s.insertDefaults(side, first, last-first+1)
}

// BeginRemove drops the state of the removed sections.
func (s *SectionStates) BeginRemove(side model.Side, first, last int) {
	st := s.side(side)
	*st = slices.Delete(*st, first, last+1)
}

// BeginReset remembers which entities and groups are expanded so that a
// reset that keeps nodes, such as a transposition, keeps their state.
func (s *SectionStates) BeginReset() {
	s.saved = make(map[NodeID]bool)
	for _, side := range []model.Side{model.Talker, model.Listener} {
		for i, st := range *s.side(side) {
			if n := s.m.Node(side, i); n.Kind() != KindStream {
				s.saved[n.ID()] = st.Expanded
			}
		}
	}
}

// EndReset rebuilds every state from the model, then restores the expanded
// state of nodes that survived the reset.
func (s *SectionStates) EndReset() {
	saved := s.saved
	s.saved = nil
	s.resync()
	if len(saved) == 0 {
		return
	}
	for _, side := range []model.Side{model.Talker, model.Listener} {
		st := *s.side(side)
		for i := range st {
			if expanded, ok := saved[s.m.Node(side, i).ID()]; ok {
				st[i].Expanded = expanded
			}
		}
		s.refreshAll(side)
	}
}

// HeaderChanged reapplies the filter when an entity is renamed.
func (s *SectionStates) HeaderChanged(side model.Side, section int) {
	if s.filter != nil && s.m.Node(side, section).Kind() == KindEntity {
		s.refreshEntity(side, section)
	}
}

// State returns the state of one section.
func (s *SectionStates) State(side model.Side, section int) SectionState {
	return (*s.side(side))[section]
}

// Visible reports whether a section is currently shown.
func (s *SectionStates) Visible(side model.Side, section int) bool {
	return s.State(side, section).Visible
}

// Toggle flips the expanded state of an entity or redundant group section.
// Stream sections have nothing to expand and are ignored.
func (s *SectionStates) Toggle(side model.Side, section int) {
	n := s.m.Node(side, section)
	if n.Kind() == KindStream {
		return
	}
	st := *s.side(side)
	st[section].Expanded = !st[section].Expanded
	root, err := s.m.SectionOf(side, s.m.Hierarchy(side).Root(n.ID()))
	if err != nil {
		invariant(ErrSectionNotFound, "entity of section %d", section)
	}
	s.refreshEntity(side, root)
}

// ExpandAll expands every entity and group on side.
func (s *SectionStates) ExpandAll(side model.Side) { s.setAll(side, true) }

// CollapseAll collapses every entity and group on side.
func (s *SectionStates) CollapseAll(side model.Side) { s.setAll(side, false) }

func (s *SectionStates) setAll(side model.Side, expanded bool) {
	st := *s.side(side)
	for i := range st {
		if s.m.Node(side, i).Kind() != KindStream {
			st[i].Expanded = expanded
		}
	}
	s.refreshAll(side)
}

// SetFilter hides, on both sides, every entity whose name does not match
// re together with its subtree. A nil re shows everything again.
func (s *SectionStates) SetFilter(re *regexp.Regexp) {
	s.filter = re
	s.refreshAll(model.Talker)
	s.refreshAll(model.Listener)
}
