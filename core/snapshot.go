package core

import (
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/connection-matrix/model"
)

// Header describes one section for presentation.
type Header struct {
	Section        int
	Kind           NodeKind
	Name           string
	EntityID       model.EntityID
	Depth          int
	RedundantIndex model.RedundantIndex
	StreamIndex    model.StreamIndex
	RedundantLeg   bool
	Running        bool
	MediaLock      model.MediaLock
	Format         model.StreamFormat
	Grandmaster    model.GrandmasterID
	LinkStatus     model.LinkStatus
}

// Cell is one non-None intersection in a snapshot.
type Cell struct {
	Talker             int
	Listener           int
	Type               IntersectionType
	Capabilities       Capabilities
	PartiallyConnected bool
}

// Snapshot is an immutable copy of headers and cells.
type Snapshot struct {
	Transposed bool
	Talkers    []Header
	Listeners  []Header
	Cells      []Cell
}

// Header returns the presentation header of a section.
func (m *Model) Header(side model.Side, section int) Header {
	s := m.sideOf(side)
	id := s.sections.nodeAt(section)
	n := s.tree.mustNode(id)
	h := Header{
		Section:  section,
		Kind:     n.kind,
		Name:     n.name,
		EntityID: n.entityID,
		Depth:    len(s.tree.Ancestors(id)),
	}
	switch n.kind {
	case KindRedundantGroup:
		h.RedundantIndex = n.redundantIndex
	case KindStream:
		h.StreamIndex = n.streamIndex
		h.RedundantLeg = n.redundantMember
		h.Running = n.running
		h.MediaLock = n.mediaLock
		h.Format = n.format
		h.Grandmaster = n.grandmasterID
		h.LinkStatus = n.linkStatus
	}
	return h
}

// Snapshot copies the current matrix.
func (m *Model) Snapshot() Snapshot {
	snap := Snapshot{
		Transposed: m.transposed,
		Talkers:    make([]Header, m.talkers.sections.count()),
		Listeners:  make([]Header, m.listeners.sections.count()),
	}
	for i := range snap.Talkers {
		snap.Talkers[i] = m.Header(model.Talker, i)
	}
	for i := range snap.Listeners {
		snap.Listeners[i] = m.Header(model.Listener, i)
	}
	for t, row := range m.store.rows {
		for l, rec := range row {
			if rec.Type == TypeNone {
				continue
			}
			snap.Cells = append(snap.Cells, Cell{
				Talker:             t,
				Listener:           l,
				Type:               rec.Type,
				Capabilities:       rec.Capabilities,
				PartiallyConnected: rec.PartiallyConnected(),
			})
		}
	}
	return snap
}

// ToStruct renders the snapshot as a protobuf Struct for JSON transport.
func (s Snapshot) ToStruct() (*structpb.Struct, error) {
	cells := make([]any, 0, len(s.Cells))
	for _, c := range s.Cells {
		caps := make([]any, 0, 5)
		for _, name := range c.Capabilities.Names() {
			caps = append(caps, name)
		}
		cell := map[string]any{
			"talker":       c.Talker,
			"listener":     c.Listener,
			"type":         c.Type.String(),
			"capabilities": caps,
		}
		if c.PartiallyConnected {
			cell["partially_connected"] = true
		}
		cells = append(cells, cell)
	}
	return structpb.NewStruct(map[string]any{
		"transposed": s.Transposed,
		"talkers":    headersToAny(s.Talkers),
		"listeners":  headersToAny(s.Listeners),
		"cells":      cells,
	})
}

func headersToAny(headers []Header) []any {
	out := make([]any, 0, len(headers))
	for _, h := range headers {
		v := map[string]any{
			"section":   h.Section,
			"kind":      h.Kind.String(),
			"name":      h.Name,
			"entity_id": h.EntityID.String(),
			"depth":     h.Depth,
		}
		switch h.Kind {
		case KindRedundantGroup:
			v["redundant_index"] = int(h.RedundantIndex)
		case KindStream:
			v["stream_index"] = int(h.StreamIndex)
			v["redundant_leg"] = h.RedundantLeg
			v["running"] = h.Running
			v["format"] = h.Format.String()
			v["grandmaster"] = h.Grandmaster.String()
			v["link_status"] = h.LinkStatus.String()
			if h.MediaLock != model.MediaLockUnknown {
				v["media_lock"] = h.MediaLock.String()
			}
		}
		out = append(out, v)
	}
	return out
}
