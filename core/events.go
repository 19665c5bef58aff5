package core

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/connection-matrix/internal/logging"
	"github.com/signalsfoundry/connection-matrix/model"
)

// EntityOnline inserts the entity on each side it can take part in. An
// entity already present is removed first so a changed configuration
// replaces every record built from the old one.
func (m *Model) EntityOnline(ctx context.Context, id model.EntityID) {
	ctx, span, done := m.beginEvent(ctx, "entity_online", entityAttr(id))
	defer done()

	topo, err := m.state.Topology(id)
	if err != nil {
		spanError(span, err)
		m.log.Warn(ctx, "entity topology unavailable, ignoring", logging.Entity(id), logging.Err(err))
		return
	}

	m.removeEntity(ctx, m.talkers, id)
	m.removeEntity(ctx, m.listeners, id)

	for _, s := range []*matrixSide{m.talkers, m.listeners} {
		if !topo.HasSide(s.side) {
			continue
		}
		if err := m.addEntity(ctx, s, &topo); err != nil {
			spanError(span, err)
			m.log.Warn(ctx, "entity topology rejected", logging.Entity(id), logging.Side(s.side), logging.Err(err))
		}
	}
}

// EntityOffline removes the entity from both sides.
func (m *Model) EntityOffline(ctx context.Context, id model.EntityID) {
	ctx, _, done := m.beginEvent(ctx, "entity_offline", entityAttr(id))
	defer done()

	m.removeEntity(ctx, m.talkers, id)
	m.removeEntity(ctx, m.listeners, id)
}

// ControllerOffline drops every entity at once.
func (m *Model) ControllerOffline(ctx context.Context) {
	ctx, _, done := m.beginEvent(ctx, "controller_offline")
	defer done()

	m.observers.BeginReset()
	m.talkers.reset()
	m.listeners.reset()
	m.store.reset()
	m.observers.EndReset()
	m.log.Debug(ctx, "matrix reset")
}

// StreamRunningChanged updates a stream's running state. Only its header
// changes.
func (m *Model) StreamRunningChanged(ctx context.Context, id model.EntityID, side model.Side, stream model.StreamIndex, running bool) {
	ctx, _, done := m.beginEvent(ctx, "stream_running_changed", entityAttr(id))
	defer done()

	m.updateStreamHeader(ctx, id, side, stream, func(n *Node) { n.running = running })
}

// StreamNameChanged renames a stream node.
func (m *Model) StreamNameChanged(ctx context.Context, id model.EntityID, side model.Side, stream model.StreamIndex, name string) {
	ctx, _, done := m.beginEvent(ctx, "stream_name_changed", entityAttr(id))
	defer done()

	m.updateStreamHeader(ctx, id, side, stream, func(n *Node) { n.name = name })
}

// StreamMediaLockChanged updates a listener stream's media lock state.
func (m *Model) StreamMediaLockChanged(ctx context.Context, id model.EntityID, stream model.StreamIndex, lock model.MediaLock) {
	ctx, _, done := m.beginEvent(ctx, "media_lock_changed", entityAttr(id))
	defer done()

	m.updateStreamHeader(ctx, id, model.Listener, stream, func(n *Node) { n.mediaLock = lock })
}

func (m *Model) updateStreamHeader(ctx context.Context, id model.EntityID, side model.Side, stream model.StreamIndex, apply func(*Node)) {
	s := m.sideOf(side)
	section, ok := s.sections.stream(id, stream)
	if !ok {
		m.log.Debug(ctx, "stream not in matrix", logging.Entity(id), logging.Side(side), logging.Int("stream_index", int(stream)))
		return
	}
	apply(s.tree.mustNode(s.sections.nodeAt(section)))
	m.observers.HeaderChanged(side, section)
}

// EntityNameChanged renames the entity root on both sides.
func (m *Model) EntityNameChanged(ctx context.Context, id model.EntityID, name string) {
	_, _, done := m.beginEvent(ctx, "entity_name_changed", entityAttr(id))
	defer done()

	for _, s := range []*matrixSide{m.talkers, m.listeners} {
		section, ok := s.sections.entity(id)
		if !ok {
			continue
		}
		s.tree.mustNode(s.sections.nodeAt(section)).name = name
		m.observers.HeaderChanged(s.side, section)
	}
}

// StreamConnectionChanged refreshes the connection state of every cell in
// the listener stream's column and in the columns of its ancestors.
func (m *Model) StreamConnectionChanged(ctx context.Context, listener model.StreamIdentification) {
	ctx, _, done := m.beginEvent(ctx, "stream_connection_changed",
		entityAttr(listener.EntityID),
		attribute.Int("matrix.stream_index", int(listener.StreamIndex)),
	)
	defer done()

	section, ok := m.listeners.sections.stream(listener.EntityID, listener.StreamIndex)
	if !ok {
		m.log.Debug(ctx, "listener stream not in matrix", logging.String("listener", listener.String()))
		return
	}
	a := newAffected()
	m.mark(a, model.Listener, m.listeners.sections.nodeAt(section), true)
	n := m.flush(ctx, a, DirtyConnected)
	m.log.Debug(ctx, "connection change propagated",
		logging.String("listener", listener.String()),
		logging.Int("cells", n),
	)
}

// StreamFormatChanged caches the new format and refreshes format
// compatibility along the stream's row or column.
func (m *Model) StreamFormatChanged(ctx context.Context, id model.EntityID, side model.Side, stream model.StreamIndex, format model.StreamFormat) {
	ctx, _, done := m.beginEvent(ctx, "stream_format_changed", entityAttr(id))
	defer done()

	s := m.sideOf(side)
	section, ok := s.sections.stream(id, stream)
	if !ok {
		return
	}
	node := s.tree.mustNode(s.sections.nodeAt(section))
	node.format = format
	a := newAffected()
	m.mark(a, side, node.id, true)
	m.flush(ctx, a, DirtyFormat)
}

// GptpChanged caches the interface's new grandmaster on every stream bound
// to it, on both sides, and refreshes domain compatibility.
func (m *Model) GptpChanged(ctx context.Context, id model.EntityID, avb model.AvbInterfaceIndex, gm model.GrandmasterID, domain uint8) {
	ctx, _, done := m.beginEvent(ctx, "gptp_changed",
		entityAttr(id),
		attribute.Int("matrix.avb_interface", int(avb)),
	)
	defer done()

	a := m.updateInterface(id, avb, func(n *Node) {
		n.grandmasterID = gm
		n.grandmasterDomain = domain
	})
	n := m.flush(ctx, a, DirtyDomain)
	m.log.Debug(ctx, "gptp change propagated",
		logging.Entity(id),
		logging.String("grandmaster", gm.String()),
		logging.Int("cells", n),
	)
}

// LinkStatusChanged caches the interface's link state and refreshes the
// InterfaceDown and WrongDomain flags of every stream bound to it.
func (m *Model) LinkStatusChanged(ctx context.Context, id model.EntityID, avb model.AvbInterfaceIndex, status model.LinkStatus) {
	ctx, _, done := m.beginEvent(ctx, "link_status_changed",
		entityAttr(id),
		attribute.Int("matrix.avb_interface", int(avb)),
		attribute.String("matrix.link_status", status.String()),
	)
	defer done()

	a := m.updateInterface(id, avb, func(n *Node) { n.linkStatus = status })
	m.flush(ctx, a, DirtyLinkStatus)
}

// updateInterface applies fn to every stream of id bound to avb and marks
// each of them with its ancestors.
func (m *Model) updateInterface(id model.EntityID, avb model.AvbInterfaceIndex, fn func(*Node)) *affected {
	a := newAffected()
	for _, s := range []*matrixSide{m.talkers, m.listeners} {
		section, ok := s.sections.entity(id)
		if !ok {
			continue
		}
		var touched []NodeID
		s.tree.WalkInterface(s.sections.nodeAt(section), avb, func(n *Node) {
			fn(n)
			touched = append(touched, n.id)
		})
		for _, nid := range touched {
			m.mark(a, s.side, nid, true)
		}
	}
	return a
}

// RefreshAll recomputes every cell with all flags dirty and notifies each
// of them. Hosts use it after a device-state reconnect.
func (m *Model) RefreshAll(ctx context.Context) {
	ctx, _, done := m.beginEvent(ctx, "refresh_all")
	defer done()

	a := newAffected()
	a.talkers.AddRange(0, uint64(m.talkers.sections.count()))
	m.flush(ctx, a, DirtyAll)
}
