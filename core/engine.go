package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/connection-matrix/internal/logging"
	"github.com/signalsfoundry/connection-matrix/model"
)

// DeviceState is the read-only view of live device facts the engine
// consults. Query errors wrapping ErrUnavailable are transient.
type DeviceState interface {
	Topology(id model.EntityID) (model.EntityTopology, error)
	IsStreamConnected(talker, listener model.StreamIdentification) (bool, error)
	IsStreamFastConnecting(talker, listener model.StreamIdentification) (bool, error)
	InterfaceLinkStatus(id model.EntityID, avb model.AvbInterfaceIndex) (model.LinkStatus, error)
	IsListenerFormatCompatible(listener, talker model.StreamFormat) bool
}

// Recomputation outcomes, used as metric labels.
const (
	ResultOK          = "ok"
	ResultUnavailable = "unavailable"
	ResultError       = "error"
)

// engine recomputes non-summary cells. It never mutates nodes and only
// commits a record when every query it needed succeeded.
type engine struct {
	talkers   *Hierarchy
	listeners *Hierarchy
	state     DeviceState
	log       logging.Logger
}

// recompute refreshes the flags of rec selected by dirty and returns the
// outcome label. On any query failure rec is left as it was.
func (e *engine) recompute(ctx context.Context, rec *Intersection, dirty DirtyFlags) string {
	next := *rec
	err := e.compute(&next, dirty)
	switch {
	case err == nil:
		*rec = next
		return ResultOK
	case errors.Is(err, ErrUnavailable):
		e.log.Debug(ctx, "intersection recomputation skipped",
			logging.String("type", rec.Type.String()),
			logging.Err(err),
		)
		return ResultUnavailable
	default:
		e.log.Warn(ctx, "intersection recomputation failed",
			logging.String("type", rec.Type.String()),
			logging.String("dirty", dirty.String()),
			logging.Err(err),
		)
		return ResultError
	}
}

func (e *engine) compute(rec *Intersection, dirty DirtyFlags) error {
	if rec.Type == TypeNone || rec.Type.IsSummary() {
		return nil
	}
	talker, ok := e.talkers.Node(rec.Talker)
	if !ok {
		return fmt.Errorf("%w: %w: talker %s", ErrUnavailable, ErrStaleNode, rec.Talker)
	}
	listener, ok := e.listeners.Node(rec.Listener)
	if !ok {
		return fmt.Errorf("%w: %w: listener %s", ErrUnavailable, ErrStaleNode, rec.Listener)
	}

	switch rec.Type {
	case TypeRedundantRedundant:
		return e.redundantPair(rec, talker, listener, dirty)
	case TypeRedundantSingleStream:
		return e.redundantSingle(rec, talker, listener)
	case TypeRedundantStreamRedundantStream, TypeRedundantStreamSingleStream, TypeSingleStreamSingleStream:
		e.checkMember(e.talkers, talker)
		e.checkMember(e.listeners, listener)
		return e.streamPair(rec, talker, listener, dirty)
	}
	invariant(ErrUnclassifiable, "no capability rule for %s", rec.Type)
	return nil
}

// checkMember asserts that a redundant member sits at its ordinal within
// its group, which is what cross-side leg pairing relies on.
func (e *engine) checkMember(h *Hierarchy, n *Node) {
	if !n.IsRedundantMember() {
		return
	}
	group := h.mustNode(n.parent)
	if n.ordinal >= group.ChildrenCount() || group.ChildAt(n.ordinal) != n.id {
		invariant(ErrOrdinalOutOfRange, "%s stream %d ordinal %d in group of %d",
			n.entityID, n.streamIndex, n.ordinal, group.ChildrenCount())
	}
}

func (e *engine) streamPair(rec *Intersection, talker, listener *Node, dirty DirtyFlags) error {
	caps := rec.Capabilities

	if dirty.Has(DirtyLinkStatus | DirtyDomain) {
		down, err := e.linkDown(talker, listener)
		if err != nil {
			return err
		}
		caps.assign(CapInterfaceDown, down)
		caps.assign(CapWrongDomain, !down && talker.grandmasterID != listener.grandmasterID)
	}

	if dirty.Has(DirtyConnected) {
		t, l := talker.Identification(), listener.Identification()
		connected, err := e.state.IsStreamConnected(t, l)
		if err != nil {
			return err
		}
		fast, err := e.state.IsStreamFastConnecting(t, l)
		if err != nil {
			return err
		}
		caps.assign(CapConnected, connected)
		caps.assign(CapFastConnecting, fast)
	}

	if dirty.Has(DirtyFormat) {
		caps.assign(CapWrongFormat, !e.state.IsListenerFormatCompatible(listener.format, talker.format))
	}

	rec.Capabilities = caps
	return nil
}

func (e *engine) linkDown(talker, listener *Node) (bool, error) {
	ts, err := e.state.InterfaceLinkStatus(talker.entityID, talker.avbInterface)
	if err != nil {
		return false, err
	}
	ls, err := e.state.InterfaceLinkStatus(listener.entityID, listener.avbInterface)
	if err != nil {
		return false, err
	}
	return ts == model.LinkDown || ls == model.LinkDown, nil
}

// redundantPair pairs the two groups' members by ordinal. Connected needs
// every leg connected; any leg with a down link marks the pair down.
func (e *engine) redundantPair(rec *Intersection, talker, listener *Node, dirty DirtyFlags) error {
	legs := min(talker.ChildrenCount(), listener.ChildrenCount())
	caps := rec.Capabilities
	connectedLegs := rec.connectedLegs

	if dirty.Has(DirtyLinkStatus | DirtyDomain) {
		anyDown := false
		for i := 0; i < legs; i++ {
			down, err := e.linkDown(e.talkers.mustNode(talker.ChildAt(i)), e.listeners.mustNode(listener.ChildAt(i)))
			if err != nil {
				return err
			}
			anyDown = anyDown || down
		}
		caps.assign(CapInterfaceDown, anyDown)
	}

	if dirty.Has(DirtyConnected) {
		connectedLegs = 0
		for i := 0; i < legs; i++ {
			t := e.talkers.mustNode(talker.ChildAt(i)).Identification()
			l := e.listeners.mustNode(listener.ChildAt(i)).Identification()
			connected, err := e.state.IsStreamConnected(t, l)
			if err != nil {
				return err
			}
			if connected {
				connectedLegs++
			}
		}
		caps.assign(CapConnected, legs > 0 && connectedLegs == legs)
	}

	rec.Capabilities = caps
	rec.legs = legs
	rec.connectedLegs = connectedLegs
	return nil
}

// redundantSingle matches the single stream against the group member on
// the same gPTP grandmaster. Any flag change recomputes the whole cell.
func (e *engine) redundantSingle(rec *Intersection, talker, listener *Node) error {
	group, single := talker, listener
	groupSide := e.talkers
	if listener.kind == KindRedundantGroup {
		group, single = listener, talker
		groupSide = e.listeners
	}

	pair := func(member *Node) (t, l *Node) {
		if group == talker {
			return member, single
		}
		return single, member
	}

	var matched *Node
	if single.grandmasterID.Known() {
		for i := 0; i < group.ChildrenCount(); i++ {
			m := groupSide.mustNode(group.ChildAt(i))
			if m.grandmasterID == single.grandmasterID {
				matched = m
				break
			}
		}
	}

	connected, fast := false, false
	for i := 0; i < group.ChildrenCount(); i++ {
		t, l := pair(groupSide.mustNode(group.ChildAt(i)))
		tid, lid := t.Identification(), l.Identification()
		c, err := e.state.IsStreamConnected(tid, lid)
		if err != nil {
			return err
		}
		f, err := e.state.IsStreamFastConnecting(tid, lid)
		if err != nil {
			return err
		}
		connected = connected || c
		fast = fast || f
	}

	caps := rec.Capabilities
	caps.assign(CapConnected, connected)
	caps.assign(CapFastConnecting, fast)
	caps.assign(CapWrongDomain, matched == nil)
	wrongFormat := false
	if matched != nil {
		t, l := pair(matched)
		wrongFormat = !e.state.IsListenerFormatCompatible(l.format, t.format)
	}
	caps.assign(CapWrongFormat, wrongFormat)
	rec.Capabilities = caps
	return nil
}
