package core

import (
	"context"
	"fmt"
	"time"

	"github.com/signalsfoundry/connection-matrix/model"
)

var (
	pcm8  = model.NewStreamFormat(0x10, 8, false)
	pcm2  = model.NewStreamFormat(0x10, 2, false)
	aaf2  = model.NewStreamFormat(0x22, 2, false)
	gmA   = model.GrandmasterID(0xA)
	gmB   = model.GrandmasterID(0xB)
	gmC   = model.GrandmasterID(0xC)
	upAll = model.LinkUp
)

type linkKey struct {
	id  model.EntityID
	avb model.AvbInterfaceIndex
}

type pairKey struct {
	talker, listener model.StreamIdentification
}

// fakeState is a DeviceState whose answers tests set directly.
type fakeState struct {
	topos     map[model.EntityID]model.EntityTopology
	links     map[linkKey]model.LinkStatus
	connected map[pairKey]bool
	fast      map[pairKey]bool
	failWith  error
}

func newFakeState() *fakeState {
	return &fakeState{
		topos:     make(map[model.EntityID]model.EntityTopology),
		links:     make(map[linkKey]model.LinkStatus),
		connected: make(map[pairKey]bool),
		fast:      make(map[pairKey]bool),
	}
}

func (f *fakeState) add(topo model.EntityTopology) { f.topos[topo.ID] = topo }

func (f *fakeState) Topology(id model.EntityID) (model.EntityTopology, error) {
	topo, ok := f.topos[id]
	if !ok {
		return model.EntityTopology{}, fmt.Errorf("%w: %s", ErrUnavailable, id)
	}
	return topo.Clone(), nil
}

func (f *fakeState) IsStreamConnected(t, l model.StreamIdentification) (bool, error) {
	if f.failWith != nil {
		return false, f.failWith
	}
	return f.connected[pairKey{t, l}], nil
}

func (f *fakeState) IsStreamFastConnecting(t, l model.StreamIdentification) (bool, error) {
	if f.failWith != nil {
		return false, f.failWith
	}
	return f.fast[pairKey{t, l}], nil
}

func (f *fakeState) InterfaceLinkStatus(id model.EntityID, avb model.AvbInterfaceIndex) (model.LinkStatus, error) {
	if f.failWith != nil {
		return model.LinkUnknown, f.failWith
	}
	if s, ok := f.links[linkKey{id, avb}]; ok {
		return s, nil
	}
	return upAll, nil
}

func (f *fakeState) IsListenerFormatCompatible(listener, talker model.StreamFormat) bool {
	return model.IsListenerFormatCompatibleWithTalkerFormat(listener, talker)
}

func sid(id model.EntityID, idx model.StreamIndex) model.StreamIdentification {
	return model.StreamIdentification{EntityID: id, StreamIndex: idx}
}

// plainEntity has one stream on side, bound to interface 0.
func plainEntity(id model.EntityID, side model.Side, gm model.GrandmasterID, format model.StreamFormat) model.EntityTopology {
	topo := model.EntityTopology{
		ID:         id,
		Name:       fmt.Sprintf("entity-%d", id),
		Interfaces: []model.AvbInterface{{Index: 0, GrandmasterID: gm, LinkStatus: model.LinkUp}},
	}
	streams := []model.StreamDescriptor{{Index: 0, Name: "s0", Format: format, Running: true}}
	if side == model.Talker {
		topo.TalkerCapable = true
		topo.Outputs = streams
	} else {
		topo.ListenerCapable = true
		topo.Inputs = streams
	}
	return topo
}

// redundantEntity has one redundant pair on side: stream 0 on interface 0
// (gm0) and stream 1 on interface 1 (gm1).
func redundantEntity(id model.EntityID, side model.Side, gm0, gm1 model.GrandmasterID, format model.StreamFormat) model.EntityTopology {
	topo := model.EntityTopology{
		ID:   id,
		Name: fmt.Sprintf("entity-%d", id),
		Interfaces: []model.AvbInterface{
			{Index: 0, GrandmasterID: gm0, LinkStatus: model.LinkUp},
			{Index: 1, GrandmasterID: gm1, LinkStatus: model.LinkUp},
		},
	}
	streams := []model.StreamDescriptor{
		{Index: 0, Name: "primary", AvbInterface: 0, Format: format},
		{Index: 1, Name: "secondary", AvbInterface: 1, Format: format},
	}
	groups := []model.RedundantGroup{{Index: 0, Name: "pair", Streams: []model.StreamIndex{0, 1}}}
	if side == model.Talker {
		topo.TalkerCapable = true
		topo.Outputs = streams
		topo.RedundantOutputs = groups
	} else {
		topo.ListenerCapable = true
		topo.Inputs = streams
		topo.RedundantInputs = groups
	}
	return topo
}

// recorder captures observer notifications as strings.
type recorder struct {
	events []string
	cells  [][2]int
}

func (r *recorder) add(format string, args ...any) {
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) BeginInsert(side model.Side, first, last int) {
	r.add("begin_insert %s %d %d", side, first, last)
}
func (r *recorder) EndInsert(side model.Side, first, last int) {
	r.add("end_insert %s %d %d", side, first, last)
}
func (r *recorder) BeginRemove(side model.Side, first, last int) {
	r.add("begin_remove %s %d %d", side, first, last)
}
func (r *recorder) EndRemove(side model.Side, first, last int) {
	r.add("end_remove %s %d %d", side, first, last)
}
func (r *recorder) BeginReset() { r.add("begin_reset") }
func (r *recorder) EndReset()   { r.add("end_reset") }
func (r *recorder) CellChanged(t, l int) {
	r.cells = append(r.cells, [2]int{t, l})
}
func (r *recorder) HeaderChanged(side model.Side, section int) {
	r.add("header %s %d", side, section)
}

func (r *recorder) reset() {
	r.events = nil
	r.cells = nil
}

// countingMetrics records recomputation outcomes.
type countingMetrics struct {
	results       map[string]int
	notifications int
	events        map[string]int
	talkers       int
	listeners     int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{results: make(map[string]int), events: make(map[string]int)}
}

func (c *countingMetrics) SetSectionCounts(t, l int)                 { c.talkers, c.listeners = t, l }
func (c *countingMetrics) SetEntityCounts(int, int)                  {}
func (c *countingMetrics) ObserveEvent(kind string, _ time.Duration) { c.events[kind]++ }
func (c *countingMetrics) IncRecomputation(result string)            { c.results[result]++ }
func (c *countingMetrics) AddCellNotifications(n int)                { c.notifications += n }

// newTestModel returns a model over state with every topology online.
func newTestModel(state *fakeState, opts ...ModelOption) (*Model, *recorder) {
	rec := &recorder{}
	m := NewModel(state, append([]ModelOption{WithObserver(rec)}, opts...)...)
	return m, rec
}

var bg = context.Background()
