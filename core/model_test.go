package core

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"

	"github.com/signalsfoundry/connection-matrix/internal/logging"
	"github.com/signalsfoundry/connection-matrix/model"
)

const (
	talkerID   model.EntityID = 0x1
	listenerID model.EntityID = 0x2
)

// plainPair brings one plain talker and one plain listener online.
// Sections on both sides: 0 entity, 1 stream.
func plainPair(t *testing.T, talkerGM, listenerGM model.GrandmasterID) (*Model, *fakeState, *recorder) {
	t.Helper()
	state := newFakeState()
	state.add(plainEntity(talkerID, model.Talker, talkerGM, pcm2))
	state.add(plainEntity(listenerID, model.Listener, listenerGM, pcm2))
	m, rec := newTestModel(state)
	m.EntityOnline(bg, talkerID)
	m.EntityOnline(bg, listenerID)
	if m.TalkerSectionCount() != 2 || m.ListenerSectionCount() != 2 {
		t.Fatalf("sections = %dx%d, want 2x2", m.TalkerSectionCount(), m.ListenerSectionCount())
	}
	return m, state, rec
}

func TestPlainPairNoFlags(t *testing.T) {
	m, _, _ := plainPair(t, gmA, gmA)

	cell := m.Intersection(1, 1)
	if cell.Type != TypeSingleStreamSingleStream {
		t.Fatalf("type = %s, want SingleStream_SingleStream", cell.Type)
	}
	if cell.Capabilities != 0 {
		t.Fatalf("capabilities = %s, want none", cell.Capabilities)
	}
	if got := m.Intersection(0, 0).Type; got != TypeEntityEntity {
		t.Fatalf("entity cell type = %s", got)
	}
}

func TestPlainPairWrongDomain(t *testing.T) {
	m, _, _ := plainPair(t, gmA, gmB)

	cell := m.Intersection(1, 1)
	if !cell.Has(CapWrongDomain) {
		t.Fatalf("capabilities = %s, want WrongDomain", cell.Capabilities)
	}
	if cell.Has(CapConnected) {
		t.Fatalf("capabilities = %s, want not Connected", cell.Capabilities)
	}
}

func TestLinkDownClearsWrongDomain(t *testing.T) {
	m, state, rec := plainPair(t, gmA, gmB)
	rec.reset()

	state.links[linkKey{talkerID, 0}] = model.LinkDown
	m.LinkStatusChanged(bg, talkerID, 0, model.LinkDown)

	cell := m.Intersection(1, 1)
	if !cell.Has(CapInterfaceDown) {
		t.Fatalf("capabilities = %s, want InterfaceDown", cell.Capabilities)
	}
	if cell.Has(CapWrongDomain) {
		t.Fatalf("capabilities = %s, WrongDomain must be cleared while down", cell.Capabilities)
	}
	if got := m.Node(model.Talker, 1).LinkStatus(); got != model.LinkDown {
		t.Fatalf("cached link = %s", got)
	}

	state.links[linkKey{talkerID, 0}] = model.LinkUp
	m.LinkStatusChanged(bg, talkerID, 0, model.LinkUp)
	cell = m.Intersection(1, 1)
	if cell.Has(CapInterfaceDown) || !cell.Has(CapWrongDomain) {
		t.Fatalf("after link up capabilities = %s, want WrongDomain only", cell.Capabilities)
	}
}

func TestGptpChangeUpdatesDomain(t *testing.T) {
	m, _, _ := plainPair(t, gmA, gmB)
	m.GptpChanged(bg, listenerID, 0, gmA, 0)
	if cell := m.Intersection(1, 1); cell.Has(CapWrongDomain) {
		t.Fatalf("capabilities = %s after gm match", cell.Capabilities)
	}
	if got := m.Node(model.Listener, 1).GrandmasterID(); got != gmA {
		t.Fatalf("cached gm = %s", got)
	}
}

func TestFormatChangeUsesFormatFlag(t *testing.T) {
	m, _, _ := plainPair(t, gmA, gmA)
	m.StreamFormatChanged(bg, listenerID, model.Listener, 0, aaf2)
	if cell := m.Intersection(1, 1); !cell.Has(CapWrongFormat) {
		t.Fatalf("capabilities = %s, want WrongFormat", cell.Capabilities)
	}
	m.StreamFormatChanged(bg, listenerID, model.Listener, 0, model.NewStreamFormat(0x10, 8, true))
	if cell := m.Intersection(1, 1); cell.Has(CapWrongFormat) {
		t.Fatalf("capabilities = %s, up-to listener should accept", cell.Capabilities)
	}
}

func TestConnectionChangeNotifiesAffectedCellsInOrder(t *testing.T) {
	m, state, rec := plainPair(t, gmA, gmA)
	rec.reset()

	state.connected[pairKey{sid(talkerID, 0), sid(listenerID, 0)}] = true
	m.StreamConnectionChanged(bg, sid(listenerID, 0))

	if !m.Intersection(1, 1).Has(CapConnected) {
		t.Fatalf("stream cell not connected")
	}
	for _, cell := range [][2]int{{0, 0}, {0, 1}, {1, 0}} {
		if !m.Intersection(cell[0], cell[1]).Has(CapConnected) {
			t.Fatalf("summary cell %v not connected", cell)
		}
	}
	want := [][2]int{{0, 0}, {0, 1}, {1, 0}, {1, 1}}
	if !slices.Equal(rec.cells, want) {
		t.Fatalf("notified cells = %v, want %v", rec.cells, want)
	}

	state.fast[pairKey{sid(talkerID, 0), sid(listenerID, 0)}] = true
	state.connected[pairKey{sid(talkerID, 0), sid(listenerID, 0)}] = false
	m.StreamConnectionChanged(bg, sid(listenerID, 0))
	cell := m.Intersection(1, 1)
	if cell.Has(CapConnected) || !cell.Has(CapFastConnecting) {
		t.Fatalf("capabilities = %s, want FastConnecting only", cell.Capabilities)
	}
	if m.Intersection(0, 0).Has(CapConnected) {
		t.Fatalf("entity summary still connected")
	}
}

func TestSummaryCellsCanBeDisabled(t *testing.T) {
	state := newFakeState()
	state.add(plainEntity(talkerID, model.Talker, gmA, pcm2))
	state.add(plainEntity(listenerID, model.Listener, gmA, pcm2))
	state.connected[pairKey{sid(talkerID, 0), sid(listenerID, 0)}] = true
	m, _ := newTestModel(state, WithSummaryCells(false))
	m.EntityOnline(bg, talkerID)
	m.EntityOnline(bg, listenerID)

	if !m.Intersection(1, 1).Has(CapConnected) {
		t.Fatalf("stream cell not connected")
	}
	if caps := m.Intersection(0, 0).Capabilities; caps != 0 {
		t.Fatalf("inert summary cell has %s", caps)
	}
}

func TestRecomputationIsIdempotent(t *testing.T) {
	state := newFakeState()
	state.add(redundantEntity(talkerID, model.Talker, gmA, gmB, pcm8))
	state.add(redundantEntity(listenerID, model.Listener, gmA, gmC, pcm2))
	state.add(plainEntity(0x3, model.Listener, gmB, aaf2))
	state.connected[pairKey{sid(talkerID, 0), sid(listenerID, 0)}] = true
	state.links[linkKey{0x3, 0}] = model.LinkDown
	m, _ := newTestModel(state)
	for _, id := range []model.EntityID{talkerID, listenerID, 0x3} {
		m.EntityOnline(bg, id)
	}

	capture := func() []Intersection {
		var out []Intersection
		for tr := 0; tr < m.TalkerSectionCount(); tr++ {
			for l := 0; l < m.ListenerSectionCount(); l++ {
				out = append(out, m.Intersection(tr, l))
			}
		}
		return out
	}
	before := capture()
	m.RefreshAll(bg)
	first := capture()
	m.RefreshAll(bg)
	second := capture()
	if !slices.Equal(before, first) || !slices.Equal(first, second) {
		t.Fatalf("recomputation changed records:\n%v\n%v\n%v", before, first, second)
	}
}

func TestUnavailableQueryLeavesRecordUnchanged(t *testing.T) {
	metrics := newCountingMetrics()
	state := newFakeState()
	state.add(plainEntity(talkerID, model.Talker, gmA, pcm2))
	state.add(plainEntity(listenerID, model.Listener, gmA, pcm2))
	m, _ := newTestModel(state, WithMetricsRecorder(metrics))
	m.EntityOnline(bg, talkerID)
	m.EntityOnline(bg, listenerID)

	state.connected[pairKey{sid(talkerID, 0), sid(listenerID, 0)}] = true
	state.failWith = fmt.Errorf("%w: entity went away", ErrUnavailable)
	m.StreamConnectionChanged(bg, sid(listenerID, 0))
	if m.Intersection(1, 1).Has(CapConnected) {
		t.Fatalf("record updated despite unavailable device state")
	}
	if metrics.results[ResultUnavailable] == 0 {
		t.Fatalf("unavailable outcome not recorded: %v", metrics.results)
	}

	state.failWith = errors.New("boom")
	m.StreamConnectionChanged(bg, sid(listenerID, 0))
	if m.Intersection(1, 1).Has(CapConnected) {
		t.Fatalf("record updated despite query error")
	}
	if metrics.results[ResultError] == 0 {
		t.Fatalf("error outcome not recorded: %v", metrics.results)
	}

	state.failWith = nil
	m.StreamConnectionChanged(bg, sid(listenerID, 0))
	if !m.Intersection(1, 1).Has(CapConnected) {
		t.Fatalf("record not updated once state is available")
	}
}

func TestStaleNodeIsTreatedAsUnavailable(t *testing.T) {
	m, _, _ := plainPair(t, gmA, gmA)
	rec := m.Intersection(1, 1)
	rec.Talker = NodeID{slot: 99, gen: 7}
	before := rec
	if got := m.engine.recompute(bg, &rec, DirtyAll); got != ResultUnavailable {
		t.Fatalf("result = %s, want unavailable", got)
	}
	if rec != before {
		t.Fatalf("stale record mutated")
	}
}

func redundantPair(t *testing.T) (*Model, *fakeState) {
	t.Helper()
	state := newFakeState()
	state.add(redundantEntity(talkerID, model.Talker, gmA, gmB, pcm8))
	state.add(redundantEntity(listenerID, model.Listener, gmA, gmB, pcm8))
	m, _ := newTestModel(state)
	m.EntityOnline(bg, talkerID)
	m.EntityOnline(bg, listenerID)
	return m, state
}

func TestRedundantPairFullConnection(t *testing.T) {
	m, state := redundantPair(t)
	if got := m.Intersection(1, 1).Type; got != TypeRedundantRedundant {
		t.Fatalf("type = %s", got)
	}
	for _, leg := range []model.StreamIndex{0, 1} {
		state.connected[pairKey{sid(talkerID, leg), sid(listenerID, leg)}] = true
		m.StreamConnectionChanged(bg, sid(listenerID, leg))
	}
	cell := m.Intersection(1, 1)
	if !cell.Has(CapConnected) || cell.PartiallyConnected() {
		t.Fatalf("capabilities = %s partial=%v, want fully connected", cell.Capabilities, cell.PartiallyConnected())
	}
	if c, n := cell.ConnectedLegs(); c != 2 || n != 2 {
		t.Fatalf("legs = %d/%d", c, n)
	}
	if !m.Intersection(2, 2).Has(CapConnected) || !m.Intersection(3, 3).Has(CapConnected) {
		t.Fatalf("leg cells not connected")
	}
	if m.Intersection(2, 3).Type != TypeNone {
		t.Fatalf("cross-leg cell type = %s", m.Intersection(2, 3).Type)
	}
}

func TestRedundantPairPartialConnection(t *testing.T) {
	m, state := redundantPair(t)
	state.connected[pairKey{sid(talkerID, 0), sid(listenerID, 0)}] = true
	m.StreamConnectionChanged(bg, sid(listenerID, 0))

	cell := m.Intersection(1, 1)
	if cell.Has(CapConnected) {
		t.Fatalf("partial redundancy reported Connected")
	}
	if !cell.PartiallyConnected() {
		t.Fatalf("PartiallyConnected = false")
	}
	// The group-vs-leg and entity summaries still see the live leg.
	if !m.Intersection(1, 2).Has(CapConnected) || !m.Intersection(0, 0).Has(CapConnected) {
		t.Fatalf("summary cells missed the connected leg")
	}
	if m.Intersection(1, 3).Has(CapConnected) {
		t.Fatalf("group vs idle leg reported Connected")
	}
}

func TestRedundantPairAnyLegDown(t *testing.T) {
	m, state := redundantPair(t)
	state.links[linkKey{listenerID, 1}] = model.LinkDown
	m.LinkStatusChanged(bg, listenerID, 1, model.LinkDown)

	if !m.Intersection(1, 1).Has(CapInterfaceDown) {
		t.Fatalf("one down leg should mark the pair down")
	}
	if m.Intersection(2, 2).Has(CapInterfaceDown) {
		t.Fatalf("healthy leg marked down")
	}
	if !m.Intersection(3, 3).Has(CapInterfaceDown) {
		t.Fatalf("down leg not marked")
	}
}

func TestRedundantToSingleDomainMatching(t *testing.T) {
	state := newFakeState()
	state.add(redundantEntity(talkerID, model.Talker, gmA, gmB, pcm8))
	state.add(plainEntity(listenerID, model.Listener, gmB, pcm8))
	m, _ := newTestModel(state)
	m.EntityOnline(bg, talkerID)
	m.EntityOnline(bg, listenerID)

	cell := m.Intersection(1, 1)
	if cell.Type != TypeRedundantSingleStream {
		t.Fatalf("type = %s", cell.Type)
	}
	if cell.Has(CapWrongDomain) || cell.Has(CapWrongFormat) {
		t.Fatalf("capabilities = %s, want domain matched on second leg", cell.Capabilities)
	}
	if !m.Intersection(2, 1).Has(CapWrongDomain) || m.Intersection(3, 1).Has(CapWrongDomain) {
		t.Fatalf("leg cells domain flags wrong")
	}

	// A connection on the non-matching leg still surfaces.
	state.connected[pairKey{sid(talkerID, 0), sid(listenerID, 0)}] = true
	m.StreamConnectionChanged(bg, sid(listenerID, 0))
	if !m.Intersection(1, 1).Has(CapConnected) {
		t.Fatalf("connection on any leg must set Connected")
	}

	m.StreamFormatChanged(bg, listenerID, model.Listener, 0, aaf2)
	if !m.Intersection(1, 1).Has(CapWrongFormat) {
		t.Fatalf("format mismatch on matched leg not reported")
	}

	m.GptpChanged(bg, listenerID, 0, gmC, 0)
	cell = m.Intersection(1, 1)
	if !cell.Has(CapWrongDomain) || cell.Has(CapWrongFormat) {
		t.Fatalf("capabilities = %s, want WrongDomain without format verdict", cell.Capabilities)
	}
}

func TestRemoveTalkerNotifiesItsSections(t *testing.T) {
	state := newFakeState()
	state.add(plainEntity(0x9, model.Talker, gmA, pcm8))
	state.add(redundantEntity(talkerID, model.Talker, gmA, gmB, pcm8))
	state.add(plainEntity(listenerID, model.Listener, gmA, pcm8))
	m, rec := newTestModel(state)
	for _, id := range []model.EntityID{0x9, talkerID, listenerID} {
		m.EntityOnline(bg, id)
	}
	if m.TalkerSectionCount() != 6 {
		t.Fatalf("talker sections = %d, want 6", m.TalkerSectionCount())
	}
	listenerBefore := m.Intersection(1, 1)
	rec.reset()

	m.EntityOffline(bg, talkerID)

	want := []string{"begin_remove talker 2 5", "end_remove talker 2 5"}
	if !slices.Equal(rec.events, want) {
		t.Fatalf("events = %v, want %v", rec.events, want)
	}
	if m.TalkerSectionCount() != 2 || m.ListenerSectionCount() != 2 {
		t.Fatalf("sections = %dx%d, want 2x2", m.TalkerSectionCount(), m.ListenerSectionCount())
	}
	if got := m.Intersection(1, 1); got != listenerBefore {
		t.Fatalf("remaining cell changed: %+v vs %+v", got, listenerBefore)
	}
	if _, ok := m.TalkerSection(talkerID); ok {
		t.Fatalf("removed talker still indexed")
	}
}

func TestInsertNotificationsAndReplace(t *testing.T) {
	state := newFakeState()
	state.add(plainEntity(talkerID, model.Talker, gmA, pcm8))
	m, rec := newTestModel(state)
	m.EntityOnline(bg, talkerID)
	if !slices.Equal(rec.events, []string{"begin_insert talker 0 1", "end_insert talker 0 1"}) {
		t.Fatalf("events = %v", rec.events)
	}

	state.add(redundantEntity(talkerID, model.Talker, gmA, gmB, pcm8))
	rec.reset()
	m.EntityOnline(bg, talkerID)
	want := []string{
		"begin_remove talker 0 1", "end_remove talker 0 1",
		"begin_insert talker 0 3", "end_insert talker 0 3",
	}
	if !slices.Equal(rec.events, want) {
		t.Fatalf("events = %v, want %v", rec.events, want)
	}
}

func TestEntityWithoutStreamsOnSideIsSkipped(t *testing.T) {
	state := newFakeState()
	topo := plainEntity(talkerID, model.Talker, gmA, pcm8)
	topo.ListenerCapable = true // capable but no inputs
	state.add(topo)
	m, _ := newTestModel(state)
	m.EntityOnline(bg, talkerID)
	m.EntityOnline(bg, 0x77) // unknown: ignored
	if m.TalkerSectionCount() != 2 || m.ListenerSectionCount() != 0 {
		t.Fatalf("sections = %dx%d", m.TalkerSectionCount(), m.ListenerSectionCount())
	}
}

func TestHeaderOnlyEvents(t *testing.T) {
	m, _, rec := plainPair(t, gmA, gmA)
	rec.reset()

	m.StreamRunningChanged(bg, talkerID, model.Talker, 0, false)
	m.StreamNameChanged(bg, listenerID, model.Listener, 0, "mic")
	m.StreamMediaLockChanged(bg, listenerID, 0, model.MediaLocked)
	m.EntityNameChanged(bg, talkerID, "stage box")

	want := []string{"header talker 1", "header listener 1", "header listener 1", "header talker 0"}
	if !slices.Equal(rec.events, want) {
		t.Fatalf("events = %v, want %v", rec.events, want)
	}
	if len(rec.cells) != 0 {
		t.Fatalf("header events notified cells %v", rec.cells)
	}
	if h := m.Header(model.Talker, 1); h.Running {
		t.Fatalf("running not updated")
	}
	if h := m.Header(model.Listener, 1); h.Name != "mic" || h.MediaLock != model.MediaLocked {
		t.Fatalf("listener header = %+v", h)
	}
	if h := m.Header(model.Talker, 0); h.Name != "stage box" {
		t.Fatalf("entity name = %q", h.Name)
	}
}

func TestControllerOfflineResets(t *testing.T) {
	m, _, rec := plainPair(t, gmA, gmA)
	rec.reset()
	m.ControllerOffline(bg)
	if !slices.Equal(rec.events, []string{"begin_reset", "end_reset"}) {
		t.Fatalf("events = %v", rec.events)
	}
	if m.TalkerSectionCount() != 0 || m.ListenerSectionCount() != 0 || m.store.rowCount() != 0 {
		t.Fatalf("matrix not empty after reset")
	}
	m.EntityOnline(bg, talkerID)
	if m.TalkerSectionCount() != 2 {
		t.Fatalf("re-add after reset failed")
	}
}

// TestRandomStructuralEdits interleaves arrivals and departures and checks
// the matrix against the section indexes after every edit.
func TestRandomStructuralEdits(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	state := newFakeState()
	ids := []model.EntityID{0x11, 0x12, 0x13, 0x14, 0x15, 0x16}
	gms := []model.GrandmasterID{gmA, gmB}
	for i, id := range ids {
		var topo model.EntityTopology
		if i%2 == 0 {
			topo = redundantEntity(id, model.Talker, gms[i%2], gms[(i+1)%2], pcm8)
		} else {
			topo = plainEntity(id, model.Talker, gms[i%2], pcm8)
		}
		// Every entity is both a talker and a listener.
		topo.ListenerCapable = true
		topo.Inputs = slices.Clone(topo.Outputs)
		topo.RedundantInputs = topo.RedundantOutputs
		state.add(topo)
	}
	m, _ := newTestModel(state)

	for step := 0; step < 200; step++ {
		id := ids[rng.IntN(len(ids))]
		if rng.IntN(3) == 0 {
			m.EntityOffline(bg, id)
		} else {
			m.EntityOnline(bg, id)
		}

		if m.store.rowCount() != m.TalkerSectionCount() {
			t.Fatalf("step %d: rows %d != talker sections %d", step, m.store.rowCount(), m.TalkerSectionCount())
		}
		for r := 0; r < m.store.rowCount(); r++ {
			if len(m.store.rows[r]) != m.ListenerSectionCount() {
				t.Fatalf("step %d: row %d has %d cells, want %d", step, r, len(m.store.rows[r]), m.ListenerSectionCount())
			}
			tn := m.Node(model.Talker, r)
			for c := 0; c < m.ListenerSectionCount(); c++ {
				ln := m.Node(model.Listener, c)
				cell := m.Intersection(r, c)
				if cell.Talker != tn.ID() || cell.Listener != ln.ID() {
					t.Fatalf("step %d: cell (%d,%d) references stale nodes", step, r, c)
				}
				if want := Classify(&tn, &ln); cell.Type != want {
					t.Fatalf("step %d: cell (%d,%d) type %s, want %s", step, r, c, cell.Type, want)
				}
			}
		}
	}
}

func TestSingleToRedundantListenerDomainMatching(t *testing.T) {
	state := newFakeState()
	state.add(plainEntity(talkerID, model.Talker, gmB, pcm8))
	state.add(redundantEntity(listenerID, model.Listener, gmA, gmB, pcm8))
	m, _ := newTestModel(state)
	m.EntityOnline(bg, talkerID)
	m.EntityOnline(bg, listenerID)

	// Listener sections: 0 entity, 1 group, 2 leg on gmA, 3 leg on gmB.
	cell := m.Intersection(1, 1)
	if cell.Type != TypeRedundantSingleStream {
		t.Fatalf("type = %s", cell.Type)
	}
	if cell.Has(CapWrongDomain) || cell.Has(CapWrongFormat) {
		t.Fatalf("capabilities = %s, want domain matched on second leg", cell.Capabilities)
	}
	if got := m.Intersection(1, 2).Type; got != TypeRedundantStreamSingleStream {
		t.Fatalf("leg cell type = %s", got)
	}
	if !m.Intersection(1, 2).Has(CapWrongDomain) || m.Intersection(1, 3).Has(CapWrongDomain) {
		t.Fatalf("leg cells domain flags wrong")
	}

	state.connected[pairKey{sid(talkerID, 0), sid(listenerID, 1)}] = true
	m.StreamConnectionChanged(bg, sid(listenerID, 1))
	if !m.Intersection(1, 1).Has(CapConnected) || !m.Intersection(1, 3).Has(CapConnected) {
		t.Fatalf("connection on the second leg not reported")
	}
	if m.Intersection(1, 2).Has(CapConnected) {
		t.Fatalf("idle leg reported Connected")
	}
	if !m.Intersection(0, 0).Has(CapConnected) {
		t.Fatalf("entity summary missed the connected leg")
	}

	m.StreamFormatChanged(bg, listenerID, model.Listener, 1, aaf2)
	if !m.Intersection(1, 1).Has(CapWrongFormat) {
		t.Fatalf("format mismatch on matched leg not reported")
	}
}

// talkerWithTwoListeners has talker sections 0 entity, 1 stream and
// listener sections 0/1 and 2/3 for two plain listeners.
func talkerWithTwoListeners(t *testing.T) (*Model, *recorder) {
	t.Helper()
	state := newFakeState()
	state.add(plainEntity(talkerID, model.Talker, gmA, pcm2))
	state.add(plainEntity(listenerID, model.Listener, gmA, pcm2))
	state.add(plainEntity(0x3, model.Listener, gmA, pcm2))
	m, rec := newTestModel(state)
	for _, id := range []model.EntityID{talkerID, listenerID, 0x3} {
		m.EntityOnline(bg, id)
	}
	rec.reset()
	return m, rec
}

func wholeTalkerRows() [][2]int {
	var cells [][2]int
	for row := 0; row < 2; row++ {
		for col := 0; col < 4; col++ {
			cells = append(cells, [2]int{row, col})
		}
	}
	return cells
}

func TestTalkerGptpChangeRecomputesWholeRows(t *testing.T) {
	m, rec := talkerWithTwoListeners(t)

	m.GptpChanged(bg, talkerID, 0, gmB, 0)

	if got := m.Node(model.Talker, 1).GrandmasterID(); got != gmB {
		t.Fatalf("cached gm = %s", got)
	}
	for _, col := range []int{1, 3} {
		if !m.Intersection(1, col).Has(CapWrongDomain) {
			t.Fatalf("cell (1,%d) = %s, want WrongDomain", col, m.Intersection(1, col).Capabilities)
		}
	}
	if !slices.Equal(rec.cells, wholeTalkerRows()) {
		t.Fatalf("notified cells = %v, want talker rows 0 and 1 in row-major order", rec.cells)
	}
}

func TestTalkerFormatChangeRecomputesWholeRows(t *testing.T) {
	m, rec := talkerWithTwoListeners(t)

	m.StreamFormatChanged(bg, talkerID, model.Talker, 0, aaf2)

	for _, col := range []int{1, 3} {
		if !m.Intersection(1, col).Has(CapWrongFormat) {
			t.Fatalf("cell (1,%d) = %s, want WrongFormat", col, m.Intersection(1, col).Capabilities)
		}
	}
	if !slices.Equal(rec.cells, wholeTalkerRows()) {
		t.Fatalf("notified cells = %v, want talker rows 0 and 1 in row-major order", rec.cells)
	}
}

func TestPropagationLogsCarryEventAndSection(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(logging.Config{Level: "debug", Format: "json", Output: &buf})
	state := newFakeState()
	state.add(plainEntity(talkerID, model.Talker, gmA, pcm2))
	state.add(plainEntity(listenerID, model.Listener, gmA, pcm2))
	m, _ := newTestModel(state, WithLogger(log))
	m.EntityOnline(bg, talkerID)
	m.EntityOnline(bg, listenerID)
	buf.Reset()

	m.LinkStatusChanged(bg, talkerID, 0, model.LinkDown)

	var line string
	for _, l := range strings.Split(buf.String(), "\n") {
		if strings.Contains(l, "recomputing affected sections") {
			line = l
			break
		}
	}
	if line == "" {
		t.Fatalf("no propagation log in:\n%s", buf.String())
	}
	for _, want := range []string{`"event":"link_status_changed"`, `"talker_section":0`, `"event_id":`} {
		if !strings.Contains(line, want) {
			t.Fatalf("propagation log %s missing %s", line, want)
		}
	}
}

func mustPanicWith(t *testing.T, want error, fn func()) {
	t.Helper()
	defer func() {
		ie, ok := recover().(*InvariantError)
		if !ok {
			t.Fatalf("did not panic with *InvariantError")
		}
		if !errors.Is(ie, want) {
			t.Fatalf("panic = %v, want %v", ie, want)
		}
	}()
	fn()
}

func TestRedundantOrdinalOutOfRangePanics(t *testing.T) {
	h := NewHierarchy(model.Talker)
	topo := redundantEntity(talkerID, model.Talker, gmA, gmB, pcm8)
	root, err := BuildEntity(h, &topo)
	if err != nil {
		t.Fatalf("BuildEntity: %v", err)
	}
	var legs []*Node
	h.Walk(root, func(n *Node) {
		if n.IsRedundantMember() {
			legs = append(legs, n)
		}
	})
	if len(legs) != 2 {
		t.Fatalf("legs = %d, want 2", len(legs))
	}
	e := &engine{talkers: h}
	e.checkMember(h, legs[0])

	legs[0].ordinal = 5
	mustPanicWith(t, ErrOrdinalOutOfRange, func() { e.checkMember(h, legs[0]) })

	legs[0].ordinal = 1
	mustPanicWith(t, ErrOrdinalOutOfRange, func() { e.checkMember(h, legs[0]) })
}

func TestMatrixShapeMismatchPanics(t *testing.T) {
	s := &matrixStore{}
	s.insertRows(0, 2)
	s.insertColumns(0, 3)
	s.checkShape(2, 3)

	mustPanicWith(t, ErrShape, func() { s.checkShape(3, 3) })
	mustPanicWith(t, ErrShape, func() { s.checkShape(2, 4) })

	s.rows[1] = s.rows[1][:2]
	mustPanicWith(t, ErrShape, func() { s.checkShape(2, 3) })
}
