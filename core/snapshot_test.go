package core

import (
	"slices"
	"testing"

	"github.com/signalsfoundry/connection-matrix/model"
)

func TestTransposition(t *testing.T) {
	state := newFakeState()
	state.add(redundantEntity(talkerID, model.Talker, gmA, gmB, pcm8))
	state.add(plainEntity(listenerID, model.Listener, gmB, pcm8))
	m, rec := newTestModel(state)
	m.EntityOnline(bg, talkerID)
	m.EntityOnline(bg, listenerID)
	rec.reset()

	if m.RowCount() != 4 || m.ColumnCount() != 2 {
		t.Fatalf("rows x cols = %dx%d, want 4x2", m.RowCount(), m.ColumnCount())
	}
	m.SetTransposed(true)
	m.SetTransposed(true)
	if !slices.Equal(rec.events, []string{"begin_reset", "end_reset"}) {
		t.Fatalf("events = %v", rec.events)
	}
	if m.RowCount() != 2 || m.ColumnCount() != 4 {
		t.Fatalf("transposed rows x cols = %dx%d, want 2x4", m.RowCount(), m.ColumnCount())
	}
	if m.SideOf(Vertical) != model.Listener || m.SideOf(Horizontal) != model.Talker {
		t.Fatalf("SideOf mismatch")
	}
	if got, want := m.CellAt(1, 3), m.Intersection(3, 1); got != want {
		t.Fatalf("CellAt(1,3) = %+v, want %+v", got, want)
	}
	if n := m.NodeAt(1, Horizontal); n.Kind() != KindRedundantGroup {
		t.Fatalf("NodeAt(1, horizontal) kind = %s", n.Kind())
	}
}

func TestSnapshotToStruct(t *testing.T) {
	m, state, _ := plainPair(t, gmA, gmA)
	state.connected[pairKey{sid(talkerID, 0), sid(listenerID, 0)}] = true
	m.StreamConnectionChanged(bg, sid(listenerID, 0))

	snap := m.Snapshot()
	if len(snap.Talkers) != 2 || len(snap.Listeners) != 2 || len(snap.Cells) != 4 {
		t.Fatalf("snapshot sizes %d/%d/%d", len(snap.Talkers), len(snap.Listeners), len(snap.Cells))
	}
	if snap.Talkers[1].Depth != 1 || snap.Talkers[1].Kind != KindStream {
		t.Fatalf("talker stream header = %+v", snap.Talkers[1])
	}

	st, err := snap.ToStruct()
	if err != nil {
		t.Fatalf("ToStruct: %v", err)
	}
	cells := st.Fields["cells"].GetListValue().GetValues()
	if len(cells) != 4 {
		t.Fatalf("struct cells = %d", len(cells))
	}
	last := cells[3].GetStructValue().GetFields()
	if last["type"].GetStringValue() != "SingleStream_SingleStream" {
		t.Fatalf("last cell type = %v", last["type"])
	}
	caps := last["capabilities"].GetListValue().GetValues()
	if len(caps) != 1 || caps[0].GetStringValue() != "Connected" {
		t.Fatalf("capabilities = %v", caps)
	}
	talkers := st.Fields["talkers"].GetListValue().GetValues()
	if id := talkers[0].GetStructValue().GetFields()["entity_id"].GetStringValue(); id != talkerID.String() {
		t.Fatalf("entity_id = %q", id)
	}
}

func TestQueriesBySection(t *testing.T) {
	state := newFakeState()
	state.add(redundantEntity(talkerID, model.Talker, gmA, gmB, pcm8))
	m, _ := newTestModel(state)
	m.EntityOnline(bg, talkerID)

	if s, ok := m.TalkerSection(talkerID); !ok || s != 0 {
		t.Fatalf("TalkerSection = %d, %v", s, ok)
	}
	if s, ok := m.StreamSection(model.Talker, talkerID, 1); !ok || s != 3 {
		t.Fatalf("StreamSection = %d, %v", s, ok)
	}
	if _, ok := m.ListenerSection(talkerID); ok {
		t.Fatalf("talker-only entity has a listener section")
	}
	if n := m.SubtreeSize(model.Talker, 0); n != 3 {
		t.Fatalf("SubtreeSize = %d", n)
	}
	var seen []int
	m.Walk(model.Talker, 1, func(section int, n *Node) { seen = append(seen, section) })
	if !slices.Equal(seen, []int{1, 2, 3}) {
		t.Fatalf("Walk sections = %v", seen)
	}
	if _, err := m.SectionOf(model.Talker, NodeID{slot: 40, gen: 1}); err == nil {
		t.Fatalf("SectionOf unknown node succeeded")
	}
	if got := m.Entities(model.Talker); !slices.Equal(got, []model.EntityID{talkerID}) {
		t.Fatalf("Entities = %v", got)
	}
}
