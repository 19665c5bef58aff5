package core

import (
	"regexp"
	"testing"

	"github.com/signalsfoundry/connection-matrix/model"
)

func TestSectionStatesDefaults(t *testing.T) {
	state := newFakeState()
	state.add(redundantEntity(talkerID, model.Talker, gmA, gmB, pcm8))
	m, _ := newTestModel(state)
	states := NewSectionStates(m)
	m.EntityOnline(bg, talkerID)

	// 0 entity, 1 group, 2 leg0, 3 leg1.
	want := []SectionState{
		{Expanded: true, Visible: true},
		{Expanded: false, Visible: true},
		{Expanded: true, Visible: false},
		{Expanded: true, Visible: false},
	}
	for i, w := range want {
		if got := states.State(model.Talker, i); got != w {
			t.Fatalf("section %d = %+v, want %+v", i, got, w)
		}
	}

	states.Toggle(model.Talker, 1)
	if !states.Visible(model.Talker, 2) || !states.Visible(model.Talker, 3) {
		t.Fatalf("legs hidden after expanding group")
	}
	states.Toggle(model.Talker, 0)
	for i := 1; i < 4; i++ {
		if states.Visible(model.Talker, i) {
			t.Fatalf("section %d visible under collapsed entity", i)
		}
	}
	states.ExpandAll(model.Talker)
	for i := 0; i < 4; i++ {
		if !states.Visible(model.Talker, i) {
			t.Fatalf("section %d hidden after ExpandAll", i)
		}
	}
	states.CollapseAll(model.Talker)
	if !states.Visible(model.Talker, 0) || states.Visible(model.Talker, 1) {
		t.Fatalf("CollapseAll should leave only the entity visible")
	}
}

func TestSectionStatesFollowStructure(t *testing.T) {
	state := newFakeState()
	state.add(plainEntity(0x7, model.Talker, gmA, pcm8))
	state.add(redundantEntity(talkerID, model.Talker, gmA, gmB, pcm8))
	m, _ := newTestModel(state)
	m.EntityOnline(bg, 0x7)
	states := NewSectionStates(m)
	m.EntityOnline(bg, talkerID)

	states.Toggle(model.Talker, 3) // expand the group of the second entity
	m.EntityOffline(bg, 0x7)

	// The redundant entity moved to sections 0..3 and kept its state.
	if !states.State(model.Talker, 1).Expanded {
		t.Fatalf("group state lost after removing preceding entity")
	}
	if !states.Visible(model.Talker, 3) {
		t.Fatalf("leg hidden after shift")
	}

	m.ControllerOffline(bg)
	if len(states.states[model.Talker]) != 0 {
		t.Fatalf("states not cleared on reset")
	}
}

func TestSectionStatesFilter(t *testing.T) {
	state := newFakeState()
	a := plainEntity(0x7, model.Talker, gmA, pcm8)
	a.Name = "stage-left"
	b := plainEntity(0x8, model.Talker, gmA, pcm8)
	b.Name = "foh"
	state.add(a)
	state.add(b)
	m, _ := newTestModel(state)
	states := NewSectionStates(m)
	m.EntityOnline(bg, 0x7)
	m.EntityOnline(bg, 0x8)

	states.SetFilter(regexp.MustCompile("^stage"))
	if !states.Visible(model.Talker, 0) || !states.Visible(model.Talker, 1) {
		t.Fatalf("matching entity hidden")
	}
	if states.Visible(model.Talker, 2) || states.Visible(model.Talker, 3) {
		t.Fatalf("non-matching entity visible")
	}

	m.EntityNameChanged(bg, 0x8, "stage-right")
	if !states.Visible(model.Talker, 2) || !states.Visible(model.Talker, 3) {
		t.Fatalf("renamed entity not shown")
	}

	states.SetFilter(nil)
	for i := 0; i < 4; i++ {
		if !states.Visible(model.Talker, i) {
			t.Fatalf("section %d hidden without filter", i)
		}
	}
}

func TestSectionStatesSurviveTransposition(t *testing.T) {
	state := newFakeState()
	state.add(redundantEntity(talkerID, model.Talker, gmA, gmB, pcm8))
	state.add(redundantEntity(listenerID, model.Listener, gmA, gmB, pcm8))
	m, _ := newTestModel(state)
	states := NewSectionStates(m)
	m.EntityOnline(bg, talkerID)
	m.EntityOnline(bg, listenerID)

	states.Toggle(model.Talker, 1)
	states.Toggle(model.Listener, 0)
	states.SetFilter(regexp.MustCompile("."))

	m.SetTransposed(true)

	if !states.State(model.Talker, 1).Expanded || !states.Visible(model.Talker, 2) {
		t.Fatalf("talker group collapsed by transposition: %+v", states.State(model.Talker, 1))
	}
	if states.State(model.Listener, 0).Expanded || states.Visible(model.Listener, 1) {
		t.Fatalf("listener entity re-expanded by transposition: %+v", states.State(model.Listener, 0))
	}

	m.ControllerOffline(bg)
	m.EntityOnline(bg, talkerID)
	if states.State(model.Talker, 1).Expanded {
		t.Fatalf("state of a removed entity leaked into its replacement")
	}
}
