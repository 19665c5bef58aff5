package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/connection-matrix/model"
)

var (
	// ErrEntityExists indicates an entity with the same ID is already online.
	ErrEntityExists = errors.New("entity already exists")
	// ErrEntityNotFound indicates the requested entity is not online.
	ErrEntityNotFound = errors.New("entity not found")
	// ErrStreamNotFound indicates a stream index unknown to the entity.
	ErrStreamNotFound = errors.New("stream not found")
	// ErrInterfaceNotFound indicates an AVB interface unknown to the entity.
	ErrInterfaceNotFound = errors.New("avb interface not found")
	// ErrBadInput indicates a structurally invalid request.
	ErrBadInput = errors.New("invalid input")
)

// listenerBinding records which talker stream a listener stream is bound to.
type listenerBinding struct {
	talker model.StreamIdentification
	state  model.ConnectionState
}

// KnowledgeBase is an in-memory, thread-safe store of the live state of the
// entities a controller has discovered: their topology, stream formats,
// gPTP and link state, and the listener-side connection table. It answers
// the read-only queries a connection matrix needs and notifies subscribers
// after every change.
type KnowledgeBase struct {
	mu sync.RWMutex

	entities    map[model.EntityID]*model.EntityTopology
	connections map[model.StreamIdentification]listenerBinding

	subs   map[int]func(Event)
	nextID int
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		entities:    make(map[model.EntityID]*model.EntityTopology),
		connections: make(map[model.StreamIdentification]listenerBinding),
		subs:        make(map[int]func(Event)),
	}
}

//
// ---------- Subscriptions ----------
//

// Subscribe registers a callback for KB events. Callbacks run on the
// goroutine that performed the change, outside the KB lock. It returns an
// unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextID
	kb.nextID++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

// publishLocked snapshots the subscriber list in registration order. The
// caller must hold kb.mu and call the returned function after unlocking.
func (kb *KnowledgeBase) publishLocked(events ...Event) func() {
	ids := make([]int, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, kb.subs[id])
	}
	return func() {
		for _, ev := range events {
			for _, sub := range subs {
				sub(ev)
			}
		}
	}
}

//
// ---------- Entities ----------
//

// AddEntity registers a newly discovered entity and emits EventEntityOnline.
func (kb *KnowledgeBase) AddEntity(topo model.EntityTopology) error {
	if !topo.ID.Valid() {
		return fmt.Errorf("%w: entity id %s", ErrBadInput, topo.ID)
	}

	kb.mu.Lock()
	if _, exists := kb.entities[topo.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEntityExists, topo.ID)
	}
	clone := topo.Clone()
	kb.entities[topo.ID] = &clone
	notify := kb.publishLocked(Event{Type: EventEntityOnline, EntityID: topo.ID})
	kb.mu.Unlock()

	notify()
	return nil
}

// RemoveEntity forgets an entity, drops every connection it took part in and
// emits EventEntityOffline.
func (kb *KnowledgeBase) RemoveEntity(id model.EntityID) error {
	kb.mu.Lock()
	if _, ok := kb.entities[id]; !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	delete(kb.entities, id)
	for listener, binding := range kb.connections {
		if listener.EntityID == id || binding.talker.EntityID == id {
			delete(kb.connections, listener)
		}
	}
	notify := kb.publishLocked(Event{Type: EventEntityOffline, EntityID: id})
	kb.mu.Unlock()

	notify()
	return nil
}

// ControllerOffline drops all state and emits EventControllerOffline.
func (kb *KnowledgeBase) ControllerOffline() {
	kb.mu.Lock()
	kb.entities = make(map[model.EntityID]*model.EntityTopology)
	kb.connections = make(map[model.StreamIdentification]listenerBinding)
	notify := kb.publishLocked(Event{Type: EventControllerOffline})
	kb.mu.Unlock()

	notify()
}

// ListEntities returns the IDs of all online entities in ascending order.
func (kb *KnowledgeBase) ListEntities() []model.EntityID {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	out := make([]model.EntityID, 0, len(kb.entities))
	for id := range kb.entities {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SetEntityName renames an entity and emits EventEntityNameChanged.
func (kb *KnowledgeBase) SetEntityName(id model.EntityID, name string) error {
	kb.mu.Lock()
	topo, ok := kb.entities[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	topo.Name = name
	notify := kb.publishLocked(Event{Type: EventEntityNameChanged, EntityID: id, Name: name})
	kb.mu.Unlock()

	notify()
	return nil
}

//
// ---------- Streams ----------
//

func (kb *KnowledgeBase) streamLocked(id model.EntityID, side model.Side, index model.StreamIndex) (*model.StreamDescriptor, error) {
	topo, ok := kb.entities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	stream, ok := topo.Stream(side, index)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s stream %d", ErrStreamNotFound, id, side, index)
	}
	return stream, nil
}

// SetStreamRunning updates a stream's running state.
func (kb *KnowledgeBase) SetStreamRunning(id model.EntityID, side model.Side, index model.StreamIndex, running bool) error {
	kb.mu.Lock()
	stream, err := kb.streamLocked(id, side, index)
	if err != nil {
		kb.mu.Unlock()
		return err
	}
	stream.Running = running
	notify := kb.publishLocked(Event{
		Type:        EventStreamRunningChanged,
		EntityID:    id,
		Side:        side,
		StreamIndex: index,
		Running:     running,
	})
	kb.mu.Unlock()

	notify()
	return nil
}

// SetStreamFormat updates a stream's current format.
func (kb *KnowledgeBase) SetStreamFormat(id model.EntityID, side model.Side, index model.StreamIndex, format model.StreamFormat) error {
	kb.mu.Lock()
	stream, err := kb.streamLocked(id, side, index)
	if err != nil {
		kb.mu.Unlock()
		return err
	}
	stream.Format = format
	notify := kb.publishLocked(Event{
		Type:        EventStreamFormatChanged,
		EntityID:    id,
		Side:        side,
		StreamIndex: index,
		Format:      format,
	})
	kb.mu.Unlock()

	notify()
	return nil
}

// SetStreamName renames a stream.
func (kb *KnowledgeBase) SetStreamName(id model.EntityID, side model.Side, index model.StreamIndex, name string) error {
	kb.mu.Lock()
	stream, err := kb.streamLocked(id, side, index)
	if err != nil {
		kb.mu.Unlock()
		return err
	}
	stream.Name = name
	notify := kb.publishLocked(Event{
		Type:        EventStreamNameChanged,
		EntityID:    id,
		Side:        side,
		StreamIndex: index,
		Name:        name,
	})
	kb.mu.Unlock()

	notify()
	return nil
}

// SetMediaLock updates the media lock state of a listener stream.
func (kb *KnowledgeBase) SetMediaLock(id model.EntityID, index model.StreamIndex, lock model.MediaLock) error {
	kb.mu.Lock()
	stream, err := kb.streamLocked(id, model.Listener, index)
	if err != nil {
		kb.mu.Unlock()
		return err
	}
	stream.MediaLock = lock
	notify := kb.publishLocked(Event{
		Type:        EventMediaLockChanged,
		EntityID:    id,
		Side:        model.Listener,
		StreamIndex: index,
		MediaLock:   lock,
	})
	kb.mu.Unlock()

	notify()
	return nil
}

//
// ---------- Interfaces ----------
//

// SetGrandmaster records a gPTP grandmaster change on one interface.
func (kb *KnowledgeBase) SetGrandmaster(id model.EntityID, avb model.AvbInterfaceIndex, gm model.GrandmasterID, domain uint8) error {
	kb.mu.Lock()
	intf, err := kb.interfaceLocked(id, avb)
	if err != nil {
		kb.mu.Unlock()
		return err
	}
	intf.GrandmasterID = gm
	intf.GrandmasterDomain = domain
	notify := kb.publishLocked(Event{
		Type:              EventGptpChanged,
		EntityID:          id,
		AvbInterface:      avb,
		GrandmasterID:     gm,
		GrandmasterDomain: domain,
	})
	kb.mu.Unlock()

	notify()
	return nil
}

// SetInterfaceLinkStatus records a physical link transition.
func (kb *KnowledgeBase) SetInterfaceLinkStatus(id model.EntityID, avb model.AvbInterfaceIndex, status model.LinkStatus) error {
	kb.mu.Lock()
	intf, err := kb.interfaceLocked(id, avb)
	if err != nil {
		kb.mu.Unlock()
		return err
	}
	intf.LinkStatus = status
	notify := kb.publishLocked(Event{
		Type:         EventLinkStatusChanged,
		EntityID:     id,
		AvbInterface: avb,
		LinkStatus:   status,
	})
	kb.mu.Unlock()

	notify()
	return nil
}

func (kb *KnowledgeBase) interfaceLocked(id model.EntityID, avb model.AvbInterfaceIndex) (*model.AvbInterface, error) {
	topo, ok := kb.entities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	intf, ok := topo.Interface(avb)
	if !ok {
		return nil, fmt.Errorf("%w: %s interface %d", ErrInterfaceNotFound, id, avb)
	}
	return intf, nil
}

//
// ---------- Connections ----------
//

// SetConnection binds (or unbinds, with model.NotConnected) a listener
// stream to a talker stream. A listener is bound to at most one talker, so
// a new binding replaces any previous one.
func (kb *KnowledgeBase) SetConnection(talker, listener model.StreamIdentification, state model.ConnectionState) error {
	kb.mu.Lock()
	if _, err := kb.streamLocked(listener.EntityID, model.Listener, listener.StreamIndex); err != nil {
		kb.mu.Unlock()
		return err
	}
	if state != model.NotConnected {
		if _, err := kb.streamLocked(talker.EntityID, model.Talker, talker.StreamIndex); err != nil {
			kb.mu.Unlock()
			return err
		}
		kb.connections[listener] = listenerBinding{talker: talker, state: state}
	} else {
		delete(kb.connections, listener)
	}
	notify := kb.publishLocked(Event{
		Type:       EventStreamConnectionChanged,
		EntityID:   listener.EntityID,
		Side:       model.Listener,
		Talker:     talker,
		Listener:   listener,
		Connection: state,
	})
	kb.mu.Unlock()

	notify()
	return nil
}

// Connect is shorthand for SetConnection(talker, listener, model.Connected).
func (kb *KnowledgeBase) Connect(talker, listener model.StreamIdentification) error {
	return kb.SetConnection(talker, listener, model.Connected)
}

// Disconnect unbinds a listener stream.
func (kb *KnowledgeBase) Disconnect(listener model.StreamIdentification) error {
	return kb.SetConnection(model.StreamIdentification{}, listener, model.NotConnected)
}

//
// ---------- Device-state queries ----------
//

// Topology returns a deep copy of the entity's current topology.
func (kb *KnowledgeBase) Topology(id model.EntityID) (model.EntityTopology, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	topo, ok := kb.entities[id]
	if !ok {
		return model.EntityTopology{}, fmt.Errorf("%w: %w: %s", model.ErrUnavailable, ErrEntityNotFound, id)
	}
	return topo.Clone(), nil
}

// IsStreamConnected reports whether listener is currently bound to talker.
func (kb *KnowledgeBase) IsStreamConnected(talker, listener model.StreamIdentification) (bool, error) {
	state, err := kb.connectionState(talker, listener)
	return state == model.Connected, err
}

// IsStreamFastConnecting reports whether listener is currently fast-connecting
// to talker.
func (kb *KnowledgeBase) IsStreamFastConnecting(talker, listener model.StreamIdentification) (bool, error) {
	state, err := kb.connectionState(talker, listener)
	return state == model.FastConnecting, err
}

func (kb *KnowledgeBase) connectionState(talker, listener model.StreamIdentification) (model.ConnectionState, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	if _, ok := kb.entities[talker.EntityID]; !ok {
		return model.NotConnected, fmt.Errorf("%w: %w: %s", model.ErrUnavailable, ErrEntityNotFound, talker.EntityID)
	}
	if _, ok := kb.entities[listener.EntityID]; !ok {
		return model.NotConnected, fmt.Errorf("%w: %w: %s", model.ErrUnavailable, ErrEntityNotFound, listener.EntityID)
	}
	binding, ok := kb.connections[listener]
	if !ok || binding.talker != talker {
		return model.NotConnected, nil
	}
	return binding.state, nil
}

// InterfaceLinkStatus returns the link state of one interface. Interfaces the
// entity does not declare report model.LinkUnknown.
func (kb *KnowledgeBase) InterfaceLinkStatus(id model.EntityID, avb model.AvbInterfaceIndex) (model.LinkStatus, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	topo, ok := kb.entities[id]
	if !ok {
		return model.LinkUnknown, fmt.Errorf("%w: %w: %s", model.ErrUnavailable, ErrEntityNotFound, id)
	}
	intf, ok := topo.Interface(avb)
	if !ok {
		return model.LinkUnknown, nil
	}
	return intf.LinkStatus, nil
}

// IsListenerFormatCompatible applies the stream format compatibility rules.
func (kb *KnowledgeBase) IsListenerFormatCompatible(listener, talker model.StreamFormat) bool {
	return model.IsListenerFormatCompatibleWithTalkerFormat(listener, talker)
}
