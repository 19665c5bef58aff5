package kb

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/connection-matrix/model"
)

// Scenario is a summary of what was loaded from JSON plus the scripted
// timeline that can be replayed against the same KB afterwards.
type Scenario struct {
	EntityIDs   []model.EntityID
	Connections int
	Timeline    []TimelineStep
}

// TimelineStep is one scripted change, applied At the given offset from the
// start of a replay.
type TimelineStep struct {
	At     time.Duration
	Action string

	apply func(*KnowledgeBase) error
}

// Apply performs the step against kb.
func (s TimelineStep) Apply(kb *KnowledgeBase) error {
	if s.apply == nil {
		return fmt.Errorf("%w: step %q has no action", ErrBadInput, s.Action)
	}
	return s.apply(kb)
}

// internal JSON shapes – keep them unexported so we're free to evolve them.
type scenarioJSON struct {
	Entities    []entityJSON     `json:"entities"`
	Connections []connectionJSON `json:"connections"`
	Timeline    []stepJSON       `json:"timeline"`
}

type entityJSON struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Talker           bool            `json:"talker"`
	Listener         bool            `json:"listener"`
	Interfaces       []interfaceJSON `json:"interfaces"`
	Outputs          []streamJSON    `json:"outputs"`
	Inputs           []streamJSON    `json:"inputs"`
	RedundantOutputs []redundantJSON `json:"redundant_outputs"`
	RedundantInputs  []redundantJSON `json:"redundant_inputs"`
}

type interfaceJSON struct {
	Index       uint16 `json:"index"`
	Name        string `json:"name"`
	Grandmaster string `json:"grandmaster"`
	Domain      uint8  `json:"domain"`
	Link        string `json:"link"` // "up" | "down" | ""
}

type streamJSON struct {
	Index     uint16     `json:"index"`
	Name      string     `json:"name"`
	Interface uint16     `json:"interface"`
	Format    formatJSON `json:"format"`
	Running   *bool      `json:"running"` // optional; defaults to true
}

type formatJSON struct {
	Encoding uint64 `json:"encoding"`
	Channels uint16 `json:"channels"`
	UpTo     bool   `json:"up_to"`
}

type redundantJSON struct {
	Index   uint16   `json:"index"`
	Name    string   `json:"name"`
	Streams []uint16 `json:"streams"`
}

type connectionJSON struct {
	Talker   string `json:"talker"`   // "<entity>/<stream>"
	Listener string `json:"listener"` // "<entity>/<stream>"
	State    string `json:"state"`    // "connected" (default) | "fast_connecting"
}

type stepJSON struct {
	At        string      `json:"at"`
	Action    string      `json:"action"`
	Entity    string      `json:"entity"`
	Side      string      `json:"side"`
	Stream    uint16      `json:"stream"`
	Interface uint16      `json:"interface"`
	Link      string      `json:"link"`
	GM        string      `json:"grandmaster"`
	Domain    uint8       `json:"domain"`
	Name      string      `json:"name"`
	Running   bool        `json:"running"`
	Format    formatJSON  `json:"format"`
	Talker    string      `json:"talker"`
	Listener  string      `json:"listener"`
	State     string      `json:"state"`
	Lock      string      `json:"lock"`
	Define    *entityJSON `json:"define"`
}

// LoadScenario reads a JSON scenario from r, registers its entities and
// initial connections in kb, and returns the parsed timeline sorted by
// offset.
func LoadScenario(kb *KnowledgeBase, r io.Reader) (*Scenario, error) {
	if kb == nil {
		return nil, fmt.Errorf("LoadScenario: kb is nil")
	}

	var payload scenarioJSON
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("LoadScenario: decode failed: %w", err)
	}

	result := &Scenario{
		EntityIDs: make([]model.EntityID, 0, len(payload.Entities)),
	}

	// 1) Entities
	for i := range payload.Entities {
		topo, err := payload.Entities[i].topology()
		if err != nil {
			return nil, fmt.Errorf("LoadScenario: entity %d: %w", i, err)
		}
		if err := kb.AddEntity(topo); err != nil {
			return nil, fmt.Errorf("LoadScenario: %w", err)
		}
		result.EntityIDs = append(result.EntityIDs, topo.ID)
	}

	// 2) Connections
	for i, c := range payload.Connections {
		talker, listener, state, err := c.parse()
		if err != nil {
			return nil, fmt.Errorf("LoadScenario: connection %d: %w", i, err)
		}
		if err := kb.SetConnection(talker, listener, state); err != nil {
			return nil, fmt.Errorf("LoadScenario: connection %d: %w", i, err)
		}
		result.Connections++
	}

	// 3) Timeline
	for i := range payload.Timeline {
		step, err := payload.Timeline[i].step()
		if err != nil {
			return nil, fmt.Errorf("LoadScenario: timeline step %d: %w", i, err)
		}
		result.Timeline = append(result.Timeline, step)
	}
	sort.SliceStable(result.Timeline, func(i, j int) bool {
		return result.Timeline[i].At < result.Timeline[j].At
	})

	return result, nil
}

func (e *entityJSON) topology() (model.EntityTopology, error) {
	id, err := model.ParseEntityID(e.ID)
	if err != nil {
		return model.EntityTopology{}, err
	}
	topo := model.EntityTopology{
		ID:              id,
		Name:            e.Name,
		TalkerCapable:   e.Talker,
		ListenerCapable: e.Listener,
	}
	for _, intf := range e.Interfaces {
		gm, err := parseGrandmaster(intf.Grandmaster)
		if err != nil {
			return model.EntityTopology{}, err
		}
		link := model.LinkUp
		if intf.Link != "" {
			if link, err = parseLink(intf.Link); err != nil {
				return model.EntityTopology{}, err
			}
		}
		topo.Interfaces = append(topo.Interfaces, model.AvbInterface{
			Index:             model.AvbInterfaceIndex(intf.Index),
			Name:              intf.Name,
			GrandmasterID:     gm,
			GrandmasterDomain: intf.Domain,
			LinkStatus:        link,
		})
	}
	topo.Outputs = streamsFromJSON(e.Outputs)
	topo.Inputs = streamsFromJSON(e.Inputs)
	topo.RedundantOutputs = groupsFromJSON(e.RedundantOutputs)
	topo.RedundantInputs = groupsFromJSON(e.RedundantInputs)
	return topo, nil
}

func streamsFromJSON(in []streamJSON) []model.StreamDescriptor {
	out := make([]model.StreamDescriptor, 0, len(in))
	for _, s := range in {
		running := true
		if s.Running != nil {
			running = *s.Running
		}
		out = append(out, model.StreamDescriptor{
			Index:        model.StreamIndex(s.Index),
			Name:         s.Name,
			AvbInterface: model.AvbInterfaceIndex(s.Interface),
			Format:       s.Format.format(),
			Running:      running,
		})
	}
	return out
}

func groupsFromJSON(in []redundantJSON) []model.RedundantGroup {
	out := make([]model.RedundantGroup, 0, len(in))
	for _, g := range in {
		group := model.RedundantGroup{Index: model.RedundantIndex(g.Index), Name: g.Name}
		for _, s := range g.Streams {
			group.Streams = append(group.Streams, model.StreamIndex(s))
		}
		out = append(out, group)
	}
	return out
}

func (f formatJSON) format() model.StreamFormat {
	return model.NewStreamFormat(f.Encoding, f.Channels, f.UpTo)
}

func (c connectionJSON) parse() (talker, listener model.StreamIdentification, state model.ConnectionState, err error) {
	if talker, err = ParseStreamIdentification(c.Talker); err != nil {
		return
	}
	if listener, err = ParseStreamIdentification(c.Listener); err != nil {
		return
	}
	state, err = parseConnectionState(c.State)
	return
}

func (s *stepJSON) step() (TimelineStep, error) {
	at, err := time.ParseDuration(s.At)
	if err != nil {
		return TimelineStep{}, fmt.Errorf("%w: at %q: %v", ErrBadInput, s.At, err)
	}
	step := TimelineStep{At: at, Action: s.Action}

	var id model.EntityID
	if s.Entity != "" {
		if id, err = model.ParseEntityID(s.Entity); err != nil {
			return TimelineStep{}, err
		}
	}
	side, err := parseSide(s.Side)
	if err != nil {
		return TimelineStep{}, err
	}
	stream := model.StreamIndex(s.Stream)
	avb := model.AvbInterfaceIndex(s.Interface)

	switch s.Action {
	case "online":
		if s.Define == nil {
			return TimelineStep{}, fmt.Errorf("%w: online step needs a definition", ErrBadInput)
		}
		topo, err := s.Define.topology()
		if err != nil {
			return TimelineStep{}, err
		}
		step.apply = func(kb *KnowledgeBase) error { return kb.AddEntity(topo) }
	case "offline":
		step.apply = func(kb *KnowledgeBase) error { return kb.RemoveEntity(id) }
	case "link":
		status, err := parseLink(s.Link)
		if err != nil {
			return TimelineStep{}, err
		}
		step.apply = func(kb *KnowledgeBase) error { return kb.SetInterfaceLinkStatus(id, avb, status) }
	case "gptp":
		gm, err := parseGrandmaster(s.GM)
		if err != nil {
			return TimelineStep{}, err
		}
		domain := s.Domain
		step.apply = func(kb *KnowledgeBase) error { return kb.SetGrandmaster(id, avb, gm, domain) }
	case "format":
		format := s.Format.format()
		step.apply = func(kb *KnowledgeBase) error { return kb.SetStreamFormat(id, side, stream, format) }
	case "running":
		running := s.Running
		step.apply = func(kb *KnowledgeBase) error { return kb.SetStreamRunning(id, side, stream, running) }
	case "rename":
		name := s.Name
		step.apply = func(kb *KnowledgeBase) error { return kb.SetEntityName(id, name) }
	case "rename_stream":
		name := s.Name
		step.apply = func(kb *KnowledgeBase) error { return kb.SetStreamName(id, side, stream, name) }
	case "connect", "disconnect":
		talker, listener, state, err := connectionJSON{Talker: s.Talker, Listener: s.Listener, State: s.State}.parseFor(s.Action)
		if err != nil {
			return TimelineStep{}, err
		}
		step.apply = func(kb *KnowledgeBase) error { return kb.SetConnection(talker, listener, state) }
	case "media_lock":
		lock := parseMediaLock(s.Lock)
		step.apply = func(kb *KnowledgeBase) error { return kb.SetMediaLock(id, stream, lock) }
	case "controller_offline":
		step.apply = func(kb *KnowledgeBase) error {
			kb.ControllerOffline()
			return nil
		}
	default:
		return TimelineStep{}, fmt.Errorf("%w: unknown action %q", ErrBadInput, s.Action)
	}
	return step, nil
}

func (c connectionJSON) parseFor(action string) (talker, listener model.StreamIdentification, state model.ConnectionState, err error) {
	if action == "disconnect" {
		listener, err = ParseStreamIdentification(c.Listener)
		return model.StreamIdentification{}, listener, model.NotConnected, err
	}
	return c.parse()
}

// ParseStreamIdentification parses "<entity id>/<stream index>".
func ParseStreamIdentification(s string) (model.StreamIdentification, error) {
	entity, stream, ok := strings.Cut(s, "/")
	if !ok {
		return model.StreamIdentification{}, fmt.Errorf("%w: stream %q, want <entity>/<index>", ErrBadInput, s)
	}
	id, err := model.ParseEntityID(entity)
	if err != nil {
		return model.StreamIdentification{}, err
	}
	index, err := strconv.ParseUint(stream, 10, 16)
	if err != nil {
		return model.StreamIdentification{}, fmt.Errorf("%w: stream index %q: %v", ErrBadInput, stream, err)
	}
	return model.StreamIdentification{EntityID: id, StreamIndex: model.StreamIndex(index)}, nil
}

func parseGrandmaster(s string) (model.GrandmasterID, error) {
	if s == "" {
		return 0, nil
	}
	id, err := model.ParseEntityID(s)
	if err != nil {
		return 0, fmt.Errorf("grandmaster: %w", err)
	}
	return model.GrandmasterID(id), nil
}

// parseLink accepts up, down or unknown in any case.
func parseLink(s string) (model.LinkStatus, error) {
	status := model.ParseLinkStatus(s)
	if status == model.LinkUnknown && !strings.EqualFold(s, model.LinkUnknown.String()) {
		return model.LinkUnknown, fmt.Errorf("%w: link status %q, want up, down or unknown", ErrBadInput, s)
	}
	return status, nil
}

func parseSide(s string) (model.Side, error) {
	switch strings.ToLower(s) {
	case "", "talker", "output":
		return model.Talker, nil
	case "listener", "input":
		return model.Listener, nil
	default:
		return model.Talker, fmt.Errorf("%w: side %q", ErrBadInput, s)
	}
}

func parseConnectionState(s string) (model.ConnectionState, error) {
	switch strings.ToLower(s) {
	case "", "connected":
		return model.Connected, nil
	case "fast_connecting":
		return model.FastConnecting, nil
	case "not_connected", "disconnected":
		return model.NotConnected, nil
	default:
		return model.NotConnected, fmt.Errorf("%w: connection state %q", ErrBadInput, s)
	}
}

func parseMediaLock(s string) model.MediaLock {
	switch strings.ToLower(s) {
	case "locked", "true":
		return model.MediaLocked
	case "unlocked", "false":
		return model.MediaUnlocked
	default:
		return model.MediaLockUnknown
	}
}
