package model

// EntityTopology is a snapshot of an entity's current configuration: its
// AVB interfaces, its stream descriptors in both directions and the
// redundant groups those streams form. It is what the device-state layer
// hands out when an entity comes online.
type EntityTopology struct {
	ID   EntityID
	Name string

	// TalkerCapable / ListenerCapable mirror the "implemented" bits of the
	// entity's advertised capabilities.
	TalkerCapable   bool
	ListenerCapable bool

	Interfaces []AvbInterface

	Outputs []StreamDescriptor
	Inputs  []StreamDescriptor

	RedundantOutputs []RedundantGroup
	RedundantInputs  []RedundantGroup
}

// AvbInterface is the dynamic state of one physical interface.
type AvbInterface struct {
	Index             AvbInterfaceIndex
	Name              string
	GrandmasterID     GrandmasterID
	GrandmasterDomain uint8
	LinkStatus        LinkStatus
}

// StreamDescriptor describes one stream in one direction.
type StreamDescriptor struct {
	Index        StreamIndex
	Name         string
	AvbInterface AvbInterfaceIndex
	Format       StreamFormat
	Running      bool
	MediaLock    MediaLock // listener streams only
}

// RedundantGroup lists the streams that form one redundant set. Members
// are paired with the opposite side's group by ordinal position.
type RedundantGroup struct {
	Index   RedundantIndex
	Name    string
	Streams []StreamIndex
}

// Streams returns the stream descriptors of the given direction.
func (t *EntityTopology) Streams(side Side) []StreamDescriptor {
	if side == Talker {
		return t.Outputs
	}
	return t.Inputs
}

// RedundantGroups returns the redundant groups of the given direction.
func (t *EntityTopology) RedundantGroups(side Side) []RedundantGroup {
	if side == Talker {
		return t.RedundantOutputs
	}
	return t.RedundantInputs
}

// Stream looks up a stream descriptor by index.
func (t *EntityTopology) Stream(side Side, index StreamIndex) (*StreamDescriptor, bool) {
	streams := t.Outputs
	if side == Listener {
		streams = t.Inputs
	}
	for i := range streams {
		if streams[i].Index == index {
			return &streams[i], true
		}
	}
	return nil, false
}

// Interface looks up an AVB interface by index.
func (t *EntityTopology) Interface(index AvbInterfaceIndex) (*AvbInterface, bool) {
	for i := range t.Interfaces {
		if t.Interfaces[i].Index == index {
			return &t.Interfaces[i], true
		}
	}
	return nil, false
}

// HasSide reports whether the entity should appear on the given side of a
// connection matrix: the capability must be advertised and at least one
// stream must exist in that direction.
func (t *EntityTopology) HasSide(side Side) bool {
	if side == Talker {
		return t.TalkerCapable && len(t.Outputs) > 0
	}
	return t.ListenerCapable && len(t.Inputs) > 0
}

// Clone returns a deep copy so callers can hold a snapshot independently of
// the store that produced it.
func (t EntityTopology) Clone() EntityTopology {
	out := t
	out.Interfaces = append([]AvbInterface(nil), t.Interfaces...)
	out.Outputs = append([]StreamDescriptor(nil), t.Outputs...)
	out.Inputs = append([]StreamDescriptor(nil), t.Inputs...)
	out.RedundantOutputs = cloneGroups(t.RedundantOutputs)
	out.RedundantInputs = cloneGroups(t.RedundantInputs)
	return out
}

func cloneGroups(groups []RedundantGroup) []RedundantGroup {
	if groups == nil {
		return nil
	}
	out := make([]RedundantGroup, len(groups))
	for i, g := range groups {
		out[i] = g
		out[i].Streams = append([]StreamIndex(nil), g.Streams...)
	}
	return out
}
