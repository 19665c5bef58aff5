package core

import "strings"

// Capabilities is the set of flags computed for one intersection.
type Capabilities uint8

const (
	CapConnected Capabilities = 1 << iota
	CapWrongDomain
	CapWrongFormat
	CapInterfaceDown
	CapFastConnecting
)

var capabilityNames = []struct {
	c    Capabilities
	name string
}{
	{CapConnected, "Connected"},
	{CapWrongDomain, "WrongDomain"},
	{CapWrongFormat, "WrongFormat"},
	{CapInterfaceDown, "InterfaceDown"},
	{CapFastConnecting, "FastConnecting"},
}

// Has reports whether every flag in f is set.
func (c Capabilities) Has(f Capabilities) bool { return c&f == f }

func (c *Capabilities) assign(f Capabilities, on bool) {
	if on {
		*c |= f
	} else {
		*c &^= f
	}
}

// Names lists the set flags in declaration order.
func (c Capabilities) Names() []string {
	var out []string
	for _, cn := range capabilityNames {
		if c&cn.c != 0 {
			out = append(out, cn.name)
		}
	}
	return out
}

func (c Capabilities) String() string {
	return "{" + strings.Join(c.Names(), ",") + "}"
}

// DirtyFlags selects which capabilities an event invalidates.
type DirtyFlags uint8

const (
	DirtyConnected DirtyFlags = 1 << iota
	DirtyFormat
	DirtyDomain
	DirtyLinkStatus

	DirtyAll = DirtyConnected | DirtyFormat | DirtyDomain | DirtyLinkStatus
)

// Has reports whether any flag in f is set.
func (d DirtyFlags) Has(f DirtyFlags) bool { return d&f != 0 }

func (d DirtyFlags) String() string {
	var parts []string
	for _, p := range []struct {
		f    DirtyFlags
		name string
	}{
		{DirtyConnected, "connected"},
		{DirtyFormat, "format"},
		{DirtyDomain, "domain"},
		{DirtyLinkStatus, "link_status"},
	} {
		if d&p.f != 0 {
			parts = append(parts, p.name)
		}
	}
	return strings.Join(parts, "|")
}

// Intersection is the cached record of one (talker section, listener
// section) cell. Node references are weak: a released node makes the
// record's recomputation a no-op until the record is replaced.
type Intersection struct {
	Type         IntersectionType
	Talker       NodeID
	Listener     NodeID
	Capabilities Capabilities

	// Redundant_Redundant only: how many ordinal legs exist and how many
	// are currently connected.
	legs          int
	connectedLegs int
}

// Has reports whether every flag in c is set.
func (i Intersection) Has(c Capabilities) bool { return i.Capabilities.Has(c) }

// PartiallyConnected reports a redundant pair where some but not all legs
// are connected. Connected is unset in that state.
func (i Intersection) PartiallyConnected() bool {
	return i.Type == TypeRedundantRedundant && i.connectedLegs > 0 && i.connectedLegs < i.legs
}

// ConnectedLegs returns the connected and total leg counts of a
// Redundant_Redundant cell.
func (i Intersection) ConnectedLegs() (connected, total int) {
	return i.connectedLegs, i.legs
}
