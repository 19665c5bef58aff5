package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnavailable is returned by device-state queries that cannot be answered
// right now, typically because the entity went away while a computation that
// referenced it was still in flight. Callers treat it as "try again on the
// next event", never as a fatal condition.
var ErrUnavailable = errors.New("device state unavailable")

// EntityID is the EUI-64 unique identifier of an AVDECC entity.
type EntityID uint64

// NullEntityID is the reserved "no entity" identifier.
const NullEntityID EntityID = 0

// String renders the identifier the way AVDECC tooling prints it.
func (id EntityID) String() string {
	return fmt.Sprintf("0x%016X", uint64(id))
}

// Valid reports whether id is neither the null nor the all-ones identifier.
func (id EntityID) Valid() bool {
	return id != NullEntityID && id != EntityID(^uint64(0))
}

// ParseEntityID accepts "0x"-prefixed hexadecimal or plain decimal input.
func ParseEntityID(s string) (EntityID, error) {
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}
	v, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return NullEntityID, fmt.Errorf("parse entity id %q: %w", s, err)
	}
	return EntityID(v), nil
}

// StreamIndex identifies a stream descriptor within one direction of an entity.
type StreamIndex uint16

// AvbInterfaceIndex identifies the physical AVB interface a stream is bound to.
type AvbInterfaceIndex uint16

// RedundantIndex identifies a redundant stream group within one direction.
type RedundantIndex uint16

// GrandmasterID is the gPTP grandmaster clock identity an interface is
// synchronised to. The zero value means "unknown".
type GrandmasterID uint64

func (g GrandmasterID) String() string {
	return fmt.Sprintf("0x%016X", uint64(g))
}

// Known reports whether the grandmaster identity has been learned.
func (g GrandmasterID) Known() bool { return g != 0 }

// Side distinguishes the talker (output) side from the listener (input) side.
type Side int

const (
	Talker Side = iota
	Listener
)

func (s Side) String() string {
	switch s {
	case Talker:
		return "talker"
	case Listener:
		return "listener"
	default:
		return "unknown"
	}
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Talker {
		return Listener
	}
	return Talker
}

// StreamIdentification names one concrete stream on the network.
type StreamIdentification struct {
	EntityID    EntityID
	StreamIndex StreamIndex
}

func (s StreamIdentification) String() string {
	return fmt.Sprintf("%s/%d", s.EntityID, s.StreamIndex)
}
