package model

import (
	"fmt"
	"strings"
)

// LinkStatus is the physical link state of an AVB interface.
type LinkStatus int

const (
	LinkUnknown LinkStatus = iota
	LinkDown
	LinkUp
)

func (s LinkStatus) String() string {
	switch s {
	case LinkDown:
		return "down"
	case LinkUp:
		return "up"
	default:
		return "unknown"
	}
}

// ParseLinkStatus maps "up"/"down" (any case) to a LinkStatus; everything else
// is LinkUnknown.
func ParseLinkStatus(s string) LinkStatus {
	switch {
	case strings.EqualFold(s, "up"):
		return LinkUp
	case strings.EqualFold(s, "down"):
		return LinkDown
	default:
		return LinkUnknown
	}
}

// MediaLock is the tri-state media clock lock reported by listener streams.
type MediaLock int

const (
	MediaLockUnknown MediaLock = iota
	MediaLocked
	MediaUnlocked
)

func (m MediaLock) String() string {
	switch m {
	case MediaLocked:
		return "locked"
	case MediaUnlocked:
		return "unlocked"
	default:
		return "unknown"
	}
}

// ConnectionState is the state of a listener stream's binding to a talker.
type ConnectionState int

const (
	NotConnected ConnectionState = iota
	FastConnecting
	Connected
)

func (c ConnectionState) String() string {
	switch c {
	case FastConnecting:
		return "fast_connecting"
	case Connected:
		return "connected"
	default:
		return "not_connected"
	}
}

// StreamFormat is a packed stream format descriptor.
//
// Layout: bits 0-15 carry the channel count, bit 16 is the "up to" flag a
// listener sets when it accepts any channel count up to its own, and the
// remaining bits identify the encoding (subtype, sample rate, bit depth).
// The zero value is an invalid format and is never compatible with anything.
type StreamFormat uint64

const (
	formatChannelMask StreamFormat = 0xFFFF
	formatUpToFlag    StreamFormat = 1 << 16
	formatBaseShift                = 17
)

// NewStreamFormat packs an encoding identifier and channel layout.
func NewStreamFormat(encoding uint64, channels uint16, upTo bool) StreamFormat {
	f := StreamFormat(encoding)<<formatBaseShift | StreamFormat(channels)
	if upTo {
		f |= formatUpToFlag
	}
	return f
}

// Encoding returns the encoding identifier bits.
func (f StreamFormat) Encoding() uint64 { return uint64(f >> formatBaseShift) }

// Channels returns the channel count.
func (f StreamFormat) Channels() uint16 { return uint16(f & formatChannelMask) }

// UpTo reports whether the format accepts fewer channels than declared.
func (f StreamFormat) UpTo() bool { return f&formatUpToFlag != 0 }

// Valid reports whether the format carries an encoding.
func (f StreamFormat) Valid() bool { return f.Encoding() != 0 }

func (f StreamFormat) String() string {
	if !f.Valid() {
		return "invalid"
	}
	upTo := ""
	if f.UpTo() {
		upTo = "<="
	}
	return fmt.Sprintf("enc:%x/ch:%s%d", f.Encoding(), upTo, f.Channels())
}

// IsListenerFormatCompatibleWithTalkerFormat reports whether a listener
// declaring format listener can consume a talker producing format talker.
func IsListenerFormatCompatibleWithTalkerFormat(listener, talker StreamFormat) bool {
	if !listener.Valid() || !talker.Valid() {
		return false
	}
	if listener&^formatUpToFlag == talker&^formatUpToFlag {
		return true
	}
	if listener.Encoding() != talker.Encoding() {
		return false
	}
	return listener.UpTo() && talker.Channels() <= listener.Channels()
}
