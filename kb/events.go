package kb

import "github.com/signalsfoundry/connection-matrix/model"

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventControllerOffline EventType = iota
	EventEntityOnline
	EventEntityOffline
	EventStreamRunningChanged
	EventStreamConnectionChanged
	EventStreamFormatChanged
	EventGptpChanged
	EventLinkStatusChanged
	EventEntityNameChanged
	EventStreamNameChanged
	EventMediaLockChanged
)

var eventTypeNames = [...]string{
	EventControllerOffline:       "controller_offline",
	EventEntityOnline:            "entity_online",
	EventEntityOffline:           "entity_offline",
	EventStreamRunningChanged:    "stream_running_changed",
	EventStreamConnectionChanged: "stream_connection_changed",
	EventStreamFormatChanged:     "stream_format_changed",
	EventGptpChanged:             "gptp_changed",
	EventLinkStatusChanged:       "link_status_changed",
	EventEntityNameChanged:       "entity_name_changed",
	EventStreamNameChanged:       "stream_name_changed",
	EventMediaLockChanged:        "media_lock_changed",
}

func (t EventType) String() string {
	if int(t) >= 0 && int(t) < len(eventTypeNames) {
		return eventTypeNames[t]
	}
	return "unknown"
}

// Event is emitted to subscribers after the KB has applied a change. Only
// the fields relevant to Type are populated.
type Event struct {
	Type EventType

	EntityID    model.EntityID
	Side        model.Side
	StreamIndex model.StreamIndex

	AvbInterface      model.AvbInterfaceIndex
	GrandmasterID     model.GrandmasterID
	GrandmasterDomain uint8
	LinkStatus        model.LinkStatus

	// Talker/Listener are set for EventStreamConnectionChanged.
	Talker     model.StreamIdentification
	Listener   model.StreamIdentification
	Connection model.ConnectionState

	Running   bool
	Format    model.StreamFormat
	Name      string
	MediaLock model.MediaLock
}
