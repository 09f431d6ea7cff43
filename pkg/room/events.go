package room

import (
	"time"

	"github.com/livekit/protocol/livekit"
)

// EventType represents the type of room event.
type EventType string

const (
	EventParticipantConnected    EventType = "participant_connected"
	EventParticipantDisconnected EventType = "participant_disconnected"
	EventTrackSubscribed         EventType = "track_subscribed"
	EventTrackUnsubscribed       EventType = "track_unsubscribed"

	// EventDataReceived is fired for every data packet, after it has been
	// dispatched to the engine. Err holds the dispatch failure, if any.
	EventDataReceived EventType = "data_received"

	EventDisconnected EventType = "disconnected"
)

// Event represents a room event with associated data.
type Event struct {
	Type        EventType
	Timestamp   time.Time
	Participant *livekit.ParticipantInfo
	Track       *livekit.TrackInfo
	Data        []byte
	Err         error
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now(),
	}
}

// WithParticipant adds participant information to the event.
func (e *Event) WithParticipant(participant *livekit.ParticipantInfo) *Event {
	e.Participant = participant
	return e
}

// WithTrack adds track information to the event.
func (e *Event) WithTrack(track *livekit.TrackInfo) *Event {
	e.Track = track
	return e
}

// WithData adds the raw packet to the event.
func (e *Event) WithData(data []byte) *Event {
	e.Data = data
	return e
}

// WithErr records a dispatch failure.
func (e *Event) WithErr(err error) *Event {
	e.Err = err
	return e
}
