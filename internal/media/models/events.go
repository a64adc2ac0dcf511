package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Event is the closed set of store notifications. The three variants below
// are the only implementations; subscribers switch on the concrete type
// instead of matching on string event names.
type Event interface {
	EventType() string
	AggregateID() uuid.UUID
	event()
}

// VideoAdded fires when a brand new video record is created. Channel is the
// channel the submission targeted, empty when none was given.
type VideoAdded struct {
	Video   Video
	Channel string
}

// VideoRemoved fires when a record is deleted entirely. Membership-only
// removals fire VideoUpdated instead.
type VideoRemoved struct {
	VideoID uuid.UUID
	Channel string
}

// VideoUpdated fires on any full-record mutation: metadata fill-in, loaded
// flip, channel membership changes.
type VideoUpdated struct {
	Video Video
}

func (VideoAdded) event()   {}
func (VideoRemoved) event() {}
func (VideoUpdated) event() {}

func (e VideoAdded) EventType() string   { return "videoAdded" }
func (e VideoRemoved) EventType() string { return "videoRemoved" }
func (e VideoUpdated) EventType() string { return "videoUpdated" }

func (e VideoAdded) AggregateID() uuid.UUID   { return e.Video.ID }
func (e VideoRemoved) AggregateID() uuid.UUID { return e.VideoID }
func (e VideoUpdated) AggregateID() uuid.UUID { return e.Video.ID }

func (e VideoAdded) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Video   Video  `json:"video"`
		Channel string `json:"channel,omitempty"`
	}{e.Video, e.Channel})
}

func (e VideoRemoved) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		VideoID uuid.UUID `json:"video"`
		Channel string    `json:"channel,omitempty"`
	}{e.VideoID, e.Channel})
}

func (e VideoUpdated) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Video Video `json:"video"`
	}{e.Video})
}
