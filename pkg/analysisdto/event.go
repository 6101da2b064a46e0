package analysisdto

import "time"

type EventType string

const (
	EventResult EventType = "result"
	EventBook   EventType = "book"
	EventCached EventType = "cached"
	EventState  EventType = "state"
)

// Event is the unit fanned out to feed subscribers and webhooks.
type Event struct {
	Type      EventType `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	State     string    `json:"state,omitempty"`
	Result    *Result   `json:"result,omitempty"`
	Book      *BookHit  `json:"book,omitempty"`
	At        time.Time `json:"at"`
}
