package types

import "time"

type EventType string

const (
	EventConnecting      EventType = "Connecting"
	EventConnected       EventType = "Connected"
	EventHeadersDropped  EventType = "HeadersDropped"
	EventInsecureTLS     EventType = "InsecureTLS"
	EventMessageSent     EventType = "MessageSent"
	EventFrameReceived   EventType = "FrameReceived"
	EventReplyTimeout    EventType = "ReplyTimeout"
	EventListening       EventType = "Listening"
	EventListenTimeout   EventType = "ListenTimeout"
	EventRemoteClose     EventType = "RemoteClose"
	EventFailure         EventType = "Failure"
	EventClosing         EventType = "Closing"
	EventClosed          EventType = "Closed"
	EventKeepaliveFailed EventType = "KeepaliveFailed"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is a single step in a probe run. Message is the human readable form;
// Details carries the structured values recorders may aggregate.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"ts"`
	RunID     string         `json:"run_id,omitempty"`
	Phase     string         `json:"phase,omitempty"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}
