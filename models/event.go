package models

import "encoding/json"

// Event is the wire envelope for everything on the realtime socket.
// Inbound payloads stay raw until a listener decodes them; outbound
// payloads are marshaled in place.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OutboundEvent mirrors Event for client-to-server emission, where the
// payload is still a Go value.
type OutboundEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Realtime event types
const (
	EventMedicationReminder = "medication_reminder" // server -> client
	EventReminderResponse   = "reminder_response"   // client -> server
	EventReminderUpdate     = "reminder_update"     // server -> client
	EventReminderError      = "reminder_error"      // server -> client
	EventNewMessage         = "new_message"         // server -> client
	EventTypingStatus       = "typing_status"       // bidirectional
)
