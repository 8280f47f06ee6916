package service

import (
	"time"
)

// EventKind classifies a message lifecycle event.
type EventKind string

const (
	EventMessageCreated EventKind = "message_created"
	EventMessageEdited  EventKind = "message_edited"
)

// MessageEvent is emitted by the message store after a successful write
// and consumed by the notification fan-out engine. The event ID is unique
// per write, so redelivered events can be recognized downstream.
type MessageEvent struct {
	ID         string    `json:"id"`
	Kind       EventKind `json:"kind"`
	MessageID  string    `json:"message_id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	OccurredAt time.Time `json:"occurred_at"`
}
