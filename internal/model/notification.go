package model

import (
	"time"
)

// NotificationKind classifies what a notification is about.
type NotificationKind string

const (
	NotificationNewMessage    NotificationKind = "new_message"
	NotificationMessageEdited NotificationKind = "message_edited"
)

// Notification is a recipient-visible record produced by the fan-out
// engine in reaction to message lifecycle events. It is lifetime-bound
// to its triggering message.
type Notification struct {
	ID           string           `gorm:"primaryKey;type:varchar(64)" json:"id"`
	RecipientID  string           `gorm:"index;not null;type:varchar(64)" json:"recipient_id"`
	MessageID    string           `gorm:"index;not null;type:varchar(64)" json:"message_id"`
	Kind         NotificationKind `gorm:"not null;type:varchar(20);default:new_message" json:"kind"`
	Text         string           `gorm:"not null;type:varchar(255)" json:"text"`
	Acknowledged bool             `gorm:"not null;default:false" json:"acknowledged"`
	CreatedAt    time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

func (Notification) TableName() string {
	return "notifications"
}
