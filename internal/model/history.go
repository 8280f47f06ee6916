package model

import (
	"time"
)

// MessageHistory is an append-only snapshot of a message body taken just
// before a content-changing edit. Rows are never updated after creation.
//
// EditedBy is nullable: when an editor's account is deleted their history
// rows on surviving messages keep the snapshot but lose the identity.
type MessageHistory struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	MessageID string    `gorm:"index;not null;type:varchar(64)" json:"message_id"`
	OldBody   string    `gorm:"type:text;not null" json:"old_body"`
	EditedBy  *string   `gorm:"index;type:varchar(64)" json:"edited_by,omitempty"`
	Reason    string    `gorm:"type:varchar(255)" json:"reason,omitempty"`
	EditedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"edited_at"`
}

func (MessageHistory) TableName() string {
	return "message_history"
}
