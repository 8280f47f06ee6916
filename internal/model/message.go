package model

import (
	"time"
)

// Message is the canonical message record. Thread structure is kept as
// id references (ParentID/RootID), never as live pointers; trees are
// reassembled by index lookup so a corrupt link cannot loop a traversal.
type Message struct {
	ID         string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	SenderID   string `gorm:"index;not null;type:varchar(64)" json:"sender_id"`
	ReceiverID string `gorm:"index;not null;type:varchar(64)" json:"receiver_id"`
	Body       string `gorm:"type:text;not null" json:"body"`

	// ParentID is nil for thread roots. RootID is denormalized on every
	// row so an entire thread is one indexed query.
	ParentID *string `gorm:"index;type:varchar(64)" json:"parent_id,omitempty"`
	RootID   string  `gorm:"index;not null;type:varchar(64)" json:"root_id"`
	Depth    int     `gorm:"not null;default:0" json:"depth"`

	Acknowledged bool `gorm:"not null;default:false" json:"acknowledged"`

	Edited       bool       `gorm:"not null;default:false" json:"edited"`
	EditCount    int        `gorm:"not null;default:0" json:"edit_count"`
	LastEditedAt *time.Time `json:"last_edited_at,omitempty"`

	// Version backs the optimistic check that serializes concurrent edits.
	Version int64 `gorm:"not null;default:0" json:"-"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

func (Message) TableName() string {
	return "messages"
}

// IsRoot reports whether the message starts its thread.
func (m *Message) IsRoot() bool {
	return m.ParentID == nil
}
