package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/threadvault/threadvault/internal/domain"
	"github.com/threadvault/threadvault/internal/model"
)

// InboxEntry is the projection used for inbox listings. Only the columns
// needed to render a list row are fetched, which bounds I/O on large inboxes.
type InboxEntry struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"sender_id"`
	Body      string    `json:"body"`
	ParentID  *string   `json:"parent_id,omitempty"`
	RootID    string    `json:"root_id"`
	Depth     int       `json:"depth"`
	CreatedAt time.Time `json:"created_at"`
}

// PurgeSummary reports what a cascading account purge actually removed.
type PurgeSummary struct {
	MessagesRemoved      int64 `json:"messages_removed"`
	NotificationsRemoved int64 `json:"notifications_removed"`
	HistoryRemoved       int64 `json:"history_removed"`
}

type IMessageRepository interface {
	Create(ctx context.Context, message *model.Message) error
	FindByID(ctx context.Context, id string) (*model.Message, error)
	FindByThreadRoot(ctx context.Context, rootID string) ([]*model.Message, error)
	ApplyEdit(ctx context.Context, id string, version int64, newBody string, history *model.MessageHistory, editedAt time.Time) (bool, error)
	MarkAcknowledged(ctx context.Context, id string) error
	ListUnread(ctx context.Context, recipientID string, limit int) ([]*InboxEntry, error)
	CountUnread(ctx context.Context, recipientID string) (int64, error)
	HasUnread(ctx context.Context, recipientID string) (bool, error)
	ListInbox(ctx context.Context, recipientID string, limit, offset int) ([]*InboxEntry, int64, error)
	PurgeParticipant(ctx context.Context, identity string) (*PurgeSummary, error)
}

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) IMessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(ctx context.Context, message *model.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *MessageRepository) FindByID(ctx context.Context, id string) (*model.Message, error) {
	var message model.Message
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&message).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find message %s: %w", id, err)
	}
	return &message, nil
}

// FindByThreadRoot fetches every member of a thread in one indexed query.
// Ordering by (depth, created_at) guarantees parents sort before children,
// which the in-memory tree assembly relies on.
func (r *MessageRepository) FindByThreadRoot(ctx context.Context, rootID string) ([]*model.Message, error) {
	var messages []*model.Message
	err := r.db.WithContext(ctx).
		Where("root_id = ? OR id = ?", rootID, rootID).
		Order("depth ASC, created_at ASC, id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("find thread %s: %w", rootID, err)
	}
	return messages, nil
}

// ApplyEdit applies a content edit and appends the audit snapshot in one
// transaction, guarded by an optimistic version check. It returns false
// when the version no longer matches, meaning a concurrent edit won the
// race; in that case nothing is written.
func (r *MessageRepository) ApplyEdit(ctx context.Context, id string, version int64, newBody string, history *model.MessageHistory, editedAt time.Time) (bool, error) {
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Message{}).
			Where("id = ? AND version = ?", id, version).
			Updates(map[string]any{
				"body":           newBody,
				"edited":         true,
				"edit_count":     gorm.Expr("edit_count + 1"),
				"last_edited_at": editedAt,
				"version":        gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return fmt.Errorf("update message %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := tx.Create(history).Error; err != nil {
			return fmt.Errorf("append history for message %s: %w", id, err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// MarkAcknowledged flips the read flag. The flag only ever moves
// false to true, so re-running it is harmless.
func (r *MessageRepository) MarkAcknowledged(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("id = ?", id).
		Update("acknowledged", true).Error
	if err != nil {
		return fmt.Errorf("acknowledge message %s: %w", id, err)
	}
	return nil
}

func (r *MessageRepository) ListUnread(ctx context.Context, recipientID string, limit int) ([]*InboxEntry, error) {
	var entries []*InboxEntry
	err := r.db.WithContext(ctx).
		Model(&model.Message{}).
		Select("id", "sender_id", "body", "parent_id", "root_id", "depth", "created_at").
		Where("receiver_id = ? AND acknowledged = ?", recipientID, false).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("list unread for %s: %w", recipientID, err)
	}
	return entries, nil
}

func (r *MessageRepository) CountUnread(ctx context.Context, recipientID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("receiver_id = ? AND acknowledged = ?", recipientID, false).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count unread for %s: %w", recipientID, err)
	}
	return count, nil
}

// HasUnread is an existence probe, not a count. It touches at most one row.
func (r *MessageRepository) HasUnread(ctx context.Context, recipientID string) (bool, error) {
	var one int
	err := r.db.WithContext(ctx).
		Model(&model.Message{}).
		Select("1").
		Where("receiver_id = ? AND acknowledged = ?", recipientID, false).
		Limit(1).
		Scan(&one).Error
	if err != nil {
		return false, fmt.Errorf("probe unread for %s: %w", recipientID, err)
	}
	return one == 1, nil
}

func (r *MessageRepository) ListInbox(ctx context.Context, recipientID string, limit, offset int) ([]*InboxEntry, int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("receiver_id = ?", recipientID).
		Count(&total).Error
	if err != nil {
		return nil, 0, fmt.Errorf("count inbox for %s: %w", recipientID, err)
	}

	var entries []*InboxEntry
	err = r.db.WithContext(ctx).
		Model(&model.Message{}).
		Select("id", "sender_id", "body", "parent_id", "root_id", "depth", "created_at").
		Where("receiver_id = ?", recipientID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list inbox for %s: %w", recipientID, err)
	}
	return entries, total, nil
}

// PurgeParticipant removes every message the identity sent or received,
// cascading to notifications and edit history, inside one transaction.
// History rows on surviving messages keep their snapshots but lose the
// editor reference, so the audit trail stays meaningful.
func (r *MessageRepository) PurgeParticipant(ctx context.Context, identity string) (*PurgeSummary, error) {
	summary := &PurgeSummary{}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&model.Message{}).
			Where("sender_id = ? OR receiver_id = ?", identity, identity).
			Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("collect messages: %w", err)
		}

		if len(ids) > 0 {
			res := tx.Where("message_id IN ?", ids).Delete(&model.Notification{})
			if res.Error != nil {
				return fmt.Errorf("purge notifications: %w", res.Error)
			}
			summary.NotificationsRemoved = res.RowsAffected

			res = tx.Where("message_id IN ?", ids).Delete(&model.MessageHistory{})
			if res.Error != nil {
				return fmt.Errorf("purge history: %w", res.Error)
			}
			summary.HistoryRemoved = res.RowsAffected
		}

		// Null out the editor on history rows the identity authored for
		// messages that survive the purge.
		if err := tx.Model(&model.MessageHistory{}).
			Where("edited_by = ?", identity).
			Update("edited_by", nil).Error; err != nil {
			return fmt.Errorf("detach editor: %w", err)
		}

		if len(ids) > 0 {
			res := tx.Where("id IN ?", ids).Delete(&model.Message{})
			if res.Error != nil {
				return fmt.Errorf("purge messages: %w", res.Error)
			}
			summary.MessagesRemoved = res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}
