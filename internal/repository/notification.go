package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/threadvault/threadvault/internal/domain"
	"github.com/threadvault/threadvault/internal/model"
)

type INotificationRepository interface {
	Create(ctx context.Context, notification *model.Notification) error
	FindByID(ctx context.Context, id string) (*model.Notification, error)
	ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]*model.Notification, error)
	MarkAcknowledged(ctx context.Context, id string) error
	ExistsForEvent(ctx context.Context, recipientID, messageID string, kind model.NotificationKind) (bool, error)
}

type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) INotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, notification *model.Notification) error {
	if err := r.db.WithContext(ctx).Create(notification).Error; err != nil {
		return fmt.Errorf("create notification for %s: %w", notification.RecipientID, err)
	}
	return nil
}

func (r *NotificationRepository) FindByID(ctx context.Context, id string) (*model.Notification, error) {
	var notification model.Notification
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&notification).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find notification %s: %w", id, err)
	}
	return &notification, nil
}

func (r *NotificationRepository) ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]*model.Notification, error) {
	query := r.db.WithContext(ctx).Where("recipient_id = ?", recipientID)
	if unreadOnly {
		query = query.Where("acknowledged = ?", false)
	}

	var notifications []*model.Notification
	err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&notifications).Error
	if err != nil {
		return nil, fmt.Errorf("list notifications for %s: %w", recipientID, err)
	}
	return notifications, nil
}

func (r *NotificationRepository) MarkAcknowledged(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("id = ?", id).
		Update("acknowledged", true).Error
	if err != nil {
		return fmt.Errorf("acknowledge notification %s: %w", id, err)
	}
	return nil
}

// ExistsForEvent backs the fan-out dedupe: at most one notification per
// (recipient, message, kind) for a single triggering event.
func (r *NotificationRepository) ExistsForEvent(ctx context.Context, recipientID, messageID string, kind model.NotificationKind) (bool, error) {
	var one int
	err := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Select("1").
		Where("recipient_id = ? AND message_id = ? AND kind = ?", recipientID, messageID, kind).
		Limit(1).
		Scan(&one).Error
	if err != nil {
		return false, fmt.Errorf("probe notification: %w", err)
	}
	return one == 1, nil
}
