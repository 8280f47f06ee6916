package service

import (
	"context"
	"fmt"

	"github.com/threadvault/threadvault/internal/domain"
	"github.com/threadvault/threadvault/internal/model"
	"github.com/threadvault/threadvault/internal/repository"
)

const defaultNotificationLimit = 20

type INotificationService interface {
	ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]*model.Notification, error)
	AcknowledgeNotification(ctx context.Context, notificationID, recipientID string) error
}

// NotificationService exposes the recipient-facing notification queries.
// Notification rows themselves are only ever created by the Notifier.
type NotificationService struct {
	notificationRepo repository.INotificationRepository
}

func NewNotificationService(notificationRepo repository.INotificationRepository) INotificationService {
	return &NotificationService{notificationRepo: notificationRepo}
}

func (s *NotificationService) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]*model.Notification, error) {
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	if limit > 100 {
		limit = 100
	}
	notifications, err := s.notificationRepo.ListByRecipient(ctx, recipientID, unreadOnly, limit)
	if err != nil {
		return nil, mapStorageErr(err)
	}
	return notifications, nil
}

// AcknowledgeNotification marks a notification read by its recipient.
// Idempotent, like message acknowledgement.
func (s *NotificationService) AcknowledgeNotification(ctx context.Context, notificationID, recipientID string) error {
	notification, err := s.notificationRepo.FindByID(ctx, notificationID)
	if err != nil {
		return mapStorageErr(err)
	}
	if notification.RecipientID != recipientID {
		return fmt.Errorf("only the recipient may acknowledge a notification: %w", domain.ErrForbidden)
	}
	if notification.Acknowledged {
		return nil
	}
	if err := s.notificationRepo.MarkAcknowledged(ctx, notificationID); err != nil {
		return mapStorageErr(err)
	}
	return nil
}
