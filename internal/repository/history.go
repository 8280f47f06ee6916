package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/threadvault/threadvault/internal/model"
)

type IHistoryRepository interface {
	Create(ctx context.Context, record *model.MessageHistory) error
	FindByMessage(ctx context.Context, messageID string) ([]*model.MessageHistory, error)
}

// HistoryRepository persists the edit audit log. Writes are pure appends;
// there is deliberately no update method.
type HistoryRepository struct {
	db *gorm.DB
}

func NewHistoryRepository(db *gorm.DB) IHistoryRepository {
	return &HistoryRepository{db: db}
}

func (r *HistoryRepository) Create(ctx context.Context, record *model.MessageHistory) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("append history for message %s: %w", record.MessageID, err)
	}
	return nil
}

// FindByMessage returns the edit history oldest first. Re-querying is safe;
// the result only ever grows at the tail.
func (r *HistoryRepository) FindByMessage(ctx context.Context, messageID string) ([]*model.MessageHistory, error) {
	var records []*model.MessageHistory
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("edited_at ASC, id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("find history for message %s: %w", messageID, err)
	}
	return records, nil
}
