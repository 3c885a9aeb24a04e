package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/marianovz/wa-blast/domains/activity"
	"gorm.io/gorm"
)

type activityModel struct {
	ID          string    `gorm:"primaryKey"`
	AccountID   string    `gorm:"index:idx_activity_account;not null"`
	Action      string    `gorm:"not null"`
	Description string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"index:idx_activity_created;not null"`
}

func (activityModel) TableName() string {
	return "activity_log"
}

type ActivityGormRepository struct {
	db *gorm.DB
}

func NewActivityGormRepository(db *gorm.DB) *ActivityGormRepository {
	return &ActivityGormRepository{db: db}
}

func (r *ActivityGormRepository) InitSchema(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&activityModel{})
}

func (r *ActivityGormRepository) Append(ctx context.Context, accountID, action, description string) error {
	model := activityModel{
		ID:          uuid.New().String(),
		AccountID:   accountID,
		Action:      action,
		Description: description,
		CreatedAt:   time.Now(),
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *ActivityGormRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]activity.Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	var models []activityModel
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	entries := make([]activity.Entry, len(models))
	for i, m := range models {
		entries[i] = activity.Entry{
			ID:          m.ID,
			AccountID:   m.AccountID,
			Action:      m.Action,
			Description: m.Description,
			CreatedAt:   m.CreatedAt,
		}
	}
	return entries, nil
}
