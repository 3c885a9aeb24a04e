package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/marianovz/wa-blast/domains/campaign"
	pkgError "github.com/marianovz/wa-blast/pkg/apperror"
	"gorm.io/gorm"
)

// --- Persistence Models ---

type campaignModel struct {
	ID           string `gorm:"primaryKey"`
	AccountID    string `gorm:"index:idx_campaigns_account;not null"`
	Name         string `gorm:"not null"`
	Status       string `gorm:"index:idx_campaigns_status;default:'draft'"`
	DelaySeconds int    `gorm:"default:0"`
	SentCount    int    `gorm:"default:0"`
	FailedCount  int    `gorm:"default:0"`
	ScheduledAt  *time.Time
	CompletedAt  *time.Time
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (campaignModel) TableName() string {
	return "campaigns"
}

type campaignMessageModel struct {
	ID         string `gorm:"primaryKey"`
	CampaignID string `gorm:"index:idx_campaign_messages_campaign,priority:1;not null"`
	Phone      string `gorm:"not null"`
	Body       string `gorm:"type:text;not null"`
	MediaRef   string
	Status     string `gorm:"index:idx_campaign_messages_campaign,priority:2;default:'pending'"`
	Error      string `gorm:"type:text"`
	WireID     string `gorm:"index:idx_campaign_messages_wire"`
	SentAt     *time.Time
	CreatedAt  time.Time `gorm:"not null"`
}

func (campaignMessageModel) TableName() string {
	return "campaign_messages"
}

// --- Repository Implementation ---

type CampaignGormRepository struct {
	db *gorm.DB
}

func NewCampaignGormRepository(db *gorm.DB) *CampaignGormRepository {
	return &CampaignGormRepository{db: db}
}

func (r *CampaignGormRepository) InitSchema(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&campaignModel{}, &campaignMessageModel{})
}

// Create stores the campaign and its message snapshot in one transaction.
// Membership is fixed at this point; the dispatcher never inserts messages.
func (r *CampaignGormRepository) Create(ctx context.Context, c campaign.Campaign, msgs []campaign.Message) error {
	now := time.Now()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = campaign.StatusDraft
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cm := toCampaignModel(c)
		if err := tx.Create(&cm).Error; err != nil {
			return err
		}

		if len(msgs) == 0 {
			return nil
		}

		models := make([]campaignMessageModel, len(msgs))
		for i, m := range msgs {
			if m.ID == "" {
				m.ID = uuid.New().String()
			}
			if m.CreatedAt.IsZero() {
				m.CreatedAt = now
			}
			m.CampaignID = c.ID
			if m.Status == "" {
				m.Status = campaign.MessagePending
			}
			models[i] = toCampaignMessageModel(m)
		}
		return tx.CreateInBatches(models, 200).Error
	})
}

func (r *CampaignGormRepository) GetByID(ctx context.Context, id string) (campaign.Campaign, error) {
	var m campaignModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return campaign.Campaign{}, pkgError.NotFoundError("campaign not found")
		}
		return campaign.Campaign{}, err
	}
	return fromCampaignModel(m), nil
}

func (r *CampaignGormRepository) List(ctx context.Context) ([]campaign.Campaign, error) {
	var models []campaignModel
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}

	campaigns := make([]campaign.Campaign, len(models))
	for i, m := range models {
		campaigns[i] = fromCampaignModel(m)
	}
	return campaigns, nil
}

func (r *CampaignGormRepository) ListDue(ctx context.Context, now time.Time) ([]campaign.Campaign, error) {
	var models []campaignModel
	if err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?", string(campaign.StatusDraft), now).
		Order("scheduled_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	campaigns := make([]campaign.Campaign, len(models))
	for i, m := range models {
		campaigns[i] = fromCampaignModel(m)
	}
	return campaigns, nil
}

func (r *CampaignGormRepository) Update(ctx context.Context, id string, fields campaign.Fields) error {
	updates := map[string]interface{}{"updated_at": time.Now()}
	if fields.Status != nil {
		updates["status"] = string(*fields.Status)
	}
	if fields.CompletedAt != nil {
		updates["completed_at"] = *fields.CompletedAt
	}

	result := r.db.WithContext(ctx).Model(&campaignModel{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgError.NotFoundError("campaign not found")
	}
	return nil
}

func (r *CampaignGormRepository) IncrementCounters(ctx context.Context, id string, sent, failed int) error {
	return r.db.WithContext(ctx).Model(&campaignModel{}).Where("id = ?", id).Updates(map[string]interface{}{
		"sent_count":   gorm.Expr("sent_count + ?", sent),
		"failed_count": gorm.Expr("failed_count + ?", failed),
		"updated_at":   time.Now(),
	}).Error
}

func (r *CampaignGormRepository) ListMessages(ctx context.Context, campaignID string, status campaign.MessageStatus) ([]campaign.Message, error) {
	query := r.db.WithContext(ctx).Where("campaign_id = ?", campaignID)
	if status != "" {
		query = query.Where("status = ?", string(status))
	}

	var models []campaignMessageModel
	if err := query.Order("created_at ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	msgs := make([]campaign.Message, len(models))
	for i, m := range models {
		msgs[i] = fromCampaignMessageModel(m)
	}
	return msgs, nil
}

func (r *CampaignGormRepository) CountMessages(ctx context.Context, campaignID string, status campaign.MessageStatus) (int64, error) {
	query := r.db.WithContext(ctx).Model(&campaignMessageModel{}).Where("campaign_id = ?", campaignID)
	if status != "" {
		query = query.Where("status = ?", string(status))
	}

	var count int64
	err := query.Count(&count).Error
	return count, err
}

func (r *CampaignGormRepository) UpdateMessage(ctx context.Context, id string, fields campaign.MessageFields) error {
	updates := map[string]interface{}{}
	if fields.Status != nil {
		updates["status"] = string(*fields.Status)
	}
	if fields.Error != nil {
		updates["error"] = *fields.Error
	}
	if fields.WireID != nil {
		updates["wire_id"] = *fields.WireID
	}
	if fields.SentAt != nil {
		updates["sent_at"] = *fields.SentAt
	}
	if len(updates) == 0 {
		return nil
	}

	result := r.db.WithContext(ctx).Model(&campaignMessageModel{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgError.NotFoundError("campaign message not found")
	}
	return nil
}

// UpdateMessageStatusByWireID applies delivery receipts. Read never
// downgrades to delivered when acknowledgements arrive out of order.
func (r *CampaignGormRepository) UpdateMessageStatusByWireID(ctx context.Context, wireIDs []string, status campaign.MessageStatus) error {
	if len(wireIDs) == 0 {
		return nil
	}

	query := r.db.WithContext(ctx).Model(&campaignMessageModel{}).Where("wire_id IN ?", wireIDs)
	if status == campaign.MessageDelivered {
		query = query.Where("status = ?", string(campaign.MessageSent))
	} else {
		query = query.Where("status IN ?", []string{string(campaign.MessageSent), string(campaign.MessageDelivered)})
	}
	return query.Update("status", string(status)).Error
}

func (r *CampaignGormRepository) Stats(ctx context.Context, campaignID string) (campaign.Stats, error) {
	var results []struct {
		Status string
		Count  int
	}
	if err := r.db.WithContext(ctx).Model(&campaignMessageModel{}).
		Select("status, count(*) as count").
		Where("campaign_id = ?", campaignID).
		Group("status").
		Scan(&results).Error; err != nil {
		return campaign.Stats{}, err
	}

	var stats campaign.Stats
	for _, row := range results {
		stats.Total += row.Count
		switch campaign.MessageStatus(row.Status) {
		case campaign.MessagePending:
			stats.Pending = row.Count
		case campaign.MessageSent:
			stats.Sent = row.Count
		case campaign.MessageFailed:
			stats.Failed = row.Count
		case campaign.MessageDelivered:
			stats.Delivered = row.Count
		case campaign.MessageRead:
			stats.Read = row.Count
		}
	}
	return stats, nil
}

// --- Mappers ---

func toCampaignModel(c campaign.Campaign) campaignModel {
	return campaignModel{
		ID:           c.ID,
		AccountID:    c.AccountID,
		Name:         c.Name,
		Status:       string(c.Status),
		DelaySeconds: c.DelaySeconds,
		SentCount:    c.SentCount,
		FailedCount:  c.FailedCount,
		ScheduledAt:  c.ScheduledAt,
		CompletedAt:  c.CompletedAt,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func fromCampaignModel(m campaignModel) campaign.Campaign {
	return campaign.Campaign{
		ID:           m.ID,
		AccountID:    m.AccountID,
		Name:         m.Name,
		Status:       campaign.Status(m.Status),
		DelaySeconds: m.DelaySeconds,
		SentCount:    m.SentCount,
		FailedCount:  m.FailedCount,
		ScheduledAt:  m.ScheduledAt,
		CompletedAt:  m.CompletedAt,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func toCampaignMessageModel(m campaign.Message) campaignMessageModel {
	return campaignMessageModel{
		ID:         m.ID,
		CampaignID: m.CampaignID,
		Phone:      m.Phone,
		Body:       m.Body,
		MediaRef:   m.MediaRef,
		Status:     string(m.Status),
		Error:      m.Error,
		WireID:     m.WireID,
		SentAt:     m.SentAt,
		CreatedAt:  m.CreatedAt,
	}
}

func fromCampaignMessageModel(m campaignMessageModel) campaign.Message {
	return campaign.Message{
		ID:         m.ID,
		CampaignID: m.CampaignID,
		Phone:      m.Phone,
		Body:       m.Body,
		MediaRef:   m.MediaRef,
		Status:     campaign.MessageStatus(m.Status),
		Error:      m.Error,
		WireID:     m.WireID,
		SentAt:     m.SentAt,
		CreatedAt:  m.CreatedAt,
	}
}
