package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/marianovz/wa-blast/domains/account"
	pkgError "github.com/marianovz/wa-blast/pkg/apperror"
	"gorm.io/gorm"
)

// --- Persistence Model ---

type accountModel struct {
	ID                   string `gorm:"primaryKey"`
	Name                 string `gorm:"not null"`
	Phone                string `gorm:"index:idx_accounts_phone"`
	PushName             string
	DeviceID             string
	Status               string `gorm:"index:idx_accounts_status;default:'disconnected'"`
	QRPayload            string `gorm:"type:text"`
	LastConnectAttemptAt *time.Time
	LastConnectedAt      *time.Time
	CreatedAt            time.Time `gorm:"not null"`
	UpdatedAt            time.Time `gorm:"not null"`
}

func (accountModel) TableName() string {
	return "accounts"
}

// --- Repository Implementation ---

type AccountGormRepository struct {
	db *gorm.DB
}

func NewAccountGormRepository(db *gorm.DB) *AccountGormRepository {
	return &AccountGormRepository{db: db}
}

func (r *AccountGormRepository) InitSchema(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&accountModel{})
}

func (r *AccountGormRepository) Create(ctx context.Context, acc account.Account) error {
	if acc.ID == "" {
		acc.ID = uuid.New().String()
	}
	now := time.Now()
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}
	acc.UpdatedAt = now
	if acc.Status == "" {
		acc.Status = account.StatusDisconnected
	}

	model := toAccountModel(acc)
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *AccountGormRepository) GetByID(ctx context.Context, id string) (account.Account, error) {
	var m accountModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return account.Account{}, pkgError.NotFoundError("account not found")
		}
		return account.Account{}, err
	}
	return fromAccountModel(m), nil
}

func (r *AccountGormRepository) List(ctx context.Context) ([]account.Account, error) {
	var models []accountModel
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	accounts := make([]account.Account, len(models))
	for i, m := range models {
		accounts[i] = fromAccountModel(m)
	}
	return accounts, nil
}

func (r *AccountGormRepository) ListByStatusNot(ctx context.Context, status account.Status) ([]account.Account, error) {
	var models []accountModel
	if err := r.db.WithContext(ctx).Where("status <> ?", string(status)).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	accounts := make([]account.Account, len(models))
	for i, m := range models {
		accounts[i] = fromAccountModel(m)
	}
	return accounts, nil
}

func (r *AccountGormRepository) Update(ctx context.Context, id string, fields account.Fields) error {
	updates := map[string]interface{}{"updated_at": time.Now()}
	if fields.Status != nil {
		updates["status"] = string(*fields.Status)
	}
	if fields.QRPayload != nil {
		updates["qr_payload"] = *fields.QRPayload
	}
	if fields.Phone != nil {
		updates["phone"] = *fields.Phone
	}
	if fields.PushName != nil {
		updates["push_name"] = *fields.PushName
	}
	if fields.DeviceID != nil {
		updates["device_id"] = *fields.DeviceID
	}
	if fields.LastConnectAttemptAt != nil {
		updates["last_connect_attempt_at"] = *fields.LastConnectAttemptAt
	}
	if fields.LastConnectedAt != nil {
		updates["last_connected_at"] = *fields.LastConnectedAt
	}

	result := r.db.WithContext(ctx).Model(&accountModel{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgError.NotFoundError("account not found")
	}
	return nil
}

func (r *AccountGormRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&accountModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgError.NotFoundError("account not found")
	}
	return nil
}

// --- Mappers ---

func toAccountModel(a account.Account) accountModel {
	return accountModel{
		ID:                   a.ID,
		Name:                 a.Name,
		Phone:                a.Phone,
		PushName:             a.PushName,
		DeviceID:             a.DeviceID,
		Status:               string(a.Status),
		QRPayload:            a.QRPayload,
		LastConnectAttemptAt: a.LastConnectAttemptAt,
		LastConnectedAt:      a.LastConnectedAt,
		CreatedAt:            a.CreatedAt,
		UpdatedAt:            a.UpdatedAt,
	}
}

func fromAccountModel(m accountModel) account.Account {
	return account.Account{
		ID:                   m.ID,
		Name:                 m.Name,
		Phone:                m.Phone,
		PushName:             m.PushName,
		DeviceID:             m.DeviceID,
		Status:               account.Status(m.Status),
		QRPayload:            m.QRPayload,
		LastConnectAttemptAt: m.LastConnectAttemptAt,
		LastConnectedAt:      m.LastConnectedAt,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}
