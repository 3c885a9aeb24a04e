package account

import (
	"context"
	"time"

	"github.com/marianovz/wa-blast/domains/activity"
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusError        Status = "error"
)

// Account is one externally-paired messaging identity, managed
// independently of all others.
type Account struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	Phone                string     `json:"phone,omitempty"`
	PushName             string     `json:"push_name,omitempty"`
	DeviceID             string     `json:"device_id,omitempty"`
	Status               Status     `json:"status"`
	QRPayload            string     `json:"qr_payload,omitempty"`
	LastConnectAttemptAt *time.Time `json:"last_connect_attempt_at,omitempty"`
	LastConnectedAt      *time.Time `json:"last_connected_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

type CreateAccountRequest struct {
	Name string `json:"name" form:"name"`
}

// Fields holds a partial update; nil pointers are left untouched.
type Fields struct {
	Status               *Status
	QRPayload            *string
	Phone                *string
	PushName             *string
	DeviceID             *string
	LastConnectAttemptAt *time.Time
	LastConnectedAt      *time.Time
}

type IAccountRepository interface {
	Create(ctx context.Context, acc Account) error
	GetByID(ctx context.Context, id string) (Account, error)
	List(ctx context.Context) ([]Account, error)
	// ListByStatusNot returns every account whose status differs from the
	// given one. Used by the startup reconnect batch.
	ListByStatusNot(ctx context.Context, status Status) ([]Account, error)
	Update(ctx context.Context, id string, fields Fields) error
	Delete(ctx context.Context, id string) error
}

// ConnectionState is the externally visible connection health signal.
type ConnectionState struct {
	AccountID   string `json:"account_id"`
	Connected   bool   `json:"connected"`
	Status      Status `json:"status"`
	QRPayload   string `json:"qr_payload,omitempty"`
	LastSeen    string `json:"last_seen,omitempty"`
	RetryBudget int    `json:"retry_budget"`
}

// IAccountUsecase covers account bookkeeping. Connection lifecycle lives in
// ISessionUsecase.
type IAccountUsecase interface {
	Create(ctx context.Context, request CreateAccountRequest) (Account, error)
	Get(ctx context.Context, id string) (Account, error)
	List(ctx context.Context) ([]Account, error)
	// Delete tears the live session down, purges its persisted artifacts
	// and removes the account record.
	Delete(ctx context.Context, id string) error
	ActivityLog(ctx context.Context, id string, limit int) ([]activity.Entry, error)
}

// ISessionUsecase is the session lifecycle manager surface exposed to the
// request layer and to the campaign dispatcher.
type ISessionUsecase interface {
	Connect(ctx context.Context, accountID string) error
	Disconnect(ctx context.Context, accountID string) error
	ForceReconnect(ctx context.Context, accountID string) error
	DisconnectAll(ctx context.Context)
	ConnectAllOnStartup(ctx context.Context)
	GetStatus(ctx context.Context, accountID string) (ConnectionState, error)
	// PairCode requests a phone-number pairing code while the account is
	// mid pairing, as an alternative to scanning the QR.
	PairCode(ctx context.Context, accountID, phone string) (string, error)
	Send(ctx context.Context, accountID, target string, content SendContent) (SendResult, error)
}

type SendContent struct {
	Body     string
	MediaRef string
}

type SendResult struct {
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}
