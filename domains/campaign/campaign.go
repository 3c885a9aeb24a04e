package campaign

import (
	"context"
	"time"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageSent      MessageStatus = "sent"
	MessageFailed    MessageStatus = "failed"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
)

// Campaign is a bulk-send job targeting a fixed set of pre-rendered
// messages for one account. Membership is snapshotted at creation time and
// immutable afterwards; the dispatcher only touches message statuses.
type Campaign struct {
	ID           string     `json:"id"`
	AccountID    string     `json:"account_id"`
	Name         string     `json:"name"`
	Status       Status     `json:"status"`
	DelaySeconds int        `json:"delay_seconds"`
	SentCount    int        `json:"sent_count"`
	FailedCount  int        `json:"failed_count"`
	ScheduledAt  *time.Time `json:"scheduled_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type Message struct {
	ID         string        `json:"id"`
	CampaignID string        `json:"campaign_id"`
	Phone      string        `json:"phone"`
	Body       string        `json:"body"`
	MediaRef   string        `json:"media_ref,omitempty"`
	Status     MessageStatus `json:"status"`
	Error      string        `json:"error,omitempty"`
	WireID     string        `json:"wire_id,omitempty"`
	SentAt     *time.Time    `json:"sent_at,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

type CreateCampaignRequest struct {
	AccountID    string                 `json:"account_id" form:"account_id"`
	Name         string                 `json:"name" form:"name"`
	DelaySeconds int                    `json:"delay_seconds" form:"delay_seconds"`
	ScheduledAt  *time.Time             `json:"scheduled_at,omitempty"`
	Messages     []CreateMessageRequest `json:"messages"`
}

type CreateMessageRequest struct {
	Phone    string `json:"phone"`
	Body     string `json:"body"`
	MediaRef string `json:"media_ref,omitempty"`
}

// Stats aggregates message counts per status for one campaign.
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Delivered int `json:"delivered"`
	Read      int `json:"read"`
}

type Fields struct {
	Status      *Status
	CompletedAt *time.Time
}

type MessageFields struct {
	Status *MessageStatus
	Error  *string
	WireID *string
	SentAt *time.Time
}

type ICampaignRepository interface {
	Create(ctx context.Context, c Campaign, msgs []Message) error
	GetByID(ctx context.Context, id string) (Campaign, error)
	List(ctx context.Context) ([]Campaign, error)
	// ListDue returns draft campaigns whose scheduled_at is at or before
	// the given instant.
	ListDue(ctx context.Context, now time.Time) ([]Campaign, error)
	Update(ctx context.Context, id string, fields Fields) error
	// IncrementCounters atomically adds the per-run tallies to the
	// campaign's cumulative counters.
	IncrementCounters(ctx context.Context, id string, sent, failed int) error

	ListMessages(ctx context.Context, campaignID string, status MessageStatus) ([]Message, error)
	CountMessages(ctx context.Context, campaignID string, status MessageStatus) (int64, error)
	UpdateMessage(ctx context.Context, id string, fields MessageFields) error
	// UpdateMessageStatusByWireID applies delivery receipts; unknown wire
	// IDs are ignored.
	UpdateMessageStatusByWireID(ctx context.Context, wireIDs []string, status MessageStatus) error
	Stats(ctx context.Context, campaignID string) (Stats, error)
}

type ICampaignUsecase interface {
	Create(ctx context.Context, request CreateCampaignRequest) (Campaign, error)
	Get(ctx context.Context, id string) (Campaign, Stats, error)
	List(ctx context.Context) ([]Campaign, error)
	// RunCampaign drives one synchronous dispatch pass. Callers normally go
	// through StartOrResume, which runs it in the background.
	RunCampaign(ctx context.Context, id string) error
	StartOrResume(ctx context.Context, id string) error
	Pause(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error
	// DispatchDue starts every scheduled campaign whose time has come.
	// Invoked periodically by the scheduler.
	DispatchDue(ctx context.Context) error
}
