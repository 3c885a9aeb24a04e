package activity

import (
	"context"
	"time"
)

// Entry is one fire-and-forget audit record. Appends never fail the
// operation that produced them.
type Entry struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

const (
	ActionConnected          = "connected"
	ActionPairCodeRequested  = "pair_code_requested"
	ActionPhoneChanged       = "phone_changed"
	ActionDisconnected       = "disconnected"
	ActionLoggedOut          = "logged_out"
	ActionAuthFailure        = "auth_failure"
	ActionReconnectScheduled = "reconnect_scheduled"
	ActionReconnectExhausted = "reconnect_exhausted"
	ActionForceReconnect     = "force_reconnect"
	ActionCampaignStarted    = "campaign_started"
	ActionCampaignPaused     = "campaign_paused"
	ActionCampaignCancelled  = "campaign_cancelled"
	ActionCampaignCompleted  = "campaign_completed"
)

type IActivityRepository interface {
	Append(ctx context.Context, accountID, action, description string) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]Entry, error)
}
