package broadcast

import (
	"context"

	"github.com/AzielCF/az-wap-broadcast/pkg/msgworker"
	"github.com/AzielCF/az-wap-broadcast/sessions/domain/session"
)

type SendMessageRequest struct {
	SessionID string            `json:"-"`
	Owner     string            `json:"-"`
	GroupID   string            `json:"group_id"`
	Text      string            `json:"text"`
	Media     *session.MediaRef `json:"media,omitempty"`
}

type SendMessageResponse struct {
	TaskID    string `json:"task_id"`
	SessionID string `json:"session_id"`
	GroupID   string `json:"group_id"`
}

// BulkSendRequest starts a campaign. When GroupIDs is empty and UseSelected is
// set, the groups selected in the session are targeted.
type BulkSendRequest struct {
	SessionID   string            `json:"-"`
	Owner       string            `json:"-"`
	GroupIDs    []string          `json:"group_ids"`
	UseSelected bool              `json:"use_selected"`
	Text        string            `json:"text"`
	Media       *session.MediaRef `json:"media,omitempty"`
	DelayMs     *int              `json:"delay_ms,omitempty"`
}

type BulkSendResponse struct {
	CampaignID        string   `json:"campaign_id"`
	SessionID         string   `json:"session_id"`
	Total             int      `json:"total"`
	TaskIDs           []string `json:"task_ids"`
	EstimatedDuration string   `json:"estimated_duration"`
}

type IBroadcastUsecase interface {
	SendMessage(ctx context.Context, request SendMessageRequest) (SendMessageResponse, error)
	SendBulk(ctx context.Context, request BulkSendRequest) (BulkSendResponse, error)
	GetCampaign(ctx context.Context, owner, campaignID string) (*msgworker.Campaign, error)
	ListDeliveries(ctx context.Context, owner, sessionID string, limit int) ([]session.DeliveryRecord, error)
}
