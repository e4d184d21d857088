package msgworker

import (
	"time"

	"github.com/AzielCF/az-wap-broadcast/sessions/domain/session"
)

// Task is one message to one group, processed by the delivery queue.
type Task struct {
	ID            string          `json:"id"`
	SessionID     string          `json:"session_id"`
	Owner         string          `json:"owner"`
	TargetGroupID string          `json:"target_group_id"`
	Payload       session.Payload `json:"payload"`
	CampaignID    string          `json:"campaign_id,omitempty"`
	AttemptCount  int             `json:"attempt_count"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	NotBefore     time.Time       `json:"not_before,omitempty"`
	// Spacing is the minimum gap after the previous send of the same campaign.
	Spacing time.Duration `json:"spacing,omitempty"`
}

// readyAt is the ordering key of the queue.
func (t *Task) readyAt() time.Time {
	if t.NotBefore.After(t.EnqueuedAt) {
		return t.NotBefore
	}
	return t.EnqueuedAt
}

type EnqueueRequest struct {
	SessionID     string
	Owner         string
	TargetGroupID string
	Payload       session.Payload
	CampaignID    string
	NotBefore     time.Time
	Spacing       time.Duration
}

// SessionResolver gives the queue access to live sessions. The client is
// resolved again for every task, never cached.
type SessionResolver interface {
	ResolveClient(sessionID string) (session.MessagingClient, error)
	RecordSent(sessionID string)
}
