package session

import (
	"context"
	"time"
)

// SessionStore persists session snapshots. Get returns (nil, nil) when absent
// and Delete does not fail on a missing snapshot. OwnerOf returns "" for an
// id no owner has persisted.
type SessionStore interface {
	Get(ctx context.Context, id, owner string) (*Snapshot, error)
	OwnerOf(ctx context.Context, id string) (string, error)
	Upsert(ctx context.Context, snap Snapshot) error
	Delete(ctx context.Context, id, owner string) error
}

type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// DeliveryRecord is the terminal outcome of one message task.
type DeliveryRecord struct {
	ID             string         `json:"id"`
	TaskID         string         `json:"task_id"`
	SessionID      string         `json:"session_id"`
	Owner          string         `json:"owner"`
	TargetGroupID  string         `json:"target_group_id"`
	PayloadSummary string         `json:"payload_summary"`
	Status         DeliveryStatus `json:"status"`
	Error          string         `json:"error,omitempty"`
	AttemptCount   int            `json:"attempt_count"`
	CampaignID     string         `json:"campaign_id,omitempty"`
	MessageID      string         `json:"message_id,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

type DeliveryLogStore interface {
	Append(ctx context.Context, rec DeliveryRecord) error
}

// DeliveryLogReader is implemented by stores that can serve delivery history.
type DeliveryLogReader interface {
	ListBySession(ctx context.Context, sessionID, owner string, limit int) ([]DeliveryRecord, error)
}
