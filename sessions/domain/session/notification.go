package session

import "time"

type NotificationCode string

const (
	NotifySessionUpdate     NotificationCode = "session-update"
	NotifyQRCode            NotificationCode = "qr-code"
	NotifyGroupsData        NotificationCode = "groups-data"
	NotifyGroupsError       NotificationCode = "groups-error"
	NotifyGroupUpdate       NotificationCode = "group-update"
	NotifySessionError      NotificationCode = "session-error"
	NotifyMessageSent       NotificationCode = "message-sent"
	NotifyMessageFailed     NotificationCode = "message-failed"
	NotifyCampaignProgress  NotificationCode = "bulk-message-progress"
	NotifyCampaignCompleted NotificationCode = "bulk-message-completed"
)

// Notification is a fire-and-forget event for the UI. Delivery is at most once.
type Notification struct {
	Code      NotificationCode `json:"code"`
	SessionID string           `json:"session_id,omitempty"`
	Owner     string           `json:"owner,omitempty"`
	Status    Status           `json:"status,omitempty"`
	Message   string           `json:"message,omitempty"`
	CanRetry  bool             `json:"can_retry,omitempty"`
	Data      any              `json:"data,omitempty"`
	At        time.Time        `json:"at"`
}

type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) Notify(Notification) {}
