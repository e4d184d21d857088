package session

import (
	"sort"
	"time"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusInitializing  Status = "initializing"
	StatusQRPending     Status = "qr_pending"
	StatusAuthenticated Status = "authenticated"
	StatusConnecting    Status = "connecting"
	StatusConnected     Status = "connected"
	StatusDisconnected  Status = "disconnected"
	StatusError         Status = "error"
)

// Health describes the live client behind a session. Only the lifecycle manager writes it.
type Health string

const (
	HealthNone     Health = "none"
	HealthStarting Health = "starting"
	HealthAlive    Health = "alive"
	HealthDead     Health = "dead"
)

// Identity is the WhatsApp account bound to a connected session.
type Identity struct {
	User        string `json:"user"`
	DisplayName string `json:"display_name"`
	Platform    string `json:"platform"`
	DeviceJID   string `json:"device_jid,omitempty"` // linked device, resolves the credentials on resume
}

// Group is a send target owned by a session.
type Group struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	ParticipantCount int       `json:"participant_count"`
	LastActivity     time.Time `json:"last_activity"`
	UnreadCount      int       `json:"unread_count"`
	IsSelected       bool      `json:"is_selected"`
}

type Counters struct {
	MessagesSent int64 `json:"messages_sent"`
	Reconnects   int64 `json:"reconnects"`
	Errors       int64 `json:"errors"`
}

// Session is the in-memory record of one automation identity.
type Session struct {
	ID           string    `json:"id"`
	Owner        string    `json:"owner"`
	Status       Status    `json:"status"`
	Health       Health    `json:"health"`
	Identity     *Identity `json:"identity,omitempty"`
	Groups       []Group   `json:"groups"`
	GroupsLoaded bool      `json:"groups_loaded"`
	Counters     Counters  `json:"counters"`
	QRCode       string    `json:"qr_code,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	LastErrorAt  time.Time `json:"last_error_at,omitempty"`
	LastActivity time.Time `json:"last_activity"`
	CreatedAt    time.Time `json:"created_at"`
}

// Clone returns a deep copy safe to hand outside the manager lock.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Identity != nil {
		id := *s.Identity
		out.Identity = &id
	}
	out.Groups = CloneGroups(s.Groups)
	return &out
}

// SelectedGroups returns the ids of groups flagged in the UI.
func (s *Session) SelectedGroups() []string {
	var ids []string
	for _, g := range s.Groups {
		if g.IsSelected {
			ids = append(ids, g.ID)
		}
	}
	return ids
}

// Snapshot projects the persistable part of the session.
func (s *Session) Snapshot() Snapshot {
	c := s.Clone()
	return Snapshot{
		ID:           c.ID,
		Owner:        c.Owner,
		Status:       c.Status,
		Identity:     c.Identity,
		Groups:       c.Groups,
		GroupsLoaded: c.GroupsLoaded,
		Counters:     c.Counters,
		LastError:    c.LastError,
		LastErrorAt:  c.LastErrorAt,
		LastActivity: c.LastActivity,
		CreatedAt:    c.CreatedAt,
	}
}

// Snapshot is the durable form of a Session. QR artifacts, health and the
// client handle are never persisted.
type Snapshot struct {
	ID           string    `json:"id"`
	Owner        string    `json:"owner"`
	Status       Status    `json:"status"`
	Identity     *Identity `json:"identity,omitempty"`
	Groups       []Group   `json:"groups"`
	GroupsLoaded bool      `json:"groups_loaded"`
	Counters     Counters  `json:"counters"`
	LastError    string    `json:"last_error,omitempty"`
	LastErrorAt  time.Time `json:"last_error_at,omitempty"`
	LastActivity time.Time `json:"last_activity"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Restore rebuilds an in-memory session from a snapshot.
func (snap Snapshot) Restore() *Session {
	s := &Session{
		ID:           snap.ID,
		Owner:        snap.Owner,
		Status:       snap.Status,
		Health:       HealthNone,
		Identity:     snap.Identity,
		Groups:       snap.Groups,
		GroupsLoaded: snap.GroupsLoaded,
		Counters:     snap.Counters,
		LastError:    snap.LastError,
		LastErrorAt:  snap.LastErrorAt,
		LastActivity: snap.LastActivity,
		CreatedAt:    snap.CreatedAt,
	}
	return s.Clone()
}

func CloneGroups(groups []Group) []Group {
	if groups == nil {
		return nil
	}
	out := make([]Group, len(groups))
	copy(out, groups)
	return out
}

// SortByActivity orders groups by most recent activity first, then by name.
func SortByActivity(groups []Group) {
	sort.SliceStable(groups, func(i, j int) bool {
		if !groups[i].LastActivity.Equal(groups[j].LastActivity) {
			return groups[i].LastActivity.After(groups[j].LastActivity)
		}
		return groups[i].Name < groups[j].Name
	})
}
