package session

import (
	"context"
	"time"
)

// EventKind enumerates the lifecycle signals a messaging client can emit.
type EventKind string

const (
	EventCredentialChallenge EventKind = "credential_challenge"
	EventAuthenticated       EventKind = "authenticated"
	EventReady               EventKind = "ready"
	EventDisconnected        EventKind = "disconnected"
	EventAuthFailed          EventKind = "auth_failed"
)

// ClientEvent is the inbound message consumed by the session state machine.
type ClientEvent struct {
	Kind     EventKind
	QR       string    // raw challenge for EventCredentialChallenge
	Identity *Identity // EventReady
	Reason   string    // EventDisconnected, EventAuthFailed
	At       time.Time
}

// EventSink receives events in emission order for one client.
type EventSink func(ClientEvent)

// MediaRef points at a file already stored by the upload layer. Requests carry
// the bare reference returned by the upload; queued tasks carry the resolved path.
type MediaRef struct {
	Path     string `json:"path"`
	MimeType string `json:"mime_type,omitempty"`
	FileName string `json:"file_name,omitempty"`
}

type Payload struct {
	Text  string    `json:"text"`
	Media *MediaRef `json:"media,omitempty"`
}

// Summary is the short form stored in delivery logs.
func (p Payload) Summary() string {
	const maxSummary = 120
	text := []rune(p.Text)
	summary := string(text)
	if len(text) > maxSummary {
		summary = string(text[:maxSummary]) + "…"
	}
	if p.Media != nil {
		name := p.Media.FileName
		if name == "" {
			name = p.Media.Path
		}
		if summary == "" {
			return "[media] " + name
		}
		return "[media] " + name + " | " + summary
	}
	return summary
}

type Receipt struct {
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

// MessagingClient is one live WhatsApp connection. Lifecycle calls are only
// made by the session manager; the delivery queue only calls Send.
type MessagingClient interface {
	// Start begins connecting. Progress is reported through the EventSink.
	Start(ctx context.Context) error
	ListGroups(ctx context.Context) ([]Group, error)
	Send(ctx context.Context, target string, payload Payload) (Receipt, error)
	// Destroy closes the connection and keeps the linked device for a later fast path.
	Destroy(ctx context.Context) error
	// Logout unlinks the device and removes its credentials.
	Logout(ctx context.Context) error
}

// ClientSpec identifies the device a client is built for. Credentials are
// namespaced by Owner and SessionID; DeviceJID is empty until the first pairing.
type ClientSpec struct {
	SessionID string
	Owner     string
	DeviceJID string
}

// ClientFactory builds a client for a session. It must not block on network IO.
type ClientFactory func(spec ClientSpec, sink EventSink) (MessagingClient, error)
