package adapter

import (
	"fmt"
	"time"

	"github.com/AzielCF/az-wap-broadcast/sessions/domain/session"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"
)

const qrExpiredReason = "QR expired"

// mapEvent translates a whatsmeow event into a lifecycle event. Events the
// session manager does not care about report false.
func mapEvent(raw interface{}) (session.ClientEvent, bool) {
	now := time.Now()
	switch evt := raw.(type) {
	case *events.PairSuccess:
		return session.ClientEvent{Kind: session.EventAuthenticated, At: now}, true
	case *events.Connected:
		// Identity is filled by the caller from the device store.
		return session.ClientEvent{Kind: session.EventReady, At: now}, true
	case *events.LoggedOut:
		return session.ClientEvent{
			Kind:   session.EventAuthFailed,
			Reason: fmt.Sprintf("logged out: %s", evt.Reason.String()),
			At:     now,
		}, true
	case *events.TemporaryBan:
		return session.ClientEvent{Kind: session.EventAuthFailed, Reason: evt.String(), At: now}, true
	case *events.ClientOutdated:
		return session.ClientEvent{Kind: session.EventAuthFailed, Reason: "client outdated", At: now}, true
	case *events.ConnectFailure:
		if evt.Reason.IsLoggedOut() {
			return session.ClientEvent{
				Kind:   session.EventAuthFailed,
				Reason: fmt.Sprintf("connect failure: %s", evt.Reason.String()),
				At:     now,
			}, true
		}
		return session.ClientEvent{
			Kind:   session.EventDisconnected,
			Reason: fmt.Sprintf("connect failure: %s %s", evt.Reason.String(), evt.Message),
			At:     now,
		}, true
	case *events.StreamReplaced:
		return session.ClientEvent{Kind: session.EventDisconnected, Reason: "stream replaced", At: now}, true
	case *events.Disconnected:
		return session.ClientEvent{Kind: session.EventDisconnected, Reason: "websocket disconnected", At: now}, true
	}
	return session.ClientEvent{}, false
}

// mapQRItem translates one item of the pairing channel.
func mapQRItem(item whatsmeow.QRChannelItem) (session.ClientEvent, bool) {
	now := time.Now()
	switch item.Event {
	case whatsmeow.QRChannelEventCode:
		return session.ClientEvent{Kind: session.EventCredentialChallenge, QR: item.Code, At: now}, true
	case whatsmeow.QRChannelSuccess.Event:
		// PairSuccess arrives through the event handler.
		return session.ClientEvent{}, false
	case whatsmeow.QRChannelTimeout.Event:
		return session.ClientEvent{Kind: session.EventAuthFailed, Reason: qrExpiredReason, At: now}, true
	case whatsmeow.QRChannelEventError:
		reason := "pairing failed"
		if item.Error != nil {
			reason = fmt.Sprintf("pairing failed: %v", item.Error)
		}
		return session.ClientEvent{Kind: session.EventAuthFailed, Reason: reason, At: now}, true
	}
	return session.ClientEvent{Kind: session.EventAuthFailed, Reason: "pairing failed: " + item.Event, At: now}, true
}
