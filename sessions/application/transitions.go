package application

import "github.com/AzielCF/az-wap-broadcast/sessions/domain/session"

// nextStatus is the session state machine. It returns the status reached after
// an event of the given kind, or false when the event is not valid in cur.
func nextStatus(cur session.Status, kind session.EventKind) (session.Status, bool) {
	switch kind {
	case session.EventCredentialChallenge:
		switch cur {
		case session.StatusInitializing, session.StatusQRPending, session.StatusConnecting:
			return session.StatusQRPending, true
		}
	case session.EventAuthenticated:
		switch cur {
		case session.StatusInitializing, session.StatusQRPending, session.StatusConnecting, session.StatusAuthenticated:
			return session.StatusAuthenticated, true
		}
	case session.EventReady:
		switch cur {
		case session.StatusInitializing, session.StatusQRPending, session.StatusAuthenticated,
			session.StatusConnecting, session.StatusConnected:
			return session.StatusConnected, true
		}
	case session.EventDisconnected:
		if cur != session.StatusDisconnected {
			return session.StatusDisconnected, true
		}
	case session.EventAuthFailed:
		if cur != session.StatusDisconnected && cur != session.StatusError {
			return session.StatusError, true
		}
	}
	return cur, false
}
