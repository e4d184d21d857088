package error

import (
	"errors"
	"strings"
)

// GenericError is implemented by every typed error the REST layer knows how to render.
type GenericError interface {
	Error() string
	ErrCode() string
	StatusCode() int
}

var (
	ErrSessionNotFound     = SessionNotFoundError("session not found")
	ErrSessionNotConnected = SessionNotConnectedError("session not connected")
	ErrNoGroupsSelected    = CampaignConfigurationError("No groups selected")
)

// connectionLostMarkers are substrings reported by the transport when the socket is gone.
var connectionLostMarkers = []string{
	"target closed",
	"protocol error",
	"connection refused",
	"connection reset",
	"websocket disconnected",
	"websocket not connected",
	"broken pipe",
	"unexpected eof",
}

// CanRetry tells whether the operation that produced err may succeed on a later attempt.
func CanRetry(err error) bool {
	if err == nil {
		return false
	}
	var transient *TransientExternalError
	if errors.As(err, &transient) {
		return true
	}
	var auth AuthenticationError
	if errors.As(err, &auth) {
		return true
	}
	var notConnected SessionNotConnectedError
	if errors.As(err, &notConnected) {
		return false
	}
	var notFound SessionNotFoundError
	if errors.As(err, &notFound) {
		return false
	}
	var cfg CampaignConfigurationError
	if errors.As(err, &cfg) {
		return false
	}
	var validation ValidationError
	return !errors.As(err, &validation)
}

// IsConnectionLost reports errors that mean the underlying client socket is gone
// and the session should go back to a reconnect-eligible state.
func IsConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range connectionLostMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
