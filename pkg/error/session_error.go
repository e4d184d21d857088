package error

import (
	"fmt"
	"net/http"
)

type SessionNotConnectedError string

func (err SessionNotConnectedError) Error() string {
	return string(err)
}

func (err SessionNotConnectedError) ErrCode() string {
	return "SESSION_NOT_CONNECTED"
}

func (err SessionNotConnectedError) StatusCode() int {
	return http.StatusConflict
}

// AuthenticationError means WhatsApp rejected the credentials of a session.
type AuthenticationError string

func (err AuthenticationError) Error() string {
	return string(err)
}

func (err AuthenticationError) ErrCode() string {
	return "AUTHENTICATION_FAILURE"
}

func (err AuthenticationError) StatusCode() int {
	return http.StatusUnauthorized
}

// TransientExternalError wraps a timeout or transport failure of the messaging client.
type TransientExternalError struct {
	Op  string
	Err error
}

func NewTransientError(op string, err error) *TransientExternalError {
	return &TransientExternalError{Op: op, Err: err}
}

func (err *TransientExternalError) Error() string {
	return fmt.Sprintf("%s: %v", err.Op, err.Err)
}

func (err *TransientExternalError) Unwrap() error {
	return err.Err
}

func (err *TransientExternalError) ErrCode() string {
	return "TRANSIENT_EXTERNAL_FAILURE"
}

func (err *TransientExternalError) StatusCode() int {
	return http.StatusServiceUnavailable
}

// StorageError is logged by callers; in-memory state stays authoritative.
type StorageError struct {
	Op  string
	Err error
}

func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

func (err *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", err.Op, err.Err)
}

func (err *StorageError) Unwrap() error {
	return err.Err
}

func (err *StorageError) ErrCode() string {
	return "STORAGE_FAILURE"
}

func (err *StorageError) StatusCode() int {
	return http.StatusInternalServerError
}
