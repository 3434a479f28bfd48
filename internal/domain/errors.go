package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTokenMissing is returned when an operation needs a bearer token and has none.
	ErrTokenMissing = errors.New("bearer token missing")
	// ErrTokenExpired is returned when the bearer token is past its expiry.
	ErrTokenExpired = errors.New("bearer token expired")
	// ErrNotConnected is returned when a send is attempted on a channel that is not open.
	ErrNotConnected = errors.New("realtime channel not connected")
	// ErrInvalidInput is returned for caller mistakes such as an empty conversation id.
	ErrInvalidInput = errors.New("invalid input")
)

// AuthError means the credential is unusable; callers force a sign-out.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth: %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// FetchError is a failed one-shot REST call. Message carries the server's
// own text when it sent one.
type FetchError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *FetchError) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("fetch: %s: status %d: %s", e.Op, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("fetch: %s: status %d", e.Op, e.Status)
	default:
		return fmt.Sprintf("fetch: %s: %v", e.Op, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// StorageError is a failure of the durable session store.
type StorageError struct {
	Op   string
	Busy bool
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ChannelError is a realtime connect or emit failure. It never blocks the
// rest of a conversation view.
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel: %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// IsAuthError reports whether err carries an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// ServerMessage extracts the server-provided text from a FetchError, if any.
func ServerMessage(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Message
	}
	return ""
}
