package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeSpaceNotFound      = "space_not_found"
	ErrCodeNotWatching        = "not_watching"
	ErrCodeBadRequest         = "bad_request"
	ErrCodeInvalidMessage     = "invalid_message"
	ErrCodeUnsupportedVersion = "unsupported_version"
	ErrCodeRateLimited        = "rate_limited"
)

var (
	ErrSpaceNotFound = errors.New("space not found")
	ErrNotWatching   = errors.New("not watching space")
	ErrHubStopped    = errors.New("hub stopped")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
