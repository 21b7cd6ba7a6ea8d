// Package privacy - error wrapping with sanitized messages
package privacy

// SanitizedError wraps an error while exposing a scrubbed message. The
// original error stays reachable through Unwrap for errors.Is/As.
type SanitizedError struct {
	original     error
	sanitizedMsg string
}

// Error returns the sanitized message, safe for logs and telemetry.
func (e *SanitizedError) Error() string {
	return e.sanitizedMsg
}

// Unwrap returns the original error.
func (e *SanitizedError) Unwrap() error {
	return e.original
}

// WrapError sanitizes an error's message with ScrubMessage. Returns nil for
// a nil input.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	return &SanitizedError{
		original:     err,
		sanitizedMsg: ScrubMessage(err.Error()),
	}
}
