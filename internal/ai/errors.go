package ai

import "errors"

var (
	ErrProviderUnavailable = errors.New("ai provider unavailable")
	ErrInferenceTimeout    = errors.New("ai inference timeout")
	ErrInvalidResponse     = errors.New("ai provider returned invalid response")
	// ErrRejected means the provider refused the request itself; retrying
	// the same input will not help.
	ErrRejected      = errors.New("ai provider rejected request")
	ErrNotConfigured = errors.New("ai provider not configured")
	ErrQuotaExceeded = errors.New("ai provider quota exceeded")
)

// Retryable reports whether a failed call may succeed if repeated.
func Retryable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrInferenceTimeout)
}
