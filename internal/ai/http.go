package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}

// classifyStatus maps a non-2xx provider response to a sentinel error,
// including a short excerpt of the body for the logs.
func classifyStatus(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	var sentinel error
	switch {
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusForbidden:
		sentinel = ErrQuotaExceeded
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		sentinel = ErrProviderUnavailable
	default:
		sentinel = ErrRejected
	}
	return fmt.Errorf("%w: %s status %d: %s", sentinel, provider, resp.StatusCode, body)
}
