package reliability

import (
	"strings"
	"time"
)

// Error sources reported in outbound error events.
const (
	SourceTransport = "transport"
	SourceCapture   = "capture"
	SourceAnalysis  = "analysis"
	SourceGallery   = "gallery"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableLiveError classifies upstream live connection failures that a
// client may reasonably retry by starting a new session.
func IsRetryableLiveError(detail string) bool {
	detail = strings.ToLower(detail)
	for _, marker := range []string{
		"rate limit",
		"resource exhausted",
		"unavailable",
		"deadline exceeded",
		"connection reset",
		"timeout",
	} {
		if strings.Contains(detail, marker) {
			return true
		}
	}
	return false
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
