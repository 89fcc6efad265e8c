package llm

import (
	"errors"
	"strings"
)

// ErrFatalAPI marks provider failures that will not succeed on retry
// (billing, auth, quota). Batch stages abort when they see it; every other
// per-item error is logged and skipped.
var ErrFatalAPI = errors.New("fatal API error")

// fatalMarkers are substrings of provider error messages that indicate a
// non-retryable account-level failure.
var fatalMarkers = []string{
	"credit balance",
	"insufficient credit",
	"rate limit",
	"quota exceeded",
	"billing",
	"invalid api key",
	"authentication failed",
	"unauthorized",
	"401",
	"403",
}

func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range fatalMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// wrapFatalError tags fatal provider errors with ErrFatalAPI so callers can
// errors.Is on them. Non-fatal errors pass through unchanged.
func wrapFatalError(err error) error {
	if err == nil {
		return nil
	}
	if isFatalAPIError(err) {
		return errors.Join(ErrFatalAPI, err)
	}
	return err
}
