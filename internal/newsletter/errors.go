package newsletter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

var (
	// ErrChallengeDetected signals that the upstream answered with an anti-bot
	// interstitial instead of real content.
	ErrChallengeDetected = errors.New("bot challenge detected")
	// ErrDuplicateURL is returned when an insert collides with an issue already stored under the same URL.
	ErrDuplicateURL = errors.New("issue url already exists")
	// ErrRunInProgress rejects a run while another ingestion or sweep holds the run guard.
	ErrRunInProgress = errors.New("ingestion run already in progress")
	// ErrNotFound is returned by stores when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPayloadTooLarge guards the Web Push 4KB payload ceiling.
	ErrPayloadTooLarge = errors.New("push payload exceeds 4096 bytes")
)

// NetworkError reports a failed fetch: timeout, reset, or a non-2xx status.
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	default:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is worth retrying: rate limiting,
// gateway errors, connection resets and timeouts.
func (e *NetworkError) Transient() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	case 0:
	default:
		return false
	}
	if e.Err == nil {
		return false
	}
	if errors.Is(e.Err, context.Canceled) {
		return false
	}
	if errors.Is(e.Err, context.DeadlineExceeded) || errors.Is(e.Err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(e.Err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(e.Err.Error(), "connection reset")
}

// EmptyListingError is returned when the archive listing yields zero candidates,
// which means either no issues exist or the upstream markup drifted.
type EmptyListingError struct {
	LinksFound  int
	Excerpt     string
	SnapshotURI string
}

func (e *EmptyListingError) Error() string {
	return fmt.Sprintf("no newsletters found in the archive (%d issue links matched)", e.LinksFound)
}

// DispatchError reports a push endpoint that rejected a notification.
type DispatchError struct {
	Endpoint   string
	StatusCode int
	Gone       bool
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("push to %s rejected with status %d", e.Endpoint, e.StatusCode)
}
