package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// ErrBodyTooLarge is returned when a feed document exceeds MaxBodyBytes.
var ErrBodyTooLarge = errors.New("feed body exceeds size limit")

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return "unexpected status " + e.Status
	}
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Temporary reports whether the server signalled a condition worth retrying.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// isRetryableError classifies transport failures. Timeouts, refused
// connections, DNS failures, 429 and 5xx are transient; everything else,
// including parse errors and 4xx, is permanent.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}
