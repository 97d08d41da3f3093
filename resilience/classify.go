package resilience

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/dmitrymomot/heromessaging/dispatcher"
)

// transientSubstrings are driver/database error-message fragments that
// reliably indicate a transient failure even where the error's static type
// carries no structured signal (some pgx/redis paths surface these as plain
// wrapped strings rather than typed errors).
var transientSubstrings = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"i/o timeout",
	"temporary failure",
	"server misbehaving",
	"too many connections",
	"EOF",
}

// AlwaysRetryable treats every error as retryable, bypassing the default
// transient classifier for callers that know their failures are safe to
// retry unconditionally (e.g. wrapping an already-idempotent handler).
func AlwaysRetryable(error) bool { return true }

// DefaultRetryable implements spec.md §4.3's closed-set transient
// classifier: timeouts, connection-refused/reset, DNS failures, and a
// handful of driver error-message substrings are retryable. Everything
// else — context cancellation, argument/validation errors, and
// dispatcher.ErrHandlerNotFound included — is not, matching "non-transient
// errors bypass retry entirely".
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, dispatcher.ErrHandlerNotFound) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	msg := err.Error()
	for _, frag := range transientSubstrings {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}
