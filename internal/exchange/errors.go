package exchange

import (
	"errors"
	"fmt"
	"net"
)

// Venue error codes the engine cares about.
const (
	codeDisconnected    = -1001
	codeTooManyRequests = -1003
	codeTimestampSkew   = -1021
	codeTooManyOrders   = -1015
	codeShuttingDown    = -1016
)

// ErrCircuitOpen is returned when the limiter's trip guard refuses to
// send anything until the ban window passes.
var ErrCircuitOpen = errors.New("exchange: rate limit circuit open")

// APIError is a structured venue rejection.
type APIError struct {
	Status  int    // HTTP status
	Code    int    // venue error code, negative by convention
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange: status %d code %d: %s", e.Status, e.Code, e.Message)
}

// IsRateLimit reports whether err is a venue rate-limit rejection.
func IsRateLimit(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == 429 || apiErr.Status == 418 || apiErr.Code == codeTooManyRequests
	}
	return false
}

// IsClockSkew reports whether err means our timestamp fell outside the
// venue's recv window. The caller should retry; the request signer
// already stamps each attempt fresh.
func IsClockSkew(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == codeTimestampSkew
}

// IsTransient reports whether err is worth retrying on a later tick:
// network trouble, venue 5xx, rate limiting, clock skew, or the venue's
// own transient codes.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status >= 500 || apiErr.Status == 429 || apiErr.Status == 418 {
			return true
		}
		switch apiErr.Code {
		case codeDisconnected, codeTooManyRequests, codeTimestampSkew, codeTooManyOrders, codeShuttingDown:
			return true
		}
	}
	return false
}
