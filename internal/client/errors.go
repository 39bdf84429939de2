package client

import (
	"fmt"
	"regexp"

	"github.com/cockroachdb/errors"

	"github.com/st3v3nmw/faultline/internal/history"
)

// Errors raised before the request could be applied.
var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrAddressUnknown    = errors.New("address unknown")
	ErrConnectionRefused = errors.New("connection refused")
	// ErrPrecondition is a compare-and-swap whose expected value or version
	// did not match.
	ErrPrecondition = errors.New("precondition failed")
)

// Errors after which the request may or may not have been applied.
var (
	ErrNoResponse = errors.New("no response")
	ErrTimeout    = errors.New("timeout")
)

// ConnectionError is a lower-level communication fault.
type ConnectionError struct {
	Message string
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error: %s", e.Message)
}

// ResponseError is a non-2xx answer the client could not map onto a known
// error. The node received the request, so its outcome is unknown.
type ResponseError struct {
	Status  int
	Message string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

var refused = regexp.MustCompile(`(?i)connection refused|actively refused`)

// Classify decides the outcome of an operation that returned err.
//
// Reads have no effect to be unsure about, so a failed read is always Fail.
// A mutating operation is Fail only when the error proves the request never
// took effect; anything else is Info.
func Classify(f history.F, err error) history.Type {
	if err == nil {
		return history.OK
	}

	if f.ReadOnly() {
		return history.Fail
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrAddressUnknown),
		errors.Is(err, ErrConnectionRefused),
		errors.Is(err, ErrPrecondition):
		return history.Fail
	}

	// A server's own message never decides the outcome, whatever it says.
	var respErr *ResponseError
	if errors.As(err, &respErr) {
		return history.Info
	}

	var connErr *ConnectionError
	if errors.As(err, &connErr) && refused.MatchString(connErr.Message) {
		return history.Fail
	}

	return history.Info
}
