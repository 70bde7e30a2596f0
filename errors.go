package mouse_telemetry

import (
	"errors"
	"fmt"
)

var (
	ErrLoopClosed   = errors.New("loop is closed")
	ErrLoopFull     = errors.New("loop buffer is full")
	ErrRateLimited  = errors.New("endpoint is rate limited")
	ErrNoUserID     = errors.New("no user id available")
	ErrNoEndpoint   = errors.New("no api endpoint configured")
	ErrPageNotFound = errors.New("page not found")
)

// DeliveryError is returned for a non-2xx response from the collection endpoint
type DeliveryError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *DeliveryError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
	}
	return fmt.Sprintf("HTTP %d: %s: %s", e.StatusCode, e.Status, e.Body)
}
