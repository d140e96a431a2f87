package match

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)


var ErrNotAuthenticated = errors.New("Not authenticated.")
var ErrUnauthorized = errors.New("Unauthorized.")
var ErrChannelClosed = errors.New("Chat channel closed.")
var ErrEmptyMessage = errors.New("Empty message.")
var ErrNoCandidate = errors.New("No candidate.")
var ErrMountClosed = errors.New("Mount closed.")


// a non-2xx response. The response body is the message
type ApiError struct {
	Method string
	Path string
	StatusCode int
	Message string
}

func (self *ApiError) Error() string {
	if self.Message == "" {
		return fmt.Sprintf("%s %s: %d %s", self.Method, self.Path, self.StatusCode, http.StatusText(self.StatusCode))
	}
	return fmt.Sprintf("%s %s: %d %s", self.Method, self.Path, self.StatusCode, self.Message)
}

func (self *ApiError) Is(target error) bool {
	return target == ErrUnauthorized && self.StatusCode == http.StatusUnauthorized
}


func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// timeouts, connection errors and 5xx. These get a notification and optionally a retry
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *ApiError
	if errors.As(err, &apiErr) {
		return http.StatusInternalServerError <= apiErr.StatusCode || apiErr.StatusCode == http.StatusTooManyRequests
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// the message to show to the user for a failed call
func ErrorMessage(err error, fallback string) string {
	var apiErr *ApiError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}
