// Package gchan contains helpers for common operations with channels.
package gchan

import (
	"context"
	"log/slog"
)

// RecvC selects between ctx.Done and receiving from in.
// If ctx is canceled before the receive from in completes,
// RecvC logs the message "Context canceled while " + canceledDuring,
// and it returns the zero value of T and reports false.
// Otherwise, the received value is returned and the function reports true.
func RecvC[T any](ctx context.Context, log *slog.Logger, in <-chan T, canceledDuring string) (val T, received bool) {
	select {
	case <-ctx.Done():
		log.Info("Context canceled while "+canceledDuring, "cause", context.Cause(ctx))
		return val, false
	case val := <-in:
		return val, true
	}
}

// SendNonBlocking attempts to send val to out without blocking,
// reporting whether the send succeeded.
// It is intended for 1-buffered signal channels where a pending signal
// already carries the same meaning as a new one.
func SendNonBlocking[T any](out chan<- T, val T) (sent bool) {
	select {
	case out <- val:
		return true
	default:
		return false
	}
}
