package dispatch

import (
	"context"
	"errors"
	"fmt"

	"sentinel/internal/models"
)

// Channel is the uniform delivery capability every notification
// transport implements. The dispatcher treats all channels the same
// regardless of what sits behind Send.
type Channel interface {
	Name() models.ChannelRef
	Send(ctx context.Context, firing *models.AlertFiring) error
}

// ChannelError classifies a delivery failure. Transient errors are
// retried with backoff; permanent errors (invalid recipient, rejected
// payload) are recorded and not retried.
type ChannelError struct {
	Permanent bool
	Err       error
}

func (e *ChannelError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("permanent channel error: %v", e.Err)
	}
	return fmt.Sprintf("transient channel error: %v", e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// Permanent wraps err as a non-retryable channel error.
func Permanent(err error) error {
	return &ChannelError{Permanent: true, Err: err}
}

// Transient wraps err as a retryable channel error.
func Transient(err error) error {
	return &ChannelError{Permanent: false, Err: err}
}

// IsPermanent reports whether err is a permanent channel error.
// Unclassified errors are treated as transient.
func IsPermanent(err error) bool {
	var ce *ChannelError
	return errors.As(err, &ce) && ce.Permanent
}
