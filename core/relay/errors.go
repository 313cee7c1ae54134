package relay

import (
	"errors"
	"fmt"
)

// TransientDeliveryError marks a backend failure that may succeed on retry.
type TransientDeliveryError struct {
	// StatusCode is the HTTP status reported by the backend, zero when the
	// failure happened before a response was received.
	StatusCode int
	Err        error
}

func (e *TransientDeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient delivery error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient delivery error: %v", e.Err)
}

func (e *TransientDeliveryError) Unwrap() error { return e.Err }

// Transient wraps err as a *TransientDeliveryError.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientDeliveryError{Err: err}
}

// IsTransient reports whether any error in err's chain is a
// *TransientDeliveryError.
func IsTransient(err error) bool {
	var transient *TransientDeliveryError
	return errors.As(err, &transient)
}
