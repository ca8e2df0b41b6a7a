package automation

import (
	"errors"
	"fmt"
)

// ErrDuplicateEnrollment is returned by Store.CreateEnrollment when the
// active-enrollment uniqueness constraint rejects the insert. The manager
// treats it as the idempotent already-enrolled case, not a failure.
var ErrDuplicateEnrollment = errors.New("active enrollment already exists")

// NotFoundError reports a missing subscriber, sequence or step.
type NotFoundError struct {
	Resource string
	ID       uint
}

func (e *NotFoundError) Error() string {
	if e.ID == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ConfigurationError reports broken sequence content, e.g. a step template
// that does not parse.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return "sequence configuration error: " + e.Msg
}

// DeliveryError wraps a failed attempt to hand an email to the provider.
// Permanent failures (invalid address) are never retried; everything else
// is retried on later processor passes up to the retry limit.
type DeliveryError struct {
	Err       error
	Permanent bool
}

func (e *DeliveryError) Error() string {
	if e.Permanent {
		return "permanent delivery failure: " + e.Err.Error()
	}
	return "delivery failure: " + e.Err.Error()
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsPermanentDelivery reports whether err is a delivery error that retrying
// cannot fix.
func IsPermanentDelivery(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Permanent
}
