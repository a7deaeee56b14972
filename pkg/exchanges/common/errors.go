package common

import (
	"errors"
	"fmt"
)

// TransportError marks a transient failure talking to the venue.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("venue %s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RejectionError is a terminal refusal by the venue (bad price, margin, ...).
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return "venue rejected: " + e.Reason
}

// IsTransport reports whether err is retryable.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsRejection reports whether err is a venue rejection.
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}
