// Package errors classifies failures in the signaling core so callers can
// pick a recovery policy without string-matching: permission and device
// errors need user action, signaling errors are retried, negotiation errors
// drop the offending message, connectivity failures get one session rebuild.
package errors

import (
	"errors"
	"fmt"
)

// Class is the recovery category of a failure.
type Class string

const (
	ClassPermission   Class = "permission"   // surfaced, never auto-retried
	ClassSignaling    Class = "signaling"    // reconnect with fixed delay
	ClassNegotiation  Class = "negotiation"  // log and drop the message
	ClassConnectivity Class = "connectivity" // one automatic session rebuild
	ClassProtocol     Class = "protocol"     // unknown message, ignore
)

// ClassifiedError attaches a recovery class to an underlying error.
type ClassifiedError struct {
	Class   Class
	Message string
	Cause   error
}

func (e *ClassifiedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

func (e *ClassifiedError) Unwrap() error { return e.Cause }

// New creates a classified error with no cause.
func New(class Class, message string) *ClassifiedError {
	return &ClassifiedError{Class: class, Message: message}
}

// Wrap attaches a class to an existing error.
func Wrap(err error, class Class, message string) *ClassifiedError {
	return &ClassifiedError{Class: class, Message: message, Cause: err}
}

// ClassOf extracts the class from an error chain; errors that were never
// classified report ClassSignaling, the only class safe to retry blindly.
func ClassOf(err error) Class {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return ClassSignaling
}

// IsPermission reports whether err requires explicit user action.
func IsPermission(err error) bool { return hasClass(err, ClassPermission) }

// IsNegotiation reports whether err should drop only the offending message.
func IsNegotiation(err error) bool { return hasClass(err, ClassNegotiation) }

func hasClass(err error, class Class) bool {
	var ce *ClassifiedError
	return errors.As(err, &ce) && ce.Class == class
}
