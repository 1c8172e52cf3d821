// Package retry provides the failure taxonomy and the pure retry decision
// shared by the publisher's delivery-confirmation handling and the
// consumer loop.
package retry

import (
	"encoding/json"
	"errors"
	"fmt"
)

// FailureKind classifies a handler failure for the retry decision.
type FailureKind int

const (
	// KindTransient indicates retry will likely help.
	// Examples: timeouts, temporary downstream unavailability.
	KindTransient FailureKind = iota

	// KindPermanent indicates retry will never help.
	// Examples: malformed payloads, schema violations.
	KindPermanent
)

// String returns the kind name.
func (k FailureKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// HandlerFailure wraps a handler error with its classification.
type HandlerFailure struct {
	// Err is the underlying error.
	Err error

	// Kind indicates how the failure should be handled.
	Kind FailureKind

	// Context describes what was being attempted.
	Context string
}

// Error implements the error interface.
func (e *HandlerFailure) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Context, e.Err, e.Kind)
	}
	return fmt.Sprintf("%s (%s)", e.Err, e.Kind)
}

// Unwrap returns the underlying error.
func (e *HandlerFailure) Unwrap() error {
	return e.Err
}

// Transient marks an error as retryable.
func Transient(err error, context string) *HandlerFailure {
	return &HandlerFailure{Err: err, Kind: KindTransient, Context: context}
}

// Permanent marks an error as non-retryable. Permanent failures skip
// backoff entirely and go straight to the dead letter sink.
func Permanent(err error, context string) *HandlerFailure {
	return &HandlerFailure{Err: err, Kind: KindPermanent, Context: context}
}

// Classify determines the failure kind of an arbitrary handler error.
//
// Explicitly marked failures keep their kind. Deserialization errors are
// permanent: the payload will not become parseable on retry. Everything
// else defaults to transient, because retries are bounded and a wrongly
// dead-lettered event needs manual replay while a wrongly retried one
// only costs a few attempts.
func Classify(err error) FailureKind {
	if err == nil {
		return KindPermanent
	}

	var hf *HandlerFailure
	if errors.As(err, &hf) {
		return hf.Kind
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return KindPermanent
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return KindPermanent
	}

	return KindTransient
}

// IsPermanent reports whether the error should bypass retry.
func IsPermanent(err error) bool {
	return Classify(err) == KindPermanent
}
