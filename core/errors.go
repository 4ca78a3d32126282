// Package core defines the shared error taxonomy for the gauge lifecycle
// system. Every operation in the core returns exactly one of a success value
// or an error; errors are structured (kind + message + optional entity
// context) so the routing layer can translate them to transport status codes
// without inspecting message text. The kind uniquely determines
// recoverability: only Transient and Timeout errors may be retried.
package core

import (
	"errors"
	"fmt"
)

// Kind classifies an error for boundary translation and retry decisions.
type Kind string

const (
	KindNotFound              Kind = "not_found"
	KindPermissionDenied      Kind = "permission_denied"
	KindIllegalTransition     Kind = "illegal_transition"
	KindPreconditionFailed    Kind = "precondition_failed"
	KindInvariantViolation    Kind = "invariant_violation"
	KindAlreadyCheckedOut     Kind = "already_checked_out"
	KindAwaitingCompanionCert Kind = "awaiting_companion_certificate"
	KindSetIDReused           Kind = "set_id_reused"
	KindConflict              Kind = "conflict"
	KindTimeout               Kind = "timeout"
	KindTransient             Kind = "transient"
	KindValidation            Kind = "validation"
)

// Error is the structured error crossing every core boundary.
type Error struct {
	Kind       Kind
	Message    string
	EntityType string
	EntityID   string
	Field      string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.EntityType != "" {
		msg = fmt.Sprintf("%s (%s %s)", msg, e.EntityType, e.EntityID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches against another *Error by kind, so
// errors.Is(err, core.NotFound("")) style comparisons work.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// NotFound reports a missing entity.
func NotFound(entityType, entityID string) *Error {
	return &Error{
		Kind:       KindNotFound,
		Message:    "entity not found",
		EntityType: entityType,
		EntityID:   entityID,
	}
}

// PermissionDenied reports a failed capability check. The missing
// capability is carried in Field.
func PermissionDenied(capability string) *Error {
	return &Error{
		Kind:    KindPermissionDenied,
		Message: fmt.Sprintf("missing capability %s", capability),
		Field:   capability,
	}
}

// IllegalTransition reports a state transition outside the transition table.
func IllegalTransition(from, to, reason string) *Error {
	return &Error{
		Kind:    KindIllegalTransition,
		Message: fmt.Sprintf("illegal transition %s -> %s: %s", from, to, reason),
	}
}

// PreconditionFailed reports a transition whose table entry is legal but
// whose attached precondition does not hold.
func PreconditionFailed(rule string) *Error {
	return &Error{
		Kind:    KindPreconditionFailed,
		Message: rule,
	}
}

// InvariantViolation reports corrupted data or a bug. Callers must log it
// at critical severity and emit an alert event on the bus.
func InvariantViolation(invariant, detail string) *Error {
	return &Error{
		Kind:    KindInvariantViolation,
		Message: fmt.Sprintf("%s: %s", invariant, detail),
	}
}

// AlreadyCheckedOut reports a checkout conflict on a gauge.
func AlreadyCheckedOut(gaugeID string) *Error {
	return &Error{
		Kind:       KindAlreadyCheckedOut,
		Message:    "gauge already checked out",
		EntityType: "gauge",
		EntityID:   gaugeID,
	}
}

// AwaitingCompanionCertificate reports that certificate verification on a
// paired gauge is blocked until the companion holds a current certificate.
func AwaitingCompanionCertificate(gaugeID string) *Error {
	return &Error{
		Kind:       KindAwaitingCompanionCert,
		Message:    "companion gauge has no current certificate",
		EntityType: "gauge",
		EntityID:   gaugeID,
	}
}

// SetIDReused reports an attempt to assign a burned set id to a new set.
func SetIDReused(setID string) *Error {
	return &Error{
		Kind:       KindSetIDReused,
		Message:    "set id has already been used",
		EntityType: "set",
		EntityID:   setID,
	}
}

// Conflict reports a concurrent-modification conflict.
func Conflict(detail string) *Error {
	return &Error{
		Kind:    KindConflict,
		Message: detail,
	}
}

// Timeout reports an exceeded database deadline.
func Timeout(op string, err error) *Error {
	return &Error{
		Kind:    KindTimeout,
		Message: fmt.Sprintf("operation %s timed out", op),
		Err:     err,
	}
}

// Transient reports a retryable database failure (deadlock, lock-wait
// timeout, transient connection loss).
func Transient(detail string, err error) *Error {
	return &Error{
		Kind:    KindTransient,
		Message: detail,
		Err:     err,
	}
}

// Validation reports input rejected before any write.
func Validation(field, detail string) *Error {
	return &Error{
		Kind:    KindValidation,
		Message: detail,
		Field:   field,
	}
}

// KindOf extracts the kind from any error. Errors that do not carry a
// *Error anywhere in their chain report the empty kind.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// IsRetryable reports whether the error may be retried per the retry
// policy: only transient failures and timeouts qualify.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindTimeout:
		return true
	}
	return false
}
