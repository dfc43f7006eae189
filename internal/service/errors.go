package service

import (
	"errors"
	"fmt"
)

// Kind classifies a service failure. Handlers map each kind to exactly one
// HTTP status.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindNotFound
	KindConflict
	KindGone
	KindPolicyViolation
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindGone:
		return "gone"
	case KindPolicyViolation:
		return "policy_violation"
	default:
		return "internal"
	}
}

// Reason codes surfaced to clients alongside the message.
const (
	ReasonInvalidCredentials = "INVALID_CREDENTIALS"
	ReasonAccountLocked      = "ACCOUNT_LOCKED"
	ReasonAccountDisabled    = "ACCOUNT_DISABLED"
	ReasonInvalidOrExpired   = "INVALID_OR_EXPIRED"
	ReasonInviteNotFound     = "INVITE_NOT_FOUND"
	ReasonInviteExpired      = "INVITE_EXPIRED"
	ReasonInviteRevoked      = "INVITE_REVOKED"
	ReasonInviteAccepted     = "INVITE_ALREADY_ACCEPTED"
	ReasonIdentityTaken      = "IDENTITY_TAKEN"
	ReasonPasswordPolicy     = "PASSWORD_POLICY"
	ReasonAdminNotFound      = "ADMIN_NOT_FOUND"
)

// Error is a classified service failure. Message is safe to show to clients;
// Err carries the underlying cause for logs only.
type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, reason, message string) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message}
}

func internalError(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf returns the kind of err, or KindInternal if err is not a *Error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}
