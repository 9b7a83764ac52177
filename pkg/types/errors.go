package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures
type ErrorKind string

const (
	KindPermissionDenied  ErrorKind = "permission denied"
	KindInterfaceNotFound ErrorKind = "interface not found"
	KindGatewayUnresolved ErrorKind = "gateway unresolved"
	KindPolicyDenied      ErrorKind = "policy denied"
	KindUnsupported       ErrorKind = "unsupported"
	KindTimeout           ErrorKind = "timeout"
	KindAlreadyInState    ErrorKind = "already in state"
	KindInvalidInput      ErrorKind = "invalid input"
	KindDeviceNotFound    ErrorKind = "device not found"
	KindSendFailed        ErrorKind = "send failed"
)

// Sentinels for errors.Is checks against a kind
var (
	ErrPermissionDenied  = &Error{Kind: KindPermissionDenied}
	ErrInterfaceNotFound = &Error{Kind: KindInterfaceNotFound}
	ErrGatewayUnresolved = &Error{Kind: KindGatewayUnresolved}
	ErrPolicyDenied      = &Error{Kind: KindPolicyDenied}
	ErrUnsupported       = &Error{Kind: KindUnsupported}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrAlreadyInState    = &Error{Kind: KindAlreadyInState}
	ErrInvalidInput      = &Error{Kind: KindInvalidInput}
	ErrDeviceNotFound    = &Error{Kind: KindDeviceNotFound}
	ErrSendFailed        = &Error{Kind: KindSendFailed}
)

// Error is a typed engine error
type Error struct {
	Kind   ErrorKind
	Op     string
	Target string
	Err    error
}

// NewError creates a typed error
func NewError(kind ErrorKind, op, target string, err error) *Error {
	return &Error{Kind: kind, Op: op, Target: target, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Target != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Target)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first typed error in the chain
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IgnoreAlreadyInState maps AlreadyInState to success
func IgnoreAlreadyInState(err error) error {
	if errors.Is(err, ErrAlreadyInState) {
		return nil
	}
	return err
}
