package models

import (
	"errors"
	"fmt"
)

// Error kinds shared by the remote client, the session supervisor and the
// money services. Match them with errors.Is.
var (
	ErrTransport       = errors.New("transport error")
	ErrSessionInvalid  = errors.New("session invalid")
	ErrAuthFailure     = errors.New("authentication failed")
	ErrRenewalTimeout  = errors.New("session renewal timed out")
	ErrDomainRejection = errors.New("rejected by remote")
	ErrIndeterminate   = errors.New("remote outcome unknown")

	ErrInvalidAmount           = errors.New("invalid amount")
	ErrInsufficientLocalFunds  = errors.New("insufficient local funds")
	ErrInsufficientRemoteFunds = errors.New("insufficient remote funds")
	ErrNameUnavailable         = errors.New("login unavailable")
	ErrProvisioningIncomplete  = errors.New("provisioning incomplete")
	ErrNotFound                = errors.New("not found")
)

// OpError carries the kind of a failure, the operation that produced it and
// a message fit to show the caller verbatim.
type OpError struct {
	Kind    error
	Op      string
	Message string
	Err     error
}

func NewOpError(kind error, op, message string, err error) *OpError {
	return &OpError{Kind: kind, Op: op, Message: message, Err: err}
}

func (e *OpError) Error() string {
	msg := e.Message
	if msg == "" && e.Kind != nil {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *OpError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// MessageOf returns the caller-facing message of err.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var opErr *OpError
	if errors.As(err, &opErr) && opErr.Message != "" {
		return opErr.Message
	}
	return err.Error()
}

// KindOf returns the first known kind matched by err, or nil.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrIndeterminate,
		ErrInvalidAmount,
		ErrInsufficientLocalFunds,
		ErrInsufficientRemoteFunds,
		ErrNameUnavailable,
		ErrProvisioningIncomplete,
		ErrNotFound,
		ErrRenewalTimeout,
		ErrAuthFailure,
		ErrSessionInvalid,
		ErrDomainRejection,
		ErrTransport,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
