package models

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of ways a single DoH request can fail.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindBadRequest
	KindMethodNotAllowed
	KindTimeout
	KindUnreachable
)

func (k ErrorKind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindMethodNotAllowed:
		return "method_not_allowed"
	case KindTimeout:
		return "timeout"
	case KindUnreachable:
		return "unreachable"
	default:
		return "internal"
	}
}

type GatewayError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e GatewayError) Unwrap() error {
	return e.Err
}

func NewError(kind ErrorKind, msg string, err error) error {
	return GatewayError{Kind: kind, Msg: msg, Err: err}
}

// KindOf classifies any error produced while handling a request. Errors
// that were never classified are internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindInternal
	}

	var gatewayErr GatewayError
	if errors.As(err, &gatewayErr) {
		return gatewayErr.Kind
	}

	var invalid InvalidQuery
	if errors.As(err, &invalid) {
		return KindBadRequest
	}

	return KindInternal
}
