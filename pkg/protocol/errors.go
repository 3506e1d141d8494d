// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"fmt"
	"strings"
)

// ErrorKind classifies failures of a command exchange
type ErrorKind int

const (
	// KindConnection covers unreachable, closed or timed-out transports
	KindConnection ErrorKind = iota + 1
	// KindInvalidArgument is a local validation failure, raised before any I/O
	KindInvalidArgument
	// KindReply is an undecodable payload or an unrecognized status indicator
	KindReply
	// KindDeviceFault is a known error condition reported by the device
	KindDeviceFault
	// KindTimeout is an exhausted readiness poll
	KindTimeout
)

// String returns the human-readable name for an error kind
func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection error"
	case KindInvalidArgument:
		return "invalid argument"
	case KindReply:
		return "reply error"
	case KindDeviceFault:
		return "device fault"
	case KindTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// kindError is the sentinel type matched by (*Error).Is
type kindError ErrorKind

func (k kindError) Error() string { return ErrorKind(k).String() }

// Sentinels for errors.Is checks against *Error values.
var (
	ErrConnection      error = kindError(KindConnection)
	ErrInvalidArgument error = kindError(KindInvalidArgument)
	ErrReply           error = kindError(KindReply)
	ErrDeviceFault     error = kindError(KindDeviceFault)
	ErrTimeout         error = kindError(KindTimeout)
)

// Error is a structured command failure
type Error struct {
	Kind    ErrorKind
	Command string
	Message string
	Details map[string]interface{}
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Command != "" {
		fmt.Fprintf(&b, " (%s)", e.Command)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause, if any
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels. A timeout is also a connection-level fault.
func (e *Error) Is(target error) bool {
	k, ok := target.(kindError)
	if !ok {
		return false
	}
	if ErrorKind(k) == e.Kind {
		return true
	}
	return e.Kind == KindTimeout && ErrorKind(k) == KindConnection
}

// Fault returns the device fault carried by err, if any
func (e *Error) Fault() (Fault, bool) {
	if e.Kind != KindDeviceFault || e.Details == nil {
		return Fault{}, false
	}
	f, ok := e.Details["fault"].(Fault)
	return f, ok
}

// NewConnectionError wraps a transport failure
func NewConnectionError(command, endpoint string, err error) *Error {
	return &Error{
		Kind:    KindConnection,
		Command: command,
		Message: endpoint,
		Details: map[string]interface{}{"endpoint": endpoint},
		Err:     err,
	}
}

func invalidArgument(command string, value any, constraint string) *Error {
	return &Error{
		Kind:    KindInvalidArgument,
		Command: command,
		Message: fmt.Sprintf("value %v violates %s", value, constraint),
		Details: map[string]interface{}{"value": value, "constraint": constraint},
	}
}

func replyError(command, payload, reason string) *Error {
	return &Error{
		Kind:    KindReply,
		Command: command,
		Message: fmt.Sprintf("%s (payload %q)", reason, payload),
		Details: map[string]interface{}{"payload": payload},
	}
}
