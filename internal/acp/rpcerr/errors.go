// Package rpcerr defines the protocol-level error taxonomy used by the ACP
// runtime and converts it to JSON-RPC errors at the connection boundary.
package rpcerr

import (
	"errors"
	"fmt"

	acp "github.com/coder/acp-go-sdk"
)

// Kind classifies an Error.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidParams
	KindInvalidRequest
	KindResourceNotFound
	KindMethodNotFound
	KindAuthRequired
	// KindConnection never crosses the wire; it is reported to local callers
	// when the agent subprocess is unreachable.
	KindConnection
)

// JSON-RPC / ACP error codes.
const (
	CodeInvalidRequest   = -32600
	CodeMethodNotFound   = -32601
	CodeInvalidParams    = -32602
	CodeInternalError    = -32603
	CodeAuthRequired     = -32000
	CodeResourceNotFound = -32002
)

func (k Kind) String() string {
	switch k {
	case KindInvalidParams:
		return "invalid_params"
	case KindInvalidRequest:
		return "invalid_request"
	case KindResourceNotFound:
		return "resource_not_found"
	case KindMethodNotFound:
		return "method_not_found"
	case KindAuthRequired:
		return "auth_required"
	case KindConnection:
		return "connection"
	default:
		return "internal"
	}
}

// Code returns the JSON-RPC code for the kind.
func (k Kind) Code() int {
	switch k {
	case KindInvalidParams:
		return CodeInvalidParams
	case KindInvalidRequest:
		return CodeInvalidRequest
	case KindResourceNotFound:
		return CodeResourceNotFound
	case KindMethodNotFound:
		return CodeMethodNotFound
	case KindAuthRequired:
		return CodeAuthRequired
	default:
		return CodeInternalError
	}
}

func (k Kind) message() string {
	switch k {
	case KindInvalidParams:
		return "Invalid params"
	case KindInvalidRequest:
		return "Invalid request"
	case KindResourceNotFound:
		return "Resource not found"
	case KindMethodNotFound:
		return "Method not found"
	case KindAuthRequired:
		return "Authentication required"
	case KindConnection:
		return "Agent connection unavailable"
	default:
		return "Internal error"
	}
}

// Error is a structured protocol error.
type Error struct {
	Kind    Kind
	Message string
	Data    map[string]any
	cause   error
}

func (e *Error) Error() string {
	if len(e.Data) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Data)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func newError(kind Kind, data map[string]any) *Error {
	return &Error{Kind: kind, Message: kind.message(), Data: data}
}

// InvalidParams reports a caller argument that violates a precondition.
func InvalidParams(field, reason string) *Error {
	return newError(KindInvalidParams, map[string]any{field: reason})
}

// InvalidRequest reports an operation that is not valid for the resource's current state.
func InvalidRequest(field, reason string) *Error {
	return newError(KindInvalidRequest, map[string]any{field: reason})
}

// ResourceNotFound reports a missing terminal, file or session.
func ResourceNotFound(uri string) *Error {
	return newError(KindResourceNotFound, map[string]any{"uri": uri})
}

// Internal wraps an OS-level failure without leaking its type.
func Internal(data map[string]any, cause error) *Error {
	e := newError(KindInternal, data)
	e.cause = cause
	return e
}

// Connection reports that the agent subprocess is not reachable.
func Connection(reason string, cause error) *Error {
	e := newError(KindConnection, map[string]any{"reason": reason})
	e.cause = cause
	return e
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	var re *acp.RequestError
	if errors.As(err, &re) {
		return re.Code == kind.Code() && kind != KindConnection
	}
	return false
}

// ToRequestError converts any error into the JSON-RPC error returned to the agent.
// Errors outside the taxonomy become internal errors carrying only their text.
func ToRequestError(err error) error {
	if err == nil {
		return nil
	}
	var re *acp.RequestError
	if errors.As(err, &re) {
		return re
	}
	var e *Error
	if !errors.As(err, &e) {
		e = Internal(map[string]any{"error": err.Error()}, err)
	}
	var data any
	if len(e.Data) > 0 {
		data = e.Data
	}
	return &acp.RequestError{Code: e.Kind.Code(), Message: e.Message, Data: data}
}
