package rpc

import (
	"errors"
	"fmt"

	"github.com/loykin/shepd/internal/errdefs"
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Application error codes in the implementation-defined range.
const (
	CodeDaemonNotRunning = -32000
	CodeServiceNotFound  = -32001
	CodeServiceExists    = -32002
	CodeOperationFailed  = -32003
	CodeConfigInvalid    = -32004
	CodeFilesystemError  = -32008
)

// Error is the JSON-RPC error object. It travels on the wire and doubles
// as a Go error on the client side.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func Errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// FromDomain maps a handler error onto a wire error. Typed errors from
// the errdefs taxonomy pick their catalogue code; an *Error passes
// through untouched; anything else becomes an internal error.
func FromDomain(err error) *Error {
	if err == nil {
		return nil
	}
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	switch {
	case errdefs.IsNotFound(err):
		return &Error{Code: CodeServiceNotFound, Message: err.Error()}
	case errdefs.IsAlreadyExists(err):
		return &Error{Code: CodeServiceExists, Message: err.Error()}
	case errdefs.IsValidation(err):
		return &Error{Code: CodeConfigInvalid, Message: err.Error()}
	case errdefs.IsInstall(err):
		return &Error{Code: CodeFilesystemError, Message: err.Error()}
	case errdefs.IsProcess(err), errdefs.IsDownload(err), errdefs.IsTimeout(err):
		return &Error{Code: CodeOperationFailed, Message: err.Error()}
	case errdefs.IsProtocol(err):
		return &Error{Code: CodeParseError, Message: err.Error()}
	default:
		return &Error{Code: CodeInternalError, Message: err.Error()}
	}
}
