// Package errdefs defines the error taxonomy shared across the daemon.
// Components return these types; the RPC boundary maps them to wire codes.
package errdefs

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError reports a malformed configuration or argument.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing service or resource.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

func NotFound(kind, name string) *NotFoundError {
	return &NotFoundError{Kind: kind, Name: name}
}

// AlreadyExistsError reports a duplicate service or a start on a running one.
type AlreadyExistsError struct {
	Kind string
	Name string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Kind, e.Name)
}

func AlreadyExists(kind, name string) *AlreadyExistsError {
	return &AlreadyExistsError{Kind: kind, Name: name}
}

// ProcessError reports a spawn or exit failure of a supervised child.
type ProcessError struct {
	Service string
	Msg     string
	Err     error
}

func (e *ProcessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("process %s: %s: %v", e.Service, e.Msg, e.Err)
	}
	return fmt.Sprintf("process %s: %s", e.Service, e.Msg)
}

func (e *ProcessError) Unwrap() error { return e.Err }

func Process(service, msg string, err error) *ProcessError {
	return &ProcessError{Service: service, Msg: msg, Err: err}
}

// DownloadError reports a network failure or a size mismatch while fetching
// a release asset.
type DownloadError struct {
	Msg string
	Err error
}

func (e *DownloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("download: %s: %v", e.Msg, e.Err)
	}
	return "download: " + e.Msg
}

func (e *DownloadError) Unwrap() error { return e.Err }

func Download(msg string, err error) *DownloadError {
	return &DownloadError{Msg: msg, Err: err}
}

// InstallError reports a filesystem or permission failure while swapping the
// installed binary.
type InstallError struct {
	Msg string
	Err error
}

func (e *InstallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("install: %s: %v", e.Msg, e.Err)
	}
	return "install: " + e.Msg
}

func (e *InstallError) Unwrap() error { return e.Err }

func Install(msg string, err error) *InstallError {
	return &InstallError{Msg: msg, Err: err}
}

// ProtocolError reports a malformed or oversized IPC frame.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return "protocol: " + e.Msg }

func Protocolf(format string, args ...any) *ProtocolError {
	return &ProtocolError{Msg: fmt.Sprintf(format, args...)}
}

// TimeoutError reports an expired spawn, stop, or RPC wait.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
}

func Timeout(op string, after time.Duration) *TimeoutError {
	return &TimeoutError{Op: op, After: after}
}

func IsValidation(err error) bool {
	var t *ValidationError
	return errors.As(err, &t)
}

func IsNotFound(err error) bool {
	var t *NotFoundError
	return errors.As(err, &t)
}

func IsAlreadyExists(err error) bool {
	var t *AlreadyExistsError
	return errors.As(err, &t)
}

func IsProcess(err error) bool {
	var t *ProcessError
	return errors.As(err, &t)
}

func IsDownload(err error) bool {
	var t *DownloadError
	return errors.As(err, &t)
}

func IsInstall(err error) bool {
	var t *InstallError
	return errors.As(err, &t)
}

func IsProtocol(err error) bool {
	var t *ProtocolError
	return errors.As(err, &t)
}

func IsTimeout(err error) bool {
	var t *TimeoutError
	return errors.As(err, &t)
}
