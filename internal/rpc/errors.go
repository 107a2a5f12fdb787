package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"

	ferrors "git.home.luguber.info/inful/buildmesh/internal/foundation/errors"
)

// Reply codes carried in the c field of a failed reply.
const (
	CodeUnknownMethod = "unknown_method"
	CodeBadArgs       = "bad_args"
	CodeInternal      = "internal"
	CodeFailed        = "failed"
)

// ErrConnectionLost completes every call pending on a connection that failed
// or was closed.
var ErrConnectionLost = errors.New("rpc: connection lost")

// RemoteError is a failure reported by the peer that served a call.
type RemoteError struct {
	Method  string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("rpc: %s: %s", e.Method, e.Message)
	}
	return fmt.Sprintf("rpc: %s: %s (%s)", e.Method, e.Message, e.Code)
}

// CodedError lets a handler choose the reply code for its error.
type CodedError interface {
	error
	Code() string
}

type codedError struct {
	code string
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }
func (e *codedError) Code() string  { return e.code }

// WithCode wraps err so that the reply carries code.
func WithCode(code string, err error) error {
	if err == nil {
		return nil
	}
	return &codedError{code: code, err: err}
}

// IsUnknownMethod reports whether the peer does not serve the method called.
func IsUnknownMethod(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Code == CodeUnknownMethod
}

// IsTransport reports whether err means the peer is unreachable or the
// connection to it is gone, as opposed to the peer reporting a failure. The
// caller's own deadline or cancellation is never a transport failure.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrConnectionLost) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if ferrors.HasCategory(err, ferrors.CategoryNetwork) {
		return true
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return false
	}
	var ne net.Error
	return errors.As(err, &ne)
}

func codeOf(err error) string {
	var ce CodedError
	if errors.As(err, &ce) {
		return ce.Code()
	}
	return CodeFailed
}
