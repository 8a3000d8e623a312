package status

import (
	"errors"
	"fmt"
	"runtime"

	pkgerrors "github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LogErrorStackTraces makes newly created errors capture a stack trace. The
// CLI turns it on with --verbose.
var LogErrorStackTraces = false

const stackDepth = 10

type wrappedError struct {
	error
	*stack
}

func (w *wrappedError) GRPCStatus() *status.Status {
	if se, ok := w.error.(interface {
		GRPCStatus() *status.Status
	}); ok {
		return se.GRPCStatus()
	}
	return status.New(codes.Unknown, "")
}

func (w *wrappedError) Unwrap() error {
	return w.error
}

type StackTrace = pkgerrors.StackTrace
type stack []uintptr

func (s *stack) StackTrace() StackTrace {
	f := make([]pkgerrors.Frame, len(*s))
	for i := 0; i < len(f); i++ {
		f[i] = pkgerrors.Frame((*s)[i])
	}
	return f
}

func callers() *stack {
	var pcs [stackDepth]uintptr
	n := runtime.Callers(4, pcs[:])
	var st stack = pcs[0:n]
	return &st
}

// statusError carries a gRPC code while keeping the wrapped error reachable
// through errors.Is and errors.As.
type statusError struct {
	code codes.Code
	err  error
}

func (e *statusError) Error() string {
	return e.GRPCStatus().String()
}

func (e *statusError) Unwrap() error {
	return e.err
}

func (e *statusError) GRPCStatus() *status.Status {
	return status.New(e.code, e.err.Error())
}

// WrapWithCode attaches code to err without hiding err from errors.Is.
func WrapWithCode(err error, code codes.Code) error {
	return makeStatusError(code, err)
}

func makeStatusError(code codes.Code, err error) error {
	statusErr := &statusError{
		code: code,
		err:  err,
	}
	if !LogErrorStackTraces {
		return statusErr
	}
	return &wrappedError{
		statusErr,
		callers(),
	}
}

func InvalidArgumentError(msg string) error {
	return makeStatusError(codes.InvalidArgument, errors.New(msg))
}
func IsInvalidArgumentError(err error) bool {
	return status.Code(err) == codes.InvalidArgument
}
func InvalidArgumentErrorf(format string, a ...interface{}) error {
	return makeStatusError(codes.InvalidArgument, fmt.Errorf(format, a...))
}
func NotFoundError(msg string) error {
	return makeStatusError(codes.NotFound, errors.New(msg))
}
func IsNotFoundError(err error) bool {
	return status.Code(err) == codes.NotFound
}
func NotFoundErrorf(format string, a ...interface{}) error {
	return makeStatusError(codes.NotFound, fmt.Errorf(format, a...))
}
func FailedPreconditionError(msg string) error {
	return makeStatusError(codes.FailedPrecondition, errors.New(msg))
}
func IsFailedPreconditionError(err error) bool {
	return status.Code(err) == codes.FailedPrecondition
}
func FailedPreconditionErrorf(format string, a ...interface{}) error {
	return makeStatusError(codes.FailedPrecondition, fmt.Errorf(format, a...))
}
func AbortedError(msg string) error {
	return makeStatusError(codes.Aborted, errors.New(msg))
}
func IsAbortedError(err error) bool {
	return status.Code(err) == codes.Aborted
}
func AbortedErrorf(format string, a ...interface{}) error {
	return makeStatusError(codes.Aborted, fmt.Errorf(format, a...))
}
func DeadlineExceededError(msg string) error {
	return makeStatusError(codes.DeadlineExceeded, errors.New(msg))
}
func IsDeadlineExceededError(err error) bool {
	return status.Code(err) == codes.DeadlineExceeded
}
func DeadlineExceededErrorf(format string, a ...interface{}) error {
	return makeStatusError(codes.DeadlineExceeded, fmt.Errorf(format, a...))
}
func InternalError(msg string) error {
	return makeStatusError(codes.Internal, errors.New(msg))
}
func IsInternalError(err error) bool {
	return status.Code(err) == codes.Internal
}
func InternalErrorf(format string, a ...interface{}) error {
	return makeStatusError(codes.Internal, fmt.Errorf(format, a...))
}
func UnavailableError(msg string) error {
	return makeStatusError(codes.Unavailable, errors.New(msg))
}
func IsUnavailableError(err error) bool {
	return status.Code(err) == codes.Unavailable
}
func UnavailableErrorf(format string, a ...interface{}) error {
	return makeStatusError(codes.Unavailable, fmt.Errorf(format, a...))
}

// WrapError prepends msg to the error description, keeping the status code.
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	var statusErr *statusError
	if errors.As(err, &statusErr) {
		return makeStatusError(statusErr.code, fmt.Errorf("%s: %w", msg, statusErr.err))
	}
	return makeStatusError(status.Code(err), fmt.Errorf("%s: %w", msg, err))
}

// WrapErrorf is the "Printf" version of WrapError.
func WrapErrorf(err error, format string, a ...interface{}) error {
	return WrapError(err, fmt.Sprintf(format, a...))
}

// Message extracts the error message without the "rpc error: code = ..."
// decoration.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var statusErr *statusError
	if errors.As(err, &statusErr) {
		return statusErr.err.Error()
	}
	if s, ok := status.FromError(err); ok {
		return s.Message()
	}
	return err.Error()
}
