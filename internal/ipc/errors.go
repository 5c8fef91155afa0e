package ipc

import "fmt"

// Stable wire codes for the error kinds in the daemon's error taxonomy.
const (
	CodeDaemonUnavailable = 1000
	CodeUnknownMethod     = 1001
	CodeInvalidParams     = 1002
	CodeNotFound          = 1003
	CodeInvalidState      = 1004
	CodeCircuitOpen       = 1005
	CodeSpawnFailed       = 1006
	CodeTimeout           = 1007
	CodeInternal          = 1008
)

// Error is a dispatch-table-facing error carrying a stable wire code and
// optional structured Data (e.g. circuit_open's retryAfterMs) for clients
// that want to act on the failure programmatically, not just log Message.
type Error struct {
	Code    int
	Message string
	Data    any
}

func (e *Error) Error() string { return e.Message }

func NewError(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return NewError(CodeNotFound, format, args...)
}

func InvalidParams(format string, args ...any) *Error {
	return NewError(CodeInvalidParams, format, args...)
}

func InvalidState(format string, args ...any) *Error {
	return NewError(CodeInvalidState, format, args...)
}

func Internal(format string, args ...any) *Error {
	return NewError(CodeInternal, format, args...)
}

// toErrorObj converts any error returned by a handler into a wire error,
// defaulting unrecognized errors to internal.
func toErrorObj(err error) *ErrorObj {
	if ipcErr, ok := err.(*Error); ok {
		return &ErrorObj{Code: ipcErr.Code, Message: ipcErr.Message, Data: ipcErr.Data}
	}
	return &ErrorObj{Code: CodeInternal, Message: err.Error()}
}
