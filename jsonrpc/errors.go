package jsonrpc

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	CodeParseError     ErrorCode = -32700
	CodeInvalidRequest ErrorCode = -32600
	CodeMethodNotFound ErrorCode = -32601
	CodeInvalidParams  ErrorCode = -32602
	CodeInternalError  ErrorCode = -32603

	// CodeUnexpectedError is reported when a handler fails, either while it
	// is invoked or while its pending computation is resolved.
	CodeUnexpectedError ErrorCode = -32099
)

var codeMessages = map[ErrorCode]string{
	CodeParseError:      "Parse error Invalid JSON was received by the server.",
	CodeInvalidRequest:  "The JSON sent is not a valid Request object.",
	CodeMethodNotFound:  "The method does not exist / is not available.",
	CodeInvalidParams:   "Invalid method parameter(s).",
	CodeInternalError:   "Internal JSON-RPC error.",
	CodeUnexpectedError: "unexpected error is occurred",
}

var codeNames = map[ErrorCode]string{
	CodeParseError:      "parse_error",
	CodeInvalidRequest:  "invalid_request",
	CodeMethodNotFound:  "method_not_found",
	CodeInvalidParams:   "invalid_params",
	CodeInternalError:   "internal_error",
	CodeUnexpectedError: "unexpected_error",
}

// Message returns the fixed human-readable message for the code.
func (c ErrorCode) Message() string {
	if m, ok := codeMessages[c]; ok {
		return m
	}
	return "Server error."
}

func (c ErrorCode) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return "code_" + strconv.Itoa(int(c))
}

// carriesDetail reports whether the wire message of c is suffixed with
// the failure detail.
func (c ErrorCode) carriesDetail() bool {
	return c == CodeInvalidParams || c == CodeUnexpectedError
}

// Error is the error member of a JSON-RPC response.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

// NewError builds the wire error for code. The detail is appended to the
// fixed message, as "<message>. <detail>", only for CodeInvalidParams and
// CodeUnexpectedError.
func NewError(code ErrorCode, detail string) *Error {
	msg := code.Message()
	if detail != "" && code.carriesDetail() {
		msg = strings.TrimSuffix(msg, ".") + ". " + detail
	}
	return &Error{Code: code, Message: msg}
}

// ErrInvalidTopLevel is returned by Dispatch when the request value is
// neither an object nor an array. No request id can be recovered from
// such a value, so it is not encoded as a JSON-RPC error.
var ErrInvalidTopLevel = errors.New("jsonrpc: request must be an object or an array")

// panicError carries a value recovered from a panicking handler.
type panicError struct {
	value any
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

const maxDetailLen = 256

// faultDetail turns a handler fault into the text shown to clients.
// Panic values are never exposed.
func faultDetail(err error) string {
	var pe *panicError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pe):
		return "handler panicked"
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	}
	return sanitizeDetail(err.Error())
}

func sanitizeDetail(s string) string {
	s = escapeForLog(s)
	if len(s) > maxDetailLen {
		s = strings.ToValidUTF8(s[:maxDetailLen], "")
	}
	return s
}

// escapeForLog drops non-printable characters from client-supplied text.
func escapeForLog(in string) string {
	return strings.Map(func(c rune) rune {
		if !strconv.IsGraphic(c) {
			return -1
		}
		return c
	}, in)
}
