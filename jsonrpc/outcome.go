package jsonrpc

// Outcome is the result of evaluating one request: a Success or a Failure.
// Its id is copied from the request, and a nil id marks a notification.
type Outcome interface {
	RequestID() any
	// IsNotification reports whether the outcome must be left out of the
	// response.
	IsNotification() bool
	// Response converts the outcome to its wire form, or nil for a
	// notification. Pending successes must be resolved first.
	Response() *Response

	isOutcome()
}

// Success is a request that was invoked. While Future is non-nil the value
// is still pending.
type Success struct {
	ID     any
	Value  any
	Future *Future
}

func (s Success) RequestID() any       { return s.ID }
func (s Success) IsNotification() bool { return s.ID == nil }
func (Success) isOutcome()             {}

// Pending reports whether the value still has to be waited on.
func (s Success) Pending() bool {
	return s.Future != nil
}

func (s Success) Response() *Response {
	if s.IsNotification() {
		return nil
	}
	return &Response{JSONRPC: Version, Result: s.Value, ID: s.ID}
}

// Failure is a request that could not be evaluated or whose handler
// faulted. Failures are terminal.
type Failure struct {
	ID     any
	Code   ErrorCode
	Detail string
	// Cause is the underlying fault, kept for logging only.
	Cause error
	// Unidentified marks a value that is not a request object at all, so
	// no id could be read from it. It is answered with a null id instead
	// of being treated as a notification.
	Unidentified bool
}

func (f Failure) RequestID() any       { return f.ID }
func (f Failure) IsNotification() bool { return f.ID == nil && !f.Unidentified }
func (Failure) isOutcome()             {}

func (f Failure) Response() *Response {
	if f.IsNotification() {
		return nil
	}
	return errorResponse(f.ID, f.Code, f.Detail)
}

// WireError returns the error member written for the failure.
func (f Failure) WireError() *Error {
	return NewError(f.Code, f.Detail)
}
