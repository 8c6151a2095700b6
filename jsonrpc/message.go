package jsonrpc

import (
	"encoding/json"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// Version is the protocol version carried in every message.
const Version = "2.0"

// Request is a JSON-RPC 2.0 request object. A nil ID marks a notification.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      any    `json:"id,omitempty"`
}

// IsNotification reports whether no response is expected for r.
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

// MakeRequest builds a call for method with a random UUID id.
// params should be a slice (positional) or a string-keyed map (named).
func MakeRequest(method string, params any) *Request {
	return &Request{
		JSONRPC: Version,
		Method:  method,
		Params:  params,
		ID:      uuid.NewString(),
	}
}

// MakeNotification builds a request that expects no response.
func MakeNotification(method string, params any) *Request {
	return &Request{
		JSONRPC: Version,
		Method:  method,
		Params:  params,
	}
}

// Response is a JSON-RPC 2.0 response object. Exactly one of Result and
// Error is meaningful; a nil Error means success, and the result member is
// then written even when Result is nil.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      any    `json:"id"`
}

type successWire struct {
	JSONRPC string `json:"jsonrpc" cbor:"jsonrpc"`
	Result  any    `json:"result" cbor:"result"`
	ID      any    `json:"id" cbor:"id"`
}

type errorWire struct {
	JSONRPC string `json:"jsonrpc" cbor:"jsonrpc"`
	Error   *Error `json:"error" cbor:"error"`
	ID      any    `json:"id" cbor:"id"`
}

func (r Response) wire() any {
	version := r.JSONRPC
	if version == "" {
		version = Version
	}
	if r.Error != nil {
		return errorWire{JSONRPC: version, Error: r.Error, ID: r.ID}
	}
	return successWire{JSONRPC: version, Result: r.Result, ID: r.ID}
}

// MarshalJSON implements json.Marshaler.
func (r Response) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.wire())
}

// MarshalCBOR implements cbor.Marshaler.
func (r Response) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(r.wire())
}

func errorResponse(id any, code ErrorCode, detail string) *Response {
	return &Response{JSONRPC: Version, Error: NewError(code, detail), ID: id}
}

// nullParams stands for an explicit "params": null.
type nullParams struct{}

// parseRequest reads a request object out of a decoded value. A non-nil
// Failure is returned when v is not a usable request.
func parseRequest(v any) (*Request, *Failure) {
	switch r := v.(type) {
	case *Request:
		if r == nil {
			return nil, &Failure{Code: CodeInvalidRequest, Detail: "nil request", Unidentified: true}
		}
		req := *r
		req.Params = normalizeParams(req.Params)
		return &req, nil
	case Request:
		r.Params = normalizeParams(r.Params)
		return &r, nil
	case map[string]any:
		id := r["id"]
		method, ok := r["method"].(string)
		if !ok {
			return nil, &Failure{ID: id, Code: CodeInvalidRequest, Detail: "method must be a string"}
		}
		params, present := r["params"]
		if present && params == nil {
			// Kept apart from absent params so that binding, which runs
			// after the method lookup, can reject it.
			params = nullParams{}
		}
		version, _ := r["jsonrpc"].(string)
		return &Request{JSONRPC: version, Method: method, Params: params, ID: id}, nil
	}
	return nil, &Failure{Code: CodeInvalidRequest, Detail: "request must be an object", Unidentified: true}
}

// normalizeParams converts typed Go slices and string-keyed maps, as built
// by MakeRequest callers, into the generic shapes the evaluator binds.
func normalizeParams(p any) any {
	switch p.(type) {
	case nil, []any, map[string]any:
		return p
	}
	v := reflect.ValueOf(p)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return p
		}
		out := make([]any, v.Len())
		for i := range out {
			out[i] = v.Index(i).Interface()
		}
		return out
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return p
		}
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		return out
	}
	return p
}
