package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEvaluator() *Evaluator {
	return NewEvaluator(testRegistry(), nil, nil)
}

func TestEvaluateImmediate(t *testing.T) {
	out := newTestEvaluator().Evaluate(context.Background(), &Request{
		Method: "plus", Params: []any{json.Number("1"), json.Number("2")}, ID: json.Number("111"),
	})
	s, ok := out.(Success)
	require.True(t, ok, "got %#v", out)
	assert.False(t, s.Pending())
	assert.Equal(t, 3.0, s.Value)
	assert.Equal(t, json.Number("111"), s.RequestID())
}

func TestEvaluatePending(t *testing.T) {
	out := newTestEvaluator().Evaluate(context.Background(), &Request{
		Method: "minus", Params: []any{5, 3}, ID: 1,
	})
	s, ok := out.(Success)
	require.True(t, ok)
	require.True(t, s.Pending())

	v, err := s.Future.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)
}

func TestEvaluateAwait(t *testing.T) {
	reg := NewRegistry()
	f := Completed("ready")
	reg.Register(Method{Name: "m", Handler: func(context.Context, Args) (Result, error) {
		return Await(f), nil
	}})

	out := NewEvaluator(reg, nil, nil).Evaluate(context.Background(), &Request{Method: "m", ID: 1})
	require.IsType(t, Success{}, out)
	assert.Same(t, f, out.(Success).Future)
}

func TestEvaluateFailures(t *testing.T) {
	tests := []struct {
		name   string
		req    *Request
		code   ErrorCode
		detail string
	}{
		{"unknown method", &Request{Method: "ghost", Params: []any{}, ID: 1}, CodeMethodNotFound, "method ghost is not registered"},
		{"unknown method with named params", &Request{Method: "ghost", Params: map[string]any{"x": 1}, ID: 1}, CodeMethodNotFound, ""},
		{"arity", &Request{Method: "plus", Params: []any{1}, ID: 1}, CodeInvalidParams, "plus takes 2 positional argument(s) but 1 were given"},
		{"key set", &Request{Method: "plus", Params: map[string]any{"x": 1}, ID: 1}, CodeInvalidParams, "plus: missing argument(s) y"},
		{"params shape", &Request{Method: "plus", Params: "1,2", ID: 1}, CodeInvalidRequest, ""},
		{"params null", &Request{Method: "plus", Params: nullParams{}, ID: 1}, CodeInvalidRequest, ""},
		{"unknown method with null params", &Request{Method: "ghost", Params: nullParams{}, ID: 1}, CodeMethodNotFound, ""},
		{"handler error", &Request{Method: "erraiser", ID: 1}, CodeUnexpectedError, "hogeee"},
		{"handler panic", &Request{Method: "panicker", ID: 1}, CodeUnexpectedError, "handler panicked"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := newTestEvaluator().Evaluate(context.Background(), tt.req)
			f, ok := out.(Failure)
			require.True(t, ok, "got %#v", out)
			assert.Equal(t, tt.code, f.Code)
			assert.Equal(t, 1, f.RequestID())
			if tt.detail != "" {
				assert.Equal(t, tt.detail, f.Detail)
			}
		})
	}
}

func TestEvaluateNilRequest(t *testing.T) {
	var out Outcome
	require.NotPanics(t, func() {
		out = newTestEvaluator().Evaluate(context.Background(), nil)
	})
	f, ok := out.(Failure)
	require.True(t, ok, "got %#v", out)
	assert.Equal(t, CodeInvalidRequest, f.Code)
	assert.NotNil(t, f.Response())
}

func TestEvaluateHandlerReceivesContext(t *testing.T) {
	type key struct{}
	reg := NewRegistry()
	reg.Register(Method{Name: "ctx", Handler: Func(func(ctx context.Context, _ Args) (any, error) {
		return ctx.Value(key{}), nil
	})})

	ctx := context.WithValue(context.Background(), key{}, "carried")
	out := NewEvaluator(reg, nil, nil).Evaluate(ctx, &Request{Method: "ctx", ID: 1})
	assert.Equal(t, Success{ID: 1, Value: "carried"}, out)
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	immediate := Success{ID: 1, Value: "v"}
	assert.Equal(t, immediate, Resolve(ctx, immediate))

	failure := Failure{ID: 1, Code: CodeMethodNotFound}
	assert.Equal(t, failure, Resolve(ctx, failure))

	assert.Equal(t, Success{ID: 2, Value: "done"}, Resolve(ctx, Success{ID: 2, Future: Completed("done")}))

	got := Resolve(ctx, Success{ID: 3, Future: Failed(errors.New("late failure"))})
	f, ok := got.(Failure)
	require.True(t, ok)
	assert.Equal(t, CodeUnexpectedError, f.Code)
	assert.Equal(t, "late failure", f.Detail)
	assert.Equal(t, 3, f.ID)
}

func TestResolveTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := Resolve(ctx, Success{ID: 1, Future: newFuture()})
	require.IsType(t, Failure{}, got)
	assert.Equal(t, "request cancelled", got.(Failure).Detail)
}

func TestResolveBatchKeepsPositions(t *testing.T) {
	rt := NewRuntime(0)
	ctx := context.Background()
	slow := rt.Go(ctx, func(context.Context) (any, error) { return "slow", nil })

	in := []Outcome{
		Success{ID: 1, Future: slow},
		Failure{ID: 2, Code: CodeInvalidParams},
		Success{ID: 3, Value: "immediate"},
		Success{ID: 4, Future: Failed(errors.New("x"))},
		Success{Future: Completed("notification")},
	}
	out := ResolveBatch(ctx, in)
	require.Len(t, out, len(in))

	assert.Equal(t, Success{ID: 1, Value: "slow"}, out[0])
	assert.Equal(t, in[1], out[1])
	assert.Equal(t, in[2], out[2])
	assert.Equal(t, CodeUnexpectedError, out[3].(Failure).Code)
	assert.Equal(t, 4, out[3].RequestID())
	assert.True(t, out[4].IsNotification())
	assert.Nil(t, out[4].Response())
}

func TestOutcomeResponses(t *testing.T) {
	assert.Nil(t, Success{Value: 1}.Response())
	assert.Nil(t, Failure{Code: CodeUnexpectedError}.Response())

	unidentified := Failure{Code: CodeInvalidRequest, Unidentified: true}
	assert.False(t, unidentified.IsNotification())
	resp := unidentified.Response()
	require.NotNil(t, resp)
	assert.Nil(t, resp.ID)

	resp = Success{ID: "a", Value: nil}.Response()
	assert.Equal(t, &Response{JSONRPC: Version, ID: "a"}, resp)

	f := Failure{ID: 7, Code: CodeInvalidParams, Detail: "bad"}
	assert.Equal(t, &Error{Code: CodeInvalidParams, Message: "Invalid method parameter(s). bad"}, f.WireError())
}
