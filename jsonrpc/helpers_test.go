package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type xy struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// testRegistry registers the methods used across the package tests.
func testRegistry() *Registry {
	reg := NewRegistry()
	reg.Register(Method{
		Name:   "plus",
		Params: []string{"x", "y"},
		Handler: Func(func(_ context.Context, args Args) (any, error) {
			var p xy
			if err := args.Decode(&p); err != nil {
				return nil, err
			}
			return p.X + p.Y, nil
		}),
	})
	reg.Register(Method{
		Name:   "minus",
		Params: []string{"x", "y"},
		Handler: Async(func(_ context.Context, args Args) (any, error) {
			var p xy
			if err := args.Decode(&p); err != nil {
				return nil, err
			}
			return p.X - p.Y, nil
		}),
	})
	reg.Register(Method{
		Name:   "identity",
		Params: []string{"aa"},
		Handler: Func(func(_ context.Context, args Args) (any, error) {
			return args.At(0), nil
		}),
	})
	reg.Register(Method{
		Name: "erraiser",
		Handler: Func(func(context.Context, Args) (any, error) {
			return nil, errors.New("hogeee")
		}),
	})
	reg.Register(Method{
		Name:   "will_failed_func",
		Params: []string{"x"},
		Handler: Async(func(_ context.Context, args Args) (any, error) {
			return nil, errors.New("failed as requested")
		}),
	})
	reg.Register(Method{
		Name: "panicker",
		Handler: Func(func(context.Context, Args) (any, error) {
			panic("secret internal state")
		}),
	})
	reg.Register(Method{
		Name: "async_panicker",
		Handler: Async(func(context.Context, Args) (any, error) {
			panic("secret internal state")
		}),
	})
	reg.Register(Method{
		Name:   "sleep",
		Params: []string{"ms"},
		Handler: Async(func(ctx context.Context, args Args) (any, error) {
			var p struct {
				MS int `json:"ms"`
			}
			if err := args.Decode(&p); err != nil {
				return nil, err
			}
			select {
			case <-time.After(time.Duration(p.MS) * time.Millisecond):
				return p.MS, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}),
	})
	return reg
}

// decodeMessage parses a JSON response body for assertions. Numbers are
// kept as json.Number.
func decodeMessage(t *testing.T, data []byte) any {
	t.Helper()
	v, err := decodeJSON(data)
	require.NoError(t, err, "response: %s", data)
	return v
}

// asJSON round-trips a Dispatch result through its JSON encoding.
func asJSON(t *testing.T, v any) any {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return decodeMessage(t, data)
}

// request builds a decoded request object the way a transport would.
func request(method string, params any, id any) map[string]any {
	r := map[string]any{"jsonrpc": Version, "method": method}
	if params != nil {
		r["params"] = params
	}
	if id != nil {
		r["id"] = id
	}
	return r
}
