package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mnehpets/rpcdispatch/jsonrpc"
)

// pair holds the operands of the arithmetic methods.
type pair struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

var errAlwaysFails = errors.New("erraiser always fails")

// demoMethods are served by rpcd. They are meant for trying out clients
// and transports.
func demoMethods() []jsonrpc.Method {
	return []jsonrpc.Method{
		{
			Name:   "plus",
			Params: []string{"x", "y"},
			Handler: jsonrpc.Func(func(_ context.Context, args jsonrpc.Args) (any, error) {
				var p pair
				if err := args.Decode(&p); err != nil {
					return nil, err
				}
				return p.X + p.Y, nil
			}),
		},
		{
			Name:   "minus",
			Params: []string{"x", "y"},
			Handler: jsonrpc.Async(func(_ context.Context, args jsonrpc.Args) (any, error) {
				var p pair
				if err := args.Decode(&p); err != nil {
					return nil, err
				}
				return p.X - p.Y, nil
			}),
		},
		{
			Name:   "identity",
			Params: []string{"aa"},
			Handler: jsonrpc.Func(func(_ context.Context, args jsonrpc.Args) (any, error) {
				s, ok := args.At(0).(string)
				if !ok {
					return nil, fmt.Errorf("aa must be a string, got %T", args.At(0))
				}
				return s + " called", nil
			}),
		},
		{
			Name: "erraiser",
			Handler: jsonrpc.Func(func(context.Context, jsonrpc.Args) (any, error) {
				return nil, errAlwaysFails
			}),
		},
		{
			Name:   "will_failed_func",
			Params: []string{"x"},
			Handler: jsonrpc.Async(func(_ context.Context, args jsonrpc.Args) (any, error) {
				return nil, fmt.Errorf("%v", args.At(0))
			}),
		},
		{
			Name:   "heavy_request",
			Params: []string{"a"},
			Handler: jsonrpc.Async(func(ctx context.Context, args jsonrpc.Args) (any, error) {
				var p struct {
					Seconds float64 `json:"a"`
				}
				if err := args.Decode(&p); err != nil {
					return nil, err
				}
				t := time.NewTimer(time.Duration(p.Seconds * float64(time.Second)))
				defer t.Stop()
				select {
				case <-t.C:
					return "home page!", nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}),
		},
	}
}

func newRegistry() *jsonrpc.Registry {
	reg := jsonrpc.NewRegistry()
	for _, m := range demoMethods() {
		reg.Register(m)
	}
	reg.Freeze()
	return reg
}
