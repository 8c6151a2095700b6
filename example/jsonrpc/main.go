package main

import (
	"context"
	"log"
	"net/http"

	"github.com/mnehpets/rpcdispatch/endpoint"
	"github.com/mnehpets/rpcdispatch/jsonrpc"
	"github.com/mnehpets/rpcdispatch/middleware"
)

func main() {
	reg := jsonrpc.NewRegistry()
	reg.Register(jsonrpc.Method{
		Name:   "add",
		Params: []string{"a", "b"},
		Handler: jsonrpc.Func(func(_ context.Context, args jsonrpc.Args) (any, error) {
			var p struct {
				A int `json:"a"`
				B int `json:"b"`
			}
			if err := args.Decode(&p); err != nil {
				return nil, err
			}
			return p.A + p.B, nil
		}),
	})
	reg.Register(jsonrpc.Method{
		Name:   "echo",
		Params: []string{"value"},
		Handler: jsonrpc.Async(func(_ context.Context, args jsonrpc.Args) (any, error) {
			return args.At(0), nil
		}),
	})
	reg.Freeze()

	d := jsonrpc.NewDispatcher(reg)
	http.Handle("/rpc", endpoint.Handler(jsonrpc.NewEndpoint(d).Endpoint, middleware.BodyLimit{Max: 1 << 20}))
	http.Handle("/ws", jsonrpc.NewWSHandler(d))

	log.Println("Starting server on :8080")
	log.Fatal(http.ListenAndServe(":8080", nil))
}
