// Package jsonrpc dispatches JSON-RPC 2.0 requests to registered handlers.
//
// This package implements the JSON-RPC 2.0 specification (https://www.jsonrpc.org/specification)
// and serves it over HTTP (https://www.simple-is-better.org/json-rpc/transport_http.html)
// and WebSocket.
//
// # Basic Usage
//
// Register methods, create a dispatcher and serve it via HTTP:
//
//	reg := jsonrpc.NewRegistry()
//	reg.Register(jsonrpc.Method{
//	    Name:   "add",
//	    Params: []string{"a", "b"},
//	    Handler: jsonrpc.Func(func(ctx context.Context, args jsonrpc.Args) (any, error) {
//	        var p struct{ A, B int }
//	        if err := args.Decode(&p); err != nil {
//	            return nil, err
//	        }
//	        return p.A + p.B, nil
//	    }),
//	})
//	d := jsonrpc.NewDispatcher(reg, jsonrpc.WithLogger(log))
//	http.Handle("/rpc", endpoint.Handler(jsonrpc.NewEndpoint(d).Endpoint))
//
// # Parameters
//
// A method declares its parameter names in order. Positional params must
// have exactly that many elements; named params must have exactly that key
// set. Anything else fails with CodeInvalidParams before the handler runs.
// Args gives access by position, by name, or decoded into a struct.
//
// # Asynchronous Handlers
//
// A Handler returns a Result. Value(v) is a finished result. Defer(fn)
// asks the dispatcher to run fn on its Runtime, and Await(f) hands over a
// Future the handler already started. Pending results of a batch are
// awaited together, so slow handlers in one batch run concurrently:
//
//	jsonrpc.Async(func(ctx context.Context, args jsonrpc.Args) (any, error) {
//	    return fetch(ctx, args.At(0))
//	})
//
// # Errors
//
// Per-request faults never escape as Go errors; each becomes an error
// response carrying one of the standard codes, or CodeUnexpectedError when
// the handler itself fails. Notifications never produce a response, even
// when they fail. Dispatch returns ErrInvalidTopLevel only for a request
// value that is neither an object nor an array.
//
// # Processor Integration
//
// Processors can be passed to endpoint.Handler for cross-cutting concerns:
//
//	http.Handle("/rpc", endpoint.Handler(e.Endpoint, headersProcessor, loggingProcessor))
//
// Processor errors return HTTP error responses (not JSON-RPC errors).
package jsonrpc
