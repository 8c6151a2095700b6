package jsonrpc

import (
	"context"
	"slices"
	"sync"
)

// Handler is the invocation wrapper of a registered method. It receives the
// arguments bound to the method's declared parameters, in declaration order.
//
// A returned error, or a panic, is reported to the client as
// CodeUnexpectedError.
type Handler func(ctx context.Context, args Args) (Result, error)

// Func adapts a synchronous function to a Handler.
func Func(fn func(ctx context.Context, args Args) (any, error)) Handler {
	return func(ctx context.Context, args Args) (Result, error) {
		v, err := fn(ctx, args)
		if err != nil {
			return Result{}, err
		}
		return Value(v), nil
	}
}

// Async adapts a function to a Handler whose body runs on the dispatcher's
// Runtime. Invocation returns immediately with a pending result.
func Async(fn func(ctx context.Context, args Args) (any, error)) Handler {
	return func(_ context.Context, args Args) (Result, error) {
		return Defer(func(ctx context.Context) (any, error) {
			return fn(ctx, args)
		}), nil
	}
}

// Method declares a handler together with its parameter names. The length
// of Params is the method's arity.
type Method struct {
	Name    string
	Params  []string
	Handler Handler
}

// Arity returns the number of declared parameters.
func (m Method) Arity() int {
	return len(m.Params)
}

// Registry maps method names to their declarations.
//
// Registration is expected to finish before the registry starts serving;
// Freeze enforces that. Lookups are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]Method
	frozen  bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		methods: make(map[string]Method),
	}
}

// Register adds m under its own name, replacing any earlier method with
// the same name.
func (r *Registry) Register(m Method) {
	r.RegisterAs(m.Name, m)
}

// RegisterAs adds m under name, replacing any earlier method with that name.
// It panics on an empty name, a nil handler, duplicate parameter names, or
// a frozen registry.
func (r *Registry) RegisterAs(name string, m Method) {
	if name == "" {
		panic("jsonrpc: empty method name")
	}
	if m.Handler == nil {
		panic("jsonrpc: nil handler for method " + name)
	}
	seen := make(map[string]struct{}, len(m.Params))
	for _, p := range m.Params {
		if _, dup := seen[p]; dup {
			panic("jsonrpc: duplicate parameter " + p + " in method " + name)
		}
		seen[p] = struct{}{}
	}
	m.Name = name
	m.Params = slices.Clone(m.Params)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic("jsonrpc: register after freeze: " + name)
	}
	r.methods[name] = m
}

// Lookup returns the method registered under name.
func (r *Registry) Lookup(name string) (Method, bool) {
	r.mu.RLock()
	m, ok := r.methods[name]
	r.mu.RUnlock()
	return m, ok
}

// Methods returns the registered names in sorted order.
func (r *Registry) Methods() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

// Freeze rejects any further registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}
