package jsonrpc

import (
	"context"

	"go.uber.org/zap"
)

// Evaluator validates a single request against a Registry and invokes its
// handler. It never waits on pending computations.
type Evaluator struct {
	registry *Registry
	runtime  Runtime
	log      *zap.Logger
}

// NewEvaluator creates an Evaluator. A nil runtime defaults to an unbounded
// goroutine runtime and a nil logger discards output.
func NewEvaluator(registry *Registry, runtime Runtime, log *zap.Logger) *Evaluator {
	if runtime == nil {
		runtime = NewRuntime(0)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Evaluator{registry: registry, runtime: runtime, log: log}
}

// Evaluate looks up req.Method, binds its params and invokes the handler.
// A pending handler result is scheduled and stored unresolved.
func (e *Evaluator) Evaluate(ctx context.Context, req *Request) (out Outcome) {
	if req == nil {
		return Failure{Code: CodeInvalidRequest, Detail: "nil request", Unidentified: true}
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("rpc handler panicked",
				zap.String("method", req.Method),
				zap.Any("panic", r))
			err := &panicError{value: r}
			out = Failure{ID: req.ID, Code: CodeUnexpectedError, Detail: faultDetail(err), Cause: err}
		}
	}()

	m, ok := e.registry.Lookup(req.Method)
	if !ok {
		return Failure{ID: req.ID, Code: CodeMethodNotFound, Detail: "method " + req.Method + " is not registered"}
	}

	args, fail := bind(m, req.Params)
	if fail != nil {
		fail.ID = req.ID
		return *fail
	}

	res, err := m.Handler(ctx, args)
	if err != nil {
		return Failure{ID: req.ID, Code: CodeUnexpectedError, Detail: faultDetail(err), Cause: err}
	}

	switch {
	case res.body != nil:
		return Success{ID: req.ID, Future: e.runtime.Go(ctx, res.body)}
	case res.future != nil:
		return Success{ID: req.ID, Future: res.future}
	}
	return Success{ID: req.ID, Value: res.value}
}
