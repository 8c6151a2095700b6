package jsonrpc

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// AsyncFunc is the body of a pending computation.
type AsyncFunc func(ctx context.Context) (any, error)

// Result is what a Handler returns: either a concrete value or a pending
// computation. The zero Result is the concrete value nil.
type Result struct {
	value  any
	body   AsyncFunc
	future *Future
}

// Value returns a concrete result.
func Value(v any) Result {
	return Result{value: v}
}

// Defer returns a pending result whose body is scheduled on the
// dispatcher's Runtime when the handler returns.
func Defer(fn AsyncFunc) Result {
	return Result{body: fn}
}

// Await returns a pending result backed by an already running computation.
func Await(f *Future) Result {
	return Result{future: f}
}

// Pending reports whether r still has to be waited on.
func (r Result) Pending() bool {
	return r.body != nil || r.future != nil
}

// Future is a handle on a computation that completes exactly once.
type Future struct {
	done  chan struct{}
	value any
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(v any, err error) {
	f.value, f.err = v, err
	close(f.done)
}

// Completed returns a future that already holds v.
func Completed(v any) *Future {
	f := newFuture()
	f.complete(v, nil)
	return f
}

// Failed returns a future that already holds err.
func Failed(err error) *Future {
	f := newFuture()
	f.complete(nil, err)
	return f
}

// Done is closed once the computation has completed.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the computation completes or ctx is done.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	default:
	}
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Settled is the outcome of one member of a group wait.
type Settled struct {
	Value any
	Err   error
}

// WaitAll waits on every future as one group and reports each member's
// value or fault at the same index. A fault in one member does not stop
// the wait on the others.
func WaitAll(ctx context.Context, futures []*Future) []Settled {
	out := make([]Settled, len(futures))
	var g errgroup.Group
	for i, f := range futures {
		g.Go(func() error {
			v, err := f.Wait(ctx)
			out[i] = Settled{Value: v, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Runtime schedules the bodies of pending computations. Go must not block
// the caller.
type Runtime interface {
	Go(ctx context.Context, fn AsyncFunc) *Future
}

type goroutineRuntime struct {
	sem *semaphore.Weighted
}

// NewRuntime returns a Runtime that runs each body on its own goroutine.
// When limit is positive at most limit bodies run at the same time; the
// rest queue without blocking the caller.
func NewRuntime(limit int) Runtime {
	rt := &goroutineRuntime{}
	if limit > 0 {
		rt.sem = semaphore.NewWeighted(int64(limit))
	}
	return rt
}

func (rt *goroutineRuntime) Go(ctx context.Context, fn AsyncFunc) *Future {
	f := newFuture()
	go func() {
		if rt.sem != nil {
			if err := rt.sem.Acquire(ctx, 1); err != nil {
				f.complete(nil, err)
				return
			}
			defer rt.sem.Release(1)
		}
		f.complete(runBody(ctx, fn))
	}()
	return f
}

func runBody(ctx context.Context, fn AsyncFunc) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, &panicError{value: r}
		}
	}()
	return fn(ctx)
}
