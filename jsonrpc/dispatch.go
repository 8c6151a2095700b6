package jsonrpc

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Dispatcher routes a decoded request or batch through evaluation and
// resolution and produces the wire responses.
type Dispatcher struct {
	registry *Registry
	runtime  Runtime
	log      *zap.Logger
	metrics  *Metrics
	timeout  time.Duration
	maxBatch int

	eval *Evaluator
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRuntime sets the runtime that schedules pending computations.
func WithRuntime(rt Runtime) Option {
	return func(d *Dispatcher) {
		d.runtime = rt
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(d *Dispatcher) {
		d.log = log
	}
}

// WithMetrics enables call metrics.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithTimeout bounds each Dispatch call. Pending computations still
// running at the deadline fail with CodeUnexpectedError. Zero waits
// indefinitely.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// WithMaxBatch rejects batches longer than n. Zero allows any length.
func WithMaxBatch(n int) Option {
	return func(d *Dispatcher) {
		d.maxBatch = n
	}
}

// NewDispatcher creates a Dispatcher serving the methods of registry.
func NewDispatcher(registry *Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.runtime == nil {
		d.runtime = NewRuntime(0)
	}
	if d.log == nil {
		d.log = zap.NewNop()
	}
	d.eval = NewEvaluator(registry, d.runtime, d.log)
	return d
}

// Registry returns the registry the dispatcher serves.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// call tracks one request between evaluation and response.
type call struct {
	method  string
	start   time.Time
	outcome Outcome
}

// Dispatch handles a decoded request value.
//
// An object (map[string]any, *Request or Request) yields a *Response, or nil
// for a notification. An array ([]any or []*Request) yields a []*Response
// holding one entry per non-notification element, in input order. Any other
// value returns ErrInvalidTopLevel.
func (d *Dispatcher) Dispatch(ctx context.Context, v any) (any, error) {
	switch req := v.(type) {
	case []any:
		return d.dispatchBatch(ctx, req), nil
	case []*Request:
		batch := make([]any, len(req))
		for i, r := range req {
			batch[i] = r
		}
		return d.dispatchBatch(ctx, batch), nil
	case map[string]any, *Request, Request:
		if resp := d.dispatchSingle(ctx, req); resp != nil {
			return resp, nil
		}
		return nil, nil
	}
	return nil, ErrInvalidTopLevel
}

func (d *Dispatcher) dispatchSingle(ctx context.Context, v any) *Response {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	c := d.evaluate(ctx, v)
	c.outcome = Resolve(ctx, c.outcome)
	d.finish(c)
	return c.outcome.Response()
}

func (d *Dispatcher) dispatchBatch(ctx context.Context, batch []any) any {
	if len(batch) == 0 {
		d.log.Info("rejecting empty batch")
		return errorResponse(nil, CodeInvalidRequest, "empty batch")
	}
	if d.maxBatch > 0 && len(batch) > d.maxBatch {
		d.log.Info("rejecting oversized batch", zap.Int("size", len(batch)), zap.Int("limit", d.maxBatch))
		return errorResponse(nil, CodeInvalidRequest, "batch too large")
	}
	d.metrics.observeBatch(len(batch))

	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	// Every element is invoked, in input order, before anything is awaited
	// so that asynchronous bodies start together.
	calls := make([]call, len(batch))
	outcomes := make([]Outcome, len(batch))
	for i, el := range batch {
		calls[i] = d.evaluate(ctx, el)
		outcomes[i] = calls[i].outcome
	}

	responses := make([]*Response, 0, len(batch))
	for i, o := range ResolveBatch(ctx, outcomes) {
		calls[i].outcome = o
		d.finish(calls[i])
		if resp := o.Response(); resp != nil {
			responses = append(responses, resp)
		}
	}
	return responses
}

func (d *Dispatcher) evaluate(ctx context.Context, v any) call {
	start := time.Now()
	req, fail := parseRequest(v)
	if fail != nil {
		return call{method: unknownMethodLabel, start: start, outcome: *fail}
	}

	d.log.Debug("processing rpc request",
		zap.String("method", escapeForLog(req.Method)),
		zap.Bool("notification", req.IsNotification()))

	method := unknownMethodLabel
	if _, ok := d.registry.Lookup(req.Method); ok {
		method = req.Method
	}
	return call{method: method, start: start, outcome: d.eval.Evaluate(ctx, req)}
}

func (d *Dispatcher) finish(c call) {
	d.metrics.observeCall(c.method, c.outcome, time.Since(c.start))
	if f, ok := c.outcome.(Failure); ok {
		d.logFailure(c.method, f)
	}
}

// logFailure logs a failed request, including notifications whose
// failures never reach the client.
func (d *Dispatcher) logFailure(method string, f Failure) {
	fields := []zap.Field{
		zap.Int("code", int(f.Code)),
		zap.String("method", method),
		zap.Bool("notification", f.IsNotification()),
	}
	if f.Detail != "" {
		fields = append(fields, zap.String("detail", f.Detail))
	}
	if f.Cause != nil {
		fields = append(fields, zap.Error(f.Cause))
	}
	const msg = "error encountered with rpc request"
	if f.Code == CodeUnexpectedError {
		d.log.Warn(msg, fields...)
		return
	}
	d.log.Info(msg, fields...)
}

func (d *Dispatcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout > 0 {
		return context.WithTimeout(ctx, d.timeout)
	}
	return ctx, func() {}
}

// DispatchJSON decodes body, dispatches it and encodes the result. It
// returns nil when nothing must be written back.
func (d *Dispatcher) DispatchJSON(ctx context.Context, body []byte) ([]byte, error) {
	return d.dispatchEncoded(ctx, jsonCodec, body)
}

func (d *Dispatcher) dispatchEncoded(ctx context.Context, c codec, body []byte) ([]byte, error) {
	resp, err := d.dispatchBody(ctx, c, body)
	if err != nil || resp == nil {
		return nil, err
	}
	return c.encode(resp)
}

// dispatchBody decodes body with c and dispatches it. Undecodable input
// yields a parse error response and a value that is neither object nor
// array yields an invalid request response, both with a null id. A nil
// result means nothing must be written back.
func (d *Dispatcher) dispatchBody(ctx context.Context, c codec, body []byte) (any, error) {
	v, err := c.decode(body)
	if err != nil {
		d.log.Info("failed to parse rpc request", zap.String("encoding", c.name), zap.Error(err))
		return errorResponse(nil, CodeParseError, ""), nil
	}
	resp, err := d.Dispatch(ctx, v)
	if errors.Is(err, ErrInvalidTopLevel) {
		d.log.Info("rpc request is neither object nor array", zap.String("encoding", c.name))
		return errorResponse(nil, CodeInvalidRequest, ""), nil
	}
	if rs, ok := resp.([]*Response); ok && len(rs) == 0 {
		// A batch of notifications gets no reply at all, not an empty array.
		return nil, err
	}
	return resp, err
}
