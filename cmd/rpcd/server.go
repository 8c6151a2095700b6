package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mnehpets/rpcdispatch/config"
	"github.com/mnehpets/rpcdispatch/endpoint"
	"github.com/mnehpets/rpcdispatch/jsonrpc"
	"github.com/mnehpets/rpcdispatch/middleware"
)

// server bundles the listeners of rpcd.
type server struct {
	cfg     config.Config
	log     *zap.Logger
	rpc     *http.Server
	metrics *http.Server
	ws      *jsonrpc.WSHandler
}

func newServer(cfg config.Config, log *zap.Logger, reg *jsonrpc.Registry) (*server, error) {
	opts := []jsonrpc.Option{
		jsonrpc.WithLogger(log),
		jsonrpc.WithRuntime(jsonrpc.NewRuntime(cfg.Dispatch.MaxConcurrency)),
		jsonrpc.WithTimeout(cfg.Dispatch.RequestTimeout),
		jsonrpc.WithMaxBatch(cfg.Dispatch.MaxBatchSize),
	}

	s := &server{cfg: cfg, log: log}
	if cfg.Metrics.Enabled {
		promReg := prometheus.NewRegistry()
		promReg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts, jsonrpc.WithMetrics(jsonrpc.NewMetrics(promReg)))

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		s.metrics = &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	d := jsonrpc.NewDispatcher(reg, opts...)
	handler, ws, err := newHandler(cfg, log, d)
	if err != nil {
		return nil, err
	}
	s.ws = ws
	s.rpc = &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// newHandler routes the RPC endpoint, the WebSocket endpoint, the health
// check and the method description route. The returned WSHandler is nil when WebSocket is disabled.
func newHandler(cfg config.Config, log *zap.Logger, d *jsonrpc.Dispatcher) (http.Handler, *jsonrpc.WSHandler, error) {
	headerOpts := []middleware.APIHeadersOption{}
	if cfg.Server.EnableCORS {
		headerOpts = append(headerOpts, middleware.WithCORS(cfg.Server.CORSOrigins...))
	}
	processors := []endpoint.Processor{
		middleware.NewRequestLogger(log),
		middleware.NewAPIHeaders(headerOpts...),
		middleware.BodyLimit{Max: cfg.Server.MaxRequestBodyBytes},
	}

	var rpc http.Handler = endpoint.Handler(jsonrpc.NewEndpoint(d).Endpoint, processors...)
	if cfg.Server.Compression {
		wrap, err := gzhttp.NewWrapper(gzhttp.MinSize(512))
		if err != nil {
			return nil, nil, fmt.Errorf("compression: %w", err)
		}
		rpc = wrap(rpc)
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.RPCPath, rpc)
	mux.Handle("GET /healthz", endpoint.Handler(healthz(d)))
	mux.Handle("GET /methods/{name}", endpoint.Handler(describeMethod(d)))

	var ws *jsonrpc.WSHandler
	if cfg.Server.WSPath != "" {
		wsOpts := []jsonrpc.WSOption{
			jsonrpc.WithMaxClients(cfg.Server.MaxWebSocketClients),
			jsonrpc.WithReadLimit(cfg.Server.WSReadLimit),
		}
		if cfg.Server.EnableCORS {
			wsOpts = append(wsOpts, jsonrpc.WithCheckOrigin(originChecker(cfg.Server.CORSOrigins)))
		}
		ws = jsonrpc.NewWSHandler(d, wsOpts...)
		mux.Handle(cfg.Server.WSPath, ws)
	}
	return mux, ws, nil
}

type health struct {
	Status  string   `json:"status"`
	Methods int      `json:"methods"`
	Names   []string `json:"names,omitempty"`
}

type healthParams struct {
	Verbose bool `query:"verbose"`
}

// healthz reports liveness and the size of the registry. ?verbose=true
// also lists the registered method names.
func healthz(d *jsonrpc.Dispatcher) endpoint.EndpointFunc[healthParams] {
	return func(_ http.ResponseWriter, _ *http.Request, p healthParams) (endpoint.Renderer, error) {
		names := d.Registry().Methods()
		h := health{Status: "ok", Methods: len(names)}
		if p.Verbose {
			h.Names = names
		}
		return &endpoint.JSONRenderer{Value: h}, nil
	}
}

type methodInfo struct {
	Name   string   `json:"name"`
	Params []string `json:"params"`
}

type methodParams struct {
	Name string `path:"name"`
}

func describeMethod(d *jsonrpc.Dispatcher) endpoint.EndpointFunc[methodParams] {
	return func(_ http.ResponseWriter, _ *http.Request, p methodParams) (endpoint.Renderer, error) {
		m, ok := d.Registry().Lookup(p.Name)
		if !ok {
			return nil, endpoint.Error(http.StatusNotFound, "method "+p.Name+" is not registered", nil)
		}
		params := m.Params
		if params == nil {
			params = []string{}
		}
		return &endpoint.JSONRenderer{Value: methodInfo{Name: m.Name, Params: params}}, nil
	}
}

// originChecker admits WebSocket upgrades from the configured origins,
// and from clients that send no Origin at all.
func originChecker(origins []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range origins {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// run serves until ctx is done, then shuts the listeners down gracefully.
func (s *server) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	serve := func(name string, srv *http.Server) {
		g.Go(func() error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return fmt.Errorf("%s listener: %w", name, err)
			}
			s.log.Info("starting "+name+" server", zap.String("endpoint", ln.Addr().String()))
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s server: %w", name, err)
			}
			return nil
		})
	}
	serve("rpc", s.rpc)
	if s.metrics != nil {
		serve("metrics", s.metrics)
	}

	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("shutting down servers")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		if s.ws != nil {
			s.ws.Close()
		}
		err := s.rpc.Shutdown(shutdownCtx)
		if s.metrics != nil {
			err = errors.Join(err, s.metrics.Shutdown(shutdownCtx))
		}
		return err
	})
	return g.Wait()
}
