package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mnehpets/rpcdispatch/endpoint"
)

func TestRequestLogger_Served(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	p := NewRequestLogger(zap.New(core))

	h := endpoint.Handler(func(_ http.ResponseWriter, _ *http.Request, _ struct{}) (endpoint.Renderer, error) {
		return &endpoint.StringRenderer{Status: http.StatusAccepted, Body: "ok"}, nil
	}, p)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/rpc", nil))

	entries := logs.FilterMessage("http request served").All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Level != zapcore.DebugLevel {
		t.Errorf("level: got %v, want debug", e.Level)
	}
	fields := e.ContextMap()
	if fields["method"] != http.MethodPost || fields["path"] != "/rpc" {
		t.Errorf("unexpected fields %v", fields)
	}
	if fields["status"] != int64(http.StatusAccepted) {
		t.Errorf("status: got %v, want %d", fields["status"], http.StatusAccepted)
	}
	if _, ok := fields["duration"]; !ok {
		t.Error("duration field missing")
	}
}

func TestRequestLogger_ImplicitOK(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	p := NewRequestLogger(zap.New(core))

	err := p.Process(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil),
		func(w http.ResponseWriter, _ *http.Request) error {
			_, err := w.Write([]byte("ok"))
			return err
		})
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if got := logs.All()[0].ContextMap()["status"]; got != int64(http.StatusOK) {
		t.Errorf("status: got %v, want 200", got)
	}
}

func TestRequestLogger_Failed(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	p := NewRequestLogger(zap.New(core))
	boom := errors.New("boom")

	err := p.Process(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/rpc", nil),
		func(http.ResponseWriter, *http.Request) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected error to be passed through, got %v", err)
	}

	entries := logs.FilterMessage("http request failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Errorf("level: got %v, want warn", entries[0].Level)
	}
	if got := entries[0].ContextMap()["error"]; got != "boom" {
		t.Errorf("error: got %v, want boom", got)
	}
}

func TestRequestLogger_NilLogger(t *testing.T) {
	p := NewRequestLogger(nil)
	called := false
	if err := p.Process(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), nextRecorder(&called)); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if !called {
		t.Fatal("next was not called")
	}
}

func TestStatusRecorder_FirstStatusWins(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	rec.WriteHeader(http.StatusNotFound)
	rec.WriteHeader(http.StatusOK)
	if rec.status() != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.status())
	}
	if rec.Unwrap() == nil {
		t.Fatal("Unwrap returned nil")
	}
}
