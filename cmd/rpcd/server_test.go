package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mnehpets/rpcdispatch/config"
	"github.com/mnehpets/rpcdispatch/jsonrpc"
)

func startServer(t *testing.T, cfg config.Config) *httptest.Server {
	t.Helper()
	d := jsonrpc.NewDispatcher(newRegistry())
	h, ws, err := newHandler(cfg, zap.NewNop(), d)
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		if ws != nil {
			ws.Close()
		}
		srv.Close()
	})
	return srv
}

func post(t *testing.T, url, body string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		req.Header[k] = vs
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthz(t *testing.T) {
	srv := startServer(t, config.Default())

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","methods":6}`, string(body))
}

func TestHealthzVerbose(t *testing.T) {
	srv := startServer(t, config.Default())

	resp, err := http.Get(srv.URL + "/healthz?verbose=true")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var h health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 6, h.Methods)
	assert.ElementsMatch(t,
		[]string{"plus", "minus", "identity", "erraiser", "will_failed_func", "heavy_request"},
		h.Names)
}

func TestHealthzBadVerbose(t *testing.T) {
	srv := startServer(t, config.Default())

	resp, err := http.Get(srv.URL + "/healthz?verbose=loud")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDescribeMethod(t *testing.T) {
	srv := startServer(t, config.Default())

	for path, want := range map[string]string{
		"/methods/plus":     `{"name":"plus","params":["x","y"]}`,
		"/methods/erraiser": `{"name":"erraiser","params":[]}`,
	} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.JSONEq(t, want, string(body), path)
	}

	resp, err := http.Get(srv.URL + "/methods/ghost")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRPCOverHTTP(t *testing.T) {
	srv := startServer(t, config.Default())

	resp := post(t, srv.URL+"/rpc", `{"jsonrpc":"2.0","method":"identity","params":["rpc"],"id":"a"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":"rpc called","id":"a"}`, string(body))
}

func TestRPCNotificationIsNoContent(t *testing.T) {
	srv := startServer(t, config.Default())

	resp := post(t, srv.URL+"/rpc", `{"jsonrpc":"2.0","method":"plus","params":[1,2]}`, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestRPCBodyLimit(t *testing.T) {
	cfg := config.Default()
	cfg.Server.MaxRequestBodyBytes = 64
	srv := startServer(t, cfg)

	long := strings.Repeat("x", 128)
	resp := post(t, srv.URL+"/rpc", `{"jsonrpc":"2.0","method":"identity","params":["`+long+`"],"id":1}`, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestRPCCompression(t *testing.T) {
	srv := startServer(t, config.Default())
	long := strings.Repeat("compress me ", 200)
	body := `{"jsonrpc":"2.0","method":"identity","params":["` + long + `"],"id":1}`

	// Setting Accept-Encoding by hand stops the client from decoding.
	resp := post(t, srv.URL+"/rpc", body, http.Header{"Accept-Encoding": {"gzip"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))

	zr, err := gzip.NewReader(resp.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":"`+long+` called","id":1}`, string(data))
}

func TestRPCCompressionDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Compression = false
	srv := startServer(t, cfg)
	long := strings.Repeat("compress me ", 200)

	resp := post(t, srv.URL+"/rpc", `{"jsonrpc":"2.0","method":"identity","params":["`+long+`"],"id":1}`,
		http.Header{"Accept-Encoding": {"gzip"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Content-Encoding"))
}

func TestCORSPreflight(t *testing.T) {
	cfg := config.Default()
	cfg.Server.EnableCORS = true
	cfg.Server.CORSOrigins = []string{"https://app.example.com"}
	srv := startServer(t, cfg)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/rpc", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "POST, OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	if ws != nil {
		t.Cleanup(func() { ws.Close() })
	}
	return ws, resp, err
}

func TestRPCOverWebSocket(t *testing.T) {
	srv := startServer(t, config.Default())
	ws, _, err := dial(t, srv, nil)
	require.NoError(t, err)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage,
		[]byte(`{"jsonrpc":"2.0","method":"minus","params":{"x":10,"y":4},"id":7}`)))
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	kind, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":6,"id":7}`, string(data))
}

func TestWebSocketOriginCheck(t *testing.T) {
	cfg := config.Default()
	cfg.Server.EnableCORS = true
	cfg.Server.CORSOrigins = []string{"https://app.example.com"}
	srv := startServer(t, cfg)

	_, resp, err := dial(t, srv, http.Header{"Origin": {"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, _, err = dial(t, srv, http.Header{"Origin": {"https://app.example.com"}})
	assert.NoError(t, err)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://a.example.com"})
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(r), "no Origin header")

	r.Header.Set("Origin", "https://a.example.com")
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://b.example.com")
	assert.False(t, check(r))

	assert.True(t, originChecker([]string{"*"})(r))
}

func TestMetricsEndpoint(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Enabled = true
	s, err := newServer(cfg, zap.NewNop(), newRegistry())
	require.NoError(t, err)
	require.NotNil(t, s.metrics)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/rpc",
		strings.NewReader(`{"jsonrpc":"2.0","method":"plus","params":[1,2],"id":1}`))
	req.Header.Set("Content-Type", "application/json")
	s.rpc.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.metrics.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `rpcdispatch_rpc_calls_total{method="plus",outcome="ok"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestMetricsDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Enabled = false
	s, err := newServer(cfg, zap.NewNop(), newRegistry())
	require.NoError(t, err)
	assert.Nil(t, s.metrics)
}

func TestServerRunAndShutdown(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Address = "127.0.0.1:0"
	cfg.Metrics.Enabled = false
	cfg.Server.ShutdownTimeout = time.Second
	s, err := newServer(cfg, zap.NewNop(), newRegistry())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
