package jsonrpc

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Message limit for a receiving side.
	defaultWSReadLimit = 4 * 1024 * 1024

	// Disconnection timeout.
	wsPongLimit = 60 * time.Second

	// Ping period for connection liveness check.
	wsPingPeriod = wsPongLimit / 2

	// Write deadline.
	wsWriteLimit = wsPingPeriod / 2

	// Maximum number of requests of one connection being processed at once.
	wsPendingLimit = 64
)

// WSHandler serves a Dispatcher over WebSocket. Each text message holds a
// JSON request or batch and each binary message a CBOR one; the response
// goes back as a message of the same type. Messages that need no response
// get none. Requests of one connection are processed concurrently, so
// responses may arrive out of order and are matched by id.
type WSHandler struct {
	dispatcher *Dispatcher
	log        *zap.Logger
	upgrader   websocket.Upgrader
	maxClients int
	readLimit  int64

	clients  atomic.Int32
	shutdown chan struct{}
	once     sync.Once
}

// WSOption configures a WSHandler.
type WSOption func(*WSHandler)

// WithMaxClients limits the number of simultaneous connections. Zero means
// no limit.
func WithMaxClients(n int) WSOption {
	return func(h *WSHandler) {
		h.maxClients = n
	}
}

// WithReadLimit sets the maximum size of an incoming message.
func WithReadLimit(n int64) WSOption {
	return func(h *WSHandler) {
		h.readLimit = n
	}
}

// WithCheckOrigin overrides the upgrader's origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) WSOption {
	return func(h *WSHandler) {
		h.upgrader.CheckOrigin = fn
	}
}

// NewWSHandler creates a WebSocket handler for d. It logs through the
// dispatcher's logger.
func NewWSHandler(d *Dispatcher, opts ...WSOption) *WSHandler {
	h := &WSHandler{
		dispatcher: d,
		log:        d.log,
		readLimit:  defaultWSReadLimit,
		shutdown:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Clients returns the number of open connections.
func (h *WSHandler) Clients() int {
	return int(h.clients.Load())
}

// Close disconnects all clients and rejects new ones. Requests in progress
// see their context cancelled.
func (h *WSHandler) Close() {
	h.once.Do(func() {
		close(h.shutdown)
	})
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.shutdown:
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	default:
	}
	n := h.clients.Add(1)
	if h.maxClients > 0 && int(n) > h.maxClients {
		h.clients.Add(-1)
		http.Error(w, "websocket users limit reached", http.StatusServiceUnavailable)
		return
	}
	defer h.clients.Add(-1)

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		h.log.Info("websocket connection upgrade failed", zap.Error(err))
		return
	}

	resChan := make(chan wsMessage, wsPendingLimit)
	go h.handleWrites(ws, resChan)
	h.handleReads(r.Context(), ws, resChan)
}

type wsMessage struct {
	kind int
	data []byte
}

func (h *WSHandler) handleReads(parent context.Context, ws *websocket.Conn, resChan chan<- wsMessage) {
	// The hijacked connection outlives the request, so only the values of
	// the request context are kept.
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))

	var (
		wg      sync.WaitGroup
		pending = make(chan struct{}, wsPendingLimit)
	)

	ws.SetReadLimit(h.readLimit)
	err := ws.SetReadDeadline(time.Now().Add(wsPongLimit))
	ws.SetPongHandler(func(string) error { return ws.SetReadDeadline(time.Now().Add(wsPongLimit)) })
	go func() {
		select {
		case <-h.shutdown:
			ws.Close()
		case <-ctx.Done():
		}
	}()

requestloop:
	for err == nil {
		kind, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsUnexpectedCloseError(rerr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("websocket read failed", zap.Error(rerr))
			}
			break
		}
		c := jsonCodec
		if kind == websocket.BinaryMessage {
			c = cborCodec
		}
		select {
		case pending <- struct{}{}:
		case <-h.shutdown:
			break requestloop
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-pending }()
			out, err := h.dispatcher.dispatchEncoded(ctx, c, data)
			if err != nil {
				h.log.Error("failed to encode rpc response", zap.Error(err))
				return
			}
			if out == nil {
				return
			}
			select {
			case resChan <- wsMessage{kind: kind, data: out}:
			case <-ctx.Done():
			}
		}()
	}

	cancel()
	wg.Wait()
	close(resChan)
	ws.Close()
}

func (h *WSHandler) handleWrites(ws *websocket.Conn, resChan <-chan wsMessage) {
	pingTicker := time.NewTicker(wsPingPeriod)
	defer pingTicker.Stop()
eventloop:
	for {
		select {
		case res, ok := <-resChan:
			if !ok {
				break eventloop
			}
			if err := ws.SetWriteDeadline(time.Now().Add(wsWriteLimit)); err != nil {
				break eventloop
			}
			if err := ws.WriteMessage(res.kind, res.data); err != nil {
				break eventloop
			}
		case <-pingTicker.C:
			if err := ws.SetWriteDeadline(time.Now().Add(wsWriteLimit)); err != nil {
				break eventloop
			}
			if err := ws.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				break eventloop
			}
		}
	}
	ws.Close()
	// Drain so that no dispatch goroutine stays blocked on a send.
	for range resChan {
	}
}
