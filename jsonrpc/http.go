package jsonrpc

import (
	"mime"
	"net/http"

	"github.com/mnehpets/rpcdispatch/endpoint"
)

// Endpoint serves a Dispatcher over HTTP. Use
// endpoint.Handler(e.Endpoint, processors...) to create an http.Handler.
type Endpoint struct {
	dispatcher *Dispatcher
}

// NewEndpoint creates an HTTP endpoint for d.
func NewEndpoint(d *Dispatcher) *Endpoint {
	return &Endpoint{dispatcher: d}
}

// rpcParams captures the raw request body.
// We defer parsing until inside the endpoint handler,
// as json-rpc requires different handling of parsing
// errors than the default body decoding.
// The body size is bounded by middleware, not here.
type rpcParams struct {
	Body        []byte `body:"" maxLength:""`
	ContentType string `header:"Content-Type"`
}

// Endpoint processes a JSON or CBOR encoded request or batch. The response
// uses the encoding of the request. Requests consisting only of
// notifications get 204 No Content.
func (e *Endpoint) Endpoint(w http.ResponseWriter, r *http.Request, params rpcParams) (endpoint.Renderer, error) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		return nil, endpoint.Error(http.StatusMethodNotAllowed, "JSON-RPC requires POST method", nil)
	}

	c, err := codecFor(params.ContentType)
	if err != nil {
		return nil, err
	}
	resp, err := e.dispatcher.dispatchBody(r.Context(), c, params.Body)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return &endpoint.NoContentRenderer{}, nil
	}
	return c.render(resp), nil
}

// codecFor picks the codec for a Content-Type header. A missing header is
// treated as JSON.
func codecFor(contentType string) (codec, error) {
	if contentType == "" {
		return jsonCodec, nil
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return codec{}, endpoint.Error(http.StatusUnsupportedMediaType, "malformed Content-Type", err)
	}
	switch mt {
	case mimeJSON:
		return jsonCodec, nil
	case mimeCBOR:
		return cborCodec, nil
	}
	return codec{}, endpoint.Error(http.StatusUnsupportedMediaType, "Content-Type must be application/json or application/cbor", nil)
}
