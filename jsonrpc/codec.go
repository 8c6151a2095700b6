package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/mnehpets/rpcdispatch/endpoint"
)

const (
	mimeJSON = "application/json"
	mimeCBOR = "application/cbor"
)

// codec is one wire encoding of requests and responses.
type codec struct {
	name   string
	decode func([]byte) (any, error)
	encode func(any) ([]byte, error)
	render func(any) endpoint.Renderer
}

var (
	jsonCodec = codec{
		name:   "json",
		decode: decodeJSON,
		encode: encodeJSON,
		render: func(v any) endpoint.Renderer {
			return &endpoint.JSONRenderer{Value: v}
		},
	}
	cborCodec = codec{
		name:   "cbor",
		decode: decodeCBOR,
		encode: encodeCBOR,
		render: func(v any) endpoint.Renderer {
			return &endpoint.CBORRenderer{Value: v}
		},
	}
)

// decodeJSON decodes exactly one JSON value, keeping numbers as
// json.Number so that ids are echoed verbatim.
func decodeJSON(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("jsonrpc: trailing data after request")
	}
	return v, nil
}

// encodeJSON marshals without escaping HTML characters, matching
// endpoint.JSONRenderer.
func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// CBOR maps decode with string keys so that they bind as named params.
var cborDecMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

func decodeCBOR(body []byte) (any, error) {
	var v any
	if err := cborDecMode.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func encodeCBOR(v any) ([]byte, error) {
	return cbor.Marshal(v)
}
