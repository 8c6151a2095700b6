package endpoint

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/fxamacker/cbor/v2"
)

// JSONRenderer writes Value as JSON. HTML characters are not escaped and
// the encoding carries a trailing newline.
//
// Value is encoded before the header is written, so an encoding failure is
// returned with the response still untouched.
type JSONRenderer struct {
	Status int
	Value  any
}

func (jr *JSONRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(jr.Value); err != nil {
		return err
	}
	return writeEncoded(w, jr.Status, "application/json", buf.Bytes())
}

// CBORRenderer writes Value as CBOR (RFC 8949) using the core
// deterministic encoding.
type CBORRenderer struct {
	Status int
	Value  any
}

var cborEncMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

func (cr *CBORRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	b, err := cborEncMode.Marshal(cr.Value)
	if err != nil {
		return err
	}
	return writeEncoded(w, cr.Status, "application/cbor", b)
}

func writeEncoded(w http.ResponseWriter, status int, contentType string, body []byte) error {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(statusOr(status, http.StatusOK))
	_, err := w.Write(body)
	return err
}
