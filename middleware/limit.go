package middleware

import (
	"net/http"

	"github.com/mnehpets/rpcdispatch/endpoint"
)

// BodyLimit is a processor that caps the request body at Max bytes.
// Reading past the cap fails, and the endpoint answers 413. A declared
// Content-Length over the cap is rejected before the body is read.
type BodyLimit struct {
	Max int64
}

// Process implements endpoint.Processor.
func (p BodyLimit) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	if p.Max <= 0 || r.Body == nil {
		return next(w, r)
	}
	if r.ContentLength > p.Max {
		return endpoint.Error(http.StatusRequestEntityTooLarge, "", nil)
	}
	r.Body = http.MaxBytesReader(w, r.Body, p.Max)
	return next(w, r)
}

var _ endpoint.Processor = BodyLimit{}
