package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mnehpets/rpcdispatch/endpoint"
)

// RequestLogger is a processor that logs one line per HTTP request with
// its method, path, status and duration. Requests that fail with an error
// are logged at Warn, others at Debug.
type RequestLogger struct {
	log *zap.Logger
}

// NewRequestLogger creates a RequestLogger writing to log.
func NewRequestLogger(log *zap.Logger) *RequestLogger {
	if log == nil {
		log = zap.NewNop()
	}
	return &RequestLogger{log: log}
}

// Process implements endpoint.Processor.
func (p *RequestLogger) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w}
	err := next(rec, r)

	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("remote", r.RemoteAddr),
		zap.Duration("duration", time.Since(start)),
	}
	if err != nil {
		p.log.Warn("http request failed", append(fields, zap.Error(err))...)
		return err
	}
	p.log.Debug("http request served", append(fields, zap.Int("status", rec.status()))...)
	return nil
}

// statusRecorder remembers the status code written through it.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.code == 0 {
		s.code = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.code == 0 {
		s.code = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func (s *statusRecorder) status() int {
	if s.code == 0 {
		return http.StatusOK
	}
	return s.code
}

var _ endpoint.Processor = (*RequestLogger)(nil)
