package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/mnehpets/rpcdispatch/endpoint"
)

// APIHeaders is a processor that sets response headers suited to an RPC
// API and answers CORS preflight requests.
//
// Defaults from NewAPIHeaders:
//   - X-Content-Type-Options: nosniff
//   - Cache-Control: no-store
//   - Content-Security-Policy: default-src 'none'; frame-ancestors 'none'
//   - Referrer-Policy: no-referrer
//   - X-Frame-Options: DENY
//   - no HSTS and no CORS
type APIHeaders struct {
	// HSTSMaxAge is the Strict-Transport-Security max-age in seconds.
	// Zero disables the header.
	HSTSMaxAge int

	// Static headers, each left out when empty.
	CacheControl          string
	ContentSecurityPolicy string
	ReferrerPolicy        string
	FrameOptions          string
	NoSniff               bool

	// CORS enables cross-origin access. Nil disables it.
	CORS *CORSConfig
}

// CORSConfig configures Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	// AllowedOrigins lists origins that may call the API. "*" allows any
	// origin, and is ignored when AllowCredentials is set.
	AllowedOrigins []string

	// Default: ["POST", "OPTIONS"]
	AllowedMethods []string

	// Default: ["Content-Type"]
	AllowedHeaders []string

	AllowCredentials bool

	// MaxAge is how long, in seconds, preflight results may be cached.
	// Default: 600
	MaxAge int
}

// APIHeadersOption configures APIHeaders.
type APIHeadersOption func(*APIHeaders)

// NewAPIHeaders creates an APIHeaders processor with API defaults.
func NewAPIHeaders(opts ...APIHeadersOption) *APIHeaders {
	p := &APIHeaders{
		CacheControl:          "no-store",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy:        "no-referrer",
		FrameOptions:          "DENY",
		NoSniff:               true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithHSTS sets the Strict-Transport-Security max-age.
func WithHSTS(maxAge int) APIHeadersOption {
	return func(p *APIHeaders) {
		p.HSTSMaxAge = maxAge
	}
}

// WithCORS allows cross-origin calls from origins. Missing config fields
// take their defaults.
func WithCORS(origins ...string) APIHeadersOption {
	return func(p *APIHeaders) {
		p.CORS = &CORSConfig{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
			MaxAge:         600,
		}
	}
}

// WithCORSConfig installs a complete CORS configuration.
func WithCORSConfig(c *CORSConfig) APIHeadersOption {
	return func(p *APIHeaders) {
		p.CORS = c
	}
}

// Process implements endpoint.Processor.
func (p *APIHeaders) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	h := w.Header()
	if p.HSTSMaxAge > 0 {
		h.Set("Strict-Transport-Security", "max-age="+strconv.Itoa(p.HSTSMaxAge))
	}
	setIf(h, "Cache-Control", p.CacheControl)
	setIf(h, "Content-Security-Policy", p.ContentSecurityPolicy)
	setIf(h, "Referrer-Policy", p.ReferrerPolicy)
	setIf(h, "X-Frame-Options", p.FrameOptions)
	if p.NoSniff {
		h.Set("X-Content-Type-Options", "nosniff")
	}

	if p.CORS != nil {
		p.CORS.apply(w, r)

		// A preflight is an OPTIONS request carrying Origin and
		// Access-Control-Request-Method. It never reaches the endpoint.
		if r.Method == http.MethodOptions &&
			r.Header.Get("Origin") != "" &&
			r.Header.Get("Access-Control-Request-Method") != "" {
			return endpoint.Error(http.StatusNoContent, "", nil)
		}
	}
	return next(w, r)
}

func setIf(h http.Header, key, value string) {
	if value != "" {
		h.Set(key, value)
	}
}

func (c *CORSConfig) apply(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Add("Vary", "Origin")

	// Without an Origin header the request is not cross-origin.
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}

	switch {
	case slices.Contains(c.AllowedOrigins, origin):
		h.Set("Access-Control-Allow-Origin", origin)
	case slices.Contains(c.AllowedOrigins, "*") && !c.AllowCredentials:
		// '*' with credentials is forbidden by CORS.
		h.Set("Access-Control-Allow-Origin", "*")
	default:
		return
	}
	if c.AllowCredentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}

	if r.Method != http.MethodOptions {
		return
	}
	methods := c.AllowedMethods
	if len(methods) == 0 {
		methods = []string{http.MethodPost, http.MethodOptions}
	}
	h.Set("Access-Control-Allow-Methods", strings.Join(methods, ", "))
	headers := c.AllowedHeaders
	if len(headers) == 0 {
		headers = []string{"Content-Type"}
	}
	h.Set("Access-Control-Allow-Headers", strings.Join(headers, ", "))
	maxAge := c.MaxAge
	if maxAge == 0 {
		maxAge = 600
	}
	h.Set("Access-Control-Max-Age", strconv.Itoa(maxAge))
}

var _ endpoint.Processor = (*APIHeaders)(nil)
