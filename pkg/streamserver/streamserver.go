// Package streamserver builds the two HTTP server variants spec.md §4.a
// describes: a plain server that reads and classifies the request body
// before handing it to a handler, and a streaming variant that hands
// (request, response) straight through so a handler can pipe the body to a
// downstream service without ever buffering it. Both share the same
// listen/accept configuration, grounded on the teacher's
// cmd/thv-registry-api/app/serve.go server timeouts.
package streamserver

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mcbrumagin/yamf/pkg/contenttype"
	"github.com/mcbrumagin/yamf/pkg/httperr"
)

// Default timeouts per spec.md §4.a: 60s total, 30s for headers.
const (
	DefaultTimeout       = 60 * time.Second
	DefaultHeaderTimeout = 30 * time.Second
)

// Payload is the two-variant sum a plain server hands to a non-streaming
// handler after reading the body: exactly one of JSON/Bytes is populated,
// never both (spec.md §4.a, generalized in SPEC_FULL.md §15).
type Payload struct {
	JSON  json.RawMessage
	Bytes []byte
}

// IsEmpty reports whether the request carried no usable body (GET/HEAD/
// DELETE/OPTIONS, or an empty body on any other method).
func (p Payload) IsEmpty() bool {
	return p.JSON == nil && p.Bytes == nil
}

// New builds the plain HTTP server variant: addr/handler with the
// keep-alive and timeout defaults spec.md §4.a requires. The handler is
// still responsible for calling ReadPayload itself; New only wires the
// listener's timeouts.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       DefaultTimeout,
		WriteTimeout:      DefaultTimeout,
		IdleTimeout:       DefaultTimeout,
		ReadHeaderTimeout: DefaultHeaderTimeout,
	}
}

// NewStreaming builds the streaming proxy server variant (spec.md §4.a):
// identical listen/accept configuration to New, but documents that the
// handler must never pre-read the request body itself, since it will pipe
// it straight through to a downstream service (internal/proxy.Proxy).
func NewStreaming(addr string, handler http.Handler) *http.Server {
	return New(addr, handler)
}

// binaryContentTypePrefixes are content-types the plain server never
// attempts to JSON-parse (spec.md §4.a).
var binaryContentTypePrefixes = []string{
	"application/octet-stream",
	"image/",
	"audio/",
	"video/",
	"application/pdf",
	"multipart/form-data",
}

func isBinaryContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	for _, prefix := range binaryContentTypePrefixes {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return false
}

// hasNoBody reports whether method never carries a meaningful body under
// spec.md §4.a's plain-server body classification.
func hasNoBody(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodDelete, http.MethodOptions:
		return true
	default:
		return false
	}
}

// ReadPayload consumes r's body into a contiguous byte buffer (preserving
// binary bytes exactly, spec.md §4.a "Stream reader") and classifies it: no
// body for GET/HEAD/DELETE/OPTIONS, raw bytes for a binary content-type or
// non-JSON content, JSON otherwise.
func ReadPayload(r *http.Request) (Payload, error) {
	if hasNoBody(r.Method) || r.Body == nil {
		return Payload{}, nil
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return Payload{}, httperr.BadRequest("failed to read request body: %v", err)
	}
	if len(raw) == 0 {
		return Payload{}, nil
	}
	if isBinaryContentType(r.Header.Get("Content-Type")) {
		return Payload{Bytes: raw}, nil
	}
	if json.Valid(raw) {
		return Payload{JSON: raw}, nil
	}
	return Payload{Bytes: raw}, nil
}

// WriteValue writes v as an HTTP response per spec.md §4.a's response-shape
// rule: a byte buffer writes as application/octet-stream, a string's type is
// inferred per §4.c, anything else is JSON-encoded. url, if non-empty, lets
// content-type inference consult a known suffix first. Security headers are
// always set.
func WriteValue(w http.ResponseWriter, status int, v any, url string) {
	httperr.SetSecurityHeaders(w)

	switch payload := v.(type) {
	case []byte:
		w.Header().Set("Content-Type", contenttype.Infer(payload, url))
		w.WriteHeader(status)
		_, _ = w.Write(payload)
	case string:
		w.Header().Set("Content-Type", contenttype.Infer(payload, url))
		w.WriteHeader(status)
		_, _ = io.WriteString(w, payload)
	default:
		w.Header().Set("Content-Type", contenttype.ForObject(v))
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError writes err as an HTTP response using its carried status, kind,
// and the client-message redaction policy (spec.md §7).
func WriteError(w http.ResponseWriter, err error, redact bool) {
	httperr.WriteError(w, err, redact)
}
