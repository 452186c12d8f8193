package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwardStreamsBodyAndStatus(t *testing.T) {
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(body)
	}))
	defer downstream.Close()

	p := New(Options{Hop: "registry"})

	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{"a":1}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	p.Forward(rec, req, downstream.URL)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"a":1}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestForwardDropsNonAllowlistedHeaders(t *testing.T) {
	var gotSecret, gotAccept string
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret = r.Header.Get("X-Internal-Secret")
		gotAccept = r.Header.Get("Accept")
		w.WriteHeader(http.StatusOK)
	}))
	defer downstream.Close()

	p := New(Options{Hop: "registry"})
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Internal-Secret", "leak-me-not")
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()

	p.Forward(rec, req, downstream.URL)

	assert.Empty(t, gotSecret)
	assert.Equal(t, "application/json", gotAccept)
}

func TestForwardUnreachableDownstreamReturns502(t *testing.T) {
	p := New(Options{Hop: "registry"})
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()

	p.Forward(rec, req, "http://127.0.0.1:1")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestForwardGeneratesTraceIDWhenAbsent(t *testing.T) {
	var gotTraceID string
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTraceID = r.Header.Get(headerTraceID)
		w.WriteHeader(http.StatusOK)
	}))
	defer downstream.Close()

	p := New(Options{Hop: "registry"})
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()

	p.Forward(rec, req, downstream.URL)

	assert.NotEmpty(t, gotTraceID)
	assert.Equal(t, gotTraceID, rec.Header().Get(headerTraceID))
}

func TestForwardPreservesExistingTraceID(t *testing.T) {
	var gotTraceID string
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTraceID = r.Header.Get(headerTraceID)
		w.WriteHeader(http.StatusOK)
	}))
	defer downstream.Close()

	p := New(Options{Hop: "registry"})
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(headerTraceID, "fixed-trace-id")
	rec := httptest.NewRecorder()

	p.Forward(rec, req, downstream.URL)

	assert.Equal(t, "fixed-trace-id", gotTraceID)
}

func TestForwardOverridesHostToDownstream(t *testing.T) {
	var gotHost string
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		w.WriteHeader(http.StatusOK)
	}))
	defer downstream.Close()

	p := New(Options{Hop: "registry"})
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Host = "original-inbound-host.example"
	rec := httptest.NewRecorder()

	p.Forward(rec, req, downstream.URL)

	require.NotEqual(t, "original-inbound-host.example", gotHost)
}
