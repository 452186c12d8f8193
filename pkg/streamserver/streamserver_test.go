package streamserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadPayloadGetHasNoBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", strings.NewReader(`{"a":1}`))

	p, err := ReadPayload(r)

	require.NoError(t, err)
	assert.True(t, p.IsEmpty())
}

func TestReadPayloadValidJSONBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1}`))

	p, err := ReadPayload(r)

	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(p.JSON))
	assert.Nil(t, p.Bytes)
}

func TestReadPayloadNonJSONBodyIsBytes(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not json"))

	p, err := ReadPayload(r)

	require.NoError(t, err)
	assert.Nil(t, p.JSON)
	assert.Equal(t, []byte("not json"), p.Bytes)
}

func TestReadPayloadBinaryContentTypeNeverParsesAsJSON(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1}`))
	r.Header.Set("Content-Type", "application/octet-stream")

	p, err := ReadPayload(r)

	require.NoError(t, err)
	assert.Nil(t, p.JSON)
	assert.Equal(t, []byte(`{"a":1}`), p.Bytes)
}

func TestReadPayloadEmptyBodyIsEmpty(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))

	p, err := ReadPayload(r)

	require.NoError(t, err)
	assert.True(t, p.IsEmpty())
}

func TestWriteValueBytesDefaultsToOctetStream(t *testing.T) {
	rec := httptest.NewRecorder()

	WriteValue(rec, http.StatusOK, []byte{0x00, 0x01, 0x02}, "")

	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte{0x00, 0x01, 0x02}, rec.Body.Bytes())
}

func TestWriteValueStringInfersContentType(t *testing.T) {
	rec := httptest.NewRecorder()

	WriteValue(rec, http.StatusOK, "<html></html>", "")

	assert.Equal(t, "text/html", rec.Header().Get("Content-Type"))
}

func TestWriteValueObjectIsJSONEncoded(t *testing.T) {
	rec := httptest.NewRecorder()

	WriteValue(rec, http.StatusOK, map[string]int{"a": 1}, "")

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"a":1}`, rec.Body.String())
}

func TestWriteValueSetsSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()

	WriteValue(rec, http.StatusOK, map[string]bool{"ok": true}, "")

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestNewSetsDefaultTimeouts(t *testing.T) {
	srv := New(":0", http.NotFoundHandler())

	assert.Equal(t, DefaultTimeout, srv.ReadTimeout)
	assert.Equal(t, DefaultTimeout, srv.WriteTimeout)
	assert.Equal(t, DefaultTimeout, srv.IdleTimeout)
	assert.Equal(t, DefaultHeaderTimeout, srv.ReadHeaderTimeout)
}
