package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newInboundRequest(remoteAddr string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "http://downstream.example/path", nil)
	r.RemoteAddr = remoteAddr
	r.Host = "downstream.example"
	return r
}

func TestRewriteForwardedPlainIPv4Peer(t *testing.T) {
	r := newInboundRequest("203.0.113.7:54321")

	forwarded, xff, xfproto, xfhost := RewriteForwarded(r, "registry")

	assert.Contains(t, forwarded, `for=203.0.113.7`)
	assert.Contains(t, forwarded, `by=registry`)
	assert.Contains(t, forwarded, `host=downstream.example`)
	assert.Contains(t, forwarded, `proto=http`)
	assert.Equal(t, "203.0.113.7", xff)
	assert.Equal(t, "http", xfproto)
	assert.Equal(t, "downstream.example", xfhost)
}

func TestRewriteForwardedBracketsIPv6Peer(t *testing.T) {
	r := newInboundRequest("[2001:db8::1]:443")

	forwarded, xff, _, _ := RewriteForwarded(r, "registry")

	assert.Contains(t, forwarded, `for="[2001:db8::1]"`)
	assert.Equal(t, "[2001:db8::1]", xff)
}

func TestRewriteForwardedPreservesExistingChainAndAppendsHop(t *testing.T) {
	r := newInboundRequest("10.0.0.5:9000")
	r.Header.Set("Forwarded", `for=198.51.100.2; by=edge-proxy; host=original.example; proto=https`)

	forwarded, _, _, _ := RewriteForwarded(r, "registry")

	assert.Contains(t, forwarded, `for=198.51.100.2`)
	assert.Contains(t, forwarded, `by="edge-proxy, registry"`)
}

func TestRewriteForwardedPromotesLegacyXFFWhenForwardedAbsent(t *testing.T) {
	r := newInboundRequest("10.0.0.5:9000")
	r.Header.Set("X-Forwarded-For", "198.51.100.2, 198.51.100.3")

	forwarded, xff, _, _ := RewriteForwarded(r, "registry")

	assert.Contains(t, forwarded, `for=198.51.100.2`)
	assert.Equal(t, "198.51.100.2, 198.51.100.3, 10.0.0.5", xff)
}

func TestRewriteForwardedPrecedenceForwardedWinsOverLegacy(t *testing.T) {
	r := newInboundRequest("10.0.0.5:9000")
	r.Header.Set("Forwarded", `for=198.51.100.2; by=edge-proxy`)
	r.Header.Set("X-Forwarded-For", "203.0.113.9")

	forwarded, _, _, _ := RewriteForwarded(r, "registry")

	assert.Contains(t, forwarded, `for=198.51.100.2`)
	assert.NotContains(t, forwarded, "203.0.113.9")
}

func TestRewriteForwardedFallsBackToPeerWhenNoHeadersPresent(t *testing.T) {
	r := newInboundRequest("192.0.2.9:1234")

	forwarded, xff, _, _ := RewriteForwarded(r, "registry")

	assert.Contains(t, forwarded, "for=192.0.2.9")
	assert.Equal(t, "192.0.2.9", xff)
}
