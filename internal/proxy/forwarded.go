package proxy

import (
	"net"
	"net/http"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// RewriteForwarded computes the modern Forwarded header value and the
// legacy X-Forwarded-* equivalents for one proxy hop (spec.md §4.i step 6,
// SPEC_FULL.md §16). hop identifies this proxy to append to the "by" chain.
//
// The original sender is taken from an existing Forwarded header if present,
// else from X-Forwarded-For, else from the inbound connection's peer
// address (r.RemoteAddr). Forwarded always wins over the legacy headers when
// both are present. IPv6 addresses are bracketed per RFC 7239.
func RewriteForwarded(r *http.Request, hop string) (forwarded, xff, xfproto, xfhost string) {
	peer := peerAddr(r.RemoteAddr)

	forValue, byChain := originalSender(r, peer)
	byChain = appendHop(byChain, hop)

	proto := schemeOf(r)
	host := r.Host

	forwarded = "for=" + quoteIfNeeded(forValue) +
		"; by=" + quoteIfNeeded(byChain) +
		"; host=" + host +
		"; proto=" + proto

	xff = appendChain(r.Header.Get("X-Forwarded-For"), peer)
	xfproto = firstNonEmpty(r.Header.Get("X-Forwarded-Proto"), proto)
	xfhost = firstNonEmpty(r.Header.Get("X-Forwarded-Host"), host)
	return forwarded, xff, xfproto, xfhost
}

// originalSender returns the "for=" value and any existing "by=" chain to
// extend, preferring an inbound Forwarded header over legacy
// X-Forwarded-For, falling back to peer.
func originalSender(r *http.Request, peer string) (forValue, byChain string) {
	if existing := r.Header.Get("Forwarded"); existing != "" {
		forValue, byChain = parseForwarded(existing)
		if forValue == "" {
			forValue = peer
		}
		return forValue, byChain
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return firstToken(xff), ""
	}
	return peer, ""
}

// parseForwarded extracts the for= and by= parameters from the first
// element of an existing Forwarded header (only the first hop is relevant
// to callers: it is the original sender this routine must preserve).
func parseForwarded(header string) (forValue, byChain string) {
	element := header
	inQuote := false
	for i, c := range header {
		if c == '"' {
			inQuote = !inQuote
		} else if c == ',' && !inQuote {
			element = header[:i]
			break
		}
	}
	for _, pair := range strings.Split(element, ";") {
		pair = strings.TrimSpace(pair)
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		val := strings.Trim(strings.TrimSpace(kv[1]), `"`)
		switch key {
		case "for":
			forValue = val
		case "by":
			byChain = val
		}
	}
	return forValue, byChain
}

func appendHop(chain, hop string) string {
	return appendChain(chain, hop)
}

func appendChain(chain, next string) string {
	if next == "" {
		return chain
	}
	if chain == "" {
		return next
	}
	return chain + ", " + next
}

func firstToken(commaList string) string {
	return strings.TrimSpace(strings.SplitN(commaList, ",", 2)[0])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func schemeOf(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// peerAddr extracts the host portion of addr (stripping the port) and
// brackets it if it is an IPv6 literal, per RFC 7239's forwarded-header
// node syntax.
func peerAddr(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
		return "[" + host + "]"
	}
	return host
}

// quoteIfNeeded wraps val in double quotes if it isn't a valid bare
// RFC 7230 token (notably, bracketed IPv6 literals), validating with
// httpguts so a malformed peer address can never be smuggled into an
// outbound header value.
func quoteIfNeeded(val string) string {
	if !httpguts.ValidHeaderFieldValue(val) {
		val = ""
	}
	if isToken(val) {
		return val
	}
	return `"` + val + `"`
}

func isToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.' || c == '-' || c == '_' || c == '~':
		default:
			return false
		}
	}
	return true
}
