// Package proxy implements spec.md §4.i: the streaming reverse proxy used
// both for SERVICE_CALL and for direct route matches. It never buffers
// either body — the inbound request body is piped straight to the
// downstream request, and the downstream response is piped straight back.
package proxy

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mcbrumagin/yamf/internal/logger"
	"github.com/mcbrumagin/yamf/pkg/command"
	"github.com/mcbrumagin/yamf/pkg/httperr"
)

// headerTraceID correlates one client call across every hop it touches
// (SPEC_FULL.md §12): generated at the first hop that sees none, carried
// unchanged by every hop after that.
const headerTraceID = "X-Yamf-Trace-Id"

// headerAllowlist is the fixed set of inbound headers copied to the
// downstream request (spec.md §4.i step 5). It is the security boundary:
// adding an entry here requires a review, not a casual edit.
var headerAllowlist = map[string]bool{
	"accept":                    true,
	"accept-language":           true,
	"connection":                true,
	"content-type":              true,
	"origin":                    true,
	"referer":                   true,
	"forwarded":                 true,
	"user-agent":                true,
	"range":                     true,
	"if-range":                  true,
	"accept-ranges":             true,
	"cookie":                    true,
	command.HeaderCommand:       true,
	command.HeaderServiceName:   true,
	command.HeaderAuthToken:     true,
	command.HeaderRegistryToken: true,
}

// headerAllowlistPrefixes holds the two wildcard-by-prefix families spec.md
// §4.i names: "sec-fetch-*" and "sec-ch-ua*".
var headerAllowlistPrefixes = []string{"sec-fetch-", "sec-ch-ua"}

func allowed(header string) bool {
	lower := strings.ToLower(header)
	if headerAllowlist[lower] {
		return true
	}
	for _, prefix := range headerAllowlistPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// Options configures a Proxy. DownstreamTimeout is the proxy
// timeout/backpressure knob spec.md §9 leaves as an open TODO: here it is an
// explicit, currently-unset field (zero value = no deadline beyond the
// inbound request's own context), per SPEC_FULL.md §17.
type Options struct {
	// Hop identifies this process in the Forwarded "by=" chain.
	Hop string
	// DownstreamTimeout bounds each downstream call. Zero means "inherit the
	// inbound request's context deadline only" (spec.md §5).
	DownstreamTimeout time.Duration
	// Transport is the RoundTripper used for downstream calls. Defaults to
	// http.DefaultTransport.
	Transport http.RoundTripper
}

// Proxy streams an inbound request to a chosen downstream instance and
// streams the response back, rewriting forwarding headers along the way.
type Proxy struct {
	opts Options
}

// New builds a Proxy. A zero Options is valid (uses http.DefaultTransport,
// no downstream timeout, hop name "yamf").
func New(opts Options) *Proxy {
	if opts.Hop == "" {
		opts.Hop = "yamf"
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	return &Proxy{opts: opts}
}

// Forward streams r to instance, rewriting headers per spec.md §4.i, and
// writes the downstream response to w. It never lets an error escape: a
// pre-response failure (connection refused, DNS failure) is written as a
// 502; a failure that happens after headers have started flowing is logged
// and the client stream is simply closed.
func (p *Proxy) Forward(w http.ResponseWriter, r *http.Request, instance string) {
	downstreamURL := instance + r.URL.RequestURI()

	ctx := r.Context()
	var cancel func()
	if p.opts.DownstreamTimeout > 0 {
		var timeoutCtx context.Context
		timeoutCtx, cancel = context.WithTimeout(ctx, p.opts.DownstreamTimeout)
		ctx = timeoutCtx
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, downstreamURL, r.Body)
	if err != nil {
		httperr.WriteError(w, httperr.BadGateway("failed to build downstream request: %v", err), false)
		return
	}

	copyAllowedHeaders(r.Header, req.Header)

	forwarded, xff, xfproto, xfhost := RewriteForwarded(r, p.opts.Hop)
	req.Header.Set("Forwarded", forwarded)
	req.Header.Set("X-Forwarded-For", xff)
	req.Header.Set("X-Forwarded-Proto", xfproto)
	req.Header.Set("X-Forwarded-Host", xfhost)

	traceID := r.Header.Get(headerTraceID)
	if traceID == "" {
		traceID = uuid.NewString()
	}
	req.Header.Set(headerTraceID, traceID)

	req.Host = hostOf(instance)

	resp, err := p.opts.Transport.RoundTrip(req)
	if err != nil {
		// No response bytes have flown yet: safe to write a clean 502.
		logger.Warnf("proxy: downstream call to %s failed: %v", downstreamURL, err)
		httperr.WriteError(w, httperr.BadGateway("downstream service unreachable: %v", err), false)
		return
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.Header().Set(headerTraceID, traceID)
	w.WriteHeader(resp.StatusCode)

	// Headers have started; from here any error must close the stream
	// silently rather than attempt a second write (spec.md §4.i failure
	// policy).
	if _, err := io.Copy(w, resp.Body); err != nil {
		logger.Warnf("proxy: downstream body copy for %s interrupted: %v", downstreamURL, err)
	}
}

func copyAllowedHeaders(src, dst http.Header) {
	for key, values := range src {
		if !allowed(key) {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func hostOf(instance string) string {
	without := strings.TrimPrefix(strings.TrimPrefix(instance, "https://"), "http://")
	if i := strings.IndexByte(without, '/'); i >= 0 {
		without = without[:i]
	}
	return without
}
