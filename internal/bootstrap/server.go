// Package bootstrap wires a Registry or Gateway process together:
// environment validation, the collaborator graph (state, balancer, routes,
// pubsub, proxy, dispatch), chi middleware, and graceful shutdown. Grounded
// on the teacher's cmd/thv-registry-api/app/serve.go bootstrap sequence.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mcbrumagin/yamf/internal/logger"
)

// Timeouts mirrored from the teacher's serve.go, scaled to a registry/
// gateway that streams proxied bodies rather than serving small REST
// responses (spec.md §5 "Inbound request total 60s, header 30s").
const (
	DefaultGracefulTimeout = 30 * time.Second
	RequestTimeout         = 60 * time.Second
	HeaderTimeout          = 30 * time.Second
)

// newRouter wraps handler with the chi middleware chain the teacher's
// serve.go applies: request ID, real IP, panic recovery, and a request
// timeout. The dispatcher itself also recovers from panics (spec.md §9
// "let the process survive bad calls"); chi's Recoverer is defense in depth.
// metricsHandler, when non-nil, is exposed at /metrics for Prometheus
// scraping (SPEC_FULL.md §12) — each process owns its own registry rather
// than the global DefaultRegisterer so multiple servers in one test binary
// never collide on metric names.
func newRouter(handler http.Handler, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, middleware.Timeout(RequestTimeout))
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}
	r.Handle("/*", handler)
	return r
}

// addrOf extracts the host:port a server should bind to from a full
// scheme://host:port URL.
func addrOf(rawURL string) (string, error) {
	if rawURL == "" {
		return "", errors.New("URL is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid URL %q", rawURL)
	}
	return u.Host, nil
}

// portOf extracts the numeric port from a URL, or 0 if absent/invalid.
func portOf(rawURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	p, err := strconv.Atoi(u.Port())
	if err != nil {
		return 0
	}
	return p
}

// Run starts serve in a goroutine, blocks until SIGINT/SIGTERM or serve
// itself fails, then calls shutdown with a bounded context (spec.md §6 exit
// codes, grounded on the teacher's runServe graceful-shutdown sequence).
func Run(serve func() error, shutdown func(ctx context.Context) error) error {
	errCh := make(chan error, 1)
	go func() {
		if err := serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-quit:
		logger.Info("shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultGracefulTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Errorf("error during shutdown: %v", err)
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
