// Package service is the glue a plug-in service links against: it performs
// SERVICE_SETUP/SERVICE_REGISTER, runs an HTTP server over the allocated
// port, and hands every inbound call to a Handler along with a Context that
// wraps pkg/yamfclient's call/publish helpers (spec.md §4.n, §9's
// "this.call"/"this.publish" translation).
package service

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"sync"

	"github.com/mcbrumagin/yamf/pkg/httperr"
	"github.com/mcbrumagin/yamf/pkg/streamserver"
	"github.com/mcbrumagin/yamf/pkg/yamfclient"
)

// Payload is the request body a Handler receives: exactly one of JSON/Bytes
// is populated (SPEC_FULL.md §15). It is a type alias so streamserver's body
// reader and a service's handler share one definition.
type Payload = streamserver.Payload

// handled is the concrete sentinel type backing Handled, so callers can
// return service.Handled and the glue layer can recognize it cheaply by
// identity rather than by an exported struct fields comparison.
type handled struct{}

// Handled is the sentinel a Handler returns to mean "I already wrote the
// response myself" (spec.md §4.n, §9 "Return Next", GLOSSARY "Next"). The
// dispatch loop writes nothing further when a Handler returns this value.
var Handled any = handled{}

// Handler is the shape every plug-in service endpoint implements: given the
// request payload, the raw request/response (for handlers that want to
// stream or set custom headers), and a Context to call out through, it
// returns either a value to serialize or Handled.
type Handler func(ctx context.Context, svc *Context, payload Payload, w http.ResponseWriter, r *http.Request) (any, error)

// Context is passed to every Handler invocation; it wraps the thin registry
// client so handlers can call other services or publish without importing
// yamfclient directly.
type Context struct {
	client *yamfclient.Client
}

// Call routes through the registry to another service (spec.md §9
// "this.call").
func (c *Context) Call(ctx context.Context, name, authToken string, payload []byte) ([]byte, string, error) {
	return c.client.Call(ctx, name, authToken, payload)
}

// Publish sends message to channel through the registry (spec.md §9
// "this.publish").
func (c *Context) Publish(ctx context.Context, channel string, message json.RawMessage) error {
	return c.client.Publish(ctx, channel, message)
}

// Option configures a Service at construction time.
type Option func(*config)

type config struct {
	useAuthService string
	metadata       any
	httpClient     *http.Client
}

// WithAuthService marks the service as requiring access tokens verified by
// the named auth-provider service.
func WithAuthService(name string) Option {
	return func(c *config) { c.useAuthService = name }
}

// WithMetadata attaches arbitrary metadata to the SERVICE_REGISTER call.
func WithMetadata(metadata any) Option {
	return func(c *config) { c.metadata = metadata }
}

// WithHTTPClient overrides the registry client's transport (tests mostly).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// Service is a running plug-in service: an HTTP server bound to its
// allocated location, registered with the registry, dispatching to a single
// Handler.
type Service struct {
	name       string
	location   string
	registry   *yamfclient.Client
	listener   net.Listener
	server     *http.Server
	ctx        *Context
	handler    Handler
	redactErrs bool

	mu     sync.RWMutex
	routes map[string]Handler
}

// New implements spec.md §4.n: it calls SERVICE_SETUP to obtain a location,
// binds a listener on that location's port, calls SERVICE_REGISTER, and
// starts serving handler's responses. registryURL is the base URL of the
// registry the service talks to; a gateway refuses SERVICE_SETUP and
// SERVICE_REGISTER.
func New(registryURL, name, home string, handler Handler, opts ...Option) (*Service, error) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	registryClient := yamfclient.New(registryURL, cfg.httpClient)

	location, err := registryClient.Setup(context.Background(), name, home)
	if err != nil {
		return nil, err
	}

	addr, err := addrFromLocation(location)
	if err != nil {
		return nil, err
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, httperr.Internal("failed to bind listener for service %q at %s: %v", name, addr, err)
	}

	svc := &Service{
		name:     name,
		location: location,
		registry: registryClient,
		listener: listener,
		ctx:      &Context{client: registryClient},
		handler:  handler,
		routes:   make(map[string]Handler),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", svc.serveHTTP)
	svc.server = streamserver.New(addr, mux)

	go func() {
		_ = svc.server.Serve(listener)
	}()

	if err := registryClient.Register(context.Background(), name, location, yamfclient.RegisterOptions{
		UseAuthService: cfg.useAuthService,
		Metadata:       cfg.metadata,
	}); err != nil {
		_ = svc.server.Close()
		return nil, err
	}

	return svc, nil
}

// Location returns the address this service registered under.
func (s *Service) Location() string {
	return s.location
}

// CreateSubscription attaches a subscriber endpoint at /_subscriptions/<channel>
// and subscribes it with the registry (spec.md §6 "createSubscription").
func (s *Service) CreateSubscription(ctx context.Context, channel string, h Handler) error {
	path := "/_subscriptions/" + channel
	s.mu.Lock()
	s.routes[path] = h
	s.mu.Unlock()
	location := s.location + path
	return s.registry.Subscribe(ctx, channel, s.name, location)
}

// Terminate implements spec.md §4.n step 4: unregister, then stop the
// socket.
func (s *Service) Terminate(ctx context.Context) error {
	_ = s.registry.Unregister(ctx, s.name, s.location)
	return s.server.Shutdown(ctx)
}

func (s *Service) serveHTTP(w http.ResponseWriter, r *http.Request) {
	handler := s.handler
	s.mu.RLock()
	route, ok := s.routes[r.URL.Path]
	s.mu.RUnlock()
	if ok {
		handler = route
	}
	if handler == nil {
		httperr.WriteError(w, httperr.NotFound("no handler registered"), s.redactErrs)
		return
	}

	payload, err := streamserver.ReadPayload(r)
	if err != nil {
		httperr.WriteError(w, err, s.redactErrs)
		return
	}

	result, err := handler(r.Context(), s.ctx, payload, w, r)
	if err != nil {
		httperr.WriteError(w, err, s.redactErrs)
		return
	}
	if result == Handled {
		return
	}
	streamserver.WriteValue(w, http.StatusOK, result, r.URL.Path)
}

// addrFromLocation extracts the host:port to listen on from a full
// scheme://host:port location (spec.md §4.n step 2).
func addrFromLocation(location string) (string, error) {
	u, err := url.Parse(location)
	if err != nil || u.Host == "" {
		return "", httperr.Internal("invalid service location %q", location)
	}
	return u.Host, nil
}
