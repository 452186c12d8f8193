// Package dispatch implements spec.md §4.j: the command router that decides,
// per inbound request, whether to run an internal command handler or stream
// the request through to a matched route's service.
package dispatch

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/mcbrumagin/yamf/internal/balancer"
	"github.com/mcbrumagin/yamf/internal/logger"
	"github.com/mcbrumagin/yamf/internal/proxy"
	"github.com/mcbrumagin/yamf/internal/pubsub"
	"github.com/mcbrumagin/yamf/internal/registry"
	"github.com/mcbrumagin/yamf/internal/routetable"
	"github.com/mcbrumagin/yamf/internal/state"
	"github.com/mcbrumagin/yamf/internal/telemetry"
	"github.com/mcbrumagin/yamf/pkg/command"
	"github.com/mcbrumagin/yamf/pkg/contenttype"
	"github.com/mcbrumagin/yamf/pkg/httperr"
)

// Dispatcher is the single HTTP entry point for both the registry and the
// gateway: the same priority rule (route match, then header command, then
// 404) governs both (spec.md §4.j, §4.l "identical dispatch").
type Dispatcher struct {
	store         *state.Store
	registry      *registry.Registry
	routes        *routetable.Table
	balancer      *balancer.Balancer
	pubsub        *pubsub.Manager
	proxy         *proxy.Proxy
	registryToken string
	redactErrors  bool
	// acceptsRegistrations is false on the gateway: it never performs the
	// mutating registration commands itself (spec.md §4.l).
	acceptsRegistrations bool
	metrics              *telemetry.Metrics
	tracer               *telemetry.Tracer
}

// Config bundles the collaborators and policy flags a Dispatcher needs.
type Config struct {
	Store                *state.Store
	Registry             *registry.Registry
	Routes               *routetable.Table
	Balancer             *balancer.Balancer
	Pubsub               *pubsub.Manager
	Proxy                *proxy.Proxy
	RegistryToken        string
	RedactErrors         bool
	AcceptsRegistrations bool
	// Metrics and Tracer are optional; a nil Metrics records nothing and a
	// nil Tracer skips span creation (spec.md §4.i, §4.j instrumentation).
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
}

// New builds a Dispatcher from cfg.
func New(cfg Config) *Dispatcher {
	return &Dispatcher{
		store:                cfg.Store,
		registry:             cfg.Registry,
		routes:               cfg.Routes,
		balancer:             cfg.Balancer,
		pubsub:               cfg.Pubsub,
		proxy:                cfg.Proxy,
		registryToken:        cfg.RegistryToken,
		redactErrors:         cfg.RedactErrors,
		acceptsRegistrations: cfg.AcceptsRegistrations,
		metrics:              cfg.Metrics,
		tracer:               cfg.Tracer,
	}
}

// ServeHTTP implements spec.md §4.j's priority order: a route match on the
// request path wins whenever one exists (spec.md §8 scenario S6), even if a
// command header is also present; the command header only governs dispatch
// when the path matches no registered route.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Errorf("dispatch: recovered from panic handling %s %s: %v", r.Method, r.URL.Path, rec)
			httperr.WriteError(w, httperr.Internal("internal error"), d.redactErrors)
		}
	}()

	if route, ok := d.routes.Match(r.URL.Path); ok {
		d.forwardToRoute(w, r, route)
		return
	}

	cmd := command.Parse(r.Header.Get(command.HeaderCommand))
	if cmd != command.Unknown {
		d.dispatchCommand(w, r, cmd)
		return
	}

	httperr.WriteError(w, httperr.NotFound("not found"), d.redactErrors)
}

func (d *Dispatcher) dispatchCommand(w http.ResponseWriter, r *http.Request, cmd command.Command) {
	if command.IsProtected(cmd) && !d.authorizeRegistryToken(r) {
		httperr.WriteError(w, httperr.Forbidden("registry token required"), d.redactErrors)
		return
	}

	var err error
	switch cmd {
	case command.Health:
		err = d.handleHealth(w)
	case command.RegistryPull:
		err = d.handleRegistryPull(w)
	case command.ServiceSetup:
		err = d.handleServiceSetup(w, r)
	case command.ServiceRegister:
		err = d.handleServiceRegister(w, r)
	case command.ServiceUnregister:
		err = d.handleServiceUnregister(w, r)
	case command.ServiceLookup:
		err = d.handleServiceLookup(w, r)
	case command.ServiceCall:
		err = d.handleServiceCall(w, r)
	case command.RouteRegister:
		err = d.handleRouteRegister(w, r)
	case command.PubsubPublish:
		err = d.handlePubsubPublish(w, r)
	case command.PubsubSubscribe:
		err = d.handlePubsubSubscribe(w, r)
	case command.PubsubUnsubscribe:
		err = d.handlePubsubUnsubscribe(w, r)
	case command.AuthLogin, command.AuthRefresh:
		err = d.handleAuthForward(w, r)
	default:
		err = httperr.NotFound("unrecognized command")
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		httperr.WriteError(w, err, d.redactErrors)
	}
	d.metrics.RecordCommand(string(cmd), outcome)
}

// authorizeRegistryToken implements spec.md §4.j: any value is accepted if
// no token is configured; otherwise the header must match exactly.
func (d *Dispatcher) authorizeRegistryToken(r *http.Request) bool {
	if d.registryToken == "" {
		return true
	}
	return r.Header.Get(command.HeaderRegistryToken) == d.registryToken
}

func (d *Dispatcher) handleHealth(w http.ResponseWriter) error {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ready",
		"timestamp": time.Now().UnixMilli(),
	})
	return nil
}

func (d *Dispatcher) handleRegistryPull(w http.ResponseWriter) error {
	writeJSON(w, http.StatusOK, d.store.Snapshot(time.Now()))
	return nil
}

func (d *Dispatcher) handleServiceSetup(w http.ResponseWriter, r *http.Request) error {
	if !d.acceptsRegistrations {
		return httperr.Forbidden("this process does not accept service registrations")
	}
	service := r.Header.Get(command.HeaderServiceName)
	home := r.Header.Get(command.HeaderServiceHome)
	location, err := d.registry.Setup(service, home)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]string{"location": location})
	return nil
}

type registerBody struct {
	UseAuthService string          `json:"useAuthService,omitempty"`
	Metadata       *state.Metadata `json:"metadata,omitempty"`
}

func (d *Dispatcher) handleServiceRegister(w http.ResponseWriter, r *http.Request) error {
	if !d.acceptsRegistrations {
		return httperr.Forbidden("this process does not accept service registrations")
	}
	service := r.Header.Get(command.HeaderServiceName)
	location := r.Header.Get(command.HeaderServiceLocation)

	var body registerBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
			return httperr.BadRequest("invalid registration body: %v", err)
		}
	}

	result, err := d.registry.Register(r.Context(), service, location, body.UseAuthService, body.Metadata)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, result)
	return nil
}

func (d *Dispatcher) handleServiceUnregister(w http.ResponseWriter, r *http.Request) error {
	if !d.acceptsRegistrations {
		return httperr.Forbidden("this process does not accept service registrations")
	}
	service := r.Header.Get(command.HeaderServiceName)
	location := r.Header.Get(command.HeaderServiceLocation)
	if service == "" || location == "" {
		return httperr.BadRequest("service name and location are required")
	}
	d.registry.Unregister(service, location)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	return nil
}

func (d *Dispatcher) handleServiceLookup(w http.ResponseWriter, r *http.Request) error {
	service := r.Header.Get(command.HeaderServiceName)
	if service == "" {
		return httperr.BadRequest("service name is required")
	}
	strategy := balancer.Name(r.URL.Query().Get("strategy"))
	if strategy == "" {
		strategy = balancer.Random
	}
	result, err := d.registry.Lookup(service, strategy)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, result)
	return nil
}

// handleServiceCall and forwardToRoute share the proxy path: validate the
// service exists, verify access, pick round-robin, forward (spec.md §4.i).
func (d *Dispatcher) handleServiceCall(w http.ResponseWriter, r *http.Request) error {
	service := r.Header.Get(command.HeaderServiceName)
	if service == "" {
		return httperr.BadRequest("missing %s header", command.HeaderServiceName)
	}
	return d.proxyToService(w, r, service)
}

func (d *Dispatcher) forwardToRoute(w http.ResponseWriter, r *http.Request, route state.Route) {
	if err := d.proxyToService(w, r, route.Service); err != nil {
		httperr.WriteError(w, err, d.redactErrors)
	}
}

func (d *Dispatcher) proxyToService(w http.ResponseWriter, r *http.Request, service string) error {
	if !d.store.HasService(service) {
		return httperr.NotFound("service %q not found", service)
	}
	if err := d.registry.VerifyAccess(r.Context(), service, r.Header.Get(command.HeaderAuthToken)); err != nil {
		return err
	}
	instance, err := d.balancer.Pick(service, balancer.RoundRobin)
	if err != nil {
		return err
	}

	ctx := r.Context()
	if d.tracer != nil {
		var span trace.Span
		ctx, span = d.tracer.StartSpan(ctx, service)
		defer span.End()
		r = r.WithContext(ctx)
	}

	start := time.Now()
	d.proxy.Forward(w, r, instance)
	d.metrics.ObserveProxyDuration(service, time.Since(start).Seconds())
	return nil
}

func (d *Dispatcher) handleRouteRegister(w http.ResponseWriter, r *http.Request) error {
	if !d.acceptsRegistrations {
		return httperr.Forbidden("this process does not accept route registrations")
	}
	path := r.Header.Get(command.HeaderRoutePath)
	service := r.Header.Get(command.HeaderServiceName)
	dataType := r.Header.Get(command.HeaderRouteDatatype)
	if path == "" || service == "" {
		return httperr.BadRequest("route path and service name are required")
	}
	d.routes.Register(path, service, dataType)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	return nil
}

func (d *Dispatcher) handlePubsubPublish(w http.ResponseWriter, r *http.Request) error {
	if !d.acceptsRegistrations {
		return httperr.Forbidden("this process does not accept publishes")
	}
	channel := r.Header.Get(command.HeaderPubsubChannel)
	if channel == "" {
		return httperr.BadRequest("%s header is required", command.HeaderPubsubChannel)
	}

	message, err := readPublishBody(r)
	if err != nil {
		return err
	}
	result := d.pubsub.Publish(r.Context(), channel, message)
	writeJSON(w, http.StatusOK, result)
	return nil
}

// readPublishBody implements spec.md §4.k step 7: the dispatcher parses the
// body only for PUBSUB_PUBLISH, as JSON when the content-type says so,
// otherwise as raw bytes wrapped back into a JSON string so pubsub.Publish's
// uniform json.RawMessage signature still applies.
func readPublishBody(r *http.Request) (json.RawMessage, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, httperr.BadRequest("failed to read publish body: %v", err)
	}
	if len(raw) == 0 {
		return json.RawMessage(`null`), nil
	}
	if strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "json") && json.Valid(raw) {
		return json.RawMessage(raw), nil
	}
	encoded, err := json.Marshal(string(raw))
	if err != nil {
		return nil, httperr.Internal("failed to encode non-JSON publish body: %v", err)
	}
	return json.RawMessage(encoded), nil
}

func (d *Dispatcher) handlePubsubSubscribe(w http.ResponseWriter, r *http.Request) error {
	if !d.acceptsRegistrations {
		return httperr.Forbidden("this process does not accept subscriptions")
	}
	channel := r.Header.Get(command.HeaderPubsubChannel)
	service := r.Header.Get(command.HeaderServiceName)
	location := r.Header.Get(command.HeaderServiceLocation)
	if channel == "" || location == "" {
		return httperr.BadRequest("channel and location are required")
	}
	d.pubsub.Subscribe(r.Context(), channel, service, location)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	return nil
}

func (d *Dispatcher) handlePubsubUnsubscribe(w http.ResponseWriter, r *http.Request) error {
	if !d.acceptsRegistrations {
		return httperr.Forbidden("this process does not accept unsubscriptions")
	}
	channel := r.Header.Get(command.HeaderPubsubChannel)
	location := r.Header.Get(command.HeaderServiceLocation)
	if channel == "" || location == "" {
		return httperr.BadRequest("channel and location are required")
	}
	d.pubsub.Unsubscribe(channel, location)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	return nil
}

// handleAuthForward routes AUTH_LOGIN/AUTH_REFRESH to the named auth-provider
// service the same way SERVICE_CALL does, but skips the auth-verification
// step: these commands are how a caller obtains or refreshes the very token
// that step would otherwise require.
func (d *Dispatcher) handleAuthForward(w http.ResponseWriter, r *http.Request) error {
	service := r.Header.Get(command.HeaderServiceName)
	if service == "" {
		return httperr.BadRequest("missing %s header", command.HeaderServiceName)
	}
	if !d.store.HasService(service) {
		return httperr.NotFound("service %q not found", service)
	}
	instance, err := d.balancer.Pick(service, balancer.RoundRobin)
	if err != nil {
		return err
	}
	d.proxy.Forward(w, r, instance)
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	httperr.SetSecurityHeaders(w)
	w.Header().Set("Content-Type", contenttype.ForObject(v))
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
