// Package registry implements spec.md §4.f: the service registry's
// register/unregister/lookup operations, port allocation for SERVICE_SETUP,
// the auth-provider verification step shared with the streaming proxy, and
// gateway pre-registration.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mcbrumagin/yamf/internal/balancer"
	"github.com/mcbrumagin/yamf/internal/pubsub"
	"github.com/mcbrumagin/yamf/internal/state"
	"github.com/mcbrumagin/yamf/pkg/command"
	"github.com/mcbrumagin/yamf/pkg/httperr"
)

// GatewayServiceName is the well-known name the registry pre-registers the
// gateway under (spec.md §4.f).
const GatewayServiceName = "yamf-gateway"

// Registry wires the state store, load balancer, and pub/sub manager into
// the operations the command router and proxy call.
type Registry struct {
	store            *state.Store
	balancer         *balancer.Balancer
	pubsub           *pubsub.Manager
	httpClient       *http.Client
	defaultStartPort int
}

// New builds a Registry over store, using balancer for SERVICE_LOOKUP and
// pubsub for register/unregister side effects. defaultStartPort seeds any
// home's port counter the first time it is allocated from.
func New(store *state.Store, bal *balancer.Balancer, ps *pubsub.Manager, httpClient *http.Client, defaultStartPort int) *Registry {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Registry{
		store:            store,
		balancer:         bal,
		pubsub:           ps,
		httpClient:       httpClient,
		defaultStartPort: defaultStartPort,
	}
}

// DefaultStartPort computes the fallback start port for a registry bound at
// registryPort: registryPort+1, or 10000 if registryPort is unknown (spec.md
// §4.f, §4.k).
func DefaultStartPort(registryPort int) int {
	if registryPort <= 0 {
		return 10000
	}
	return registryPort + 1
}

// Setup allocates the next location for service under home (SERVICE_SETUP,
// spec.md §4.f). home is normalized to scheme://host before allocation so
// "http://localhost" and "http://localhost:4000" share a counter.
func (r *Registry) Setup(service, home string) (string, error) {
	if service == "" {
		return "", httperr.BadRequest("service name is required")
	}
	normalized := state.NormalizeHome(home)
	port := r.store.NextPort(normalized, r.defaultStartPort)
	return normalized + ":" + strconv.Itoa(port), nil
}

// RegisterResult is what SERVICE_REGISTER returns to the caller (spec.md
// §4.f: "the serialized service map and address index").
type RegisterResult struct {
	Services  map[string][]string `json:"services"`
	Addresses map[string]string   `json:"addresses"`
}

// Register adds location to service (SERVICE_REGISTER, spec.md §4.f),
// records the optional auth-provider mapping and metadata, then performs the
// three side effects the spec requires in order: emit a register-channel
// cache-update, notify the gateway, and auto-subscribe the new instance to
// the register channel unless its metadata marks it pullOnly.
func (r *Registry) Register(ctx context.Context, service, location, authProvider string, meta *state.Metadata) (RegisterResult, error) {
	if service == "" || location == "" {
		return RegisterResult{}, httperr.BadRequest("service name and location are required")
	}

	r.store.AddInstance(service, location)
	if authProvider != "" {
		r.store.SetAuthProvider(service, authProvider)
	}
	pullOnly := false
	if meta != nil {
		r.store.SetMetadata(service, *meta)
		pullOnly = meta.PullOnly
	}

	// The cache-update notification must only fire after the mutation above
	// is visible (spec.md §5), which it is: AddInstance already returned.
	r.pubsub.PublishCacheUpdate(ctx, pubsub.CacheUpdateEvent{
		Service:  service,
		Location: location,
	})

	if !pullOnly {
		r.pubsub.Subscribe(ctx, pubsub.RegisterChannelName(), service, location)
	}

	return RegisterResult{
		Services:  r.store.AllServices(),
		Addresses: r.store.Addresses(),
	}, nil
}

// Unregister removes location from service (SERVICE_UNREGISTER, spec.md
// §4.f), dropping every subscription it held.
func (r *Registry) Unregister(service, location string) {
	r.store.RemoveInstance(service, location)
	r.pubsub.RemoveAllSubscriptionsForLocation(location)
}

// Lookup implements SERVICE_LOOKUP (spec.md §4.f). name "*" returns the full
// serialized service map; otherwise it defers to the load balancer using
// strategy (callers pass balancer.Random for explicit lookups, and
// balancer.RoundRobin from the proxy).
func (r *Registry) Lookup(service string, strategy balancer.Name) (any, error) {
	if service == "*" {
		return r.store.AllServices(), nil
	}
	if service == "" {
		return nil, httperr.BadRequest("service name is required")
	}
	return r.balancer.Pick(service, strategy)
}

// verifyAccessRequest is the body POSTed to an auth-provider instance.
type verifyAccessRequest struct {
	VerifyAccess string `json:"verifyAccess"`
}

// verifyAccessResponse is the shape a reference auth provider (pkg
// authprovider) replies with; any provider honoring the integration contract
// in spec.md §6 may reply with either field.
type verifyAccessResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// VerifyAccess implements spec.md §4.f's auth-verification step, run before
// forwarding any SERVICE_CALL to a service that has a recorded auth
// provider. token empty → 401. Provider unreachable → 503. Provider denies
// or errors → 401.
func (r *Registry) VerifyAccess(ctx context.Context, service, token string) error {
	provider, ok := r.store.AuthProvider(service)
	if !ok {
		return nil
	}
	if token == "" {
		return httperr.Unauthorized("auth token required")
	}

	instance, err := r.balancer.Pick(provider, balancer.RoundRobin)
	if err != nil {
		return httperr.ServiceUnavailable("auth provider %q unreachable: %v", provider, err)
	}

	body, err := json.Marshal(verifyAccessRequest{VerifyAccess: token})
	if err != nil {
		return httperr.Internal("failed to encode auth verification request: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, instance, bytes.NewReader(body))
	if err != nil {
		return httperr.Internal("failed to build auth verification request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(command.HeaderCommand, string(command.ServiceCall))
	req.Header.Set(command.HeaderServiceName, provider)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return httperr.ServiceUnavailable("auth provider %q unreachable: %v", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return httperr.ServiceUnavailable("auth provider %q returned status %d", provider, resp.StatusCode)
	}

	var parsed verifyAccessResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return httperr.Unauthorized("auth provider %q returned an unparsable response", provider)
	}
	if parsed.Error != "" || !parsed.Valid {
		return httperr.Unauthorized("access denied")
	}
	return nil
}

// PreregisterGateway registers gatewayURL as GatewayServiceName with the
// fixed metadata spec.md §4.f requires: preregistered, public, and pullOnly
// so it never receives push notifications (it only ever learns of changes
// via the notify-then-pull nudge and its own REGISTRY_PULL calls).
func (r *Registry) PreregisterGateway(ctx context.Context, gatewayURL string) error {
	if gatewayURL == "" {
		return fmt.Errorf("gateway URL is empty")
	}
	meta := &state.Metadata{
		Preregistered: true,
		Public:        true,
		PullOnly:      true,
		Type:          "gateway",
	}
	_, err := r.Register(ctx, GatewayServiceName, gatewayURL, "", meta)
	return err
}
