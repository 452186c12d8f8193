package dispatch

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcbrumagin/yamf/internal/balancer"
	"github.com/mcbrumagin/yamf/internal/proxy"
	"github.com/mcbrumagin/yamf/internal/pubsub"
	"github.com/mcbrumagin/yamf/internal/registry"
	"github.com/mcbrumagin/yamf/internal/routetable"
	"github.com/mcbrumagin/yamf/internal/state"
	"github.com/mcbrumagin/yamf/internal/telemetry"
	"github.com/mcbrumagin/yamf/pkg/command"
)

func newTestDispatcher(registryToken string) (*Dispatcher, *state.Store) {
	store := state.New()
	bal := balancer.New(store)
	ps := pubsub.New(store, nil, nil)
	reg := registry.New(store, bal, ps, nil, 10000)
	routes := routetable.New(store)
	px := proxy.New(proxy.Options{Hop: "registry"})
	d := New(Config{
		Store:                store,
		Registry:             reg,
		Routes:               routes,
		Balancer:             bal,
		Pubsub:               ps,
		Proxy:                px,
		RegistryToken:        registryToken,
		AcceptsRegistrations: true,
	})
	return d, store
}

func TestHealthCommand(t *testing.T) {
	d, _ := newTestDispatcher("")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(command.HeaderCommand, string(command.Health))
	rec := httptest.NewRecorder()

	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ready"`)
}

func TestProtectedCommandWithoutTokenIsForbidden(t *testing.T) {
	d, _ := newTestDispatcher("secret")
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(command.HeaderCommand, string(command.ServiceSetup))
	req.Header.Set(command.HeaderServiceName, "echo")
	req.Header.Set(command.HeaderServiceHome, "http://localhost")
	rec := httptest.NewRecorder()

	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestProtectedCommandWithCorrectTokenSucceeds(t *testing.T) {
	d, _ := newTestDispatcher("secret")
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(command.HeaderCommand, string(command.ServiceSetup))
	req.Header.Set(command.HeaderServiceName, "echo")
	req.Header.Set(command.HeaderServiceHome, "http://localhost")
	req.Header.Set(command.HeaderRegistryToken, "secret")
	rec := httptest.NewRecorder()

	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http://localhost:10000")
}

func TestRouteMatchBeatsServiceCallPriorityWhenRouteExists(t *testing.T) {
	// spec.md §8 scenario S6: a route match takes priority on a request
	// whose URL matches a route, even if a command header is also present —
	// but only when there IS a route match; otherwise the command wins.
	downstreamA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("A"))
	}))
	defer downstreamA.Close()
	downstreamB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("B"))
	}))
	defer downstreamB.Close()

	d, store := newTestDispatcher("")
	store.AddInstance("A", downstreamA.URL)
	store.AddInstance("B", downstreamB.URL)
	d.routes.Register("/priority-test", "A", "")

	req := httptest.NewRequest(http.MethodGet, "/priority-test", nil)
	req.Header.Set(command.HeaderCommand, string(command.ServiceCall))
	req.Header.Set(command.HeaderServiceName, "B")
	rec := httptest.NewRecorder()

	d.ServeHTTP(rec, req)

	assert.Equal(t, "A", rec.Body.String())
}

func TestServiceCallWithoutRouteUsesCommandTarget(t *testing.T) {
	downstreamB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("B"))
	}))
	defer downstreamB.Close()

	d, store := newTestDispatcher("")
	store.AddInstance("B", downstreamB.URL)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(command.HeaderCommand, string(command.ServiceCall))
	req.Header.Set(command.HeaderServiceName, "B")
	rec := httptest.NewRecorder()

	d.ServeHTTP(rec, req)

	assert.Equal(t, "B", rec.Body.String())
}

func TestServiceCallMissingServiceNameIsBadRequest(t *testing.T) {
	d, _ := newTestDispatcher("")
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(command.HeaderCommand, string(command.ServiceCall))
	rec := httptest.NewRecorder()

	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServiceCallUnknownServiceIs404(t *testing.T) {
	d, _ := newTestDispatcher("")
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(command.HeaderCommand, string(command.ServiceCall))
	req.Header.Set(command.HeaderServiceName, "ghost")
	rec := httptest.NewRecorder()

	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnmatchedRequestIs404(t *testing.T) {
	d, _ := newTestDispatcher("")
	req := httptest.NewRequest(http.MethodGet, "/nothing-here", nil)
	rec := httptest.NewRecorder()

	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPubsubPublishRoundTrip(t *testing.T) {
	var received string
	sub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = r.Header.Get(command.HeaderPubsubChannel)
		w.WriteHeader(http.StatusOK)
	}))
	defer sub.Close()

	d, store := newTestDispatcher("")
	store.Subscribe("c", sub.URL)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"x":1}`))
	req.Header.Set(command.HeaderCommand, string(command.PubsubPublish))
	req.Header.Set(command.HeaderPubsubChannel, "c")
	rec := httptest.NewRecorder()

	d.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "c", received)
}

func TestGatewayRejectsServiceRegister(t *testing.T) {
	store := state.New()
	bal := balancer.New(store)
	ps := pubsub.New(store, nil, nil)
	reg := registry.New(store, bal, ps, nil, 10000)
	routes := routetable.New(store)
	px := proxy.New(proxy.Options{Hop: "gateway"})
	d := New(Config{
		Store: store, Registry: reg, Routes: routes, Balancer: bal,
		Pubsub: ps, Proxy: px, AcceptsRegistrations: false,
	})

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(command.HeaderCommand, string(command.ServiceRegister))
	req.Header.Set(command.HeaderServiceName, "echo")
	req.Header.Set(command.HeaderServiceLocation, "http://localhost:10000")
	rec := httptest.NewRecorder()

	d.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDispatchRecordsCommandMetrics(t *testing.T) {
	store := state.New()
	bal := balancer.New(store)
	ps := pubsub.New(store, nil, nil)
	reg := registry.New(store, bal, ps, nil, 10000)
	routes := routetable.New(store)
	px := proxy.New(proxy.Options{Hop: "registry"})
	promReg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(promReg, nil)
	d := New(Config{
		Store: store, Registry: reg, Routes: routes, Balancer: bal,
		Pubsub: ps, Proxy: px, AcceptsRegistrations: true, Metrics: metrics,
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(command.HeaderCommand, string(command.Health))
	rec := httptest.NewRecorder()

	d.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CommandsTotal.WithLabelValues(string(command.Health), "ok")))
}
