package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/mcbrumagin/yamf/internal/balancer"
	"github.com/mcbrumagin/yamf/internal/config"
	"github.com/mcbrumagin/yamf/internal/dispatch"
	"github.com/mcbrumagin/yamf/internal/logger"
	"github.com/mcbrumagin/yamf/internal/proxy"
	"github.com/mcbrumagin/yamf/internal/pubsub"
	"github.com/mcbrumagin/yamf/internal/registry"
	"github.com/mcbrumagin/yamf/internal/routetable"
	"github.com/mcbrumagin/yamf/internal/state"
	"github.com/mcbrumagin/yamf/internal/telemetry"
	"github.com/mcbrumagin/yamf/pkg/streamserver"
)

// GatewayServer is the bootstrapped Gateway process (spec.md §4.l): a
// read-only mirror of registry state, reached by clients instead of the
// registry directly, kept current by pull (pkg gatewayPuller).
type GatewayServer struct {
	httpServer    *http.Server
	store         *state.Store
	puller        *gatewayPuller
	tracer        *telemetry.Tracer
	meterProvider *telemetry.MeterProvider
}

// NewGatewayServer builds a GatewayServer from cfg. The gateway keeps its
// own state.Store, populated only by pulling REGISTRY_PULL from the
// registry (spec.md §4.l, §4.m): it never accepts registrations itself.
func NewGatewayServer(cfg *config.Config) (*GatewayServer, error) {
	if cfg.RegistryURL == "" {
		return nil, fmt.Errorf("YAMF_REGISTRY_URL is required for the gateway")
	}

	store := state.New()
	bal := balancer.New(store)
	routes := routetable.New(store)
	ps := pubsub.New(store, nil, func() pubsub.GatewayInfo {
		return pubsub.GatewayInfo{URL: cfg.GatewayURL, PullOnly: true}
	})
	reg := registry.New(store, bal, ps, nil, registry.DefaultStartPort(portOf(cfg.GatewayURL)))

	prx := proxy.New(proxy.Options{Hop: "yamf-gateway"})

	telemetryCfg := telemetry.Config{
		Enabled:      cfg.TelemetryEnabled,
		ServiceName:  "yamf-gateway",
		OTLPEndpoint: cfg.OTLPEndpoint,
		OTLPInsecure: cfg.OTLPInsecure,
	}
	promReg := prometheus.NewRegistry()
	tracer, err := telemetry.NewTracer(context.Background(), telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build tracer: %w", err)
	}
	meterProvider, err := telemetry.NewMeterProvider(context.Background(), telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build meter provider: %w", err)
	}
	metrics := telemetry.NewMetrics(promReg, meterProvider)

	dispatcher := dispatch.New(dispatch.Config{
		Store:                store,
		Registry:             reg,
		Routes:               routes,
		Balancer:             bal,
		Pubsub:               ps,
		Proxy:                prx,
		RegistryToken:        cfg.RegistryToken,
		RedactErrors:         true,
		AcceptsRegistrations: false,
		Metrics:              metrics,
		Tracer:               tracer,
	})

	puller := newGatewayPuller(cfg.RegistryURL, cfg.RegistryToken, store, nil)

	metricsHandler := promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})
	router := newGatewayRouter(dispatcher, puller, metricsHandler)

	addr, err := addrOf(cfg.GatewayURL)
	if err != nil {
		return nil, fmt.Errorf("YAMF_GATEWAY_URL: %w", err)
	}

	return &GatewayServer{
		httpServer:    streamserver.NewStreaming(addr, router),
		store:         store,
		puller:        puller,
		tracer:        tracer,
		meterProvider: meterProvider,
	}, nil
}

// newGatewayRouter intercepts the registry's notify-then-pull nudge
// (spec.md §4.h notifyGatewayOfUpdate, §4.m) before anything reaches the
// dispatcher: a notify is not itself a yamf command, it just means "go
// pull now".
func newGatewayRouter(dispatcher http.Handler, puller *gatewayPuller, metricsHandler http.Handler) http.Handler {
	notifyAware := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if pubsub.IsRegistryUpdatedNotify(r) {
			puller.TriggerPull()
			w.WriteHeader(http.StatusAccepted)
			return
		}
		dispatcher.ServeHTTP(w, r)
	})
	return newRouter(notifyAware, metricsHandler)
}

// Run starts the gateway's initial pull, its HTTP listener, and its
// periodic/notify-driven resync loop, returning the first of their errors
// (spec.md §4.m: the gateway must be populated before it can usefully serve
// traffic).
func (s *GatewayServer) Run(ctx context.Context) error {
	if err := s.puller.PullOnce(ctx); err != nil {
		logger.Warnf("initial registry pull failed, starting empty: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.puller.Run(gctx)
	})
	g.Go(func() error {
		logger.Infof("gateway listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	return g.Wait()
}

// Shutdown gracefully stops the gateway's HTTP listener and flushes any
// buffered trace spans and metrics.
func (s *GatewayServer) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	if err := s.tracer.Shutdown(ctx); err != nil {
		return err
	}
	return s.meterProvider.Shutdown(ctx)
}
