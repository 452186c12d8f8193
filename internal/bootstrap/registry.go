package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

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

// RegistryServer is the bootstrapped Registry process (spec.md §4.k): the
// one authoritative owner of registry state, accepting registrations,
// route bindings, and pub/sub traffic.
type RegistryServer struct {
	httpServer    *http.Server
	Store         *state.Store
	tracer        *telemetry.Tracer
	meterProvider *telemetry.MeterProvider
}

// NewRegistryServer builds a RegistryServer from cfg. It enforces spec.md
// §4.k step 1 (§8 property 10): production/staging refuses to start without
// YAMF_REGISTRY_TOKEN; development starts anyway and logs a warning.
func NewRegistryServer(cfg *config.Config) (*RegistryServer, error) {
	kind := config.Classify(cfg.Environment)
	if kind.RequiresToken() && cfg.RegistryToken == "" {
		return nil, fmt.Errorf("YAMF_REGISTRY_TOKEN is required in %s", kind)
	}
	if cfg.RegistryToken == "" {
		logger.Warnf("starting in %s without YAMF_REGISTRY_TOKEN; protected commands are open to anyone", kind)
	}

	store := state.New()
	bal := balancer.New(store)
	routes := routetable.New(store)

	gatewayURL := cfg.GatewayURL
	ps := pubsub.New(store, nil, func() pubsub.GatewayInfo {
		return pubsub.GatewayInfo{URL: gatewayURL, PullOnly: true}
	})

	reg := registry.New(store, bal, ps, nil, registry.DefaultStartPort(portOf(cfg.RegistryURL)))

	if cfg.SeedFile != "" {
		if err := applySeed(store, routes, cfg.SeedFile); err != nil {
			return nil, fmt.Errorf("failed to apply seed file: %w", err)
		}
	}

	if gatewayURL != "" {
		if err := reg.PreregisterGateway(context.Background(), gatewayURL); err != nil {
			logger.Warnf("failed to pre-register gateway %s: %v", gatewayURL, err)
		}
	}

	prx := proxy.New(proxy.Options{Hop: "yamf-registry"})

	telemetryCfg := telemetry.Config{
		Enabled:      cfg.TelemetryEnabled,
		ServiceName:  "yamf-registry",
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
		RedactErrors:         kind.RequiresToken(),
		AcceptsRegistrations: true,
		Metrics:              metrics,
		Tracer:               tracer,
	})

	addr, err := addrOf(cfg.RegistryURL)
	if err != nil {
		return nil, fmt.Errorf("YAMF_REGISTRY_URL: %w", err)
	}

	metricsHandler := promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})

	return &RegistryServer{
		httpServer:    streamserver.NewStreaming(addr, newRouter(dispatcher, metricsHandler)),
		Store:         store,
		tracer:        tracer,
		meterProvider: meterProvider,
	}, nil
}

// ListenAndServe starts the registry's HTTP listener; it blocks until the
// server is shut down or fails.
func (s *RegistryServer) ListenAndServe() error {
	logger.Infof("registry listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the registry's HTTP listener and flushes any
// buffered trace spans and metrics.
func (s *RegistryServer) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	if err := s.tracer.Shutdown(ctx); err != nil {
		return err
	}
	return s.meterProvider.Shutdown(ctx)
}

// applySeed pre-loads services and routes from an optional YAML seed file
// (additive sugar over spec.md, not a requirement of it).
func applySeed(store *state.Store, routes *routetable.Table, path string) error {
	seed, err := config.NewSeedLoader().LoadSeed(path)
	if err != nil {
		return err
	}
	for _, svc := range seed.Services {
		store.AddInstance(svc.Name, svc.Location)
		if svc.Metadata != nil {
			store.SetMetadata(svc.Name, *svc.Metadata)
		}
	}
	for _, route := range seed.Routes {
		routes.Register(route.Path, route.Service, route.DataType)
	}
	logger.Infof("applied seed file %s: %d services, %d routes", path, len(seed.Services), len(seed.Routes))
	return nil
}
