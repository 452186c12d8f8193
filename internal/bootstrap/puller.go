package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/mcbrumagin/yamf/internal/logger"
	"github.com/mcbrumagin/yamf/internal/state"
	"github.com/mcbrumagin/yamf/pkg/command"
)

// resyncInterval is the gateway's periodic pull fallback, in case a
// notify-then-pull nudge from the registry is ever lost (spec.md §4.m).
const resyncInterval = 30 * time.Second

// gatewayPuller keeps a gateway's state.Store current by calling
// REGISTRY_PULL against the registry, either on demand (notify-triggered)
// or on a fixed schedule.
type gatewayPuller struct {
	registryURL   string
	registryToken string
	store         *state.Store
	httpClient    *http.Client
	trigger       chan struct{}
}

func newGatewayPuller(registryURL, registryToken string, store *state.Store, httpClient *http.Client) *gatewayPuller {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &gatewayPuller{
		registryURL:   registryURL,
		registryToken: registryToken,
		store:         store,
		httpClient:    httpClient,
		trigger:       make(chan struct{}, 1),
	}
}

// TriggerPull requests an out-of-schedule pull. It never blocks: a pull
// already pending absorbs the request.
func (p *gatewayPuller) TriggerPull() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Run drives the puller until ctx is cancelled: a background schedule
// feeds TriggerPull every resyncInterval (the jittered-poll fallback,
// grounded in k8s.io/apimachinery's wait package), and the foreground loop
// performs a backoff-retried pull every time it fires.
func (p *gatewayPuller) Run(ctx context.Context) error {
	go func() {
		_ = wait.PollUntilContextCancel(ctx, resyncInterval, false, func(context.Context) (bool, error) {
			p.TriggerPull()
			return false, nil
		})
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.trigger:
			if err := p.pullWithBackoff(ctx); err != nil {
				logger.Errorf("registry pull failed after retries: %v", err)
			}
		}
	}
}

// pullWithBackoff retries PullOnce with exponential backoff, bounded so a
// persistently unreachable registry does not retry forever on one trigger
// (the next scheduled or notify-driven trigger picks it up again).
func (p *gatewayPuller) pullWithBackoff(ctx context.Context) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, p.PullOnce(ctx)
	}, backoff.WithMaxTries(5))
	return err
}

// PullOnce performs one REGISTRY_PULL and restores the result into the
// gateway's local store (spec.md §4.l, §4.m).
func (p *gatewayPuller) PullOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.registryURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set(command.HeaderCommand, string(command.RegistryPull))
	if p.registryToken != "" {
		req.Header.Set(command.HeaderRegistryToken, p.registryToken)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("registry pull request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("registry pull returned status %d", resp.StatusCode)
	}

	var snap state.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return fmt.Errorf("decoding registry pull response: %w", err)
	}

	p.store.Restore(snap)
	return nil
}
