// Package pubsub implements spec.md §4.h: channel publish/subscribe
// fan-out, the internal "register" cache-update event stream, and the
// notify-then-pull nudge sent to the gateway whenever registry state
// changes.
package pubsub

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mcbrumagin/yamf/internal/logger"
	"github.com/mcbrumagin/yamf/internal/state"
	"github.com/mcbrumagin/yamf/pkg/command"
)

// headerDeliveryID carries a delivery's unique id to the subscriber so it
// can dedupe redeliveries (SPEC_FULL.md §12).
const headerDeliveryID = "X-Yamf-Delivery-Id"

// registerChannel is the internal bookkeeping channel cache-update events
// are delivered on (spec.md §4.f, §4.h) — distinct from any user-defined
// pub/sub channel only by convention: it's just a channel name subscribers
// can subscribe to like any other.
const registerChannel = "register"

// headerRegistryUpdated marks the minimal notify-only POST the registry
// sends the gateway on state changes (spec.md §4.h notifyGatewayOfUpdate).
// It is not part of the yamf-command vocabulary in pkg/command: it is a
// registry-to-gateway-only signal, never dispatched through the command
// router.
const headerRegistryUpdated = "yamf-registry-updated"

// DeliveryResult is one subscriber's outcome from a Publish call.
type DeliveryResult struct {
	Location   string `json:"location"`
	DeliveryID string `json:"deliveryId"`
	Status     int    `json:"status,omitempty"`
	Error      string `json:"error,omitempty"`
}

// PublishResult aggregates every subscriber's outcome (spec.md §4.h, §8 S7).
type PublishResult struct {
	Results []DeliveryResult `json:"results"`
	Errors  []DeliveryResult `json:"errors"`
}

// GatewayInfo is the minimal view of gateway configuration the Manager needs
// to decide whether (and where) to send a notify-then-pull nudge.
type GatewayInfo struct {
	URL      string
	PullOnly bool
}

// Manager fans out publishes, tracks subscriptions, and notifies the
// gateway of registry changes.
type Manager struct {
	store      *state.Store
	httpClient *http.Client
	gateway    func() GatewayInfo
}

// New builds a Manager over store. gateway is called lazily on every notify
// so it always reflects the current gateway pre-registration (it may not
// exist yet at construction time).
func New(store *state.Store, httpClient *http.Client, gateway func() GatewayInfo) *Manager {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Manager{store: store, httpClient: httpClient, gateway: gateway}
}

// Publish delivers message to every current subscriber of channel, in
// insertion order, one at a time (spec.md §5: "per-subscriber delivery is
// sequential so that a slow subscriber does not deliver out-of-order
// messages to fast ones"). A failing subscriber never blocks delivery to the
// rest; the per-subscriber outcome is recorded instead of propagated.
func (m *Manager) Publish(ctx context.Context, channel string, message json.RawMessage) PublishResult {
	subscribers := m.store.Subscribers(channel)

	result := PublishResult{
		Results: make([]DeliveryResult, 0, len(subscribers)),
		Errors:  make([]DeliveryResult, 0),
	}
	for _, location := range subscribers {
		deliveryID := uuid.NewString()
		status, err := m.deliver(ctx, location, channel, message, deliveryID)
		if err != nil {
			result.Errors = append(result.Errors, DeliveryResult{Location: location, DeliveryID: deliveryID, Error: err.Error()})
			continue
		}
		result.Results = append(result.Results, DeliveryResult{Location: location, DeliveryID: deliveryID, Status: status})
	}
	return result
}

func (m *Manager) deliver(ctx context.Context, location, channel string, message json.RawMessage, deliveryID string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, location, bytes.NewReader(message))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(command.HeaderCommand, string(command.PubsubPublish))
	req.Header.Set(command.HeaderPubsubChannel, channel)
	req.Header.Set(headerDeliveryID, deliveryID)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// Subscribe adds location to channel's subscriber set, then emits a
// cache-update notification (spec.md §4.h).
func (m *Manager) Subscribe(ctx context.Context, channel, service, location string) {
	m.store.Subscribe(channel, location)
	m.PublishCacheUpdate(ctx, CacheUpdateEvent{
		Subscription: channel,
		Service:      service,
		Location:     location,
	})
}

// Unsubscribe removes location from channel, dropping the channel if its
// subscriber set becomes empty.
func (m *Manager) Unsubscribe(channel, location string) {
	m.store.Unsubscribe(channel, location)
}

// RemoveAllSubscriptionsForLocation implements spec.md §4.h's cleanup hook,
// called when an instance unregisters or its owning process terminates.
func (m *Manager) RemoveAllSubscriptionsForLocation(location string) {
	m.store.RemoveAllSubscriptionsForLocation(location)
}

// CacheUpdateEvent is the payload delivered to "register"-channel
// subscribers, and (in reduced form) to the gateway's notify endpoint.
type CacheUpdateEvent struct {
	Subscription string `json:"subscription,omitempty"`
	Service      string `json:"service"`
	Location     string `json:"location"`
}

// PublishCacheUpdate pushes event to every subscriber of the "register"
// channel and, if a pull-only gateway is configured, notifies it too
// (spec.md §4.f, §4.h).
func (m *Manager) PublishCacheUpdate(ctx context.Context, event CacheUpdateEvent) PublishResult {
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Errorf("pubsub: failed to marshal cache-update event: %v", err)
		return PublishResult{}
	}
	result := m.Publish(ctx, registerChannel, payload)
	m.notifyGatewayOfUpdate(ctx, event)
	return result
}

// notifyGatewayOfUpdate sends the minimal {service, location, timestamp}
// notify-then-pull nudge to the gateway, if one is configured and marked
// pullOnly (spec.md §4.h). Failures are logged, never propagated — the
// registry must never fail a registration because the gateway is briefly
// unreachable.
func (m *Manager) notifyGatewayOfUpdate(ctx context.Context, event CacheUpdateEvent) {
	if m.gateway == nil {
		return
	}
	gw := m.gateway()
	if gw.URL == "" || !gw.PullOnly {
		return
	}

	body, err := json.Marshal(struct {
		Service   string `json:"service"`
		Location  string `json:"location"`
		Timestamp int64  `json:"timestamp"`
	}{Service: event.Service, Location: event.Location, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		logger.Errorf("pubsub: failed to marshal gateway notify payload: %v", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gw.URL, bytes.NewReader(body))
	if err != nil {
		logger.Warnf("pubsub: failed to build gateway notify request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerRegistryUpdated, "true")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		logger.Warnf("pubsub: gateway notify failed: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		logger.Warnf("pubsub: gateway notify returned status %d", resp.StatusCode)
	}
}

// IsRegistryUpdatedNotify reports whether r carries the gateway
// notify-then-pull signal.
func IsRegistryUpdatedNotify(r *http.Request) bool {
	return r.Header.Get(headerRegistryUpdated) != ""
}

// RegisterChannelName exposes the "register" channel name to callers (e.g.
// the service registry, to auto-subscribe new instances unless
// metadata.pullOnly is set).
func RegisterChannelName() string {
	return registerChannel
}
