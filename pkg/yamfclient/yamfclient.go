// Package yamfclient is the thin HTTP client spec.md §4.m describes: the
// handful of command-headered requests a plug-in service issues against its
// registry to set itself up, register, call another service, and publish or
// subscribe on a channel. It never imports internal packages: a service
// built against this package only ever speaks the wire protocol in
// pkg/command, the same boundary a real out-of-process service would cross.
package yamfclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/mcbrumagin/yamf/pkg/command"
	"github.com/mcbrumagin/yamf/pkg/httperr"
)

// Client is a thin wrapper over http.Client bound to one registry URL.
type Client struct {
	registryURL string
	httpClient  *http.Client
}

// New builds a Client. registryURL is the registry base URL every request is
// sent to; a gateway answers SERVICE_CALL but refuses the setup,
// registration and pub/sub commands.
func New(registryURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{registryURL: registryURL, httpClient: httpClient}
}

// Setup calls SERVICE_SETUP(name, home) and returns the allocated location
// (spec.md §4.n step 1).
func (c *Client) Setup(ctx context.Context, name, home string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set(command.HeaderCommand, string(command.ServiceSetup))
	req.Header.Set(command.HeaderServiceName, name)
	req.Header.Set(command.HeaderServiceHome, home)

	var resp struct {
		Location string `json:"location"`
	}
	if err := c.doJSON(req, &resp); err != nil {
		return "", err
	}
	return resp.Location, nil
}

// RegisterOptions carries SERVICE_REGISTER's optional body fields.
type RegisterOptions struct {
	UseAuthService string `json:"useAuthService,omitempty"`
	Metadata       any    `json:"metadata,omitempty"`
}

// Register calls SERVICE_REGISTER(name, location, opts) (spec.md §4.n step
// 3).
func (c *Client) Register(ctx context.Context, name, location string, opts RegisterOptions) error {
	body, err := json.Marshal(opts)
	if err != nil {
		return httperr.Internal("failed to encode register body: %v", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set(command.HeaderCommand, string(command.ServiceRegister))
	req.Header.Set(command.HeaderServiceName, name)
	req.Header.Set(command.HeaderServiceLocation, location)
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, nil)
}

// Unregister calls SERVICE_UNREGISTER(name, location) (spec.md §4.n step 4).
func (c *Client) Unregister(ctx context.Context, name, location string) error {
	req, err := c.newRequest(ctx, http.MethodPost, nil)
	if err != nil {
		return err
	}
	req.Header.Set(command.HeaderCommand, string(command.ServiceUnregister))
	req.Header.Set(command.HeaderServiceName, name)
	req.Header.Set(command.HeaderServiceLocation, location)

	return c.do(req, nil)
}

// Call implements SERVICE_CALL: it forwards payload to the named service and
// returns the raw response body plus its content-type, leaving decoding to
// the caller (spec.md §4.i, §9 "this.call").
func (c *Client) Call(ctx context.Context, service, authToken string, payload []byte) ([]byte, string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, bytes.NewReader(payload))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set(command.HeaderCommand, string(command.ServiceCall))
	req.Header.Set(command.HeaderServiceName, service)
	if authToken != "" {
		req.Header.Set(command.HeaderAuthToken, authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", httperr.ServiceUnavailable("service %q unreachable: %v", service, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", httperr.Internal("failed to read response from service %q: %v", service, err)
	}
	if resp.StatusCode >= 400 {
		return nil, "", httperr.WrapInService(service, httperr.New(resp.StatusCode, "%s", string(body)))
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// Publish calls PUBSUB_PUBLISH(channel, message) (spec.md §4.h, §9
// "this.publish").
func (c *Client) Publish(ctx context.Context, channel string, message json.RawMessage) error {
	req, err := c.newRequest(ctx, http.MethodPost, bytes.NewReader(message))
	if err != nil {
		return err
	}
	req.Header.Set(command.HeaderCommand, string(command.PubsubPublish))
	req.Header.Set(command.HeaderPubsubChannel, channel)
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, nil)
}

// Subscribe calls PUBSUB_SUBSCRIBE(channel, name, location) (spec.md §4.n,
// "createSubscription").
func (c *Client) Subscribe(ctx context.Context, channel, name, location string) error {
	req, err := c.newRequest(ctx, http.MethodPost, nil)
	if err != nil {
		return err
	}
	req.Header.Set(command.HeaderCommand, string(command.PubsubSubscribe))
	req.Header.Set(command.HeaderPubsubChannel, channel)
	req.Header.Set(command.HeaderServiceName, name)
	req.Header.Set(command.HeaderServiceLocation, location)

	return c.do(req, nil)
}

// Unsubscribe calls PUBSUB_UNSUBSCRIBE(channel, location).
func (c *Client) Unsubscribe(ctx context.Context, channel, location string) error {
	req, err := c.newRequest(ctx, http.MethodPost, nil)
	if err != nil {
		return err
	}
	req.Header.Set(command.HeaderCommand, string(command.PubsubUnsubscribe))
	req.Header.Set(command.HeaderPubsubChannel, channel)
	req.Header.Set(command.HeaderServiceLocation, location)

	return c.do(req, nil)
}

func (c *Client) newRequest(ctx context.Context, method string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.registryURL, body)
	if err != nil {
		return nil, httperr.Internal("failed to build request to registry: %v", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return httperr.ServiceUnavailable("registry unreachable: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return httperr.Internal("failed to read registry response: %v", err)
	}
	if resp.StatusCode >= 400 {
		return httperr.New(resp.StatusCode, "registry returned %d: %s", resp.StatusCode, string(body))
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return httperr.Internal("failed to decode registry response: %v", err)
		}
	}
	return nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	return c.do(req, out)
}
