package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mcbrumagin/yamf/pkg/command"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRegistry plays the role of the registry the service talks to: it
// answers SERVICE_SETUP with a fixed loopback port and records every
// SERVICE_REGISTER/SERVICE_UNREGISTER call it sees.
func fakeRegistry(t *testing.T, setupLocation string) (*httptest.Server, *int32) {
	t.Helper()
	var registerCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch command.Parse(r.Header.Get(command.HeaderCommand)) {
		case command.ServiceSetup:
			_ = json.NewEncoder(w).Encode(map[string]string{"location": setupLocation})
		case command.ServiceRegister:
			atomic.AddInt32(&registerCalls, 1)
			w.WriteHeader(http.StatusOK)
		case command.ServiceUnregister:
			w.WriteHeader(http.StatusOK)
		case command.PubsubSubscribe:
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	return srv, &registerCalls
}

func TestNewSetsUpBindsAndRegisters(t *testing.T) {
	registry, registerCalls := fakeRegistry(t, "http://127.0.0.1:0")
	defer registry.Close()

	svc, err := New(registry.URL, "echo", "http://127.0.0.1", echoHandler, WithHTTPClient(registry.Client()))
	require.NoError(t, err)
	defer svc.Terminate(context.Background())

	assert.Equal(t, int32(1), atomic.LoadInt32(registerCalls))
	assert.Equal(t, "http://127.0.0.1:0", svc.Location())
}

func TestServeHTTPEchoesJSONPayload(t *testing.T) {
	registry, _ := fakeRegistry(t, "http://127.0.0.1:0")
	defer registry.Close()

	svc, err := New(registry.URL, "echo", "http://127.0.0.1", echoHandler, WithHTTPClient(registry.Client()))
	require.NoError(t, err)
	defer svc.Terminate(context.Background())

	addr := svc.listener.Addr().String()
	url := "http://" + addr + "/"

	var resp *http.Response
	for i := 0; i < 20; i++ {
		resp, err = http.Post(url, "application/json", strings.NewReader(`{"a":1}`))
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestHandledSentinelSkipsSerialization(t *testing.T) {
	registry, _ := fakeRegistry(t, "http://127.0.0.1:0")
	defer registry.Close()

	handler := func(_ context.Context, _ *Context, _ Payload, w http.ResponseWriter, _ *http.Request) (any, error) {
		w.WriteHeader(http.StatusTeapot)
		return Handled, nil
	}

	svc, err := New(registry.URL, "echo", "http://127.0.0.1", handler, WithHTTPClient(registry.Client()))
	require.NoError(t, err)
	defer svc.Terminate(context.Background())

	addr := svc.listener.Addr().String()
	url := "http://" + addr + "/"

	var resp *http.Response
	for i := 0; i < 20; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
}

func echoHandler(_ context.Context, _ *Context, payload Payload, _ http.ResponseWriter, _ *http.Request) (any, error) {
	return json.RawMessage(payload.JSON), nil
}
