package bootstrap

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcbrumagin/yamf/internal/config"
	"github.com/mcbrumagin/yamf/pkg/command"
)

func TestNewGatewayServerRequiresRegistryURL(t *testing.T) {
	_, err := NewGatewayServer(&config.Config{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "YAMF_REGISTRY_URL")
}

func TestNewGatewayRouterTriggersPullOnNotifyAndSkipsDispatcher(t *testing.T) {
	var dispatcherCalled bool
	dispatcher := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		dispatcherCalled = true
	})

	puller := newGatewayPuller("http://127.0.0.1:1", "", nil, nil)
	router := newGatewayRouter(dispatcher, puller, nil)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("yamf-registry-updated", "1")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.False(t, dispatcherCalled)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	select {
	case <-puller.trigger:
	default:
		t.Fatal("expected a pending trigger after notify")
	}
}

func TestNewGatewayRouterPassesThroughOrdinaryRequests(t *testing.T) {
	var dispatcherCalled bool
	dispatcher := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		dispatcherCalled = true
		w.WriteHeader(http.StatusOK)
	})

	puller := newGatewayPuller("http://127.0.0.1:1", "", nil, nil)
	router := newGatewayRouter(dispatcher, puller, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(command.HeaderCommand, string(command.ServiceLookup))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.True(t, dispatcherCalled)
}
