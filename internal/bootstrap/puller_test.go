package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcbrumagin/yamf/internal/state"
	"github.com/mcbrumagin/yamf/pkg/command"
)

func TestPullOnceRestoresSnapshotIntoStore(t *testing.T) {
	now := time.Now().Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, string(command.RegistryPull), r.Header.Get(command.HeaderCommand))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"services":{"echo":["http://localhost:10001"]},"timestamp":%d}`, now)
	}))
	defer srv.Close()

	store := state.New()
	puller := newGatewayPuller(srv.URL, "", store, srv.Client())

	err := puller.PullOnce(context.Background())

	require.NoError(t, err)
	assert.True(t, store.HasService("echo"))
}

func TestPullOnceSendsRegistryTokenWhenSet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get(command.HeaderRegistryToken))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	puller := newGatewayPuller(srv.URL, "secret", state.New(), srv.Client())

	err := puller.PullOnce(context.Background())

	require.NoError(t, err)
}

func TestPullOnceReturnsErrorOnBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	puller := newGatewayPuller(srv.URL, "", state.New(), srv.Client())

	err := puller.PullOnce(context.Background())

	require.Error(t, err)
}

func TestTriggerPullIsNonBlockingAndCoalesces(t *testing.T) {
	puller := newGatewayPuller("http://127.0.0.1:1", "", state.New(), nil)

	puller.TriggerPull()
	puller.TriggerPull()
	puller.TriggerPull()

	assert.Len(t, puller.trigger, 1)
}
