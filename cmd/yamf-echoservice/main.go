// Package main is a minimal plug-in service used to exercise pkg/service
// end-to-end: it registers with a registry and echoes back
// whatever payload it is called with.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"

	"github.com/mcbrumagin/yamf/internal/logger"
	"github.com/mcbrumagin/yamf/pkg/service"
)

func main() {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("YAMF_REGISTRY_URL", "http://localhost:9000")
	v.SetDefault("YAMF_SERVICE_HOME", "http://localhost")
	v.SetDefault("YAMF_SERVICE_NAME", "echo")
	v.SetDefault("ENVIRONMENT", "development")

	logger.Configure(v.GetString("ENVIRONMENT"), false)
	defer logger.Sync()

	svc, err := service.New(
		v.GetString("YAMF_REGISTRY_URL"),
		v.GetString("YAMF_SERVICE_NAME"),
		v.GetString("YAMF_SERVICE_HOME"),
		echo,
	)
	if err != nil {
		logger.Errorf("failed to start echo service: %v", err)
		os.Exit(1)
	}
	logger.Infof("echo service registered at %s", svc.Location())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	logger.Info("shutdown signal received")
	if err := svc.Terminate(context.Background()); err != nil {
		logger.Errorf("error during shutdown: %v", err)
		os.Exit(1)
	}
}

// echo returns the request payload unchanged, demonstrating the minimal
// shape of a service.Handler.
func echo(_ context.Context, _ *service.Context, payload service.Payload, _ http.ResponseWriter, _ *http.Request) (any, error) {
	if !payload.IsEmpty() && len(payload.JSON) > 0 {
		return json.RawMessage(payload.JSON), nil
	}
	return payload.Bytes, nil
}
