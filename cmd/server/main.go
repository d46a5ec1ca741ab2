// Command server runs the checkout engine demo: the HTTP API on one port
// and the sandbox provider gateway on another, wired together in-process.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/verdantpay/checkout-engine/internal/checkout"
	"github.com/verdantpay/checkout-engine/internal/config"
	"github.com/verdantpay/checkout-engine/internal/gateway"
	"github.com/verdantpay/checkout-engine/internal/handler"
	"github.com/verdantpay/checkout-engine/internal/model"
	"github.com/verdantpay/checkout-engine/internal/scope"
	"github.com/verdantpay/checkout-engine/internal/telemetry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	gw := gateway.NewSandbox()
	gw.SetBaseURL("http://localhost" + config.GatewayPort)

	tracker := telemetry.NewEndpointTracker()
	reporter := telemetry.Fanout{telemetry.NewSlogReporter(logger), tracker}

	registry := scope.NewRegistry(&http.Client{Timeout: 30 * time.Second}, reporter, model.IntentCheckout)
	engine := checkout.NewEngine(registry, reporter)

	h := handler.New(engine, gw, func() (string, error) {
		return gw.MintClientToken(time.Hour)
	}, tracker)
	router := mux.NewRouter()
	h.RegisterRoutes(router)

	apiServer := &http.Server{
		Addr:    config.ServerPort,
		Handler: cors.AllowAll().Handler(router),
	}
	gatewayServer := &http.Server{
		Addr:    config.GatewayPort,
		Handler: gw.Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("gateway_starting", "addr", config.GatewayPort, "gateway", gw.Name())
		if err := gatewayServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("gateway_server_failed", "error", err)
			stop()
		}
	}()
	go func() {
		slog.Info("server_starting", "addr", config.ServerPort)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("server_stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
	_ = gatewayServer.Shutdown(shutdownCtx)
}
