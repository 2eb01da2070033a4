package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cherryfeed/cherry/internal/rest"
	"github.com/cherryfeed/cherry/internal/setup"
	"github.com/cherryfeed/cherry/internal/setup/config"
	"github.com/cherryfeed/cherry/internal/setup/telemetry"
	"go.uber.org/zap"
)

// RESTLogDir specifies where REST server log files are stored.
const RESTLogDir = "logs/rest_logs"

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 30 * time.Second

func main() {
	// Initialize application with required dependencies
	app, err := setup.InitializeApp(context.Background(), telemetry.ServiceAPI, RESTLogDir, "")
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer app.Cleanup()

	handler := rest.NewServer(rest.Dependencies{
		Digests:    app.Digests,
		Watchlists: app.Watchlists,
		Jobs:       app.Queue,
		Health:     app,
	}, &app.Config.API, app.Logger)

	addr := fmt.Sprintf("%s:%d", app.Config.API.Host, app.Config.API.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  config.Millis(app.Config.API.ReadTimeout),
		WriteTimeout: config.Millis(app.Config.API.WriteTimeout),
	}

	// Start server in a goroutine
	go func() {
		app.Logger.Info("REST server started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Error("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	app.Logger.Info("Shutting down REST server...")

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		app.Logger.Error("Server forced to shutdown", zap.Error(err))
	}

	app.Logger.Info("Server gracefully stopped")
}
