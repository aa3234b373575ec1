package httpapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

type App struct {
	logger     *slog.Logger
	httpServer *http.Server
	address    string
}

func New(
	logger *slog.Logger,
	handler http.Handler,
	address string,
	timeout time.Duration,
	idleTimeout time.Duration,
) *App {
	httpServer := &http.Server{
		Addr:         address,
		Handler:      handler,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		IdleTimeout:  idleTimeout,
	}

	return &App{
		logger:     logger,
		httpServer: httpServer,
		address:    address,
	}
}

func (a *App) MustRun() {
	if err := a.Run(); err != nil {
		panic(err)
	}
}

func (a *App) Run() error {
	const op = "httpapp.Run"

	log := a.logger.With(
		slog.String("op", op),
		slog.String("address", a.address),
	)

	log.Info("HTTP server is running")

	err := a.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (a *App) Stop(ctx context.Context) {
	const op = "httpapp.Stop"
	log := a.logger.With(slog.String("op", op))
	log.Info("stopping HTTP server", slog.String("address", a.address))

	if err := a.httpServer.Shutdown(ctx); err != nil {
		log.Error("failed to shut down HTTP server gracefully")
	}
}
