package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/config"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/handlers"
	"github.com/XavierBriggs/fortuna/services/alert-engine/internal/logger"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var autostart bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the alert scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), autostart)
		},
	}
	cmd.Flags().BoolVar(&autostart, "autostart", true, "start the scheduler on boot")
	return cmd
}

func serve(ctx context.Context, autostart bool) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	logger.Init(cfg.LogLevel)
	log := logger.WithComponent("main")
	log.Info().Msg("=== Fortuna Alert Engine ===")

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		a.hub.Run(runCtx)
	}()

	if autostart {
		if err := a.scheduler.Start(ctx); err != nil {
			log.Error().Err(err).Msg("scheduler failed to start - use POST /api/v1/alert-engine/start to retry")
		}
	}

	router := handlers.NewRouter(a.handler, handlers.RouterOptions{
		CORSOrigins: cfg.Server.CORSOrigins,
		WebSocket:   a.hub.ServeWS(runCtx),
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 65 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.Server.Addr).
			Dur("evaluation_interval", cfg.Evaluation.Interval).
			Int("max_concurrent_evaluations", cfg.Evaluation.MaxConcurrent).
			Msg("alert engine listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
	case err := <-serverErrors:
		runErr = fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown")
	}
	if err := a.scheduler.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("scheduler shutdown")
	}

	cancel()
	<-hubDone

	log.Info().Msg("shutdown complete")
	return runErr
}
