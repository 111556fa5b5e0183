package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/sweeney/geyser-sim/internal/config"
	"github.com/sweeney/geyser-sim/internal/logger"
	"github.com/sweeney/geyser-sim/internal/metrics"
	"github.com/sweeney/geyser-sim/internal/mqtt"
	"github.com/sweeney/geyser-sim/internal/session"
	"github.com/sweeney/geyser-sim/internal/status"
	"github.com/sweeney/geyser-sim/internal/telemetry"
	"github.com/sweeney/geyser-sim/internal/tenant"
	"github.com/sweeney/geyser-sim/internal/web"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	var settingsPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the simulation manager.",
		Long: `Connects to the master broker, restores the persisted tenants and runs one
session per tenant until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := config.Load(settingsPath)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("log-level") && settings.LogLevel != "" {
				if err := applyLogLevel(settings.LogLevel); err != nil {
					return err
				}
			}

			return runServe(cmd.Context(), settings, mqtt.DialPaho)
		},
	}

	cmd.Flags().StringVarP(&settingsPath, "config", "c", config.DefaultSettingsFilename, "path to settings file")

	return cmd
}

// openStore returns the Timescale store, or the discard store when none is
// configured or it cannot be reached.
func openStore(ctx context.Context, cfg config.TimescaleConfig) (telemetry.Store, func()) {
	if cfg.ConnString == "" {
		return telemetry.Discard{}, func() {}
	}

	store, err := telemetry.Open(ctx, cfg.ConnString, cfg.Table)
	if err != nil {
		logger.ErrorKV(ctx, "telemetry store unavailable, samples will not be stored", "error", err)
		return telemetry.Discard{}, func() {}
	}

	return store, func() {
		if err := store.Close(); err != nil {
			logger.WarnKV(ctx, "closing telemetry store", "error", err)
		}
	}
}

func runServe(ctx context.Context, s *config.Settings, dial mqtt.Dialer) error {
	store, closeStore := openStore(ctx, s.Timescale)
	defer closeStore()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)

	tracker := status.NewTracker(time.Now(), status.Config{
		Broker:          s.Master.BrokerURL(),
		HTTPAddr:        s.HTTP.Addr,
		HeartbeatMs:     s.Heartbeat.Milliseconds(),
		TenantList:      s.TenantList,
		Store:           store.Name(),
		DuplicatePolicy: string(s.DuplicateAdd),
	})

	registry := session.NewRegistry(session.Options{
		Master:          s.Master,
		Dial:            dial,
		Tenants:         tenant.NewFileRepository(s.TenantList),
		Store:           store,
		Topics:          s.Topics,
		Heartbeat:       s.Heartbeat,
		ConnectTimeout:  s.ConnectTimeout,
		DuplicatePolicy: s.DuplicateAdd,
		Metrics:         m,
		Tracker:         tracker,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpErr := make(chan error, 1)
	var srv *web.Server
	if s.HTTP.Enabled() {
		srv = web.New(s.HTTP.Addr, tracker, promReg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				httpErr <- fmt.Errorf("http server: %w", err)
			}
		}()
		logger.InfoKV(ctx, "http status server listening", "addr", s.HTTP.Addr)
	}

	regErr := make(chan error, 1)
	go func() { regErr <- registry.Run(ctx) }()

	logger.InfoKV(ctx, "started", "master", s.Master.BrokerURL(), "heartbeat", s.Heartbeat, "store", store.Name())

	var err error
	select {
	case err = <-regErr:
	case err = <-httpErr:
		cancel()
		<-regErr
	}

	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer done()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			logger.WarnKV(ctx, "http shutdown", "error", serr)
		}
	}

	if err != nil {
		logger.ErrorKV(ctx, "stopped", "error", err)
		return err
	}
	logger.Info(ctx, "stopped")
	return nil
}
