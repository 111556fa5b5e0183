package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/geyser-sim/internal/config"
	"github.com/sweeney/geyser-sim/internal/telemetry"
)

type storeOpener func(ctx context.Context, connString, table string) (telemetry.Store, func() error, error)

func openTimescale(ctx context.Context, connString, table string) (telemetry.Store, func() error, error) {
	store, err := telemetry.Open(ctx, connString, table)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func newQueryCmd() *cobra.Command {
	var (
		settingsPath string
		uid          string
		from, to     string
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Print stored telemetry of one tenant as JSON lines.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := config.Load(settingsPath)
			if err != nil {
				return err
			}

			start, err := parseBound(from, time.Time{})
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			stop, err := parseBound(to, time.Now())
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}

			return runQuery(cmd.Context(), settings.Timescale, uid, start, stop, cmd.OutOrStdout(), openTimescale)
		},
	}

	cmd.Flags().StringVarP(&settingsPath, "config", "c", config.DefaultSettingsFilename, "path to settings file")
	cmd.Flags().StringVar(&uid, "uid", "", "tenant uid")
	cmd.Flags().StringVar(&from, "from", "", "start of the range, RFC 3339 (default: the beginning)")
	cmd.Flags().StringVar(&to, "to", "", "end of the range, RFC 3339 (default: now)")
	_ = cmd.MarkFlagRequired("uid")

	return cmd
}

func parseBound(s string, fallback time.Time) (time.Time, error) {
	if s == "" {
		return fallback, nil
	}
	t, err := config.ParseTime(s)
	if err != nil {
		return time.Time{}, err
	}
	return t.Time, nil
}

func runQuery(ctx context.Context, cfg config.TimescaleConfig, uid string, from, to time.Time, out io.Writer, open storeOpener) error {
	if cfg.ConnString == "" {
		return errors.New("timescale.conn_string is not configured")
	}

	store, closeStore, err := open(ctx, cfg.ConnString, cfg.Table)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	samples, err := store.Query(ctx, uid, from, to)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	for _, s := range samples {
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}
	}

	return nil
}
