// Command geyser-sim manages geyser simulation sessions over MQTT and compiles
// simulation input profiles.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sweeney/geyser-sim/internal/logger"
	"github.com/sweeney/geyser-sim/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:           "geyser-sim",
		Short:         "Geyser simulation manager.",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SetContext(logger.ToContext(cmd.Context(), logger.Logger().Named(cmd.Name())))

			if !cmd.Flags().Changed("log-level") {
				return nil
			}
			return applyLogLevel(logLevel)
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(newServeCmd(), newCompileCmd(), newQueryCmd(), version.Command())

	return root
}

func applyLogLevel(s string) error {
	level, ok := logger.ParseLogLevel(s)
	if !ok {
		return fmt.Errorf("unknown log level %q", s)
	}
	logger.SetLevel(level)
	return nil
}
