package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sweeney/geyser-sim/internal/config"
	"github.com/sweeney/geyser-sim/internal/simrunner"
)

const profileFilePermissions = 0o644

func newCompileCmd() *cobra.Command {
	var (
		simPath string
		outPath string
		runExe  string
	)

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile a simulation document into input profiles.",
		Long: `Builds the time grid and input profiles described by a simulation document,
or reads them from its CSV source, and writes them as JSON. With --run the
external simulator is started on the written file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var runner simrunner.Runner
			if runExe != "" {
				runner = simrunner.ExecRunner{Executable: runExe}
			}
			return runCompile(cmd.Context(), simPath, outPath, runner, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&simPath, "config", "c", "", "simulation document (JSON, or YAML by extension)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "profiles.json", "output profile document")
	cmd.Flags().StringVar(&runExe, "run", "", "simulator executable to run on the output")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runCompile(ctx context.Context, simPath, outPath string, runner simrunner.Runner, out io.Writer) error {
	sim, err := config.LoadSimulation(simPath)
	if err != nil {
		return err
	}

	profiles, err := sim.Profiles()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(profiles, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profiles: %w", err)
	}
	if err = os.WriteFile(outPath, data, profileFilePermissions); err != nil {
		return fmt.Errorf("write profiles: %w", err)
	}
	_, _ = fmt.Fprintf(out, "wrote %d samples to %s\n", profiles.Len(), outPath)

	if runner == nil {
		return nil
	}

	code, err := runner.Run(ctx, outPath)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("simulator exited with status %d", code)
	}
	_, _ = fmt.Fprintln(out, "simulation finished")

	return nil
}
