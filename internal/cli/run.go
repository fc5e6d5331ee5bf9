package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cocotb/cocotb-sub002/internal/regress"
	"github.com/cocotb/cocotb-sub002/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	root *RootOptions

	DB string
}

// NewRunCommand creates the run command, which executes a scenario file.
func NewRunCommand(root *RootOptions) *cobra.Command {
	opts := &RunOptions{root: root}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a regression scenario",
		Long: `Run every test named in a scenario file, each on a fresh bench and
scheduler. Exits non-zero if any test does not pass.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "results database path (optional)")

	return cmd
}

func runScenario(cmd *cobra.Command, opts *RunOptions, path string) error {
	sc, err := regress.LoadScenario(path)
	if err != nil {
		return err
	}

	runnerOpts := []regress.RunnerOption{}
	if opts.DB != "" {
		st, err := store.Open(opts.DB)
		if err != nil {
			return fmt.Errorf("opening results db: %w", err)
		}
		defer st.Close()
		runnerOpts = append(runnerOpts, regress.WithStore(st))
	}

	runner := regress.NewRunner(regress.BuiltinRegistry(), runnerOpts...)
	results, err := runner.RunScenario(cmd.Context(), sc)
	if err != nil {
		return err
	}

	failed := 0
	for _, res := range results {
		line := fmt.Sprintf("%-8s %s", res.Status, res.Test)
		if res.Err != nil {
			line += fmt.Sprintf(" (%v)", res.Err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
		if res.Status != "pass" {
			failed++
		}
	}

	slog.Info("scenario complete",
		"scenario", sc.Name,
		"tests", len(results),
		"failed", failed)

	if failed > 0 {
		return fmt.Errorf("%d of %d tests did not pass", failed, len(results))
	}
	return nil
}
