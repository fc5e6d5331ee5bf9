package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cocotb/cocotb-sub002/internal/store"
)

// NewTraceCommand creates the trace command, which dumps the event trace
// of one persisted run.
func NewTraceCommand(root *RootOptions) *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "trace <run-token>",
		Short: "Dump the event trace of a persisted run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(dbPath)
			if err != nil {
				return fmt.Errorf("opening results db: %w", err)
			}
			defer st.Close()

			events, err := st.ReadTrace(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(events) == 0 {
				return fmt.Errorf("no trace for run %s", args[0])
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tTIME\tKIND\tTASK\tTRIGGER\tSIGNAL\tVALUE\tACTION\tSTATUS")
			for _, ev := range events {
				fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					ev.Seq, ev.Time, ev.Kind, ev.Task, ev.Trigger,
					ev.Signal, ev.Value, ev.Action, ev.Status)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "cosim.db", "results database path")

	return cmd
}
