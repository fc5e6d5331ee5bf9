package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cocotb/cocotb-sub002/internal/store"
)

// NewListCommand creates the list command, which prints persisted results.
func NewListCommand(root *RootOptions) *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted test results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(dbPath)
			if err != nil {
				return fmt.Errorf("opening results db: %w", err)
			}
			defer st.Close()

			results, err := st.ListResults(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tSCENARIO\tTEST\tSTATUS\tSIM TIME")
			for _, r := range results {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
					r.RunToken, r.Scenario, r.Test, r.Status, r.SimTime)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "cosim.db", "results database path")

	return cmd
}
