package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/facevec/internal/store"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored labels and extraction runs in the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runList(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(ctx context.Context) error {
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close(context.Background())

	labels, err := st.ListLabels(ctx)
	if err != nil {
		return fmt.Errorf("failed to list labels: %w", err)
	}
	runs, err := st.ListRuns(ctx)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	printList(os.Stdout, labels, runs)
	return nil
}

func printList(out io.Writer, labels []store.LabelCount, runs []store.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No extraction runs found in database.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "LABEL\tEMBEDDINGS")
	fmt.Fprintln(w, "-----\t----------")
	for _, l := range labels {
		fmt.Fprintf(w, "%s\t%d\n", l.Label, l.Count)
	}
	w.Flush()

	w = tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "\nRUN\tDATASET\tIMAGES\tEMBEDDED\tCREATED")
	fmt.Fprintln(w, "---\t-------\t------\t--------\t-------")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			r.ID.String()[:8], r.DatasetPath, r.Discovered, r.Embedded,
			r.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}
