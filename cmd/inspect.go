package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/andresmejia3/facevec/internal/output"
	"github.com/andresmejia3/facevec/internal/types"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [embeddings_file]",
	Short: "Summarize a serialized embeddings artifact",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		path := cfg.Output.Path
		if len(args) == 1 {
			path = args[0]
		}
		ds, err := output.Read(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		return printInspect(os.Stdout, path, ds)
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func printInspect(w io.Writer, path string, ds *types.Dataset) error {
	dims := make(map[int]int)
	for _, vec := range ds.Embeddings {
		dims[len(vec)]++
	}
	if len(dims) > 1 {
		return fmt.Errorf("%s mixes embedding dimensions: %v", path, dims)
	}
	dim := 0
	for d := range dims {
		dim = d
	}

	fmt.Fprintf(w, "%s: %d embeddings, %d-d\n", path, ds.Len(), dim)
	if ds.Len() == 0 {
		return nil
	}

	counts := ds.LabelCounts()
	labels := make([]string, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tEMBEDDINGS")
	fmt.Fprintln(tw, "-----\t----------")
	for _, l := range labels {
		fmt.Fprintf(tw, "%s\t%d\n", l, counts[l])
	}
	return tw.Flush()
}
