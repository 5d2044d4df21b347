package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/facevec/internal/config"
	"github.com/andresmejia3/facevec/internal/dataset"
	"github.com/andresmejia3/facevec/internal/extractor"
	"github.com/andresmejia3/facevec/internal/logger"
	"github.com/andresmejia3/facevec/internal/metrics"
	"github.com/andresmejia3/facevec/internal/output"
	"github.com/andresmejia3/facevec/internal/store"
	"github.com/andresmejia3/facevec/internal/types"
	"github.com/andresmejia3/facevec/internal/utils"
	"github.com/andresmejia3/facevec/internal/vision"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ExtractOptions holds the extract command flags. Flags left unset keep the
// config file value.
type ExtractOptions struct {
	Dataset     string
	Embeddings  string
	Format      string
	Detector    string
	Embedder    string
	Confidence  float64
	ImageWidth  int
	MinFaceSize int
	Store       bool
	MetricsFile string
	NoProgress  bool
}

var extractOpts ExtractOptions

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract one face embedding per image of a labeled dataset",
	Long: `Walks the dataset (one sub-directory per person), detects the most confident
face in every image, and writes the 128-d embeddings with their labels to a
single artifact. Images without a usable face are skipped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if err := applyExtractFlags(&cfg, extractOpts, cmd.Flags().Changed); err != nil {
			return err
		}
		return runExtract(cmd.Context(), cfg, extractOpts)
	},
}

func init() {
	extractCmd.Flags().StringVarP(&extractOpts.Dataset, "dataset", "i", "", "Path to the input directory of faces + images")
	extractCmd.Flags().StringVarP(&extractOpts.Embeddings, "embeddings", "e", "", "Path to the output serialized db of facial embeddings")
	extractCmd.Flags().StringVar(&extractOpts.Format, "format", "", "Output format: msgpack, json (default: from file extension)")
	extractCmd.Flags().StringVarP(&extractOpts.Detector, "detector", "d", "", "Path to the directory holding the face detector model")
	extractCmd.Flags().StringVarP(&extractOpts.Embedder, "embedding-model", "m", "", "Path to the face embedding model")
	extractCmd.Flags().Float64VarP(&extractOpts.Confidence, "confidence", "c", 0.5, "Minimum probability to accept a detection")
	extractCmd.Flags().IntVar(&extractOpts.ImageWidth, "width", 600, "Width images are resized to before detection")
	extractCmd.Flags().IntVar(&extractOpts.MinFaceSize, "min-face", 20, "Minimum face width and height in pixels")
	extractCmd.Flags().BoolVar(&extractOpts.Store, "store", false, "Also save the run to PostgreSQL")
	extractCmd.Flags().StringVar(&extractOpts.MetricsFile, "metrics-file", "", "Write Prometheus metrics in text format to this file after the run")
	extractCmd.Flags().BoolVar(&extractOpts.NoProgress, "no-progress", false, "Disable the progress bar")
	rootCmd.AddCommand(extractCmd)
}

// applyExtractFlags overrides c with every flag the user explicitly set and
// validates the result.
func applyExtractFlags(c *config.Config, opts ExtractOptions, changed func(name string) bool) error {
	if changed("dataset") {
		c.Dataset = opts.Dataset
	}
	if changed("embeddings") {
		c.Output.Path = opts.Embeddings
	}
	if changed("format") {
		c.Output.Format = opts.Format
	}
	if changed("detector") {
		c.Models.DetectorDir = opts.Detector
	}
	if changed("embedding-model") {
		c.Models.Embedder = opts.Embedder
	}
	if changed("confidence") {
		c.Extraction.Confidence = opts.Confidence
	}
	if changed("width") {
		c.Extraction.ImageWidth = opts.ImageWidth
	}
	if changed("min-face") {
		c.Extraction.MinFaceSize = opts.MinFaceSize
	}
	if changed("metrics-file") {
		c.Metrics.File = opts.MetricsFile
	}

	if c.Dataset == "" {
		return fmt.Errorf("dataset path must not be empty")
	}
	if c.Output.Path == "" {
		return fmt.Errorf("embeddings path must not be empty")
	}
	return c.Validate()
}

func runExtract(ctx context.Context, c config.Config, opts ExtractOptions) error {
	log := logger.FromContext(ctx)

	format, err := output.FormatFor(c.Output.Path, c.Output.Format)
	if err != nil {
		return err
	}

	log.Info("loading face detector and embedder",
		zap.String("detector", c.Models.DetectorDir),
		zap.String("embedder", c.Models.Embedder),
	)
	detector, embedder, err := vision.LoadModels(c.Models)
	if err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}
	defer detector.Close()
	defer embedder.Close()

	var progress io.Writer
	if !opts.NoProgress {
		progress = os.Stderr
	}
	ex := extractor.New(
		vision.NewImageLoader(c.Extraction.ImageWidth),
		detector,
		embedder,
		extractor.Options{
			Confidence:  c.Extraction.Confidence,
			MinFaceSize: c.Extraction.MinFaceSize,
			Progress:    progress,
		},
		log,
	)

	ds, summary, err := ex.Run(ctx, c.Dataset, c.Output.Path, format)
	if err != nil {
		return err
	}
	printSummary(os.Stderr, summary, ds)

	if opts.Store {
		if err := storeRun(ctx, c.Dataset, summary, ds); err != nil {
			return err
		}
	}

	if c.Metrics.File != "" {
		if err := metrics.WriteTextfile(c.Metrics.File); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
		log.Info("metrics written", zap.String("file", c.Metrics.File))
	}
	return nil
}

// storeRun saves the run to PostgreSQL, keyed by a fingerprint of the dataset.
func storeRun(ctx context.Context, root string, summary extractor.Summary, ds *types.Dataset) error {
	log := logger.FromContext(ctx)

	records, err := dataset.List(root, log)
	if err != nil {
		return err
	}
	datasetID, err := utils.DatasetID(records)
	if err != nil {
		return fmt.Errorf("failed to fingerprint dataset: %w", err)
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	// The main context might be cancelled already, we still need to close.
	defer st.Close(context.Background())

	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	runID, err := st.SaveRun(ctx, store.Run{
		DatasetID:   datasetID,
		DatasetPath: abs,
		Discovered:  summary.Discovered,
		Embedded:    summary.Embedded,
	}, ds)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	log.Info("run stored",
		zap.String("run_id", runID.String()),
		zap.String("dataset_id", datasetID),
		zap.Int("embeddings", ds.Len()),
	)
	return nil
}

func printSummary(w io.Writer, s extractor.Summary, ds *types.Dataset) {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "\nOUTCOME\tIMAGES")
	fmt.Fprintln(tw, "-------\t------")
	fmt.Fprintf(tw, "discovered\t%d\n", s.Discovered)
	fmt.Fprintf(tw, "embedded\t%d\n", s.Embedded)

	reasons := make([]string, 0, len(s.Skipped))
	for r := range s.Skipped {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Fprintf(tw, "skipped (%s)\t%d\n", r, s.Skipped[r])
	}
	fmt.Fprintf(tw, "labels\t%d\n", len(ds.LabelCounts()))
	fmt.Fprintf(tw, "duration\t%s\n", s.Duration.Round(time.Millisecond))
	tw.Flush()
}
