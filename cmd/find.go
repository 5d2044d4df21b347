package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/andresmejia3/facevec/internal/extractor"
	"github.com/andresmejia3/facevec/internal/logger"
	"github.com/andresmejia3/facevec/internal/output"
	"github.com/andresmejia3/facevec/internal/store"
	"github.com/andresmejia3/facevec/internal/types"
	"github.com/andresmejia3/facevec/internal/utils"
	"github.com/andresmejia3/facevec/internal/vision"
	"github.com/spf13/cobra"
)

// FindOptions holds the find command flags.
type FindOptions struct {
	Artifact string
	Store    bool
	Top      int
}

var findOpts FindOptions

var findCmd = &cobra.Command{
	Use:   "find <image_path>",
	Short: "Search for the closest known faces to the face in an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if findOpts.Top <= 0 {
			return fmt.Errorf("--top must be positive, got %d", findOpts.Top)
		}
		return runFind(cmd.Context(), args[0], findOpts)
	},
}

func init() {
	findCmd.Flags().StringVarP(&findOpts.Artifact, "embeddings", "e", "", "Embeddings artifact to search (default: configured output path)")
	findCmd.Flags().BoolVar(&findOpts.Store, "store", false, "Search the PostgreSQL store instead of an artifact")
	findCmd.Flags().IntVarP(&findOpts.Top, "top", "k", 3, "Number of matches to show")
	rootCmd.AddCommand(findCmd)
}

func runFind(ctx context.Context, imagePath string, opts FindOptions) error {
	if _, err := os.Stat(imagePath); err != nil {
		return fmt.Errorf("input file does not exist: %w", err)
	}

	detector, embedder, err := vision.LoadModels(cfg.Models)
	if err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}
	defer detector.Close()
	defer embedder.Close()

	ex := extractor.New(
		vision.NewImageLoader(cfg.Extraction.ImageWidth),
		detector,
		embedder,
		extractor.Options{Confidence: cfg.Extraction.Confidence, MinFaceSize: cfg.Extraction.MinFaceSize},
		logger.FromContext(ctx),
	)

	fmt.Fprintln(os.Stderr, "🔍 Analyzing face...")
	res, err := ex.ProcessImage(imagePath)
	if err != nil {
		fmt.Printf("❌ No usable face in the provided image (%s).\n", extractor.SkipReason(err))
		return nil
	}

	var matches []store.Match
	if opts.Store {
		fmt.Fprintln(os.Stderr, "🗄️  Searching database...")
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close(context.Background())
		if matches, err = st.Nearest(ctx, res.Embedding[:], opts.Top); err != nil {
			return fmt.Errorf("database search failed: %w", err)
		}
	} else {
		path := opts.Artifact
		if path == "" {
			path = cfg.Output.Path
		}
		ds, err := output.Read(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		matches = rankMatches(ds, res.Embedding[:], opts.Top)
	}

	printMatches(os.Stdout, matches)
	return nil
}

// rankMatches returns the k entries of ds closest to vec by cosine distance.
func rankMatches(ds *types.Dataset, vec []float32, k int) []store.Match {
	matches := make([]store.Match, 0, ds.Len())
	for i, emb := range ds.Embeddings {
		m := store.Match{Label: ds.Names[i], Distance: utils.CosineDist(vec, emb)}
		if i < len(ds.Paths) {
			m.ImagePath = ds.Paths[i]
		}
		matches = append(matches, m)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

func printMatches(out io.Writer, matches []store.Match) {
	if len(matches) == 0 {
		fmt.Fprintln(out, "❌ No known faces to compare against.")
		return
	}
	fmt.Fprintf(out, "✅ Closest match: %s\n", matches[0].Label)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "\nLABEL\tDISTANCE\tIMAGE")
	fmt.Fprintln(w, "-----\t--------\t-----")
	for _, m := range matches {
		img := m.ImagePath
		if img == "" {
			img = "-"
		}
		fmt.Fprintf(w, "%s\t%.4f\t%s\n", m.Label, m.Distance, img)
	}
	w.Flush()
}
