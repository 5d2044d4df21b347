package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/andresmejia3/facevec/internal/types"
)

// ShowError prints the formatted facevec error box to stderr.
func ShowError(context string, err error) {
	writeError(os.Stderr, context, err)
}

// Die is the unified exit strategy for facevec: it prints the error box and exits.
func Die(context string, err error) {
	ShowError(context, err)
	os.Exit(1)
}

func writeError(w io.Writer, context string, err error) {
	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "🚨 FACEVEC ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(w, "DETAILS: %v\n", err)
	}
	fmt.Fprintf(w, "---------------------------------------------------------\n")
}

// DatasetID creates a deterministic hash for a dataset based on the path, size
// and modification time of every discovered image. Any added, removed or
// modified image changes the ID.
func DatasetID(records []types.ImageRecord) (string, error) {
	paths := make([]string, len(records))
	for i, r := range records {
		paths[i] = r.Path
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(h, "%s-%d-%d\n", p, info.Size(), info.ModTime().UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CosineDist returns 1 - cos(a, b). Mismatched, empty or zero-norm vectors yield 1.0.
func CosineDist(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 1.0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1.0
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
