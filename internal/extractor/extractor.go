// Package extractor orchestrates face embedding extraction over a labeled dataset:
// traverse, detect, crop, embed, aggregate, serialize.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/andresmejia3/facevec/internal/dataset"
	"github.com/andresmejia3/facevec/internal/metrics"
	"github.com/andresmejia3/facevec/internal/output"
	"github.com/andresmejia3/facevec/internal/types"
	"github.com/andresmejia3/facevec/internal/vision"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Per-image outcomes that mean "no usable face". None of them abort a batch.
var (
	ErrNoFace        = errors.New("no face detected")
	ErrLowConfidence = errors.New("best detection below confidence threshold")
	ErrFaceTooSmall  = errors.New("face region too small")
	ErrInference     = errors.New("model inference failed")
)

// Skip reasons, also used as the outcome label of facevec_images_total.
const (
	OutcomeEmbedded     = "embedded"
	ReasonUndecodable   = "undecodable"
	ReasonNoFace        = "no_face"
	ReasonLowConfidence = "low_confidence"
	ReasonFaceTooSmall  = "face_too_small"
	ReasonInference     = "inference"
	ReasonUnknown       = "unknown"
)

// ImageLoader decodes and rescales an image from disk.
type ImageLoader interface {
	Load(path string) (gocv.Mat, error)
}

// FaceDetector returns every face candidate in an image.
type FaceDetector interface {
	Detect(img gocv.Mat) ([]types.Detection, error)
}

// FaceEmbedder maps a cropped face to its embedding.
type FaceEmbedder interface {
	Embed(face gocv.Mat) (types.Embedding, error)
}

// Options holds the acceptance thresholds.
type Options struct {
	Confidence  float64 // a detection is accepted only if strictly above this
	MinFaceSize int     // minimum cropped width and height in pixels
	Progress    io.Writer
}

// Summary reports what a run did. Embedded always equals Discovered minus all skips.
type Summary struct {
	Discovered int
	Embedded   int
	Skipped    map[string]int
	Duration   time.Duration
}

// SkippedTotal returns the number of images skipped for any reason.
func (s Summary) SkippedTotal() int {
	total := 0
	for _, n := range s.Skipped {
		total += n
	}
	return total
}

// Extractor runs the single-threaded extraction pipeline.
type Extractor struct {
	loader   ImageLoader
	detector FaceDetector
	embedder FaceEmbedder
	opts     Options
	log      *zap.Logger
}

// New creates an Extractor. A nil logger disables logging.
func New(loader ImageLoader, detector FaceDetector, embedder FaceEmbedder, opts Options, log *zap.Logger) *Extractor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Extractor{
		loader:   loader,
		detector: detector,
		embedder: embedder,
		opts:     opts,
		log:      log,
	}
}

// SkipReason classifies a ProcessImage error.
func SkipReason(err error) string {
	switch {
	case errors.Is(err, vision.ErrUndecodable):
		return ReasonUndecodable
	case errors.Is(err, ErrNoFace):
		return ReasonNoFace
	case errors.Is(err, ErrLowConfidence):
		return ReasonLowConfidence
	case errors.Is(err, ErrFaceTooSmall):
		return ReasonFaceTooSmall
	case errors.Is(err, ErrInference):
		return ReasonInference
	default:
		return ReasonUnknown
	}
}

// ProcessImage extracts the embedding of the most confident face in the image at path.
// The label is the name of the image's parent directory. Any error means the image
// yields no result; SkipReason tells why.
func (e *Extractor) ProcessImage(path string) (types.Result, error) {
	label := dataset.LabelOf(path)

	img, err := e.loader.Load(path)
	if err != nil {
		return types.Result{}, err
	}
	defer img.Close()

	start := time.Now()
	dets, err := e.detector.Detect(img)
	metrics.ObserveInference("detect", start)
	if err != nil {
		return types.Result{}, fmt.Errorf("%w: detect: %w", ErrInference, err)
	}

	best, ok := types.Best(dets)
	if !ok {
		return types.Result{}, ErrNoFace
	}
	if float64(best.Confidence) <= e.opts.Confidence {
		return types.Result{}, fmt.Errorf("%w: %.3f <= %.3f", ErrLowConfidence, best.Confidence, e.opts.Confidence)
	}

	roi, err := faceRegion(image.Rect(0, 0, img.Cols(), img.Rows()), best.Box, e.opts.MinFaceSize)
	if err != nil {
		return types.Result{}, err
	}
	face := img.Region(roi)
	defer face.Close()

	start = time.Now()
	vec, err := e.embedder.Embed(face)
	metrics.ObserveInference("embed", start)
	if err != nil {
		return types.Result{}, fmt.Errorf("%w: embed: %w", ErrInference, err)
	}

	return types.Result{Path: path, Label: label, Embedding: vec}, nil
}

// faceRegion clips box to bounds and rejects crops narrower or shorter than minSize.
// Boxes reaching past the image edge are clipped, not wrapped around as raw
// array slicing with negative indices would do, so an edge face can still be kept.
func faceRegion(bounds, box image.Rectangle, minSize int) (image.Rectangle, error) {
	roi := box.Intersect(bounds)
	if roi.Dx() < minSize || roi.Dy() < minSize {
		return image.Rectangle{}, fmt.Errorf("%w: %dx%d < %dpx", ErrFaceTooSmall, roi.Dx(), roi.Dy(), minSize)
	}
	return roi, nil
}

// accumulate appends a processed image to the aggregator.
func accumulate(ds *types.Dataset, res types.Result) *types.Dataset {
	ds.Add(res)
	return ds
}

// ProcessFolders runs ProcessImage over every image under root, in discovery order.
// Images yielding no result are logged and skipped. The only aborting errors are an
// unreadable root and cancellation of ctx, checked between images.
func (e *Extractor) ProcessFolders(ctx context.Context, root string) (*types.Dataset, Summary, error) {
	started := time.Now()
	summary := Summary{Skipped: make(map[string]int)}

	e.log.Info("quantifying faces", zap.String("dataset", root))
	records, err := dataset.List(root, e.log)
	if err != nil {
		return nil, summary, err
	}
	summary.Discovered = len(records)

	ds := &types.Dataset{
		Embeddings: make([][]float32, 0, len(records)),
		Names:      make([]string, 0, len(records)),
		Paths:      make([]string, 0, len(records)),
	}

	bar := e.newProgressBar(len(records))

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, summary, fmt.Errorf("extraction interrupted after %d/%d images: %w", i, len(records), err)
		}

		e.log.Debug("processing image",
			zap.Int("index", i+1),
			zap.Int("total", len(records)),
			zap.String("path", rec.Path),
		)

		res, err := e.ProcessImage(rec.Path)
		if bar != nil {
			bar.Add(1)
		}
		if err != nil {
			reason := SkipReason(err)
			summary.Skipped[reason]++
			metrics.ImagesTotal.WithLabelValues(reason).Inc()
			e.log.Info("image processing failed, skipping",
				zap.String("path", rec.Path),
				zap.String("reason", reason),
				zap.Error(err),
			)
			continue
		}

		ds = accumulate(ds, res)
		summary.Embedded++
		metrics.ImagesTotal.WithLabelValues(OutcomeEmbedded).Inc()
	}

	if bar != nil {
		bar.Finish()
	}
	summary.Duration = time.Since(started)
	return ds, summary, nil
}

// Run processes root and serializes the result to outPath. Nothing is written if
// processing is interrupted; a failed write fails the whole run.
func (e *Extractor) Run(ctx context.Context, root, outPath string, format output.Format) (*types.Dataset, Summary, error) {
	ds, summary, err := e.ProcessFolders(ctx, root)
	if err != nil {
		return nil, summary, err
	}

	e.log.Info("serializing encodings",
		zap.Int("count", ds.Len()),
		zap.String("output", outPath),
		zap.String("format", string(format)),
	)
	if err := output.Write(outPath, format, ds); err != nil {
		return nil, summary, fmt.Errorf("write embeddings: %w", err)
	}
	metrics.RecordRun(ds.Len(), time.Now())
	return ds, summary, nil
}

func (e *Extractor) newProgressBar(total int) *progressbar.ProgressBar {
	if e.opts.Progress == nil {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("🔍 Extracting embeddings"),
		progressbar.OptionSetWriter(e.opts.Progress),
		progressbar.OptionShowCount(),
	)
}
