package vision

import (
	"fmt"
	"image"

	"github.com/andresmejia3/facevec/internal/types"
	"gocv.io/x/gocv"
)

const embedderInputSize = 96

var embedderMean = gocv.NewScalar(0, 0, 0, 0)

// Embedder wraps the OpenFace Torch model producing 128-d face embeddings.
type Embedder struct {
	net gocv.Net
}

// NewEmbedder reads the serialized Torch model at path.
func NewEmbedder(path, backend, target string) (*Embedder, error) {
	if err := checkArtifacts(path); err != nil {
		return nil, err
	}
	net, err := prepareNet(gocv.ReadNetFromTorch(path), backend, target)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Embedder{net: net}, nil
}

// Close releases the network.
func (e *Embedder) Close() {
	e.net.Close()
}

// Embed computes the embedding of an already cropped face.
func (e *Embedder) Embed(face gocv.Mat) (types.Embedding, error) {
	blob := embedderBlob(face)
	defer blob.Close()

	e.net.SetInput(blob, "")
	out := e.net.Forward("")
	defer out.Close()

	data, err := out.DataPtrFloat32()
	if err != nil {
		return types.Embedding{}, fmt.Errorf("read embedding: %w", err)
	}
	return toEmbedding(data)
}

// embedderBlob resizes face to 96x96, scales pixels to [0,1] and swaps to RGB.
func embedderBlob(face gocv.Mat) gocv.Mat {
	return gocv.BlobFromImage(face, 1.0/255, image.Pt(embedderInputSize, embedderInputSize), embedderMean, true, false)
}

func toEmbedding(data []float32) (types.Embedding, error) {
	var vec types.Embedding
	if len(data) != types.EmbeddingDim {
		return vec, fmt.Errorf("embedder produced %d values, expected %d", len(data), types.EmbeddingDim)
	}
	copy(vec[:], data)
	return vec, nil
}
