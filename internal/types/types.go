package types

import "image"

// EmbeddingDim is the length of a face embedding produced by the embedder model.
const EmbeddingDim = 128

// Embedding is a 128-d quantification of a single face.
type Embedding [EmbeddingDim]float32

// ImageRecord is one dataset entry: an image path and the label taken from its parent directory.
type ImageRecord struct {
	Path  string
	Label string
}

// Detection is a candidate face with its box in image pixel coordinates.
type Detection struct {
	Box        image.Rectangle
	Confidence float32
}

// Best returns the candidate with the highest confidence.
// The second return value is false when there are no candidates.
func Best(dets []Detection) (Detection, bool) {
	if len(dets) == 0 {
		return Detection{}, false
	}
	best := dets[0]
	for _, d := range dets[1:] {
		if d.Confidence > best.Confidence {
			best = d
		}
	}
	return best, true
}

// Result is the outcome of a successfully processed image.
type Result struct {
	Path      string
	Label     string
	Embedding Embedding
}

// Dataset is the serialized output: index-aligned embeddings and names.
// Paths is kept alongside for persistence sinks and is never serialized.
type Dataset struct {
	Embeddings [][]float32 `json:"embeddings" msgpack:"embeddings"`
	Names      []string    `json:"names" msgpack:"names"`
	Paths      []string    `json:"-" msgpack:"-"`
}

// Add appends the flattened embedding, label and source path of r.
func (d *Dataset) Add(r Result) {
	flat := make([]float32, EmbeddingDim)
	copy(flat, r.Embedding[:])
	d.Embeddings = append(d.Embeddings, flat)
	d.Names = append(d.Names, r.Label)
	d.Paths = append(d.Paths, r.Path)
}

// Len returns the number of stored pairs.
func (d *Dataset) Len() int {
	return len(d.Names)
}

// LabelCounts returns how many embeddings each label contributed.
func (d *Dataset) LabelCounts() map[string]int {
	counts := make(map[string]int)
	for _, n := range d.Names {
		counts[n]++
	}
	return counts
}
