package vision

import (
	"fmt"
	"image"

	"github.com/andresmejia3/facevec/internal/types"
	"gocv.io/x/gocv"
)

const (
	detectorInputSize = 300
	// Each SSD output row is [batchId, classId, confidence, left, top, right, bottom].
	detectionStride = 7
)

// Channel means the res10 SSD detector was trained with (BGR order).
var detectorMean = gocv.NewScalar(104.0, 177.0, 123.0, 0)

// Detector wraps the Caffe SSD face detector.
type Detector struct {
	net gocv.Net
}

// NewDetector reads the detector topology and weights.
func NewDetector(prototxt, weights, backend, target string) (*Detector, error) {
	if err := checkArtifacts(prototxt, weights); err != nil {
		return nil, err
	}
	net, err := prepareNet(gocv.ReadNetFromCaffe(prototxt, weights), backend, target)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", weights, err)
	}
	return &Detector{net: net}, nil
}

// Close releases the network.
func (d *Detector) Close() {
	d.net.Close()
}

// Detect runs the detector over img and returns every candidate, with boxes
// scaled to img's pixel dimensions.
func (d *Detector) Detect(img gocv.Mat) ([]types.Detection, error) {
	blob := detectorBlob(img)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read detections: %w", err)
	}
	return parseDetections(data, img.Cols(), img.Rows()), nil
}

// detectorBlob resizes img to 300x300 and subtracts the BGR training means,
// keeping OpenCV's BGR channel order.
func detectorBlob(img gocv.Mat) gocv.Mat {
	return gocv.BlobFromImage(img, 1.0, image.Pt(detectorInputSize, detectorInputSize), detectorMean, false, false)
}

// parseDetections converts the flattened [1,1,N,7] output into detections.
// Normalized coordinates are scaled by w/h and truncated toward zero.
func parseDetections(data []float32, w, h int) []types.Detection {
	n := len(data) / detectionStride
	dets := make([]types.Detection, 0, n)
	for i := 0; i < n; i++ {
		row := data[i*detectionStride : (i+1)*detectionStride]
		dets = append(dets, types.Detection{
			Confidence: row[2],
			Box: image.Rectangle{
				Min: image.Pt(int(float64(row[3])*float64(w)), int(float64(row[4])*float64(h))),
				Max: image.Pt(int(float64(row[5])*float64(w)), int(float64(row[6])*float64(h))),
			},
		})
	}
	return dets
}
