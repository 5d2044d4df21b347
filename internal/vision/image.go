package vision

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// ErrUndecodable is returned when a file cannot be decoded as an image.
var ErrUndecodable = errors.New("image could not be decoded")

// ImageLoader decodes images from disk and rescales them to a fixed width.
type ImageLoader struct {
	Width int
}

// NewImageLoader returns a loader that rescales to width, preserving aspect ratio.
func NewImageLoader(width int) ImageLoader {
	return ImageLoader{Width: width}
}

// Load decodes the image at path as 3-channel BGR and rescales it to l.Width.
// The returned Mat must be closed by the caller. On error no Mat is returned.
func (l ImageLoader) Load(path string) (gocv.Mat, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return gocv.Mat{}, fmt.Errorf("%s: %w", path, ErrUndecodable)
	}

	if l.Width <= 0 || img.Cols() == l.Width {
		return img, nil
	}

	resized := gocv.NewMat()
	gocv.Resize(img, &resized, ResizedSize(img.Cols(), img.Rows(), l.Width), 0, 0, gocv.InterpolationArea)
	img.Close()
	return resized, nil
}

// ResizedSize returns the dimensions of a w x h image rescaled to width,
// keeping the aspect ratio. The height is truncated and never drops below 1.
func ResizedSize(w, h, width int) image.Point {
	r := float64(width) / float64(w)
	height := int(float64(h) * r)
	if height < 1 {
		height = 1
	}
	return image.Pt(width, height)
}
