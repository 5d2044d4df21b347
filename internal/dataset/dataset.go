// Package dataset discovers labeled images in a directory tree laid out as
// <root>/<label>/<image>.
package dataset

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/facevec/internal/types"
	"go.uber.org/zap"
)

// imageExts are the raster formats picked up during traversal.
var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// IsImage reports whether path has a supported image extension (case-insensitive).
func IsImage(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

// LabelOf returns the name of the immediate parent directory of path.
func LabelOf(path string) string {
	return filepath.Base(filepath.Dir(path))
}

// List walks root recursively and returns every image it finds, in walk order.
// Only an unreadable root is an error; entries below it that cannot be read are
// logged and left out. A nil logger disables logging.
func List(root string, log *zap.Logger) ([]types.ImageRecord, error) {
	if log == nil {
		log = zap.NewNop()
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("dataset root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("dataset root %s is not a directory", root)
	}

	var records []types.ImageRecord
	if err := filepath.WalkDir(root, walkImages(root, &records, log)); err != nil {
		return nil, fmt.Errorf("walk dataset %s: %w", root, err)
	}
	return records, nil
}

func walkImages(root string, records *[]types.ImageRecord, log *zap.Logger) fs.WalkDirFunc {
	return func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			log.Warn("skipping unreadable dataset entry", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !IsImage(path) {
			return nil
		}
		*records = append(*records, types.ImageRecord{Path: path, Label: LabelOf(path)})
		return nil
	}
}
