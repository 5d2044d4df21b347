// Package vision binds the pretrained face detector and embedder to OpenCV's
// DNN module through gocv.
package vision

import (
	"errors"
	"fmt"
	"os"

	"github.com/andresmejia3/facevec/internal/config"
	"gocv.io/x/gocv"
)

// ErrEmptyNet is returned when OpenCV could not build a network from an artifact.
var ErrEmptyNet = errors.New("network is empty")

// LoadModels reads the detector and embedder described by cfg.
// Both networks live for the lifetime of the returned adapters; callers must Close them.
func LoadModels(cfg config.ModelsConfig) (*Detector, *Embedder, error) {
	prototxt, weights := cfg.DetectorPaths()
	detector, err := NewDetector(prototxt, weights, cfg.Backend, cfg.Target)
	if err != nil {
		return nil, nil, fmt.Errorf("load face detector: %w", err)
	}

	embedder, err := NewEmbedder(cfg.Embedder, cfg.Backend, cfg.Target)
	if err != nil {
		detector.Close()
		return nil, nil, fmt.Errorf("load face embedder: %w", err)
	}
	return detector, embedder, nil
}

// checkArtifacts fails fast with a readable error before OpenCV gets a chance to
// print its own exception for a missing file.
func checkArtifacts(paths ...string) error {
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("model artifact: %w", err)
		}
		if info.IsDir() {
			return fmt.Errorf("model artifact %s is a directory", p)
		}
	}
	return nil
}

// prepareNet validates a freshly read network and applies backend/target preferences.
func prepareNet(net gocv.Net, backend, target string) (gocv.Net, error) {
	if net.Empty() {
		net.Close()
		return net, ErrEmptyNet
	}
	net.SetPreferableBackend(gocv.ParseNetBackend(backend))
	net.SetPreferableTarget(gocv.ParseNetTarget(target))
	return net, nil
}
