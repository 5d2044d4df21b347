// Package output serializes the extracted dataset to a single artifact.
package output

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/facevec/internal/types"
	"github.com/vmihailenco/msgpack/v5"
)

// Format names a serialization format for the artifact.
type Format string

const (
	FormatMsgpack Format = "msgpack"
	FormatJSON    Format = "json"
)

// ErrMisaligned is returned when embeddings and names differ in length.
var ErrMisaligned = errors.New("embeddings and names are not index-aligned")

// FormatFor resolves the artifact format. An explicit format wins; otherwise a
// .json extension selects JSON and anything else msgpack.
func FormatFor(path, explicit string) (Format, error) {
	switch Format(explicit) {
	case FormatMsgpack, FormatJSON:
		return Format(explicit), nil
	case "":
	default:
		return "", fmt.Errorf("unsupported output format %q", explicit)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON, nil
	}
	return FormatMsgpack, nil
}

// Encode writes ds to w. Empty sequences are written as empty lists, never null.
func Encode(w io.Writer, format Format, ds *types.Dataset) error {
	if len(ds.Embeddings) != len(ds.Names) {
		return fmt.Errorf("%w: %d embeddings, %d names", ErrMisaligned, len(ds.Embeddings), len(ds.Names))
	}
	out := types.Dataset{Embeddings: ds.Embeddings, Names: ds.Names}
	if out.Embeddings == nil {
		out.Embeddings = [][]float32{}
	}
	if out.Names == nil {
		out.Names = []string{}
	}

	switch format {
	case FormatMsgpack:
		return msgpack.NewEncoder(w).Encode(&out)
	case FormatJSON:
		return json.NewEncoder(w).Encode(&out)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// Decode reads a dataset written by Encode.
func Decode(r io.Reader, format Format) (*types.Dataset, error) {
	var ds types.Dataset
	var err error
	switch format {
	case FormatMsgpack:
		err = msgpack.NewDecoder(r).Decode(&ds)
	case FormatJSON:
		err = json.NewDecoder(r).Decode(&ds)
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s dataset: %w", format, err)
	}
	if len(ds.Embeddings) != len(ds.Names) {
		return nil, fmt.Errorf("%w: %d embeddings, %d names", ErrMisaligned, len(ds.Embeddings), len(ds.Names))
	}
	return &ds, nil
}

// Write serializes ds to path in one shot. The artifact is staged in a temporary
// file next to path and renamed into place.
func Write(path string, format Format, ds *types.Dataset) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp output: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	bw := bufio.NewWriter(tmp)
	if err := Encode(bw, format, ds); err != nil {
		tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod output: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("move output into place: %w", err)
	}
	return nil
}

// Read loads an artifact, sniffing JSON by its leading '{' and falling back to msgpack.
func Read(path string) (*types.Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	format := FormatMsgpack
	if trimmed := bytes.TrimLeft(data, " \t\r\n"); len(trimmed) > 0 && trimmed[0] == '{' {
		format = FormatJSON
	}
	return Decode(bytes.NewReader(data), format)
}
