package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/andresmejia3/facevec/internal/types"
	"github.com/vmihailenco/msgpack/v5"
)

func sampleDataset() *types.Dataset {
	var a, b types.Embedding
	a[0], a[127] = 0.125, -0.5
	b[64] = 1

	var ds types.Dataset
	ds.Add(types.Result{Path: "alice/1.png", Label: "alice", Embedding: a})
	ds.Add(types.Result{Path: "bob/1.png", Label: "bob", Embedding: b})
	return &ds
}

func TestFormatFor(t *testing.T) {
	tests := []struct {
		path     string
		explicit string
		want     Format
		wantErr  bool
	}{
		{"out/embeddings.msgpack", "", FormatMsgpack, false},
		{"out/embeddings.pickle", "", FormatMsgpack, false},
		{"out/embeddings.JSON", "", FormatJSON, false},
		{"out/embeddings.json", "msgpack", FormatMsgpack, false},
		{"out/embeddings.bin", "json", FormatJSON, false},
		{"out/embeddings.bin", "yaml", "", true},
	}

	for _, tt := range tests {
		got, err := FormatFor(tt.path, tt.explicit)
		if (err != nil) != tt.wantErr {
			t.Errorf("FormatFor(%q, %q) error = %v, wantErr %v", tt.path, tt.explicit, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("FormatFor(%q, %q) = %q, want %q", tt.path, tt.explicit, got, tt.want)
		}
	}
}

// The artifact must be a mapping with exactly the two keys downstream trainers expect.
func TestEncode_ExactlyTwoKeys(t *testing.T) {
	for _, format := range []Format{FormatMsgpack, FormatJSON} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			if err := Encode(&buf, format, sampleDataset()); err != nil {
				t.Fatalf("Encode() failed: %v", err)
			}

			var generic map[string]interface{}
			var err error
			if format == FormatJSON {
				err = json.Unmarshal(buf.Bytes(), &generic)
			} else {
				err = msgpack.Unmarshal(buf.Bytes(), &generic)
			}
			if err != nil {
				t.Fatalf("Generic decode failed: %v", err)
			}

			var keys []string
			for k := range generic {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			if len(keys) != 2 || keys[0] != "embeddings" || keys[1] != "names" {
				t.Errorf("Expected keys [embeddings names], got %v", keys)
			}
		})
	}
}

func TestEncode_EmptyDatasetWritesLists(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, FormatJSON, &types.Dataset{}); err != nil {
		t.Fatal(err)
	}
	want := `{"embeddings":[],"names":[]}` + "\n"
	if buf.String() != want {
		t.Errorf("Expected %q, got %q", want, buf.String())
	}
}

func TestEncode_Misaligned(t *testing.T) {
	ds := &types.Dataset{Embeddings: [][]float32{{1}}, Names: nil}
	err := Encode(&bytes.Buffer{}, FormatMsgpack, ds)
	if !errors.Is(err, ErrMisaligned) {
		t.Errorf("Expected ErrMisaligned, got %v", err)
	}
}

func TestWriteRead(t *testing.T) {
	dir := t.TempDir()
	ds := sampleDataset()

	for _, name := range []string{"nested/embeddings.msgpack", "embeddings.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			format, err := FormatFor(path, "")
			if err != nil {
				t.Fatal(err)
			}
			if err := Write(path, format, ds); err != nil {
				t.Fatalf("Write() failed: %v", err)
			}

			got, err := Read(path)
			if err != nil {
				t.Fatalf("Read() failed: %v", err)
			}
			if got.Len() != 2 || got.Names[0] != "alice" || got.Names[1] != "bob" {
				t.Fatalf("Unexpected names: %v", got.Names)
			}
			if len(got.Embeddings[0]) != types.EmbeddingDim {
				t.Fatalf("Expected %d floats, got %d", types.EmbeddingDim, len(got.Embeddings[0]))
			}
			if got.Embeddings[0][0] != 0.125 || got.Embeddings[0][127] != -0.5 || got.Embeddings[1][64] != 1 {
				t.Errorf("Float values not preserved")
			}
			if got.Paths != nil {
				t.Errorf("Paths must not be serialized, got %v", got.Paths)
			}
		})
	}

	// No temp files left behind
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name()[0] == '.' {
			t.Errorf("Leftover temp file %s", e.Name())
		}
	}
}

func TestWrite_UnwritableDestination(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	// A regular file used as a directory component cannot be created
	if err := Write(filepath.Join(blocker, "embeddings.msgpack"), FormatMsgpack, sampleDataset()); err == nil {
		t.Error("Expected error writing below a regular file")
	}
}
