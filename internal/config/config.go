package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the facevec configuration.
type Config struct {
	Dataset    string           `yaml:"dataset"`
	Output     OutputConfig     `yaml:"output"`
	Models     ModelsConfig     `yaml:"models"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Logging    LoggingConfig    `yaml:"logging"`
	Database   DatabaseConfig   `yaml:"database"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// OutputConfig controls where and how the embeddings artifact is written.
type OutputConfig struct {
	Path   string `yaml:"path"`
	Format string `yaml:"format"` // msgpack, json (default: inferred from path extension)
}

// ModelsConfig points at the pretrained detector and embedder artifacts.
type ModelsConfig struct {
	DetectorDir      string `yaml:"detector_dir"`
	DetectorPrototxt string `yaml:"detector_prototxt"`
	DetectorWeights  string `yaml:"detector_weights"`
	Embedder         string `yaml:"embedder"`
	Backend          string `yaml:"backend"` // default, opencv, cuda, openvino, halide, vulkan
	Target           string `yaml:"target"`  // cpu, fp32, fp16, vpu, vulkan, fpga, cuda, cuda_fp16
}

// DetectorPaths returns the prototxt and caffemodel paths inside DetectorDir.
func (m ModelsConfig) DetectorPaths() (string, string) {
	return filepath.Join(m.DetectorDir, m.DetectorPrototxt), filepath.Join(m.DetectorDir, m.DetectorWeights)
}

// ExtractionConfig holds the image and detection thresholds.
type ExtractionConfig struct {
	ImageWidth  int     `yaml:"image_width"`
	Confidence  float64 `yaml:"confidence"`
	MinFaceSize int     `yaml:"min_face_size"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
}

// DatabaseConfig holds the optional pgvector sink settings.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// MetricsConfig holds the Prometheus textfile destination.
type MetricsConfig struct {
	File string `yaml:"file"`
}

// Default returns a configuration with every default applied.
func Default() Config {
	cfg := Config{
		Extraction: ExtractionConfig{
			ImageWidth:  600,
			Confidence:  0.5,
			MinFaceSize: 20,
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads configuration from a YAML file. An empty path yields defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	// Keys absent from the file keep their defaults; keys present are taken
	// as written, zero included.
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ApplyDefaults fills empty string fields with default values. Numeric
// thresholds are set by Default and validated as given.
func (c *Config) ApplyDefaults() {
	if c.Dataset == "" {
		c.Dataset = "dataset"
	}
	if c.Output.Path == "" {
		c.Output.Path = filepath.Join("output", "embeddings.msgpack")
	}
	if c.Models.DetectorDir == "" {
		c.Models.DetectorDir = "face_detection_model"
	}
	if c.Models.DetectorPrototxt == "" {
		c.Models.DetectorPrototxt = "deploy.prototxt"
	}
	if c.Models.DetectorWeights == "" {
		c.Models.DetectorWeights = "res10_300x300_ssd_iter_140000.caffemodel"
	}
	if c.Models.Embedder == "" {
		c.Models.Embedder = "openface_nn4.small2.v1.t7"
	}
	if c.Models.Backend == "" {
		c.Models.Backend = "default"
	}
	if c.Models.Target == "" {
		c.Models.Target = "cpu"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.Extraction.Confidence < 0 || c.Extraction.Confidence >= 1 {
		return fmt.Errorf("extraction.confidence must be in [0, 1), got %v", c.Extraction.Confidence)
	}
	if c.Extraction.ImageWidth <= 0 || c.Extraction.MinFaceSize <= 0 {
		return fmt.Errorf("extraction.image_width and extraction.min_face_size must be positive, got %d and %d",
			c.Extraction.ImageWidth, c.Extraction.MinFaceSize)
	}
	if c.Extraction.ImageWidth < c.Extraction.MinFaceSize {
		return fmt.Errorf("extraction.image_width (%d) must not be smaller than extraction.min_face_size (%d)",
			c.Extraction.ImageWidth, c.Extraction.MinFaceSize)
	}
	switch c.Output.Format {
	case "", "msgpack", "json":
	default:
		return fmt.Errorf("output.format must be \"msgpack\" or \"json\", got %q", c.Output.Format)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be \"console\" or \"json\", got %q", c.Logging.Format)
	}
	return nil
}

// DatabaseURL returns the configured connection string, or builds one from the
// POSTGRES_* environment when none is set.
func (c *Config) DatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	// Fallback to local default if no env vars are present
	return "postgres://localhost:5432/facevec"
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
