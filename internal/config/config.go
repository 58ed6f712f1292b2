package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/joho/godotenv"
)

type Backend string

const (
	BackendOnnx   Backend = "onnx"
	BackendRemote Backend = "remote"

	DefaultConfigPath   = "config.json"
	DefaultModelPath    = "models/metal_defect_best.onnx"
	DefaultRemoteHost   = "localhost:8080"
	DefaultResultsDir   = "data/results"
	DefaultBatchDir     = "data/test"
	DefaultConfidence   = 50
	DefaultInputSize    = 640
	DefaultIOUThreshold = 0.7
	DefaultAppID        = "io.defectvision.inspector"
	DefaultWindowWidth  = 1200
	DefaultWindowHeight = 700

	envPrefix = "DEFECT_"
)

var ErrClassesFile = errors.New("class names not loaded")

// Classes of the NEU metal surface defect dataset the bundled model is trained on.
var DefaultClasses = []string{
	"crazing",
	"inclusion",
	"patches",
	"pitted_surface",
	"rolled-in_scale",
	"scratches",
}

type ModelConfig struct {
	Path               string   `json:"path"`
	OnnxRuntimeLibPath string   `json:"onnxruntime_lib_path"`
	UseCuda            bool     `json:"use_cuda"`
	NumThreads         int      `json:"num_threads"`
	InputSize          int      `json:"input_size"`
	IOUThreshold       float32  `json:"iou_threshold"`
	Classes            []string `json:"classes"`
	ClassesFile        string   `json:"classes_file"`
}

type RemoteConfig struct {
	Host string `json:"host"`
}

type UIConfig struct {
	AppID  string `json:"app_id"`
	Theme  string `json:"theme"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type Config struct {
	mu   sync.RWMutex
	path string

	Backend    Backend `json:"backend"`
	Confidence int     `json:"confidence"`
	FontPath   string  `json:"font_path"`
	ResultsDir string  `json:"results_dir"`
	BatchDir   string  `json:"batch_dir"`
	LogLevel   string  `json:"log_level"`
	LogFile    string  `json:"log_file"`

	Model  ModelConfig  `json:"model"`
	Remote RemoteConfig `json:"remote"`
	UI     UIConfig     `json:"ui"`
}

func (c *Config) GetConfidence() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Confidence
}

func (c *Config) SetConfidence(v int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Confidence = v
}

func (c *Config) GetResultsDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ResultsDir
}

func (c *Config) GetBatchDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.BatchDir
}

func (c *Config) GetModelPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Model.Path
}

// Save writes the user-adjustable settings into path. Everything else is taken
// from what path already holds, so environment overrides and classes read from
// classes_file never end up in the file.
func (c *Config) Save(path string) error {
	base, err := readFile(path)
	if err != nil {
		return err
	}
	base.Confidence = c.GetConfidence()

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(base); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// SaveByDefault saves into the file the config was loaded from.
func (c *Config) SaveByDefault() error {
	return c.Save(c.Path())
}

// Path is the file the config was loaded from, or DefaultConfigPath.
func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.path == "" {
		return DefaultConfigPath
	}
	return c.path
}

// LoadConfigFile reads path over the defaults and applies environment overrides.
// A missing file is not an error. When the file cannot be decoded the returned
// config holds the defaults plus environment overrides, along with the error.
// A classes_file that cannot be read is reported as ErrClassesFile and leaves
// the configured class list in place.
func LoadConfigFile(path string) (*Config, error) {
	cfg, err := readFile(path)
	if err != nil {
		cfg = NewDefaultConfig()
	}
	cfg.path = path

	// .env is optional
	_ = godotenv.Load()
	cfg.applyEnv()
	cfg.normalize()

	if err != nil {
		return cfg, err
	}

	if cfg.Model.ClassesFile != "" {
		classes, err := LoadClasses(cfg.Model.ClassesFile)
		if err != nil {
			return cfg, fmt.Errorf("%w: %v", ErrClassesFile, err)
		}
		cfg.Model.Classes = classes
	}

	return cfg, nil
}

// readFile decodes path over the defaults without any overrides.
func readFile(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	f, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(envPrefix + "BACKEND"); v != "" {
		c.Backend = Backend(v)
	}
	if v := os.Getenv(envPrefix + "MODEL_PATH"); v != "" {
		c.Model.Path = v
	}
	if v := os.Getenv(envPrefix + "ORT_LIB"); v != "" {
		c.Model.OnnxRuntimeLibPath = v
	}
	if v, err := strconv.ParseBool(os.Getenv(envPrefix + "USE_CUDA")); err == nil {
		c.Model.UseCuda = v
	}
	if v := os.Getenv(envPrefix + "REMOTE_HOST"); v != "" {
		c.Remote.Host = v
	}
	if v := os.Getenv(envPrefix + "RESULTS_DIR"); v != "" {
		c.ResultsDir = v
	}
	if v := os.Getenv(envPrefix + "BATCH_DIR"); v != "" {
		c.BatchDir = v
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(envPrefix + "FONT_PATH"); v != "" {
		c.FontPath = v
	}
}

func (c *Config) normalize() {
	if c.Confidence < 10 || c.Confidence > 100 {
		c.Confidence = DefaultConfidence
	}
	if c.Model.InputSize <= 0 || c.Model.InputSize%32 != 0 {
		c.Model.InputSize = DefaultInputSize
	}
	if c.Model.IOUThreshold <= 0 || c.Model.IOUThreshold > 1 {
		c.Model.IOUThreshold = DefaultIOUThreshold
	}
	if c.Backend != BackendRemote {
		c.Backend = BackendOnnx
	}
	if c.UI.Width <= 0 || c.UI.Height <= 0 {
		c.UI.Width, c.UI.Height = DefaultWindowWidth, DefaultWindowHeight
	}
}

func NewDefaultConfig() *Config {
	return &Config{
		Backend:    BackendOnnx,
		Confidence: DefaultConfidence,
		ResultsDir: DefaultResultsDir,
		BatchDir:   DefaultBatchDir,
		LogLevel:   "info",
		Model: ModelConfig{
			Path:               DefaultModelPath,
			OnnxRuntimeLibPath: DefaultLibraryPath(),
			InputSize:          DefaultInputSize,
			IOUThreshold:       DefaultIOUThreshold,
			Classes:            append([]string(nil), DefaultClasses...),
		},
		Remote: RemoteConfig{Host: DefaultRemoteHost},
		UI: UIConfig{
			AppID:  DefaultAppID,
			Theme:  "system",
			Width:  DefaultWindowWidth,
			Height: DefaultWindowHeight,
		},
	}
}
