// Package config provides configuration loading and management for mrirecon.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"mrirecon/pkg/inference"
	"mrirecon/pkg/reconstruction"
	"mrirecon/pkg/visualization"
)

// AppName is used for the XDG config and data directories.
const AppName = "mrirecon"

// Config represents the application configuration loaded from YAML
type Config struct {
	// Model artifact parameters
	Model struct {
		// Path is the ONNX model artifact, loaded once at startup
		Path string `yaml:"path"`

		// RuntimeLibrary is the onnxruntime shared library
		RuntimeLibrary string `yaml:"runtimeLibrary"`

		// InputName and OutputName select graph tensors; empty means the
		// first one declared by the artifact
		InputName  string `yaml:"inputName"`
		OutputName string `yaml:"outputName"`

		// IntraOpThreads limits the inference thread pool, 0 keeps the
		// runtime default
		IntraOpThreads int `yaml:"intraOpThreads"`
	} `yaml:"model"`

	// Input parameters. These must match the dimensions the model was
	// trained on.
	Input struct {
		Width  int `yaml:"width"`
		Height int `yaml:"height"`
	} `yaml:"input"`

	// Output parameters
	Output struct {
		// CreateDirs creates missing parent directories when saving
		CreateDirs bool `yaml:"createDirs"`

		// Report writes a markdown report next to every saved image
		Report bool `yaml:"report"`
	} `yaml:"output"`

	// Run history parameters
	History struct {
		Enabled bool   `yaml:"enabled"`
		Dir     string `yaml:"dir"`
	} `yaml:"history"`

	// Terminal preview parameters
	Preview struct {
		Enabled bool    `yaml:"enabled"`
		Columns int     `yaml:"columns"`
		Lines   int     `yaml:"lines"`
		Gamma   float64 `yaml:"gamma"`
		Invert  bool    `yaml:"invert"`
	} `yaml:"preview"`

	// Logging parameters
	Logging struct {
		// Verbose enables debug logging
		Verbose bool `yaml:"verbose"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Model.Path = "model.onnx"
	cfg.Model.RuntimeLibrary = defaultRuntimeLibrary()
	cfg.Model.IntraOpThreads = 1

	cfg.Input.Width = reconstruction.DefaultWidth
	cfg.Input.Height = reconstruction.DefaultHeight

	cfg.Output.CreateDirs = true
	cfg.Output.Report = false

	cfg.History.Enabled = true
	cfg.History.Dir = DataDir()

	cfg.Preview.Enabled = true
	cfg.Preview.Columns = 80
	cfg.Preview.Lines = 25
	cfg.Preview.Gamma = 1.0

	cfg.Logging.Verbose = false

	return cfg
}

// DefaultPath returns the default configuration file location,
// e.g. ~/.config/mrirecon/config.yaml on Linux
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.yaml")
}

// DataDir returns the XDG data directory holding the run history,
// e.g. ~/.local/share/mrirecon on Linux
func DataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

func defaultRuntimeLibrary() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate checks the configuration and returns the first problem found
func (c *Config) Validate() error {
	if c.Model.Path == "" {
		return ErrNoModelPath
	}
	if c.Model.IntraOpThreads < 0 {
		return ErrInvalidThreads
	}
	if c.Input.Width <= 0 || c.Input.Height <= 0 {
		return ErrInvalidInputSize
	}
	if c.Preview.Enabled {
		if c.Preview.Columns <= 0 || c.Preview.Lines <= 0 {
			return ErrInvalidPreviewSize
		}
		if c.Preview.Gamma <= 0 {
			return ErrInvalidGamma
		}
	}
	if c.History.Enabled && c.History.Dir == "" {
		return ErrNoHistoryDir
	}
	return nil
}

// InferenceOptions returns the options for loading the model artifact
func (c *Config) InferenceOptions() inference.Options {
	return inference.Options{
		ModelPath:      c.Model.Path,
		RuntimeLibrary: c.Model.RuntimeLibrary,
		InputName:      c.Model.InputName,
		OutputName:     c.Model.OutputName,
		IntraOpThreads: c.Model.IntraOpThreads,
	}
}

// ReconstructionParams returns the pipeline parameters
func (c *Config) ReconstructionParams() *reconstruction.Params {
	params := reconstruction.DefaultParams()
	params.Width = c.Input.Width
	params.Height = c.Input.Height
	params.CreateDirs = c.Output.CreateDirs
	return params
}

// PreviewOptions returns the terminal preview options
func (c *Config) PreviewOptions() visualization.Options {
	return visualization.Options{
		Columns: c.Preview.Columns,
		Lines:   c.Preview.Lines,
		Gamma:   c.Preview.Gamma,
		Invert:  c.Preview.Invert,
	}
}
