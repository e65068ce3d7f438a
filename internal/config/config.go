package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort           = "8080"
	DefaultModelPath      = "model/model.onnx"
	DefaultMetadataPath   = "model/model_metadata.json"
	DefaultImageSize      = 128
	DefaultMaxUploadBytes = 16 << 20 // 16 MB
)

type Config struct {
	Port           string      `yaml:"port"`
	Debug          bool        `yaml:"debug"`
	MaxUploadBytes int64       `yaml:"max_upload_bytes"`
	Model          ModelConfig `yaml:"model"`
	Log            LogConfig   `yaml:"log"`
}

type ModelConfig struct {
	Path         string `yaml:"path"`
	MetadataPath string `yaml:"metadata_path"`
	// ONNXLibrary is the path to libonnxruntime; empty uses the system default.
	ONNXLibrary string `yaml:"onnx_library"`
	ImageSize   int    `yaml:"image_size"`
	// Preload loads the model at startup instead of on the first request.
	Preload bool `yaml:"preload"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// DefaultConfig returns a Config struct with default values
func DefaultConfig() *Config {
	return &Config{
		Port:           DefaultPort,
		Debug:          false,
		MaxUploadBytes: DefaultMaxUploadBytes,
		Model: ModelConfig{
			Path:         DefaultModelPath,
			MetadataPath: DefaultMetadataPath,
			ImageSize:    DefaultImageSize,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 7,
		},
	}
}

// LoadDotEnv loads variables from a .env file into the process environment.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load reads the YAML file at path (optional), then applies environment
// overrides from the process environment.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// defaults
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}
	if cfg.Model.Path == "" {
		cfg.Model.Path = DefaultModelPath
	}
	if cfg.Model.ImageSize <= 0 {
		cfg.Model.ImageSize = DefaultImageSize
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}

	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("PORT"); ok && v != "" {
		c.Port = v
	}
	if v, ok := lookup("DEBUG"); ok && v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid DEBUG value %q: %w", v, err)
		}
		c.Debug = debug
	}
	if v, ok := lookup("MODEL_PATH"); ok && v != "" {
		c.Model.Path = v
	}
	if v, ok := lookup("MODEL_METADATA_PATH"); ok && v != "" {
		c.Model.MetadataPath = v
	}
	if v, ok := lookup("ONNX_LIBRARY_PATH"); ok && v != "" {
		c.Model.ONNXLibrary = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup("LOG_FILE"); ok && v != "" {
		c.Log.File = v
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}
