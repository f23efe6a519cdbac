// Package config handles configuration loading for the foodgrid server.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Catalog CatalogConfig `yaml:"catalog"`
	Images  ImagesConfig  `yaml:"images"`
	Canvas  CanvasConfig  `yaml:"canvas"`
	Cache   CacheConfig   `yaml:"cache"`
	Labs    LabsConfig    `yaml:"labs"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	LogLevel    string   `yaml:"log_level"`
}

// CatalogConfig points at the product CSV.
type CatalogConfig struct {
	CSVPath string `yaml:"csv_path"`
}

// ImagesConfig contains image proxy settings.
// Templates use {store} and {productId} placeholders.
type ImagesConfig struct {
	Upstream       string            `yaml:"upstream"`
	Stores         map[string]string `yaml:"stores"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	Retries        int               `yaml:"retries"`
}

// Timeout returns the upstream request timeout.
func (c ImagesConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CanvasConfig contains grid loader settings.
type CanvasConfig struct {
	CellWidth   float64 `yaml:"cell_width"`
	CellHeight  float64 `yaml:"cell_height"`
	BufferCells int     `yaml:"buffer_cells"`
	MaxBatch    int     `yaml:"max_batch"`
	DebounceMS  int     `yaml:"debounce_ms"`
	MaxSessions int     `yaml:"max_sessions"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	ImageSizeMB     int `yaml:"image_size_mb"`
	ImageTTLMinutes int `yaml:"image_ttl_minutes"`
	QueryCacheSize  int `yaml:"query_cache_size"`
}

// LabsConfig contains lab-report extraction settings.
type LabsConfig struct {
	Model         string `yaml:"model"`
	APIBaseURL    string `yaml:"api_base_url"`
	APIKeyEnv     string `yaml:"api_key_env"`
	PromptPath    string `yaml:"prompt_path"`
	InputDir      string `yaml:"input_dir"`
	OutputPath    string `yaml:"output_path"`
	UploadDir     string `yaml:"upload_dir"`
	SQLitePath    string `yaml:"sqlite_path"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	RetentionDays int    `yaml:"retention_days"`
	MaxUploadMB   int    `yaml:"max_upload_mb"`
}

// APIKey reads the LLM API key from the configured environment variable.
func (c LabsConfig) APIKey() string {
	return os.Getenv(c.APIKeyEnv)
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			LogLevel:    "info",
		},
		Catalog: CatalogConfig{
			CSVPath: "./data/products.csv",
		},
		Images: ImagesConfig{
			Upstream:       "https://images.example-cdn.com/{store}/{productId}.jpg",
			TimeoutSeconds: 10,
			Retries:        3,
		},
		Canvas: CanvasConfig{
			CellWidth:   220,
			CellHeight:  280,
			BufferCells: 1,
			MaxBatch:    24,
			DebounceMS:  150,
			MaxSessions: 1000,
		},
		Cache: CacheConfig{
			ImageSizeMB:     256,
			ImageTTLMinutes: 60,
			QueryCacheSize:  1000,
		},
		Labs: LabsConfig{
			Model:         "gpt-4.1",
			APIBaseURL:    "https://api.openai.com/v1",
			APIKeyEnv:     "OPENAI_API_KEY",
			PromptPath:    "./ai-prompt.md",
			InputDir:      "./input_files",
			OutputPath:    "./labs.json",
			UploadDir:     "./tmp_uploads",
			SQLitePath:    "./data/lab_jobs.sqlite",
			MaxConcurrent: 1,
			RetentionDays: 7,
			MaxUploadMB:   50,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = defaults.Server.LogLevel
	}
	if cfg.Catalog.CSVPath == "" {
		cfg.Catalog.CSVPath = defaults.Catalog.CSVPath
	}
	if cfg.Images.Upstream == "" {
		cfg.Images.Upstream = defaults.Images.Upstream
	}
	if cfg.Images.TimeoutSeconds == 0 {
		cfg.Images.TimeoutSeconds = defaults.Images.TimeoutSeconds
	}
	if cfg.Images.Retries == 0 {
		cfg.Images.Retries = defaults.Images.Retries
	}
	if cfg.Canvas.CellWidth == 0 {
		cfg.Canvas.CellWidth = defaults.Canvas.CellWidth
	}
	if cfg.Canvas.CellHeight == 0 {
		cfg.Canvas.CellHeight = defaults.Canvas.CellHeight
	}
	if cfg.Canvas.MaxBatch == 0 {
		cfg.Canvas.MaxBatch = defaults.Canvas.MaxBatch
	}
	if cfg.Canvas.DebounceMS == 0 {
		cfg.Canvas.DebounceMS = defaults.Canvas.DebounceMS
	}
	if cfg.Canvas.MaxSessions == 0 {
		cfg.Canvas.MaxSessions = defaults.Canvas.MaxSessions
	}
	if cfg.Cache.ImageSizeMB == 0 {
		cfg.Cache.ImageSizeMB = defaults.Cache.ImageSizeMB
	}
	if cfg.Cache.ImageTTLMinutes == 0 {
		cfg.Cache.ImageTTLMinutes = defaults.Cache.ImageTTLMinutes
	}
	if cfg.Cache.QueryCacheSize == 0 {
		cfg.Cache.QueryCacheSize = defaults.Cache.QueryCacheSize
	}
	if cfg.Labs.Model == "" {
		cfg.Labs.Model = defaults.Labs.Model
	}
	if cfg.Labs.APIBaseURL == "" {
		cfg.Labs.APIBaseURL = defaults.Labs.APIBaseURL
	}
	if cfg.Labs.APIKeyEnv == "" {
		cfg.Labs.APIKeyEnv = defaults.Labs.APIKeyEnv
	}
	if cfg.Labs.PromptPath == "" {
		cfg.Labs.PromptPath = defaults.Labs.PromptPath
	}
	if cfg.Labs.InputDir == "" {
		cfg.Labs.InputDir = defaults.Labs.InputDir
	}
	if cfg.Labs.OutputPath == "" {
		cfg.Labs.OutputPath = defaults.Labs.OutputPath
	}
	if cfg.Labs.UploadDir == "" {
		cfg.Labs.UploadDir = defaults.Labs.UploadDir
	}
	if cfg.Labs.SQLitePath == "" {
		cfg.Labs.SQLitePath = defaults.Labs.SQLitePath
	}
	if cfg.Labs.MaxConcurrent == 0 {
		cfg.Labs.MaxConcurrent = defaults.Labs.MaxConcurrent
	}
	if cfg.Labs.RetentionDays == 0 {
		cfg.Labs.RetentionDays = defaults.Labs.RetentionDays
	}
	if cfg.Labs.MaxUploadMB == 0 {
		cfg.Labs.MaxUploadMB = defaults.Labs.MaxUploadMB
	}
}
