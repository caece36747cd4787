package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ligustah/dlm/internal/progress"
	"gopkg.in/yaml.v3"
)

// Config defines configuration for the download manager.
type Config struct {
	MaxConcurrentDownloads int           `yaml:"max_concurrent_downloads"`
	SegmentCount           int           `yaml:"segment_count"`
	BufferSize             int64         `yaml:"buffer_size"`
	MaxRetries             int           `yaml:"max_retries"`
	RetryDelay             time.Duration `yaml:"retry_delay"`
	MinSegmentSize         int64         `yaml:"min_segment_size"`
	ProgressInterval       time.Duration `yaml:"progress_interval"`
	SpeedWindow            time.Duration `yaml:"speed_window"`
	TempDir                string        `yaml:"temp_dir"`
	MetadataURL            string        `yaml:"metadata_url"`
	HTTP                   HTTPConfig    `yaml:"http"`
}

// HTTPConfig defines transport behavior.
type HTTPConfig struct {
	// Timeout bounds the wait for response headers; 0 disables it.
	Timeout      time.Duration `yaml:"timeout"`
	// ProbeRetries only covers network errors; a probe response is final.
	ProbeRetries int           `yaml:"probe_retries"`
	UserAgent    string        `yaml:"user_agent"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	base := filepath.Join(os.TempDir(), "dlm")
	return Config{
		MaxConcurrentDownloads: 3,
		SegmentCount:           8,
		BufferSize:             8 * 1024,
		MaxRetries:             3,
		RetryDelay:             5 * time.Second,
		MinSegmentSize:         1024 * 1024, // 1MiB
		ProgressInterval:       500 * time.Millisecond,
		SpeedWindow:            5 * time.Second,
		TempDir:                filepath.Join(base, "temp"),
		MetadataURL:            "file://" + filepath.ToSlash(filepath.Join(base, "metadata")),
		HTTP: HTTPConfig{
			UserAgent: "dlm/1.0",
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes and durations.
type yamlConfig struct {
	MaxConcurrentDownloads int            `yaml:"max_concurrent_downloads"`
	SegmentCount           int            `yaml:"segment_count"`
	BufferSize             string         `yaml:"buffer_size"`
	MaxRetries             int            `yaml:"max_retries"`
	RetryDelay             string         `yaml:"retry_delay"`
	MinSegmentSize         string         `yaml:"min_segment_size"`
	ProgressInterval       string         `yaml:"progress_interval"`
	SpeedWindow            string         `yaml:"speed_window"`
	TempDir                string         `yaml:"temp_dir"`
	MetadataURL            string         `yaml:"metadata_url"`
	HTTP                   yamlHTTPConfig `yaml:"http"`
}

type yamlHTTPConfig struct {
	Timeout      string `yaml:"timeout"`
	ProbeRetries *int   `yaml:"probe_retries"`
	UserAgent    string `yaml:"user_agent"`
}

// LoadFromFile loads configuration from a YAML file on top of Default.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.MaxConcurrentDownloads != 0 {
		cfg.MaxConcurrentDownloads = yc.MaxConcurrentDownloads
	}
	if yc.SegmentCount != 0 {
		cfg.SegmentCount = yc.SegmentCount
	}
	if yc.MaxRetries != 0 {
		cfg.MaxRetries = yc.MaxRetries
	}
	if yc.TempDir != "" {
		cfg.TempDir = yc.TempDir
	}
	if yc.MetadataURL != "" {
		cfg.MetadataURL = yc.MetadataURL
	}
	if yc.HTTP.ProbeRetries != nil {
		cfg.HTTP.ProbeRetries = *yc.HTTP.ProbeRetries
	}
	if yc.HTTP.UserAgent != "" {
		cfg.HTTP.UserAgent = yc.HTTP.UserAgent
	}

	sizes := []struct {
		key   string
		value string
		dst   *int64
	}{
		{"buffer_size", yc.BufferSize, &cfg.BufferSize},
		{"min_segment_size", yc.MinSegmentSize, &cfg.MinSegmentSize},
	}
	for _, s := range sizes {
		if s.value == "" {
			continue
		}
		n, err := progress.ParseBytes(s.value)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", s.key, err)
		}
		*s.dst = n
	}

	durations := []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"retry_delay", yc.RetryDelay, &cfg.RetryDelay},
		{"progress_interval", yc.ProgressInterval, &cfg.ProgressInterval},
		{"speed_window", yc.SpeedWindow, &cfg.SpeedWindow},
		{"http.timeout", yc.HTTP.Timeout, &cfg.HTTP.Timeout},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the DLM_ prefix.
func (c *Config) LoadFromEnv() error {
	ints := map[string]*int{
		"DLM_MAX_CONCURRENT_DOWNLOADS": &c.MaxConcurrentDownloads,
		"DLM_SEGMENT_COUNT":            &c.SegmentCount,
		"DLM_MAX_RETRIES":              &c.MaxRetries,
		"DLM_HTTP_PROBE_RETRIES":       &c.HTTP.ProbeRetries,
	}
	for name, dst := range ints {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", name, err)
			}
			*dst = n
		}
	}

	sizes := map[string]*int64{
		"DLM_BUFFER_SIZE":      &c.BufferSize,
		"DLM_MIN_SEGMENT_SIZE": &c.MinSegmentSize,
	}
	for name, dst := range sizes {
		if v := os.Getenv(name); v != "" {
			n, err := progress.ParseBytes(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", name, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"DLM_RETRY_DELAY":       &c.RetryDelay,
		"DLM_PROGRESS_INTERVAL": &c.ProgressInterval,
		"DLM_SPEED_WINDOW":      &c.SpeedWindow,
		"DLM_HTTP_TIMEOUT":      &c.HTTP.Timeout,
	}
	for name, dst := range durations {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", name, err)
			}
			*dst = d
		}
	}

	if v := os.Getenv("DLM_TEMP_DIR"); v != "" {
		c.TempDir = v
	}
	if v := os.Getenv("DLM_METADATA_URL"); v != "" {
		c.MetadataURL = v
	}
	if v := os.Getenv("DLM_HTTP_USER_AGENT"); v != "" {
		c.HTTP.UserAgent = v
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.MaxConcurrentDownloads <= 0 {
		return errors.New("config: max_concurrent_downloads must be positive")
	}
	if c.SegmentCount <= 0 {
		return errors.New("config: segment_count must be positive")
	}
	if c.BufferSize <= 0 {
		return errors.New("config: buffer_size must be positive")
	}
	if c.MaxRetries <= 0 {
		return errors.New("config: max_retries must be positive")
	}
	if c.RetryDelay <= 0 {
		return errors.New("config: retry_delay must be positive")
	}
	if c.MinSegmentSize < 0 {
		return errors.New("config: min_segment_size must not be negative")
	}
	if c.ProgressInterval <= 0 {
		return errors.New("config: progress_interval must be positive")
	}
	if c.SpeedWindow <= 0 {
		return errors.New("config: speed_window must be positive")
	}
	if c.TempDir == "" {
		return errors.New("config: temp_dir is required")
	}
	if c.MetadataURL == "" {
		return errors.New("config: metadata_url is required")
	}
	if u, err := url.Parse(c.MetadataURL); err != nil || u.Scheme == "" {
		return fmt.Errorf("config: metadata_url %q is not a bucket URL", c.MetadataURL)
	}
	if c.HTTP.Timeout < 0 {
		return errors.New("config: http.timeout must not be negative")
	}
	if c.HTTP.ProbeRetries < 0 {
		return errors.New("config: http.probe_retries must not be negative")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.MaxConcurrentDownloads != 0 {
		c.MaxConcurrentDownloads = override.MaxConcurrentDownloads
	}
	if override.SegmentCount != 0 {
		c.SegmentCount = override.SegmentCount
	}
	if override.BufferSize != 0 {
		c.BufferSize = override.BufferSize
	}
	if override.MaxRetries != 0 {
		c.MaxRetries = override.MaxRetries
	}
	if override.RetryDelay != 0 {
		c.RetryDelay = override.RetryDelay
	}
	if override.MinSegmentSize != 0 {
		c.MinSegmentSize = override.MinSegmentSize
	}
	if override.ProgressInterval != 0 {
		c.ProgressInterval = override.ProgressInterval
	}
	if override.SpeedWindow != 0 {
		c.SpeedWindow = override.SpeedWindow
	}
	if override.TempDir != "" {
		c.TempDir = override.TempDir
	}
	if override.MetadataURL != "" {
		c.MetadataURL = override.MetadataURL
	}
	if override.HTTP.Timeout != 0 {
		c.HTTP.Timeout = override.HTTP.Timeout
	}
	if override.HTTP.ProbeRetries != 0 {
		c.HTTP.ProbeRetries = override.HTTP.ProbeRetries
	}
	if override.HTTP.UserAgent != "" {
		c.HTTP.UserAgent = override.HTTP.UserAgent
	}
	return c
}
