package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Variants             []string `json:"variants" mapstructure:"variants"`
	DurationMin          int      `json:"duration_min" mapstructure:"duration_min"`
	DurationMax          int      `json:"duration_max" mapstructure:"duration_max"`
	TranscodeToLossy     bool     `json:"transcode_to_lossy" mapstructure:"transcode_to_lossy"`
	TranscodeFormat      string   `json:"transcode_format" mapstructure:"transcode_format"`
	HighQuality          bool     `json:"high_quality" mapstructure:"high_quality"`
	EmbedThumbnail       bool     `json:"embed_thumbnail" mapstructure:"embed_thumbnail"`
	GenerateIndex        bool     `json:"generate_index" mapstructure:"generate_index"`
	ExcludeInstrumentals bool     `json:"exclude_instrumentals" mapstructure:"exclude_instrumentals"`
	OutputDir            string   `json:"output_dir" mapstructure:"output_dir"`

	Fetch   FetchConfig   `json:"fetch" mapstructure:"fetch"`
	Tools   ToolsConfig   `json:"tools" mapstructure:"tools"`
	Artwork ArtworkConfig `json:"artwork" mapstructure:"artwork"`
	History HistoryConfig `json:"history" mapstructure:"history"`
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// FetchConfig contains settings for the external media fetcher
type FetchConfig struct {
	SearchProvider   string   `json:"search_provider" mapstructure:"search_provider"`
	TimeoutSeconds   int      `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	MinIntervalMS    int      `json:"min_interval_ms" mapstructure:"min_interval_ms"`
	NoResultPatterns []string `json:"no_result_patterns" mapstructure:"no_result_patterns"`
	Attribution      string   `json:"attribution" mapstructure:"attribution"` // dirdiff or reported
}

// ToolsConfig contains explicit paths to external binaries
type ToolsConfig struct {
	FetcherPath string `json:"fetcher_path" mapstructure:"fetcher_path"`
	MuxerPath   string `json:"muxer_path" mapstructure:"muxer_path"`
}

// ArtworkConfig contains album-art reconciliation settings
type ArtworkConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Archive string `json:"archive" mapstructure:"archive"` // zip path or http(s) URL
	MaxSize int    `json:"max_size" mapstructure:"max_size"`
}

// HistoryConfig contains batch history settings
type HistoryConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	DBPath  string `json:"db_path" mapstructure:"db_path"`
}

// MetricsConfig contains metrics export settings
type MetricsConfig struct {
	Textfile string `json:"textfile" mapstructure:"textfile"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	Format     string `json:"format" mapstructure:"format"`
	Output     string `json:"output" mapstructure:"output"`
	FilePath   string `json:"file_path" mapstructure:"file_path"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// DefaultNoResultPatterns are diagnostic substrings the fetcher prints when a
// search produced nothing to download.
var DefaultNoResultPatterns = []string{
	"no video results",
	"no results",
	"downloading 0 items",
	"does not pass filter",
}

// Load loads configuration from file or creates it with defaults.
//
// The returned config is always usable. A malformed or invalid file makes Load
// fall back to the full defaults; the non-nil error then explains why.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = GetConfigPath()
	}

	v := newViper(configPath)

	if err := ensureConfigDir(configPath); err != nil {
		return Default(), fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return Default(), fmt.Errorf("malformed config %s, using defaults: %w", configPath, err)
		}
		// Config file not found, create with defaults
		if err := v.WriteConfigAs(configPath); err != nil {
			return Default(), fmt.Errorf("failed to write default config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Default(), fmt.Errorf("malformed config %s, using defaults: %w", configPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return Default(), fmt.Errorf("invalid config %s, using defaults: %w", configPath, err)
	}

	return &cfg, nil
}

// Default returns the documented default configuration
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Defaults are static and always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	// Allow environment variable overrides
	v.SetEnvPrefix("TRACKSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// isNotFound reports whether viper failed only because the file is absent
func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	return os.IsNotExist(err)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Variants) == 0 {
		c.Variants = []string{""}
	}

	if c.DurationMin < 0 || c.DurationMax < 0 {
		return fmt.Errorf("durations cannot be negative")
	}

	if c.DurationMax > 0 && c.DurationMin > c.DurationMax {
		return fmt.Errorf("duration_min (%d) exceeds duration_max (%d)", c.DurationMin, c.DurationMax)
	}

	if c.TranscodeFormat != "mp3" && c.TranscodeFormat != "flac" {
		return fmt.Errorf("invalid transcode format: %s (must be mp3 or flac)", c.TranscodeFormat)
	}

	if c.OutputDir == "" {
		return fmt.Errorf("output directory cannot be empty")
	}

	// Fetch validation
	if c.Fetch.SearchProvider == "" {
		return fmt.Errorf("search provider cannot be empty")
	}

	if c.Fetch.TimeoutSeconds < 1 {
		return fmt.Errorf("fetch timeout must be at least 1 second")
	}

	if c.Fetch.MinIntervalMS < 0 {
		return fmt.Errorf("fetch min interval cannot be negative")
	}

	if c.Fetch.Attribution != "dirdiff" && c.Fetch.Attribution != "reported" {
		return fmt.Errorf("invalid fetch attribution: %s (must be dirdiff or reported)", c.Fetch.Attribution)
	}

	if len(c.Fetch.NoResultPatterns) == 0 {
		c.Fetch.NoResultPatterns = append([]string(nil), DefaultNoResultPatterns...)
	}

	if c.Artwork.MaxSize < 0 || c.Artwork.MaxSize > 5000 {
		return fmt.Errorf("artwork max size must be between 0 and 5000 pixels")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Logging.Format)
	}

	validOutputs := map[string]bool{"file": true, "console": true, "both": true}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid log output: %s (must be file, console, or both)", c.Logging.Output)
	}

	if c.Logging.MaxSizeMB < 1 {
		return fmt.Errorf("log max size must be at least 1 MB")
	}

	if c.Logging.MaxBackups < 0 {
		return fmt.Errorf("log max backups cannot be negative")
	}

	if c.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("log max age cannot be negative")
	}

	return nil
}

// Save saves the configuration to file
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.Set("variants", c.Variants)
	v.Set("duration_min", c.DurationMin)
	v.Set("duration_max", c.DurationMax)
	v.Set("transcode_to_lossy", c.TranscodeToLossy)
	v.Set("transcode_format", c.TranscodeFormat)
	v.Set("high_quality", c.HighQuality)
	v.Set("embed_thumbnail", c.EmbedThumbnail)
	v.Set("generate_index", c.GenerateIndex)
	v.Set("exclude_instrumentals", c.ExcludeInstrumentals)
	v.Set("output_dir", c.OutputDir)
	v.Set("fetch", c.Fetch)
	v.Set("tools", c.Tools)
	v.Set("artwork", c.Artwork)
	v.Set("history", c.History)
	v.Set("metrics", c.Metrics)
	v.Set("logging", c.Logging)

	return v.WriteConfigAs(path)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("variants", []string{"Official Audio", ""})
	v.SetDefault("duration_min", 60)
	v.SetDefault("duration_max", 600)
	v.SetDefault("transcode_to_lossy", false)
	v.SetDefault("transcode_format", "mp3")
	v.SetDefault("high_quality", true)
	v.SetDefault("embed_thumbnail", false)
	v.SetDefault("generate_index", true)
	v.SetDefault("exclude_instrumentals", false)
	v.SetDefault("output_dir", getDefaultOutputDir())

	// Fetch defaults
	v.SetDefault("fetch.search_provider", "ytsearch")
	v.SetDefault("fetch.timeout_seconds", 300)
	v.SetDefault("fetch.min_interval_ms", 0)
	v.SetDefault("fetch.no_result_patterns", DefaultNoResultPatterns)
	v.SetDefault("fetch.attribution", "dirdiff")

	// Tools are discovered when left empty
	v.SetDefault("tools.fetcher_path", "")
	v.SetDefault("tools.muxer_path", "")

	// Artwork defaults
	v.SetDefault("artwork.enabled", false)
	v.SetDefault("artwork.archive", "")
	v.SetDefault("artwork.max_size", 0)

	// History defaults
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.db_path", filepath.Join(GetDataDir(), "data", "history.db"))

	v.SetDefault("metrics.textfile", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "file")
	v.SetDefault("logging.file_path", filepath.Join(GetDataDir(), "logs", "app.log"))
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	return filepath.Join(userBaseDir(), "TrackSync", "settings.json")
}

// getDefaultOutputDir returns the default root for converted playlists
func getDefaultOutputDir() string {
	return filepath.Join(userBaseDir(), "TrackSync", "playlists")
}

func userBaseDir() string {
	appData := os.Getenv("APPDATA")
	if appData == "" {
		appData = os.Getenv("HOME")
	}
	return appData
}

// ensureConfigDir ensures the configuration directory exists
func ensureConfigDir(configPath string) error {
	dir := filepath.Dir(configPath)
	return os.MkdirAll(dir, 0755)
}

// GetDataDir returns the application data directory
func GetDataDir() string {
	if IsPortableMode() {
		exePath, err := os.Executable()
		if err != nil {
			return "."
		}
		return filepath.Dir(exePath)
	}
	return filepath.Join(userBaseDir(), "TrackSync")
}

// IsPortableMode checks if the application is running in portable mode
func IsPortableMode() bool {
	exePath, err := os.Executable()
	if err != nil {
		return false
	}
	exeDir := filepath.Dir(exePath)
	portableMarker := filepath.Join(exeDir, ".portable")
	_, err = os.Stat(portableMarker)
	return err == nil
}

// GetConfigPath returns the configuration file path based on mode
func GetConfigPath() string {
	if IsPortableMode() {
		exePath, _ := os.Executable()
		return filepath.Join(filepath.Dir(exePath), "settings.json")
	}
	return getDefaultConfigPath()
}
