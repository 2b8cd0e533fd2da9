package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"

	"github.com/ternarybob/credsync/internal/models"
)

// Config represents the application configuration
type Config struct {
	Environment string                      `toml:"environment"` // "development" or "production"
	Server      ServerConfig                `toml:"server"`
	Storage     StorageConfig               `toml:"storage"`
	Logging     LoggingConfig               `toml:"logging"`
	Backend     BackendConfig               `toml:"backend"`
	Profile     ProfileConfig               `toml:"profile"`
	Capture     CaptureConfig               `toml:"capture"`
	Platforms   map[string]PlatformOverride `toml:"platforms"` // keyed by platform name, any spelling
	Sync        SyncConfig                  `toml:"sync"`
}

type ServerConfig struct {
	Port           int      `toml:"port" validate:"gte=1,lte=65535"`
	Host           string   `toml:"host" validate:"required"`
	AllowedOrigins []string `toml:"allowed_origins"` // presentation clients; "*" allows any origin
}

// StorageConfig contains storage configuration
type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required_without=InMemory"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`                          // Delete database on startup
	InMemory       bool   `toml:"in_memory"`                                 // No persistence, used by tests
}

type LoggingConfig struct {
	Level  string   `toml:"level" validate:"oneof=trace debug info warn error"`
	Format string   `toml:"format" validate:"oneof=text json"`
	Output []string `toml:"output"` // "stdout", "console", "file"
}

// BackendConfig points at the remote account backend that owns auth methods
type BackendConfig struct {
	BaseURL   string  `toml:"base_url" validate:"required,url"`
	Timeout   string  `toml:"timeout"`
	RateLimit float64 `toml:"rate_limit" validate:"gt=0"` // requests per second
	Burst     int     `toml:"burst" validate:"gte=1"`
}

// ProfileConfig names the host profile when no backend session identifies one
type ProfileConfig struct {
	ID string `toml:"id" validate:"required"`
}

// CaptureConfig configures the browser capture surface
type CaptureConfig struct {
	Enabled       bool   `toml:"enabled"`
	DevToolsURL   string `toml:"devtools_url"` // attach to a running browser when set
	Headless      bool   `toml:"headless"`
	UserDataDir   string `toml:"user_data_dir"`
	CSRFHeader    string `toml:"csrf_header" validate:"required"`
	PollSchedule  string `toml:"poll_schedule"`  // cron, empty disables periodic capture
	CookieMaxAge  string `toml:"cookie_max_age"` // empty disables eviction
	EvictSchedule string `toml:"evict_schedule"`
}

// PlatformOverride replaces parts of a built-in platform descriptor. Empty
// fields keep the default.
type PlatformOverride struct {
	DisplayName     string   `toml:"display_name"`
	Domains         []string `toml:"domains"`
	RequestPatterns []string `toml:"request_patterns"`
	TokenCookie     string   `toml:"token_cookie"`
	LookupURLs      []string `toml:"lookup_urls"`
	ComposeWithCSRF *bool    `toml:"compose_with_csrf"`
}

// SyncConfig configures the reconciliation engine
type SyncConfig struct {
	DebounceWindow   string `toml:"debounce_window"`
	SweepSchedule    string `toml:"sweep_schedule"`     // cron, empty disables the periodic sweep
	AutoSyncSchedule string `toml:"auto_sync_schedule"` // cron, empty disables auto-sync of linked platforms
	CacheTTL         string `toml:"cache_ttl"`
	CacheSize        int    `toml:"cache_size" validate:"gte=1"`
	AdoptActive      bool   `toml:"adopt_active"` // sweep links unlinked platforms to their newest active method
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port:           8086,
			Host:           "localhost",
			AllowedOrigins: []string{"*"},
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout"},
		},
		Backend: BackendConfig{
			BaseURL:   "http://localhost:3000",
			Timeout:   "30s",
			RateLimit: 5,
			Burst:     5,
		},
		Profile: ProfileConfig{
			ID: "default",
		},
		Capture: CaptureConfig{
			Enabled:       false,
			Headless:      false,
			UserDataDir:   "./data/chrome-profile",
			CSRFHeader:    "csrftoken",
			PollSchedule:  "",
			CookieMaxAge:  "720h",
			EvictSchedule: "@every 1h",
		},
		Sync: SyncConfig{
			DebounceWindow:   "1s",
			SweepSchedule:    "@every 5m",
			AutoSyncSchedule: "",
			CacheTTL:         "30s",
			CacheSize:        16,
		},
	}
}

// LoadFromFiles loads configuration with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files. CLI flags are applied by the caller.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("CREDSYNC_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("CREDSYNC_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("CREDSYNC_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if badgerPath := os.Getenv("CREDSYNC_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	if level := os.Getenv("CREDSYNC_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("CREDSYNC_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	if baseURL := os.Getenv("CREDSYNC_BACKEND_URL"); baseURL != "" {
		config.Backend.BaseURL = baseURL
	}
	if profile := os.Getenv("CREDSYNC_PROFILE"); profile != "" {
		config.Profile.ID = profile
	}

	if devtools := os.Getenv("CREDSYNC_DEVTOOLS_URL"); devtools != "" {
		config.Capture.DevToolsURL = devtools
		config.Capture.Enabled = true
	}
	if enabled := os.Getenv("CREDSYNC_CAPTURE_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Capture.Enabled = b
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks struct constraints, durations, schedules and platform overrides
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	durations := map[string]string{
		"backend.timeout":        c.Backend.Timeout,
		"capture.cookie_max_age": c.Capture.CookieMaxAge,
		"sync.debounce_window":   c.Sync.DebounceWindow,
		"sync.cache_ttl":         c.Sync.CacheTTL,
	}
	for name, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}

	schedules := map[string]string{
		"capture.poll_schedule":   c.Capture.PollSchedule,
		"capture.evict_schedule":  c.Capture.EvictSchedule,
		"sync.sweep_schedule":     c.Sync.SweepSchedule,
		"sync.auto_sync_schedule": c.Sync.AutoSyncSchedule,
	}
	for name, value := range schedules {
		if value == "" {
			continue
		}
		if err := ValidateSchedule(value); err != nil {
			return fmt.Errorf("invalid schedule for %s: %w", name, err)
		}
	}

	for name := range c.Platforms {
		if _, err := models.ParsePlatform(name); err != nil {
			return fmt.Errorf("invalid [platforms] entry: %w", err)
		}
	}

	return nil
}

// ScheduleParser accepts standard 5-field expressions and @descriptors (@every 5m)
func ScheduleParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// ValidateSchedule validates a cron expression
func ValidateSchedule(schedule string) error {
	if _, err := ScheduleParser().Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// Duration parses value, returning fallback when it is empty or malformed
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// PlatformDescriptors returns the built-in descriptors with config overrides applied
func (c *Config) PlatformDescriptors() map[models.Platform]models.PlatformDescriptor {
	descriptors := models.DefaultPlatformDescriptors()

	for name, override := range c.Platforms {
		platform, err := models.ParsePlatform(name)
		if err != nil {
			continue
		}
		d := descriptors[platform]
		d.Platform = platform
		if override.DisplayName != "" {
			d.DisplayName = override.DisplayName
		}
		if len(override.Domains) > 0 {
			d.Domains = override.Domains
		}
		if len(override.RequestPatterns) > 0 {
			d.RequestPatterns = override.RequestPatterns
		}
		if override.TokenCookie != "" {
			d.TokenCookie = override.TokenCookie
		}
		if len(override.LookupURLs) > 0 {
			d.LookupURLs = override.LookupURLs
		}
		if override.ComposeWithCSRF != nil {
			d.ComposeWithCSRF = *override.ComposeWithCSRF
		}
		descriptors[platform] = d
	}

	return descriptors
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
