package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v2"

	"github.com/exrcache/exrcache/pkg/errors"
	"github.com/exrcache/exrcache/pkg/utils"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EXRCACHE_"

// Configuration represents the complete application configuration
type Configuration struct {
	Global GlobalConfig `yaml:"global"`
	Cache  CacheConfig  `yaml:"cache"`
	IO     IOConfig     `yaml:"io"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	LogFormat   string `yaml:"log_format"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// CacheConfig holds the pool preferences.
type CacheConfig struct {
	// MaxCaches is the number of decoded files kept. Zero disables caching.
	MaxCaches int `yaml:"max_caches"`

	// TimeoutSeconds is the idle time after which the sweep drops an
	// entry. Zero or less disables the sweep.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// AutoCacheChannels caches files with at least this many channels.
	AutoCacheChannels int `yaml:"auto_cache_channels"`

	// CacheChannels caches every file.
	CacheChannels bool `yaml:"cache_channels"`

	MaxEntrySize string        `yaml:"max_entry_size"`
	IdleInterval time.Duration `yaml:"idle_interval"`
}

// IOConfig holds stream and decode settings.
type IOConfig struct {
	MemoryMap          bool `yaml:"memory_map"`
	Threads            int  `yaml:"threads"`
	RenameFirstPart    bool `yaml:"rename_first_part"`
	ReconstructOffsets bool `yaml:"reconstruct_offsets"`
	WatchFiles         bool `yaml:"watch_files"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
		},
		Cache: CacheConfig{
			MaxCaches:         3,
			TimeoutSeconds:    30,
			AutoCacheChannels: 0,
			CacheChannels:     false,
			MaxEntrySize:      "4GB",
			IdleInterval:      5 * time.Second,
		},
		IO: IOConfig{
			ReconstructOffsets: true,
		},
	}
}

// Load builds the configuration from defaults, then filename when it is
// not empty, then the environment, and validates the result.
func Load(filename string) (*Configuration, error) {
	cfg := NewDefault()
	if filename != "" {
		if err := cfg.LoadFromFile(filename); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to read config file").
			WithContext("file", filename)
	}

	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to parse config file").
			WithContext("file", filename)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	var errs []string
	setInt := func(name string, dst *int) {
		if val := os.Getenv(EnvPrefix + name); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s=%q is not an integer", EnvPrefix, name, val))
				return
			}
			*dst = n
		}
	}
	setBool := func(name string, dst *bool) {
		if val := os.Getenv(EnvPrefix + name); val != "" {
			b, err := strconv.ParseBool(strings.ToLower(val))
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s=%q is not a boolean", EnvPrefix, name, val))
				return
			}
			*dst = b
		}
	}
	setString := func(name string, dst *string) {
		if val := os.Getenv(EnvPrefix + name); val != "" {
			*dst = val
		}
	}

	// Global settings
	setString("LOG_LEVEL", &c.Global.LogLevel)
	setString("LOG_FILE", &c.Global.LogFile)
	setString("LOG_FORMAT", &c.Global.LogFormat)
	setString("METRICS_ADDR", &c.Global.MetricsAddr)

	// Cache settings
	setInt("MAX_CACHES", &c.Cache.MaxCaches)
	setInt("TIMEOUT_SECONDS", &c.Cache.TimeoutSeconds)
	setInt("AUTO_CACHE_CHANNELS", &c.Cache.AutoCacheChannels)
	setBool("CACHE_CHANNELS", &c.Cache.CacheChannels)
	setString("MAX_ENTRY_SIZE", &c.Cache.MaxEntrySize)
	if val := os.Getenv(EnvPrefix + "IDLE_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Cache.IdleInterval = d
		} else {
			errs = append(errs, fmt.Sprintf("%sIDLE_INTERVAL=%q is not a duration", EnvPrefix, val))
		}
	}

	// IO settings
	setBool("MEMORY_MAP", &c.IO.MemoryMap)
	setInt("THREADS", &c.IO.Threads)
	setBool("RENAME_FIRST_PART", &c.IO.RenameFirstPart)
	setBool("RECONSTRUCT_OFFSETS", &c.IO.ReconstructOffsets)
	setBool("WATCH_FILES", &c.IO.WatchFiles)

	if len(errs) > 0 {
		return errors.NewError(errors.ErrCodeInvalidConfig, strings.Join(errs, "; ")).WithComponent("config")
	}
	return nil
}

// SaveToFile writes the configuration as YAML. The file is replaced
// atomically.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to marshal config")
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to create config directory")
	}

	if err := atomic.WriteFile(filename, bytes.NewReader(data)); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to write config file").
			WithContext("file", filename)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return errors.Newf(errors.ErrCodeConfigValidation, format, args...).WithComponent("config")
	}

	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		return invalid("invalid log_level: %s (must be one of: TRACE, DEBUG, INFO, WARN, ERROR, FATAL)", c.Global.LogLevel)
	}
	if _, err := utils.ParseLogFormat(c.Global.LogFormat); err != nil {
		return invalid("invalid log_format: %s (must be text or json)", c.Global.LogFormat)
	}
	if c.Cache.MaxCaches < 0 {
		return invalid("max_caches must not be negative")
	}
	if c.Cache.AutoCacheChannels < 0 {
		return invalid("auto_cache_channels must not be negative")
	}
	if _, err := c.MaxEntryBytes(); err != nil {
		return invalid("invalid max_entry_size %q: %v", c.Cache.MaxEntrySize, err)
	}
	if c.Cache.TimeoutSeconds > 0 && c.Cache.IdleInterval <= 0 {
		return invalid("idle_interval must be positive when timeout_seconds is set")
	}
	if c.IO.Threads < 0 {
		return invalid("threads must not be negative")
	}

	return nil
}

// MaxEntryBytes parses max_entry_size. An empty value or "0" means no
// limit.
func (c *Configuration) MaxEntryBytes() (int64, error) {
	if c.Cache.MaxEntrySize == "" {
		return 0, nil
	}
	return utils.ParseBytes(c.Cache.MaxEntrySize)
}

// Threads returns the decode thread count, defaulting to GOMAXPROCS.
func (c *Configuration) Threads() int {
	if c.IO.Threads > 0 {
		return c.IO.Threads
	}
	return runtime.GOMAXPROCS(0)
}
