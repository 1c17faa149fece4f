package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dgnsrekt/netmon/internal/capture"
	"github.com/dgnsrekt/netmon/internal/monitor"
)

// Config holds all configuration for netmon.
type Config struct {
	// CDP connection settings. CDPURL, when set, overrides address and port.
	CDPURL       string
	CDPAddress   string
	CDPPort      int
	TabURLFilter string

	// HTTP API
	BindAddr         string
	BindAutoFallback bool
	BindCandidates   []string

	LogLevel string
	LogFile  string

	// Capture behavior
	CaptureRequestBodies  bool
	CaptureResponseBodies bool
	MaxBodyBytes          int
	MaxEvents             int
	SlowThresholdMS       int

	// Filters
	URLFilter          string
	URLFilterRegex     bool
	MethodFilter       []string
	ResourceTypeFilter []string
	FilterFile         string

	// Outputs
	TapFile      string
	TapMaxSizeMB int
	ArchiveDir   string
	NotifyURL    string
	StreamBuffer int
}

// Load reads configuration from environment variables and optional .env file.
// A filter file named by NETMON_FILTER_FILE replaces the env filters.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPURL:                os.Getenv("NETMON_CDP_URL"),
		CDPAddress:            getEnvOrDefault("NETMON_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:               getEnvIntOrDefault("NETMON_CDP_PORT", 9222),
		TabURLFilter:          os.Getenv("NETMON_TAB_URL_FILTER"),
		BindAddr:              getEnvOrDefault("NETMON_BIND_ADDR", "127.0.0.1:8190"),
		BindAutoFallback:      getEnvBoolOrDefault("NETMON_BIND_AUTO_FALLBACK", true),
		BindCandidates:        getEnvListOrDefault("NETMON_BIND_CANDIDATES", []string{"127.0.0.1:8191", "127.0.0.1:8192", "127.0.0.1:8193"}),
		LogLevel:              strings.ToLower(getEnvOrDefault("NETMON_LOG_LEVEL", "info")),
		LogFile:               getEnvOrDefault("NETMON_LOG_FILE", "logs/netmon.log"),
		CaptureRequestBodies:  getEnvBoolOrDefault("NETMON_CAPTURE_REQUEST_BODIES", true),
		CaptureResponseBodies: getEnvBoolOrDefault("NETMON_CAPTURE_RESPONSE_BODIES", true),
		MaxBodyBytes:          getEnvIntOrDefault("NETMON_MAX_BODY_BYTES", monitor.DefaultMaxBodySize),
		MaxEvents:             getEnvIntOrDefault("NETMON_MAX_EVENTS", monitor.DefaultMaxEvents),
		SlowThresholdMS:       getEnvIntOrDefault("NETMON_SLOW_THRESHOLD_MS", int(monitor.DefaultSlowRequestThreshold/time.Millisecond)),
		URLFilter:             os.Getenv("NETMON_URL_FILTER"),
		URLFilterRegex:        getEnvBoolOrDefault("NETMON_URL_FILTER_REGEX", false),
		MethodFilter:          getEnvListOrDefault("NETMON_METHOD_FILTER", nil),
		ResourceTypeFilter:    getEnvListOrDefault("NETMON_RESOURCE_TYPE_FILTER", nil),
		FilterFile:            os.Getenv("NETMON_FILTER_FILE"),
		TapFile:               os.Getenv("NETMON_TAP_FILE"),
		TapMaxSizeMB:          getEnvIntOrDefault("NETMON_TAP_MAX_SIZE_MB", 100),
		ArchiveDir:            getEnvOrDefault("NETMON_ARCHIVE_DIR", "./reports"),
		NotifyURL:             os.Getenv("NETMON_NOTIFY_URL"),
		StreamBuffer:          getEnvIntOrDefault("NETMON_STREAM_BUFFER", 256),
	}

	if cfg.FilterFile != "" {
		ff, err := LoadFilterFile(cfg.FilterFile)
		if err != nil {
			return nil, err
		}
		ff.apply(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the monitor cannot run with.
func (c *Config) Validate() error {
	if c.MaxEvents <= 0 {
		return fmt.Errorf("NETMON_MAX_EVENTS must be positive, got %d", c.MaxEvents)
	}
	// The monitor reads a zero threshold or body limit as "use the default",
	// so an explicit 0 here would be silently replaced.
	if c.SlowThresholdMS <= 0 {
		return fmt.Errorf("NETMON_SLOW_THRESHOLD_MS must be positive, got %d", c.SlowThresholdMS)
	}
	if c.MaxBodyBytes == 0 {
		return fmt.Errorf("NETMON_MAX_BODY_BYTES must not be 0: set NETMON_CAPTURE_REQUEST_BODIES/NETMON_CAPTURE_RESPONSE_BODIES=false to skip bodies, or a negative value for no limit")
	}
	if c.URLFilterRegex && c.URLFilter == "" {
		return fmt.Errorf("NETMON_URL_FILTER_REGEX is set without NETMON_URL_FILTER")
	}
	if _, err := capture.ParseURLPattern(c.URLFilter, c.URLFilterRegex); err != nil {
		return err
	}
	return nil
}

// GetCDPURL returns the full CDP HTTP endpoint used by chromedp remote allocator.
func (c *Config) GetCDPURL() string {
	if c.CDPURL != "" {
		return c.CDPURL
	}
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

// MonitorOptions converts the capture settings into monitor options. The
// callback fields (OnError, Sink, Metrics) are left for the caller.
func (c *Config) MonitorOptions() (monitor.Options, error) {
	pattern, err := capture.ParseURLPattern(c.URLFilter, c.URLFilterRegex)
	if err != nil {
		return monitor.Options{}, err
	}
	return monitor.Options{
		CaptureRequestBodies:  c.CaptureRequestBodies,
		CaptureResponseBodies: c.CaptureResponseBodies,
		MaxBodySize:           c.MaxBodyBytes,
		URLFilter:             pattern,
		MethodFilter:          c.MethodFilter,
		ResourceTypeFilter:    c.ResourceTypeFilter,
		SlowRequestThreshold:  time.Duration(c.SlowThresholdMS) * time.Millisecond,
		MaxEvents:             c.MaxEvents,
	}, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
		slog.Warn("ignoring invalid integer env value", "key", key, "value", val)
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
		slog.Warn("ignoring invalid boolean env value", "key", key, "value", val)
	}
	return defaultVal
}

// getEnvListOrDefault splits a comma separated value, dropping blanks.
func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
