// Package api provides the HTTP server infrastructure for digitlab.
// The server wires middleware, the HTML pages and the metrics endpoint;
// the JSON endpoints live in the v2 subpackage.
package api

import (
	"fmt"
	"net"
	"time"

	"github.com/digitlab/digitlab/internal/conf"
)

// Default constants for the HTTP server.
const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultMetricsPath     = "/metrics"
)

// Config holds the HTTP server configuration derived from conf.Settings.
type Config struct {
	// Server binding
	Host string
	Port string

	// AutoTLS obtains certificates from Let's Encrypt for TLSHost and caches
	// them in CacheDir.
	AutoTLS  bool
	TLSHost  string
	CacheDir string

	// Timeouts
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Limits
	BodyLimit string  // e.g. "5M"
	RateLimit float64 // requests per second per client IP on /api, 0 disables
	RateBurst int

	// Metrics endpoint
	MetricsEnabled bool
	MetricsPath    string

	Debug bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:            conf.DefaultPort,
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		BodyLimit:       "5M",
		MetricsPath:     DefaultMetricsPath,
	}
}

// ConfigFromSettings creates a Config from the application settings.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()

	cfg.Host = settings.Server.Host
	if settings.Server.Port != "" {
		cfg.Port = settings.Server.Port
	}
	cfg.AutoTLS = settings.Server.AutoTLS
	cfg.TLSHost = settings.Server.TLSHost
	cfg.CacheDir = settings.Server.CacheDir

	if settings.Server.BodyLimit != "" {
		cfg.BodyLimit = settings.Server.BodyLimit
	}
	cfg.RateLimit = settings.Server.RateLimit
	cfg.RateBurst = settings.Server.RateBurst

	cfg.MetricsEnabled = settings.Metrics.Enabled
	if settings.Metrics.Path != "" {
		cfg.MetricsPath = settings.Metrics.Path
	}

	cfg.Debug = settings.Debug
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if c.AutoTLS && c.TLSHost == "" {
		return fmt.Errorf("autotls requires a tls host")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	if c.MetricsEnabled && (c.MetricsPath == "" || c.MetricsPath[0] != '/') {
		return fmt.Errorf("metrics path must start with /: %q", c.MetricsPath)
	}

	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}

	return nil
}

// Address returns the full address string for the server to listen on.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// String returns a human-readable representation of the config.
func (c *Config) String() string {
	tlsStatus := "disabled"
	if c.AutoTLS {
		tlsStatus = "auto (Let's Encrypt)"
	}

	return fmt.Sprintf("Server Config: address=%s, tls=%s, debug=%v",
		c.Address(), tlsStatus, c.Debug)
}
