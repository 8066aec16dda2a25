// Package conf provides configuration management for digitlab.
//
// Settings are resolved in increasing priority: built-in defaults, an
// optional config.yaml, environment variables and finally command line flags
// bound by the cmd package.
package conf

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/digitlab/digitlab/internal/errors"
	"github.com/digitlab/digitlab/internal/logger"
)

// Settings is the complete runtime configuration. It is built once at
// startup and handed to constructors; nothing reads it through globals
// except the CLI layer.
type Settings struct {
	Debug bool `yaml:"debug"`

	Server    ServerSettings    `yaml:"server"`
	Broker    BrokerSettings    `yaml:"broker"`
	Storage   StorageSettings   `yaml:"storage"`
	Registry  RegistrySettings  `yaml:"registry"`
	Metrics   MetricsSettings   `yaml:"metrics"`
	Logging   LoggingSettings   `yaml:"logging"`
	Telemetry TelemetrySettings `yaml:"telemetry"`
}

// ServerSettings configures the inbound HTTP server.
type ServerSettings struct {
	Host      string  `yaml:"host"`
	Port      string  `yaml:"port"`
	BodyLimit string  `yaml:"bodylimit"` // echo BodyLimit syntax, e.g. "5M"
	RateLimit float64 `yaml:"ratelimit"` // requests per second per client IP, 0 disables
	RateBurst int     `yaml:"rateburst"`
	AutoTLS   bool    `yaml:"autotls"` // obtain certificates from Let's Encrypt
	TLSHost   string  `yaml:"tlshost"` // host name allowed for AutoTLS
	CacheDir  string  `yaml:"cachedir"`
}

// BrokerSettings configures the NGSI-LD context broker connection.
type BrokerSettings struct {
	URL       string        `yaml:"url"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"useragent"`
}

// StorageSettings holds the two on-disk image roots.
type StorageSettings struct {
	ImagesDir      string `yaml:"imagesdir"`
	PredictionsDir string `yaml:"predictionsdir"`
}

// RegistrySettings configures the MLModel listing cache.
type RegistrySettings struct {
	CacheTTL time.Duration `yaml:"cachettl"` // 0 disables caching
}

// MetricsSettings toggles the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingSettings configures console and file logging.
type LoggingSettings struct {
	Level    string            `yaml:"level"`
	Timezone string            `yaml:"timezone"`
	File     FileLogSettings   `yaml:"file"`
	Modules  map[string]string `yaml:"modules"` // per-module level overrides
}

// FileLogSettings configures JSON file logging.
type FileLogSettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TelemetrySettings configures Sentry error reporting.
type TelemetrySettings struct {
	SentryDSN   string `yaml:"sentrydsn"`
	Environment string `yaml:"environment"`
}

// ListenAddress returns host:port for the HTTP server.
func (s *Settings) ListenAddress() string {
	return net.JoinHostPort(s.Server.Host, s.Server.Port)
}

// LoggerConfig converts the logging section into a logger.LoggingConfig.
func (s *Settings) LoggerConfig() *logger.LoggingConfig {
	level := s.Logging.Level
	if s.Debug {
		level = string(logger.LogLevelDebug)
	}
	return &logger.LoggingConfig{
		DefaultLevel: level,
		Timezone:     s.Logging.Timezone,
		Console:      &logger.ConsoleOutput{Enabled: true, Level: level},
		FileOutput: &logger.FileOutput{
			Enabled: s.Logging.File.Enabled,
			Path:    s.Logging.File.Path,
			Level:   level,
		},
		ModuleLevels: s.Logging.Modules,
	}
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// ConfigFileKey is the viper key holding an explicit config file path.
const ConfigFileKey = "config"

// Load resolves defaults, config file, environment and flags into Settings
// and validates the result.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(); err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error unmarshaling config into struct: %w", err)).
			Category(errors.CategoryConfiguration).
			Component("conf").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error validating settings: %w", err)).
			Category(errors.CategoryConfiguration).
			Component("conf").
			Build()
	}

	settingsInstance = settings
	return settings, nil
}

// GetSettings returns the settings produced by the last successful Load.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

func initViper() error {
	setDefaultConfig()

	if err := bindEnvVars(); err != nil {
		return errors.New(err).
			Category(errors.CategoryConfiguration).
			Component("conf").
			Context("operation", "bind-env").
			Build()
	}

	if explicit := viper.GetString(ConfigFileKey); explicit != "" {
		viper.SetConfigFile(explicit)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		for _, path := range defaultConfigPaths() {
			viper.AddConfigPath(path)
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// no config file is fine, defaults and env cover everything
			return nil
		}
		return errors.New(fmt.Errorf("error reading config file: %w", err)).
			Category(errors.CategoryConfiguration).
			Component("conf").
			Build()
	}

	GetLogger().Info("Loaded config file", logger.String("path", viper.ConfigFileUsed()))
	return nil
}

// defaultConfigPaths lists the directories searched for config.yaml.
func defaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "digitlab"))
	}
	return append(paths, "/etc/digitlab")
}

// GetLogger returns the config package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
