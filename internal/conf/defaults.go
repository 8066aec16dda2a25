// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Default values shared with other packages.
const (
	DefaultBrokerURL      = "http://localhost:1026"
	DefaultImagesDir      = "collected_images"
	DefaultPredictionsDir = "predicted_images"
	DefaultPort           = "5001"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", DefaultPort)
	viper.SetDefault("server.bodylimit", "5M")
	viper.SetDefault("server.ratelimit", 0)
	viper.SetDefault("server.rateburst", 20)
	viper.SetDefault("server.autotls", false)
	viper.SetDefault("server.tlshost", "")
	viper.SetDefault("server.cachedir", ".autocert")

	viper.SetDefault("broker.url", DefaultBrokerURL)
	viper.SetDefault("broker.timeout", 10*time.Second)
	viper.SetDefault("broker.useragent", "digitlab")

	viper.SetDefault("storage.imagesdir", DefaultImagesDir)
	viper.SetDefault("storage.predictionsdir", DefaultPredictionsDir)

	viper.SetDefault("registry.cachettl", 30*time.Second)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.file.enabled", false)
	viper.SetDefault("logging.file.path", "logs/digitlab.log")

	viper.SetDefault("telemetry.sentrydsn", "")
	viper.SetDefault("telemetry.environment", "production")
}
