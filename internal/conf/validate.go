// validate.go contains validation logic for the configuration settings.
package conf

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"

	"github.com/labstack/echo/v4/middleware"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateServerSettings(&settings.Server); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateBrokerSettings(&settings.Broker); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateStorageSettings(&settings.Storage); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if settings.Registry.CacheTTL < 0 {
		ve.Errors = append(ve.Errors, "registry.cachettl must not be negative")
	}

	if settings.Telemetry.SentryDSN != "" {
		if err := validateEnvURL(settings.Telemetry.SentryDSN); err != nil {
			ve.Errors = append(ve.Errors, fmt.Sprintf("telemetry.sentrydsn: %v", err))
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateServerSettings(s *ServerSettings) error {
	port, err := strconv.Atoi(s.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("server.port must be a number between 1 and 65535, got '%s'", s.Port)
	}
	if s.RateLimit < 0 {
		return fmt.Errorf("server.ratelimit must not be negative")
	}
	if s.RateLimit > 0 && s.RateBurst < 1 {
		return fmt.Errorf("server.rateburst must be at least 1 when rate limiting is enabled")
	}
	if s.AutoTLS && s.TLSHost == "" {
		return fmt.Errorf("server.tlshost is required when server.autotls is enabled")
	}
	if s.BodyLimit != "" {
		if err := checkBodyLimit(s.BodyLimit); err != nil {
			return err
		}
	}
	return nil
}

// checkBodyLimit lets echo parse the limit; it panics on malformed values.
func checkBodyLimit(limit string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("server.bodylimit '%s' is not a valid size", limit)
		}
	}()
	middleware.BodyLimit(limit)
	return nil
}

func validateBrokerSettings(b *BrokerSettings) error {
	u, err := url.Parse(b.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("broker.url must be an absolute http(s) URL, got '%s'", b.URL)
	}
	if b.Timeout <= 0 {
		return fmt.Errorf("broker.timeout must be positive")
	}
	return nil
}

func validateStorageSettings(s *StorageSettings) error {
	if s.ImagesDir == "" || s.PredictionsDir == "" {
		return fmt.Errorf("storage.imagesdir and storage.predictionsdir must both be set")
	}
	a, errA := filepath.Abs(s.ImagesDir)
	b, errB := filepath.Abs(s.PredictionsDir)
	if errA == nil && errB == nil && a == b {
		return fmt.Errorf("storage.imagesdir and storage.predictionsdir must differ")
	}
	return nil
}
