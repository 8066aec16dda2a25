// Package telemetry wires Sentry error reporting into the errors package.
//
// Reporting is opt-in: with no DSN configured Init is a no-op and the errors
// package keeps its reporter unset.
package telemetry

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/digitlab/digitlab/internal/buildinfo"
	"github.com/digitlab/digitlab/internal/conf"
	"github.com/digitlab/digitlab/internal/errors"
	"github.com/digitlab/digitlab/internal/logger"
)

// DefaultFlushTimeout bounds how long Close waits for queued events.
const DefaultFlushTimeout = 2 * time.Second

var initialized atomic.Bool

// GetLogger returns the telemetry package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}

// Init configures Sentry from settings and registers the Sentry reporter
// with the errors package. It returns false when telemetry is disabled.
func Init(settings conf.TelemetrySettings, build *buildinfo.Context) (bool, error) {
	return initWithTransport(settings, build, nil)
}

func initWithTransport(settings conf.TelemetrySettings, build *buildinfo.Context, transport sentry.Transport) (bool, error) {
	if settings.SentryDSN == "" {
		errors.SetTelemetryReporter(nil)
		GetLogger().Debug("Telemetry disabled, no Sentry DSN configured")
		return false, nil
	}

	environment := settings.Environment
	if environment == "" {
		environment = "production"
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.SentryDSN,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      environment,
		ServerName:       "",
		Release:          fmt.Sprintf("digitlab@%s", build.Version()),
		BeforeSend:       beforeSend,
		Transport:        transport,
	})
	if err != nil {
		return false, errors.New(fmt.Errorf("sentry initialization failed: %w", err)).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	initialized.Store(true)

	GetLogger().Info("Telemetry enabled",
		logger.String("environment", environment),
		logger.String("release", build.Version()))
	return true, nil
}

// Close flushes buffered events and detaches the reporter. Safe to call
// when Init was never called or telemetry is disabled.
func Close(timeout time.Duration) {
	if !initialized.Swap(false) {
		return
	}
	errors.SetTelemetryReporter(nil)
	if !sentry.Flush(timeout) {
		GetLogger().Warn("Timed out flushing telemetry events", logger.Duration("timeout", timeout))
	}
}

// beforeSend strips host and user identifying data from every event.
func beforeSend(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	if event.Request != nil {
		event.Request.Cookies = ""
		event.Request.Headers = nil
		event.Request.Env = nil
	}

	return event
}
