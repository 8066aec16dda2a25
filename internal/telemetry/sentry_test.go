package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitlab/digitlab/internal/buildinfo"
	"github.com/digitlab/digitlab/internal/conf"
	"github.com/digitlab/digitlab/internal/errors"
)

// mockTransport implements sentry.Transport and keeps every event in memory.
type mockTransport struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (t *mockTransport) Configure(sentry.ClientOptions) {} //nolint:gocritic // interface signature

func (t *mockTransport) SendEvent(event *sentry.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
}

func (t *mockTransport) Flush(time.Duration) bool { return true }
func (t *mockTransport) FlushWithContext(context.Context) bool { return true }
func (t *mockTransport) Close() {}

func (t *mockTransport) Events() []*sentry.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*sentry.Event(nil), t.events...)
}

const testDSN = "https://public@sentry.example.com/1"

func setupSentry(t *testing.T) *mockTransport {
	t.Helper()
	transport := &mockTransport{}
	enabled, err := initWithTransport(
		conf.TelemetrySettings{SentryDSN: testDSN, Environment: "test"},
		buildinfo.NewContext("1.2.3", "2026-10-16"),
		transport,
	)
	require.NoError(t, err)
	require.True(t, enabled)
	t.Cleanup(func() { Close(time.Second) })
	return transport
}

func TestInit_DisabledWithoutDSN(t *testing.T) {
	enabled, err := Init(conf.TelemetrySettings{}, buildinfo.NewContext("1.0.0", ""))
	require.NoError(t, err)
	assert.False(t, enabled)
	assert.Nil(t, errors.GetTelemetryReporter())

	// Close without a prior successful Init is a no-op.
	Close(time.Millisecond)
}

func TestInit_ReportsUpstreamErrors(t *testing.T) {
	transport := setupSentry(t)

	_ = errors.Newf("broker returned 503 for http://broker:1026/ngsi-ld/v1/entities?token=abc").
		Component("saga").
		Category(errors.CategoryUpstream).
		Build()

	events := transport.Events()
	require.Len(t, events, 1)
	event := events[0]
	assert.Equal(t, "test", event.Environment)
	assert.Equal(t, "digitlab@1.2.3", event.Release)
	assert.Equal(t, "saga", event.Tags["component"])
	assert.NotContains(t, event.Message, "token=abc")
}

func TestInit_SkipsInvalidInput(t *testing.T) {
	transport := setupSentry(t)

	_ = errors.InvalidInput("Missing label or image data")

	assert.Empty(t, transport.Events())
}

func TestClose_DetachesReporter(t *testing.T) {
	_ = setupSentry(t)
	require.NotNil(t, errors.GetTelemetryReporter())

	Close(time.Second)
	assert.Nil(t, errors.GetTelemetryReporter())
}

func TestBeforeSendStripsIdentity(t *testing.T) {
	t.Parallel()

	event := &sentry.Event{
		ServerName: "digits-host",
		User:       sentry.User{ID: "42", IPAddress: "198.51.100.7"},
		Tags:       map[string]string{"hostname": "digits-host", "component": "api"},
		Contexts:   map[string]sentry.Context{"os": {"name": "linux"}, "app": {"name": "digitlab"}},
		Request: &sentry.Request{
			URL:     "http://localhost:5000/api/collect",
			Cookies: "session=1",
			Headers: map[string]string{"Authorization": "Bearer x"},
		},
	}

	out := beforeSend(event, nil)
	require.NotNil(t, out)
	assert.Empty(t, out.ServerName)
	assert.True(t, out.User.IsEmpty())
	assert.NotContains(t, out.Tags, "hostname")
	assert.Equal(t, "api", out.Tags["component"])
	assert.NotContains(t, out.Contexts, "os")
	assert.Contains(t, out.Contexts, "app")
	assert.Empty(t, out.Request.Cookies)
	assert.Nil(t, out.Request.Headers)
	assert.Equal(t, "http://localhost:5000/api/collect", out.Request.URL)
}
