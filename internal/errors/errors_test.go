package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	reported []*EnhancedError
}

func (r *recordingReporter) ReportError(ee *EnhancedError) { r.reported = append(r.reported, ee) }
func (r *recordingReporter) IsEnabled() bool               { return true }

func TestBuildDefaults(t *testing.T) {
	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.False(t, ee.Timestamp.IsZero())
}

func TestBuildInheritsWrappedCategory(t *testing.T) {
	inner := New(NewStd("broker down")).Category(CategoryUpstream).Build()
	outer := New(fmt.Errorf("create entity: %w", inner)).Component("saga").Build()

	assert.Equal(t, CategoryUpstream, outer.Category)
	assert.Equal(t, "saga", outer.GetComponent())
	assert.True(t, IsCategory(outer, CategoryUpstream))
}

func TestContextIsCopied(t *testing.T) {
	ee := New(NewStd("x")).Context("entity_id", "urn:a").Build()

	ctx := ee.GetContext()
	ctx["entity_id"] = "changed"

	assert.Equal(t, "urn:a", ee.GetContext()["entity_id"])
}

func TestCategoryOf(t *testing.T) {
	assert.Equal(t, CategoryInvalidInput, CategoryOf(InvalidInput("Invalid label")))
	assert.Equal(t, CategoryInternal, CategoryOf(NewStd("plain")))
	assert.Equal(t, CategoryInternal, CategoryOf(nil))
}

func TestIsMatchesByCategory(t *testing.T) {
	a := New(NewStd("a")).Category(CategoryNotFound).Build()
	b := New(NewStd("b")).Category(CategoryNotFound).Build()

	assert.True(t, Is(a, b))
	assert.True(t, IsNotFound(a))
}

func TestTelemetryReporterReceivesErrors(t *testing.T) {
	reporter := &recordingReporter{}
	SetTelemetryReporter(reporter)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	New(NewStd("boom")).Category(CategoryInternal).Build()

	require.Len(t, reporter.reported, 1)
	assert.Equal(t, "boom", reporter.reported[0].Error())
}

func TestDisabledSentryReporterIsInactive(t *testing.T) {
	SetTelemetryReporter(NewSentryReporter(false))
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	assert.False(t, hasActiveReporting.Load())
}

func TestBasicURLScrub(t *testing.T) {
	scrubbed := basicURLScrub("Error at https://broker.example.com/ngsi-ld?api_key=secret123&token=abc")
	assert.Equal(t, "Error at https://broker.example.com/ngsi-ld?[REDACTED]", scrubbed)

	scrubbed = basicURLScrub("Auth failed with token=abc123 and auth=xyz789")
	assert.NotContains(t, scrubbed, "abc123")
	assert.NotContains(t, scrubbed, "xyz789")
}

func TestPublicMessage(t *testing.T) {
	t.Parallel()

	cause := NewStd("dial tcp: connection refused")
	upstream := New(cause).
		Category(CategoryUpstream).
		Public("Failed to create TrainingImage entity in Context Broker").
		Build()
	wrapped := fmt.Errorf("collect: %w", upstream)

	msg, ok := PublicMessage(wrapped)
	assert.True(t, ok)
	assert.Equal(t, "Failed to create TrainingImage entity in Context Broker", msg)
	assert.ErrorIs(t, wrapped, cause)

	msg, ok = PublicMessage(InvalidInput("Missing image data"))
	assert.True(t, ok)
	assert.Equal(t, "Missing image data", msg)

	_, ok = PublicMessage(New(cause).Category(CategoryFileIO).Build())
	assert.False(t, ok)
	_, ok = PublicMessage(nil)
	assert.False(t, ok)
}
