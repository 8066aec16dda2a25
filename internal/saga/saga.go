// Package saga runs the multi-step write flows behind the collect and
// predict endpoints.
//
// A flow is an ordered list of named steps. Each step carries a failure
// policy: PolicyAbort stops the flow and returns the error, PolicyContinue
// logs it as a secondary-write failure and moves on. Nothing is rolled back
// and nothing is retried, so a failed flow may leave earlier side effects
// (a stored file, a created entity) in place.
package saga

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/digitlab/digitlab/internal/errors"
	"github.com/digitlab/digitlab/internal/imagestore"
	"github.com/digitlab/digitlab/internal/logger"
	"github.com/digitlab/digitlab/internal/ngsild"
)

// Policy decides what a step failure does to the rest of the flow.
type Policy int

const (
	// PolicyAbort stops the flow on failure.
	PolicyAbort Policy = iota
	// PolicyContinue logs the failure and runs the next step.
	PolicyContinue
)

func (p Policy) String() string {
	if p == PolicyContinue {
		return "continue"
	}
	return "abort"
}

// Step outcomes reported to the observer.
const (
	OutcomeSuccess   = "success"
	OutcomeFailed    = "failed"
	OutcomeContinued = "continued"
)

// Step is one named unit of work.
type Step struct {
	Name   string
	Policy Policy
	Run    func(ctx context.Context) error
}

// Observer receives one call per executed step.
type Observer interface {
	RecordStep(flow, step, outcome string, duration time.Duration)
}

// Broker is the part of the context broker client the flows use.
type Broker interface {
	CreateEntity(ctx context.Context, entity ngsild.Entity) (*ngsild.Response, error)
	GetEntity(ctx context.Context, id string) (ngsild.Entity, error)
	UpdateEntityAttrs(ctx context.Context, id string, attrs ngsild.Attributes) (*ngsild.Response, error)
}

// ImageStore persists decoded drawings.
type ImageStore interface {
	Save(kind imagestore.Kind, label int, id string, data []byte) (imagestore.Stored, error)
}

// options shared by Collector and Predictor.
type options struct {
	log      logger.Logger
	observer Observer
	now      func() time.Time
	newID    func() string
}

// Option configures a flow.
type Option func(*options)

// WithLogger sets the flow logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithObserver attaches step metrics.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator replaces uuid.NewString for image and prediction ids.
func WithIDGenerator(newID func() string) Option {
	return func(o *options) { o.newID = newID }
}

func buildOptions(opts []Option) options {
	o := options{
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Global().Module("saga")
	}
	return o
}

// run executes steps in order and stops at the first aborting failure.
func run(ctx context.Context, o *options, flow string, steps []Step) error {
	log := o.log.WithContext(ctx).With(logger.String("flow", flow))

	for _, step := range steps {
		start := time.Now()
		err := step.Run(ctx)
		elapsed := time.Since(start)

		if err == nil {
			o.record(flow, step.Name, OutcomeSuccess, elapsed)
			log.Debug("Step completed",
				logger.String("step", step.Name),
				logger.Duration("duration", elapsed))
			continue
		}

		if step.Policy == PolicyContinue {
			o.record(flow, step.Name, OutcomeContinued, elapsed)
			swallowed := errors.New(err).
				Component("saga").
				Category(errors.CategorySecondaryWrite).
				Context("flow", flow).
				Context("step", step.Name).
				Build()
			log.Warn("Step failed, continuing",
				logger.String("step", step.Name),
				logger.Error(swallowed))
			continue
		}

		o.record(flow, step.Name, OutcomeFailed, elapsed)
		if !errors.IsCategory(err, errors.CategoryInvalidInput) {
			log.Error("Step failed, aborting",
				logger.String("step", step.Name),
				logger.Error(err))
		}
		return err
	}
	return nil
}

func (o *options) record(flow, step, outcome string, d time.Duration) {
	if o.observer != nil {
		o.observer.RecordStep(flow, step, outcome, d)
	}
}
