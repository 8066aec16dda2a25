// Package predictor defines the digit classifier interface and the mock
// model that stands in for a real one.
package predictor

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/digitlab/digitlab/internal/errors"
)

// NumClasses is the number of digit classes.
const NumClasses = 10

// MockModelID identifies the built-in random model.
const MockModelID = "mock"

// Model classifies one drawing into a probability distribution over digits.
type Model interface {
	ID() string
	// Predict returns NumClasses non-negative values summing to 1.
	Predict(ctx context.Context, image []byte) ([]float64, error)
}

// Prediction is the distribution plus its argmax.
type Prediction struct {
	Label         int
	Confidence    float64
	Probabilities []float64
}

// Evaluate runs m and picks the most likely label. Ties go to the lowest label.
func Evaluate(ctx context.Context, m Model, image []byte) (Prediction, error) {
	probs, err := m.Predict(ctx, image)
	if err != nil {
		return Prediction{}, err
	}
	if len(probs) != NumClasses {
		return Prediction{}, errors.Newf("model %s returned %d classes, want %d", m.ID(), len(probs), NumClasses).
			Component("predictor").
			Category(errors.CategoryInternal).
			Build()
	}

	label := 0
	for i, p := range probs {
		if p > probs[label] {
			label = i
		}
	}
	return Prediction{Label: label, Confidence: probs[label], Probabilities: probs}, nil
}

// Mock draws ten uniform values and normalises them. The image is ignored.
type Mock struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewMock returns a mock model. A nil src uses a randomly seeded PCG.
func NewMock(src rand.Source) *Mock {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Mock{rng: rand.New(src)}
}

func (m *Mock) ID() string { return MockModelID }

func (m *Mock) Predict(ctx context.Context, _ []byte) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw := make([]float64, NumClasses)
	var sum float64

	m.mu.Lock()
	// An all-zero draw cannot be normalised; draw again.
	for sum == 0 {
		for i := range raw {
			raw[i] = m.rng.Float64()
			sum += raw[i]
		}
	}
	m.mu.Unlock()

	for i := range raw {
		raw[i] /= sum
	}
	return raw, nil
}
