// Package registry lists the classification models a user can pick from.
package registry

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/digitlab/digitlab/internal/entities"
	"github.com/digitlab/digitlab/internal/logger"
	"github.com/digitlab/digitlab/internal/ngsild"
	"github.com/digitlab/digitlab/internal/predictor"
)

const cacheKey = "models"

// ModelInfo is one selectable model.
type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// MockModel is always offered, first, whatever the broker says.
var MockModel = ModelInfo{
	ID:          predictor.MockModelID,
	Name:        "Mock model by default",
	Description: "Random prediction generator",
}

// EntityQuerier is the broker call the registry needs.
type EntityQuerier interface {
	QueryEntities(ctx context.Context, entityType string, limit, offset int) []ngsild.Entity
}

// CacheObserver is told about cache hits and misses.
type CacheObserver interface {
	RecordCacheLookup(hit bool)
}

// Registry maps MLModel entities to ModelInfo, caching the list for ttl.
type Registry struct {
	broker   EntityQuerier
	cache    *cache.Cache // nil when caching is disabled
	group    singleflight.Group
	log      logger.Logger
	observer CacheObserver
}

// New creates a registry. A ttl of 0 disables caching.
func New(broker EntityQuerier, ttl time.Duration, log logger.Logger, observer CacheObserver) *Registry {
	if log == nil {
		log = logger.Global().Module("registry")
	}
	r := &Registry{broker: broker, log: log, observer: observer}
	if ttl > 0 {
		r.cache = cache.New(ttl, 2*ttl)
	}
	return r
}

// List returns the mock model followed by every MLModel the broker knows.
// A broker failure leaves just the mock model. Empty results are not cached
// so a recovering broker shows up on the next call.
func (r *Registry) List(ctx context.Context) []ModelInfo {
	if r.cache != nil {
		if cached, found := r.cache.Get(cacheKey); found {
			if models, ok := cached.([]ModelInfo); ok {
				r.recordLookup(true)
				return cloneModels(models)
			}
		}
		r.recordLookup(false)
	}

	v, _, shared := r.group.Do(cacheKey, func() (any, error) {
		// Detach from the first caller's cancellation; other callers share the result.
		found := r.broker.QueryEntities(context.WithoutCancel(ctx), entities.TypeMLModel, ngsild.DefaultQueryLimit, 0)

		models := make([]ModelInfo, 0, len(found)+1)
		models = append(models, MockModel)
		for _, e := range found {
			models = append(models, toModelInfo(e))
		}

		if r.cache != nil && len(found) > 0 {
			r.cache.SetDefault(cacheKey, models)
		}
		return models, nil
	})

	models := v.([]ModelInfo)
	r.log.Debug("Model list resolved",
		logger.Int("count", len(models)),
		logger.Bool("shared", shared))
	return cloneModels(models)
}

func (r *Registry) recordLookup(hit bool) {
	if r.observer != nil {
		r.observer.RecordCacheLookup(hit)
	}
}

func toModelInfo(e ngsild.Entity) ModelInfo {
	id := e.ShortID()
	name, ok := e.StringProperty("name")
	if !ok || name == "" {
		name = "Model " + id
	}
	description, _ := e.StringProperty("description")
	return ModelInfo{ID: id, Name: name, Description: description}
}

func cloneModels(in []ModelInfo) []ModelInfo {
	return append([]ModelInfo(nil), in...)
}
