package saga

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/digitlab/digitlab/internal/entities"
	"github.com/digitlab/digitlab/internal/errors"
	"github.com/digitlab/digitlab/internal/imagestore"
	"github.com/digitlab/digitlab/internal/logger"
)

// Client-facing messages of the collect flow.
const (
	MsgMissingLabelOrImage = "Missing label or image data"
	MsgInvalidLabel        = "Invalid label, must be an integer 0-9"
	MsgTrainingImageFailed = "Failed to create TrainingImage entity in Context Broker"
)

// FlowCollect names the collect flow in logs and metrics.
const FlowCollect = "collect"

// CollectRequest is the decoded /api/collect body. Label stays untyped
// because clients send it both as a JSON number and as a string.
type CollectRequest struct {
	Label        any    `json:"label"`
	ImageDataB64 string `json:"imageDataB64"`
	Timestamp    string `json:"timestamp"`
}

// CollectResult identifies what was stored.
type CollectResult struct {
	ImageID  string
	EntityID string
	Label    int
}

// Collector stores a labeled drawing, records it as a TrainingImage and
// bumps the per-label DatasetSummary.
type Collector struct {
	broker Broker
	images ImageStore
	opts   options
}

// NewCollector wires the collect flow.
func NewCollector(broker Broker, images ImageStore, opts ...Option) *Collector {
	return &Collector{broker: broker, images: images, opts: buildOptions(opts)}
}

// Collect runs the flow. Only label/image validation and the TrainingImage
// create can fail it; summary maintenance is best effort.
func (c *Collector) Collect(ctx context.Context, req CollectRequest) (*CollectResult, error) {
	var (
		label     int
		data      []byte
		stored    imagestore.Stored
		result    = &CollectResult{}
		createdAt = req.Timestamp
	)
	if createdAt == "" {
		createdAt = entities.Timestamp(c.opts.now())
	}

	steps := []Step{
		{Name: "validate-label", Policy: PolicyAbort, Run: func(context.Context) error {
			if req.Label == nil || req.ImageDataB64 == "" {
				return errors.InvalidInput(MsgMissingLabelOrImage)
			}
			var err error
			label, err = ParseLabel(req.Label)
			return err
		}},
		{Name: "decode-image", Policy: PolicyAbort, Run: func(context.Context) error {
			var err error
			data, err = imagestore.DecodeDataURL(req.ImageDataB64)
			return err
		}},
		{Name: "store-image", Policy: PolicyAbort, Run: func(context.Context) error {
			result.ImageID = c.opts.newID()
			result.Label = label
			var err error
			stored, err = c.images.Save(imagestore.Collected, label, result.ImageID, data)
			return err
		}},
		{Name: "create-training-image", Policy: PolicyAbort, Run: func(ctx context.Context) error {
			img := entities.TrainingImage{
				ImageID:     result.ImageID,
				Label:       label,
				ImageURL:    stored.URL,
				StoragePath: stored.Path,
				CreatedAt:   createdAt,
			}
			result.EntityID = entities.TrainingImageID(result.ImageID)
			if _, err := c.broker.CreateEntity(ctx, img.Entity()); err != nil {
				return errors.New(err).
					Component("saga").
					Category(errors.CategoryUpstream).
					Public(MsgTrainingImageFailed).
					Context("entity_id", result.EntityID).
					Context("storage_path", stored.Path).
					Build()
			}
			return nil
		}},
		{Name: "update-dataset-summary", Policy: PolicyContinue, Run: func(ctx context.Context) error {
			return c.bumpSummary(ctx, label)
		}},
	}

	if err := run(ctx, &c.opts, FlowCollect, steps); err != nil {
		return nil, err
	}

	c.opts.log.Info("Digit collected",
		logger.Int("label", label),
		logger.String("image_id", result.ImageID),
		logger.String("entity_id", result.EntityID))
	return result, nil
}

// bumpSummary reads the label summary and either patches its count or
// creates it. Concurrent calls for the same label can lose an increment.
func (c *Collector) bumpSummary(ctx context.Context, label int) error {
	id := entities.DatasetSummaryID(label)
	now := entities.Timestamp(c.opts.now())

	summary, err := c.broker.GetEntity(ctx, id)
	switch {
	case errors.IsNotFound(err):
		_, err = c.broker.CreateEntity(ctx, entities.NewDatasetSummary(label, now))
		return err
	case err != nil:
		return err
	}

	count := entities.SampleCount(summary) + 1
	_, err = c.broker.UpdateEntityAttrs(ctx, id, entities.SummaryIncrement(count, now))
	return err
}

// ParseLabel accepts an integer 0..9 given as a JSON number or a numeric
// string. Fractions, booleans and anything out of range are rejected.
func ParseLabel(v any) (int, error) {
	var n int
	switch x := v.(type) {
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) {
			return 0, errors.InvalidInput(MsgInvalidLabel)
		}
		if x < math.MinInt32 || x > math.MaxInt32 {
			return 0, errors.InvalidInput(MsgInvalidLabel)
		}
		n = int(x)
	case int:
		n = x
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return 0, errors.InvalidInput(MsgInvalidLabel)
		}
		n = int(i)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, errors.InvalidInput(MsgInvalidLabel)
		}
		n = i
	default:
		return 0, errors.InvalidInput(MsgInvalidLabel)
	}

	if n < imagestore.MinLabel || n > imagestore.MaxLabel {
		return 0, errors.InvalidInput(MsgInvalidLabel)
	}
	return n, nil
}
