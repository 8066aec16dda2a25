package saga

import (
	"context"
	"math"

	"github.com/digitlab/digitlab/internal/entities"
	"github.com/digitlab/digitlab/internal/imagestore"
	"github.com/digitlab/digitlab/internal/logger"
	"github.com/digitlab/digitlab/internal/predictor"
)

// FlowPredict names the predict flow in logs and metrics.
const FlowPredict = "predict"

// PredictRequest is the decoded /api/predict body.
type PredictRequest struct {
	ImageDataB64 string `json:"imageDataB64"`
	ModelID      string `json:"modelId"`
	Timestamp    string `json:"timestamp"`
}

// PredictResult is the response payload of /api/predict.
type PredictResult struct {
	PredictedLabel int       `json:"predicted_label"`
	Confidence     float64   `json:"confidence"` // percent, two decimals
	AllConfidences []float64 `json:"all_confidences"`
	PredictionID   string    `json:"prediction_id"`
	EntityID       string    `json:"entity_id"`
}

// Predictor classifies a drawing, keeps the image and records a
// PredictionResult. The broker write never fails the request.
type Predictor struct {
	broker Broker
	images ImageStore
	model  predictor.Model
	opts   options
}

// NewPredictor wires the predict flow around model.
func NewPredictor(broker Broker, images ImageStore, model predictor.Model, opts ...Option) *Predictor {
	return &Predictor{broker: broker, images: images, model: model, opts: buildOptions(opts)}
}

// Predict runs the flow.
func (p *Predictor) Predict(ctx context.Context, req PredictRequest) (*PredictResult, error) {
	modelID := req.ModelID
	if modelID == "" {
		modelID = predictor.MockModelID
	}

	var (
		data         []byte
		predictionID string
		prediction   predictor.Prediction
		stored       imagestore.Stored
		entityID     string
	)

	steps := []Step{
		{Name: "decode-image", Policy: PolicyAbort, Run: func(context.Context) error {
			var err error
			data, err = imagestore.DecodeDataURL(req.ImageDataB64)
			return err
		}},
		{Name: "predict", Policy: PolicyAbort, Run: func(ctx context.Context) error {
			predictionID = p.opts.newID()
			var err error
			prediction, err = predictor.Evaluate(ctx, p.model, data)
			return err
		}},
		{Name: "store-image", Policy: PolicyAbort, Run: func(context.Context) error {
			var err error
			stored, err = p.images.Save(imagestore.Predicted, prediction.Label, predictionID, data)
			return err
		}},
		{Name: "create-prediction-result", Policy: PolicyContinue, Run: func(ctx context.Context) error {
			result := entities.PredictionResult{
				PredictionID:   predictionID,
				PredictedLabel: prediction.Label,
				Confidence:     prediction.Confidence,
				AllConfidences: prediction.Probabilities,
				ImageURL:       stored.URL,
				StoragePath:    stored.Path,
				CreatedAt:      entities.Timestamp(p.opts.now()),
				ModelID:        modelID,
			}
			entityID = entities.PredictionResultID(predictionID)
			_, err := p.broker.CreateEntity(ctx, result.Entity())
			return err
		}},
	}

	if err := run(ctx, &p.opts, FlowPredict, steps); err != nil {
		return nil, err
	}

	p.opts.log.Info("Prediction made",
		logger.Int("label", prediction.Label),
		logger.Float64("confidence", prediction.Confidence),
		logger.String("model_id", modelID),
		logger.String("prediction_id", predictionID))

	return &PredictResult{
		PredictedLabel: prediction.Label,
		Confidence:     roundPercent(prediction.Confidence),
		AllConfidences: prediction.Probabilities,
		PredictionID:   predictionID,
		EntityID:       entityID,
	}, nil
}

// roundPercent turns a 0..1 probability into a percentage with two decimals.
func roundPercent(p float64) float64 {
	return math.Round(p*100*100) / 100
}
