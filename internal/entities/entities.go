// Package entities builds the NGSI-LD documents the application stores in
// the context broker.
package entities

import (
	"strconv"
	"time"

	"github.com/digitlab/digitlab/internal/ngsild"
)

// Entity types.
const (
	TypeTrainingImage    = "TrainingImage"
	TypeDatasetSummary   = "DatasetSummary"
	TypePredictionResult = "PredictionResult"
	TypeMLModel          = "MLModel"
)

const urnPrefix = "urn:ngsi-ld:"

// TrainingImageID is the entity id for a collected image.
func TrainingImageID(imageID string) string {
	return urnPrefix + TypeTrainingImage + ":" + imageID
}

// DatasetSummaryID is the single summary id for a label.
func DatasetSummaryID(label int) string {
	return urnPrefix + TypeDatasetSummary + ":digit_" + strconv.Itoa(label)
}

// PredictionResultID is the entity id for a prediction.
func PredictionResultID(predictionID string) string {
	return urnPrefix + TypePredictionResult + ":" + predictionID
}

// Timestamp formats t as the UTC ISO 8601 string stored in DateTime values.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// TrainingImage is one labeled drawing.
type TrainingImage struct {
	ImageID     string
	Label       int
	ImageURL    string
	StoragePath string
	CreatedAt   string
}

// Entity renders the broker document.
func (ti TrainingImage) Entity() ngsild.Entity {
	return ngsild.NewEntity(TrainingImageID(ti.ImageID), TypeTrainingImage).
		Set("label", ngsild.Property(ti.Label)).
		Set("imageUrl", ngsild.Property(ti.ImageURL)).
		Set("createdAt", ngsild.DateTimeProperty(ti.CreatedAt)).
		Set("storagePath", ngsild.Property(ti.StoragePath))
}

// NewDatasetSummary is the first summary for a label, counting one sample.
func NewDatasetSummary(label int, now string) ngsild.Entity {
	return ngsild.NewEntity(DatasetSummaryID(label), TypeDatasetSummary).
		Set("digitValue", ngsild.Property(label)).
		Set("sampleCount", ngsild.Property(1)).
		Set("createdAt", ngsild.DateTimeProperty(now)).
		Set("lastUpdatedAt", ngsild.DateTimeProperty(now))
}

// SampleCount reads sampleCount from a stored summary; missing or malformed
// values count as zero.
func SampleCount(summary ngsild.Entity) int {
	n, ok := summary.IntProperty("sampleCount")
	if !ok || n < 0 {
		return 0
	}
	return n
}

// SummaryIncrement is the patch that bumps a summary to count.
func SummaryIncrement(count int, now string) ngsild.Attributes {
	return ngsild.Attributes{
		"sampleCount":   ngsild.Property(count),
		"lastUpdatedAt": ngsild.DateTimeProperty(now),
	}
}

// PredictionResult is one mock classification.
type PredictionResult struct {
	PredictionID   string
	PredictedLabel int
	Confidence     float64
	AllConfidences []float64
	ImageURL       string
	StoragePath    string
	CreatedAt      string
	ModelID        string
}

// Entity renders the broker document.
func (pr PredictionResult) Entity() ngsild.Entity {
	return ngsild.NewEntity(PredictionResultID(pr.PredictionID), TypePredictionResult).
		Set("predictedLabel", ngsild.Property(pr.PredictedLabel)).
		Set("confidence", ngsild.Property(pr.Confidence)).
		Set("allConfidences", ngsild.Property(pr.AllConfidences)).
		Set("imageUrl", ngsild.Property(pr.ImageURL)).
		Set("storagePath", ngsild.Property(pr.StoragePath)).
		Set("createdAt", ngsild.DateTimeProperty(pr.CreatedAt)).
		Set("modelId", ngsild.Property(pr.ModelID))
}
