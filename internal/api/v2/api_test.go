package api

import (
	"encoding/base64"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/digitlab/digitlab/internal/buildinfo"
	"github.com/digitlab/digitlab/internal/entities"
	"github.com/digitlab/digitlab/internal/imagestore"
	"github.com/digitlab/digitlab/internal/logger"
	"github.com/digitlab/digitlab/internal/ngsild"
	"github.com/digitlab/digitlab/internal/observability"
	"github.com/digitlab/digitlab/internal/predictor"
	"github.com/digitlab/digitlab/internal/registry"
	"github.com/digitlab/digitlab/internal/saga"
	"github.com/digitlab/digitlab/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake-digit")

func dataURL(b []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(b)
}

type testEnv struct {
	e         *echo.Echo
	broker    *testutil.FakeBroker
	client    *ngsild.Client
	metrics   *observability.Metrics
	collected string
	predicted string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := logger.NewSlogLogger(os.Stderr, logger.LogLevelError, nil)
	fb := testutil.NewFakeBroker(t)

	m, err := observability.NewMetrics()
	require.NoError(t, err)

	client, err := ngsild.NewClient(ngsild.Config{BaseURL: fb.URL(), Timeout: 5 * time.Second},
		ngsild.WithLogger(log), ngsild.WithObserver(m.Broker))
	require.NoError(t, err)
	t.Cleanup(client.Close)

	root := t.TempDir()
	collected := filepath.Join(root, "collected_images")
	predicted := filepath.Join(root, "predicted_images")
	store, err := imagestore.New(collected, predicted, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	e := echo.New()
	_, err = New(e,
		WithCollector(saga.NewCollector(client, store, saga.WithLogger(log), saga.WithObserver(m.Saga))),
		WithPredictor(saga.NewPredictor(client, store, predictor.NewMock(rand.NewPCG(7, 11)),
			saga.WithLogger(log), saga.WithObserver(m.Saga))),
		WithModels(registry.New(client, 0, log, m.Broker)),
		WithBroker(client),
		WithImages(store),
		WithBuildInfo(buildinfo.NewContext("1.2.3", "2026-10-01")),
		WithMetrics(m),
		WithLogger(log),
	)
	require.NoError(t, err)

	return &testEnv{e: e, broker: fb, client: client, metrics: m, collected: collected, predicted: predicted}
}

func (env *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func collectBody(label any, image string) string {
	b, _ := json.Marshal(map[string]any{"label": label, "imageDataB64": image})
	return string(b)
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	require.NoError(t, err)
	return n
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(echo.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collector")
}

func TestCollect_StoresImageAndEntity(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	for label := range 10 {
		rec := env.do(t, http.MethodPost, "/api/collect", collectBody(label, dataURL(pngBytes)))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		resp := decode[CollectResponse](t, rec)
		assert.Equal(t, "Digit "+string(rune('0'+label))+" received and stored.", resp.Message)
		assert.Equal(t, entities.TrainingImageID(resp.ImageID), resp.EntityID)

		stored, err := os.ReadFile(filepath.Join(env.collected, string(rune('0'+label)), resp.ImageID+".png"))
		require.NoError(t, err)
		assert.Equal(t, pngBytes, stored)

		entity, ok := env.broker.Entity(resp.EntityID)
		require.True(t, ok)
		labelValue, ok := ngsild.Entity(entity).PropertyValue("label")
		require.True(t, ok, "label property missing")
		assert.InDelta(t, float64(label), labelValue, 0)
	}
	assert.Equal(t, 10, countFiles(t, env.collected))
}

func TestCollect_LabelAsString(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/collect", collectBody("7", dataURL(pngBytes)))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Digit 7 received and stored.", decode[CollectResponse](t, rec).Message)
}

func TestCollect_RejectsBadInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{"label 10", collectBody("10", dataURL(pngBytes)), saga.MsgInvalidLabel},
		{"label -1", collectBody(-1, dataURL(pngBytes)), saga.MsgInvalidLabel},
		{"label abc", collectBody("abc", dataURL(pngBytes)), saga.MsgInvalidLabel},
		{"fractional label", collectBody(2.5, dataURL(pngBytes)), saga.MsgInvalidLabel},
		{"missing label", `{"imageDataB64":"data:image/png;base64,AAAA"}`, saga.MsgMissingLabelOrImage},
		{"missing image", `{"label":3}`, saga.MsgMissingLabelOrImage},
		{"empty body", "", saga.MsgMissingLabelOrImage},
		{"malformed json", `{"label":`, saga.MsgMissingLabelOrImage},
		{"no comma", collectBody(3, "not-a-data-url"), imagestore.MsgInvalidImage},
		{"bad base64", collectBody(3, "data:image/png;base64,***"), imagestore.MsgInvalidImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t)

			rec := env.do(t, http.MethodPost, "/api/collect", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, tt.want, decode[ErrorResponse](t, rec).Error)

			assert.Zero(t, countFiles(t, env.collected))
			assert.Empty(t, env.broker.Requests())
		})
	}
}

func TestCollect_BrokerRejectsTrainingImage(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.broker.FailCreates(entities.TypeTrainingImage, http.StatusBadRequest)

	rec := env.do(t, http.MethodPost, "/api/collect", collectBody(4, dataURL(pngBytes)))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, saga.MsgTrainingImageFailed, resp.Error)
	assert.NotEmpty(t, resp.CorrelationID)
	assert.Empty(t, env.broker.EntitiesOfType(entities.TypeDatasetSummary))
}

func TestCollect_BrokerUnreachable(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.broker.Server.Close()

	rec := env.do(t, http.MethodPost, "/api/collect", collectBody(4, dataURL(pngBytes)))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, saga.MsgTrainingImageFailed, decode[ErrorResponse](t, rec).Error)
}

func TestCollect_SummaryCountsSequentialSubmissions(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	for range 2 {
		rec := env.do(t, http.MethodPost, "/api/collect", collectBody(5, dataURL(pngBytes)))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	summary, ok := env.broker.Entity(entities.DatasetSummaryID(5))
	require.True(t, ok)
	assert.Equal(t, 2, entities.SampleCount(ngsild.Entity(summary)))
}

func TestCollect_SummaryFailureStillSucceeds(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.broker.FailGets(http.StatusInternalServerError)

	rec := env.do(t, http.MethodPost, "/api/collect", collectBody(1, dataURL(pngBytes)))

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Len(t, env.broker.EntitiesOfType(entities.TypeTrainingImage), 1)
}

func TestPredict(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	body, _ := json.Marshal(map[string]any{"imageDataB64": dataURL(pngBytes)})
	rec := env.do(t, http.MethodPost, "/api/predict", string(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[saga.PredictResult](t, rec)
	require.Len(t, resp.AllConfidences, predictor.NumClasses)

	sum, best := 0.0, 0
	for i, p := range resp.AllConfidences {
		sum += p
		if p > resp.AllConfidences[best] {
			best = i
		}
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Equal(t, best, resp.PredictedLabel)
	assert.InDelta(t, resp.AllConfidences[best]*100, resp.Confidence, 0.006)

	assert.FileExists(t, filepath.Join(env.predicted, string(rune('0'+resp.PredictedLabel)), resp.PredictionID+".png"))

	entity, ok := env.broker.Entity(resp.EntityID)
	require.True(t, ok)
	assert.Equal(t, entities.TypePredictionResult, ngsild.Entity(entity).Type())
	modelID, ok := ngsild.Entity(entity).StringProperty("modelId")
	require.True(t, ok, "modelId property missing")
	assert.Equal(t, predictor.MockModelID, modelID)
}

func TestPredict_RawJSONFieldNames(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	body, _ := json.Marshal(map[string]any{"imageDataB64": dataURL(pngBytes)})
	rec := env.do(t, http.MethodPost, "/api/predict", string(body))
	require.Equal(t, http.StatusOK, rec.Code)

	raw := decode[map[string]any](t, rec)
	for _, key := range []string{"predicted_label", "confidence", "all_confidences", "prediction_id", "entity_id"} {
		assert.Contains(t, raw, key)
	}
}

func TestPredict_RejectsBadInput(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/predict", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, imagestore.MsgMissingImage, decode[ErrorResponse](t, rec).Error)

	rec = env.do(t, http.MethodPost, "/api/predict", `{"imageDataB64":"garbage"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, imagestore.MsgInvalidImage, decode[ErrorResponse](t, rec).Error)

	assert.Zero(t, countFiles(t, env.predicted))
}

func TestPredict_BrokerDownStillAnswers(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.broker.FailCreates(entities.TypePredictionResult, http.StatusServiceUnavailable)

	body, _ := json.Marshal(map[string]any{"imageDataB64": dataURL(pngBytes)})
	rec := env.do(t, http.MethodPost, "/api/predict", string(body))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[saga.PredictResult](t, rec).AllConfidences, predictor.NumClasses)
}

func TestListModels(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.broker.Seed(map[string]any{
		"id":   "urn:ngsi-ld:MLModel:cnn-v1",
		"type": entities.TypeMLModel,
		"name": ngsild.Property("CNN v1"),
	})

	rec := env.do(t, http.MethodGet, "/api/models", "")
	require.Equal(t, http.StatusOK, rec.Code)

	models := decode[[]registry.ModelInfo](t, rec)
	require.Len(t, models, 2)
	assert.Equal(t, registry.MockModel, models[0])
	assert.Equal(t, "cnn-v1", models[1].ID)
	assert.Equal(t, "CNN v1", models[1].Name)
}

func TestListModels_BrokerUnreachable(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.broker.Server.Close()

	rec := env.do(t, http.MethodGet, "/api/models", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []registry.ModelInfo{registry.MockModel}, decode[[]registry.ModelInfo](t, rec))
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, "1.2.3", resp["version"])
	broker, ok := resp["broker"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, broker["reachable"])
	assert.True(t, env.metrics.Broker.Reachable())

	env.broker.Server.Close()
	rec = env.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, "degraded", decode[map[string]any](t, rec)["status"])
	assert.False(t, env.metrics.Broker.Reachable())
}

func TestServeImages(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/collect", collectBody(8, dataURL(pngBytes)))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[CollectResponse](t, rec).ImageID

	rec = env.do(t, http.MethodGet, "/images/8/"+id+".png", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pngBytes, rec.Body.Bytes())
	assert.Equal(t, "image/png", rec.Header().Get(echo.HeaderContentType))

	rec = env.do(t, http.MethodGet, "/images/8/missing.png", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "File not found", decode[ErrorResponse](t, rec).Error)
}

func TestServeImages_Traversal(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	// A file next to the storage roots that must never be reachable.
	secret := filepath.Join(filepath.Dir(env.collected), "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("top secret"), 0o600))

	for _, target := range []string{
		"/images/../secret.txt",
		"/images/../../etc/passwd",
		"/images/%2e%2e/secret.txt",
		"/images/..%2fsecret.txt",
		"/predictions/../collected_images/0",
	} {
		rec := env.do(t, http.MethodGet, target, "")
		assert.Contains(t, []int{http.StatusBadRequest, http.StatusNotFound}, rec.Code, target)
		assert.NotContains(t, rec.Body.String(), "top secret", target)
	}
}

func TestUnknownRouteUsesJSONError(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
}
