package imagestore

import (
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitlab/digitlab/internal/errors"
	"github.com/digitlab/digitlab/internal/logger"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func newTestStore(t *testing.T) (store *Store, collected, predicted string) {
	t.Helper()
	base := t.TempDir()
	collected = filepath.Join(base, "collected_images")
	predicted = filepath.Join(base, "predicted_images")

	store, err := New(collected, predicted, logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, collected, predicted
}

func TestNewCreatesBuckets(t *testing.T) {
	t.Parallel()
	store, collected, predicted := newTestStore(t)

	for _, root := range []string{collected, predicted} {
		for label := MinLabel; label <= MaxLabel; label++ {
			info, err := os.Stat(filepath.Join(root, strconv.Itoa(label)))
			require.NoError(t, err)
			assert.True(t, info.IsDir())
		}
	}
	assert.Equal(t, collected, store.Root(Collected))
	assert.Equal(t, predicted, store.Root(Predicted))
}

func TestSaveCollected(t *testing.T) {
	t.Parallel()
	store, collected, _ := newTestStore(t)

	stored, err := store.Save(Collected, 4, "abc", pngBytes)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(collected, "4", "abc.png"), stored.Path)
	assert.Equal(t, "/images/4/abc.png", stored.URL)

	data, err := os.ReadFile(stored.Path)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)

	entries, err := os.ReadDir(filepath.Join(collected, "4"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSavePredicted(t *testing.T) {
	t.Parallel()
	store, _, predicted := newTestStore(t)

	stored, err := store.Save(Predicted, 0, "p1", pngBytes)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(predicted, "0", "p1.png"), stored.Path)
	assert.Equal(t, "/predictions/0/p1.png", stored.URL)
}

func TestSaveRejectsBadInput(t *testing.T) {
	t.Parallel()
	store, _, _ := newTestStore(t)

	_, err := store.Save(Collected, 10, "x", pngBytes)
	assert.True(t, errors.IsCategory(err, errors.CategoryInvalidInput))

	_, err = store.Save(Collected, -1, "x", pngBytes)
	assert.True(t, errors.IsCategory(err, errors.CategoryInvalidInput))

	for _, id := range []string{"", "..", "../x", `a\b`} {
		_, err = store.Save(Collected, 1, id, pngBytes)
		assert.Error(t, err, id)
	}

	_, err = store.Save(Kind(7), 1, "x", pngBytes)
	assert.Error(t, err)
}

func TestDecodeDataURL(t *testing.T) {
	t.Parallel()

	payload := base64.StdEncoding.EncodeToString(pngBytes)

	data, err := DecodeDataURL("data:image/png;base64," + payload)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)

	tests := []struct {
		name string
		in   string
		msg  string
	}{
		{"empty", "", "Missing image data"},
		{"no comma", payload, "Invalid image data"},
		{"bad base64", "data:image/png;base64,@@@", "Invalid image data"},
		{"empty payload", "data:image/png;base64,", "Invalid image data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := DecodeDataURL(tt.in)
			require.Error(t, err)
			assert.Equal(t, tt.msg, err.Error())
			assert.True(t, errors.IsCategory(err, errors.CategoryInvalidInput))
		})
	}
}

func TestServe(t *testing.T) {
	t.Parallel()
	store, _, _ := newTestStore(t)
	_, err := store.Save(Predicted, 2, "img", pngBytes)
	require.NoError(t, err)

	e := echo.New()
	tests := []struct {
		name string
		kind Kind
		rel  string
		code int
	}{
		{"served", Predicted, "2/img.png", http.StatusOK},
		{"wrong root", Collected, "2/img.png", http.StatusNotFound},
		{"encoded traversal", Collected, "..%2F..%2Fetc%2Fpasswd", http.StatusBadRequest},
		{"plain traversal", Predicted, "../collected_images/2/img.png", http.StatusBadRequest},
		{"bad escape", Predicted, "%zz", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", http.NoBody), rec)

			err := store.Serve(c, tt.kind, tt.rel)
			if tt.code == http.StatusOK {
				require.NoError(t, err)
				assert.Equal(t, pngBytes, rec.Body.Bytes())
				return
			}
			var he *echo.HTTPError
			require.ErrorAs(t, err, &he)
			assert.Equal(t, tt.code, he.Code)
		})
	}
}
