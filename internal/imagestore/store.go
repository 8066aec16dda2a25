// Package imagestore keeps submitted digit drawings on local disk, bucketed
// by label, and serves them back without letting paths leave the store.
package imagestore

import (
	"encoding/base64"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/digitlab/digitlab/internal/errors"
	"github.com/digitlab/digitlab/internal/logger"
	"github.com/digitlab/digitlab/internal/securefs"
)

// Kind selects one of the two storage roots.
type Kind int

const (
	// Collected holds labeled training drawings.
	Collected Kind = iota
	// Predicted holds drawings submitted for prediction.
	Predicted
)

const (
	// MinLabel and MaxLabel bound the bucket directories.
	MinLabel = 0
	MaxLabel = 9

	// FileExt is the extension of every stored image.
	FileExt = ".png"

	// URL prefixes under which stored images are served.
	CollectedURLPrefix = "/images"
	PredictedURLPrefix = "/predictions"

	dirPerm  = 0o750
	filePerm = 0o640
)

func (k Kind) String() string {
	switch k {
	case Collected:
		return "collected"
	case Predicted:
		return "predicted"
	default:
		return "unknown"
	}
}

// URLPrefix returns where images of this kind are served.
func (k Kind) URLPrefix() string {
	if k == Predicted {
		return PredictedURLPrefix
	}
	return CollectedURLPrefix
}

// Stored describes one saved image.
type Stored struct {
	// Path is the on-disk location.
	Path string
	// URL is the HTTP path the image is served under.
	URL string
}

// Store owns two sandboxed roots.
type Store struct {
	roots map[Kind]*securefs.SecureFS
	log   logger.Logger
}

// New opens both roots and pre-creates the label buckets 0..9 in each.
func New(collectedDir, predictedDir string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Global().Module("imagestore")
	}
	s := &Store{roots: make(map[Kind]*securefs.SecureFS, 2), log: log}

	for kind, dir := range map[Kind]string{Collected: collectedDir, Predicted: predictedDir} {
		sfs, err := securefs.New(dir)
		if err != nil {
			_ = s.Close()
			return nil, errors.New(err).
				Component("imagestore").
				Category(errors.CategoryFileIO).
				Context("root", kind.String()).
				Build()
		}
		s.roots[kind] = sfs

		for label := MinLabel; label <= MaxLabel; label++ {
			if err := sfs.MkdirAll(strconv.Itoa(label), dirPerm); err != nil {
				_ = s.Close()
				return nil, errors.New(err).
					Component("imagestore").
					Category(errors.CategoryFileIO).
					Context("root", kind.String()).
					Context("label", label).
					Build()
			}
		}
		log.Debug("Image root ready",
			logger.String("kind", kind.String()),
			logger.String("dir", sfs.BaseDir()))
	}
	return s, nil
}

// Root returns the absolute directory of a kind.
func (s *Store) Root(kind Kind) string {
	if sfs, ok := s.roots[kind]; ok {
		return sfs.BaseDir()
	}
	return ""
}

// Save writes data as <root>/<label>/<id>.png.
func (s *Store) Save(kind Kind, label int, id string, data []byte) (Stored, error) {
	sfs, ok := s.roots[kind]
	if !ok {
		return Stored{}, errors.Newf("unknown image kind %d", kind).
			Component("imagestore").
			Category(errors.CategoryInternal).
			Build()
	}
	if label < MinLabel || label > MaxLabel {
		return Stored{}, errors.InvalidInput("Invalid label, must be an integer 0-9")
	}
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return Stored{}, errors.Newf("invalid image id %q", id).
			Component("imagestore").
			Category(errors.CategoryInternal).
			Build()
	}

	bucket := strconv.Itoa(label)
	filename := id + FileExt
	rel := path.Join(bucket, filename)

	if err := sfs.WriteFile(rel, data, filePerm); err != nil {
		return Stored{}, errors.New(err).
			Component("imagestore").
			Category(errors.CategoryFileIO).
			Context("kind", kind.String()).
			Context("label", label).
			Build()
	}

	stored := Stored{
		Path: filepath.Join(sfs.BaseDir(), bucket, filename),
		URL:  kind.URLPrefix() + "/" + rel,
	}
	s.log.Debug("Image saved",
		logger.String("kind", kind.String()),
		logger.Int("label", label),
		logger.String("path", stored.Path),
		logger.Int("bytes", len(data)))
	return stored, nil
}

// Serve streams a stored image. relPath is the part of the URL after the
// kind prefix and may still be percent-encoded.
func (s *Store) Serve(c echo.Context, kind Kind, relPath string) error {
	sfs, ok := s.roots[kind]
	if !ok {
		return echo.ErrNotFound
	}
	decoded, err := url.PathUnescape(relPath)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid file path").SetInternal(err)
	}
	return sfs.ServeRelativeFile(c, decoded)
}

// Close releases both roots.
func (s *Store) Close() error {
	var errs []error
	for _, sfs := range s.roots {
		if err := sfs.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Client-facing messages for unusable image payloads.
const (
	MsgMissingImage = "Missing image data"
	MsgInvalidImage = "Invalid image data"
)

// DecodeDataURL decodes a "data:<mime>;base64,<payload>" string. Anything
// before the first comma is ignored; the payload must be standard base64.
func DecodeDataURL(dataURL string) ([]byte, error) {
	if dataURL == "" {
		return nil, errors.InvalidInput(MsgMissingImage)
	}
	_, payload, found := strings.Cut(dataURL, ",")
	if !found {
		return nil, errors.InvalidInput(MsgInvalidImage)
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, errors.New(errors.NewStd(MsgInvalidImage)).
			Component("imagestore").
			Category(errors.CategoryInvalidInput).
			Context("cause", err.Error()).
			Build()
	}
	if len(data) == 0 {
		return nil, errors.InvalidInput(MsgInvalidImage)
	}
	return data, nil
}
