package securefs

import (
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/digitlab/digitlab/internal/errors"
	"github.com/digitlab/digitlab/internal/logger"
)

// GetLogger returns the securefs module logger from the current global logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("securefs")
}

// SecureFS restricts file operations to one base directory using os.Root.
//
// Every path handed to it is interpreted relative to the base directory.
// Absolute paths, ".." traversal and symlinks that leave the directory are
// rejected, the last one by the kernel-level checks of os.Root.
type SecureFS struct {
	baseDir         string
	root            *os.Root
	maxReadFileSize int64 // 0 = unlimited
}

// New creates baseDir when missing and opens it as a sandbox root.
func New(baseDir string) (*SecureFS, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}

	if err := os.MkdirAll(absPath, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	root, err := os.OpenRoot(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem sandbox: %w", err)
	}

	return &SecureFS{baseDir: absPath, root: root}, nil
}

// BaseDir returns the absolute sandbox directory.
func (sfs *SecureFS) BaseDir() string {
	return sfs.baseDir
}

// ValidateRelativePath cleans relPath and rejects anything that is not a
// local path below the base directory. Forward slashes are accepted on
// every platform since paths usually come from URLs.
func (sfs *SecureFS) ValidateRelativePath(relPath string) (string, error) {
	if relPath == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if strings.ContainsRune(relPath, 0) {
		return "", fmt.Errorf("%w: path contains NUL byte", ErrInvalidPath)
	}

	slashed := filepath.ToSlash(relPath)
	if path.IsAbs(slashed) || filepath.IsAbs(relPath) || filepath.VolumeName(relPath) != "" {
		return "", fmt.Errorf("%w: path must be relative, got '%s'", ErrInvalidPath, relPath)
	}

	cleaned := path.Clean(slashed)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: '%s'", ErrPathTraversal, relPath)
	}

	native := filepath.FromSlash(cleaned)
	if !filepath.IsLocal(native) {
		return "", fmt.Errorf("%w: '%s' is not a local path", ErrInvalidPath, relPath)
	}
	return native, nil
}

// MkdirAll creates relPath and any missing parents inside the sandbox.
func (sfs *SecureFS) MkdirAll(relPath string, perm os.FileMode) error {
	validated, err := sfs.ValidateRelativePath(relPath)
	if err != nil {
		return err
	}
	if validated == "." {
		return nil
	}

	current := ""
	for component := range strings.SplitSeq(validated, string(filepath.Separator)) {
		if component == "" {
			continue
		}
		current = filepath.Join(current, component)
		if err := sfs.root.Mkdir(current, perm); err != nil && !os.IsExist(err) {
			return fmt.Errorf("failed to create directory component %s: %w", current, err)
		}
	}
	return nil
}

// WriteFile creates or truncates relPath and writes data to it.
func (sfs *SecureFS) WriteFile(relPath string, data []byte, perm os.FileMode) (err error) {
	validated, err := sfs.ValidateRelativePath(relPath)
	if err != nil {
		return err
	}

	file, err := sfs.root.OpenFile(validated, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	_, err = file.Write(data)
	return err
}

// SetMaxReadFileSize limits ReadFile; 0 means unlimited.
func (sfs *SecureFS) SetMaxReadFileSize(maxSize int64) {
	sfs.maxReadFileSize = maxSize
}

// ErrFileTooLarge is returned when a file exceeds the configured size limit
var ErrFileTooLarge = errors.NewStd("file size exceeds maximum allowed size")

// ReadFile returns the contents of relPath.
func (sfs *SecureFS) ReadFile(relPath string) ([]byte, error) {
	validated, err := sfs.ValidateRelativePath(relPath)
	if err != nil {
		return nil, err
	}

	file, err := sfs.root.Open(validated)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := file.Close(); err != nil {
			GetLogger().Warn("Failed to close file", logger.Error(err))
		}
	}()

	if sfs.maxReadFileSize > 0 {
		stat, err := file.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat file: %w", err)
		}
		if stat.Size() > sfs.maxReadFileSize {
			return nil, fmt.Errorf("%w: file is %d bytes, limit is %d bytes",
				ErrFileTooLarge, stat.Size(), sfs.maxReadFileSize)
		}
	}

	return io.ReadAll(file)
}

// Exists reports whether relPath exists. Validation failures are returned.
func (sfs *SecureFS) Exists(relPath string) (bool, error) {
	validated, err := sfs.ValidateRelativePath(relPath)
	if err != nil {
		return false, err
	}

	_, err = sfs.root.Stat(validated)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// mapOpenErrorToHTTP converts file open errors to appropriate HTTP errors
func mapOpenErrorToHTTP(err error, effectivePath string) *echo.HTTPError {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return echo.NewHTTPError(http.StatusNotFound, "File not found")
	case errors.Is(err, ErrPathTraversal) || errors.Is(err, ErrInvalidPath):
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid file path").SetInternal(err)
	case errors.Is(err, fs.ErrPermission):
		return echo.NewHTTPError(http.StatusForbidden, "Access denied")
	case strings.Contains(err.Error(), "path escapes from parent"):
		// os.Root refuses symlinks that point outside the sandbox.
		return echo.NewHTTPError(http.StatusNotFound, "File not found").SetInternal(err)
	default:
		GetLogger().Error("Unhandled error serving file",
			logger.String("path", effectivePath),
			logger.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Error serving file").SetInternal(err)
	}
}

func getContentType(name string) string {
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		return "application/octet-stream"
	}
	return contentType
}

// ServeRelativeFile streams relPath to the client. It is the safe
// replacement for echo.Context.File for user-supplied paths.
func (sfs *SecureFS) ServeRelativeFile(c echo.Context, relPath string) error {
	validated, err := sfs.ValidateRelativePath(relPath)
	if err != nil {
		GetLogger().Warn("Rejected file path",
			logger.String("path", relPath),
			logger.Error(err))
		return mapOpenErrorToHTTP(err, relPath)
	}

	f, err := sfs.root.Open(validated)
	if err != nil {
		return mapOpenErrorToHTTP(err, validated)
	}
	defer func() {
		if err := f.Close(); err != nil {
			GetLogger().Warn("Failed to close file", logger.Error(err))
		}
	}()

	stat, err := f.Stat()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to get file info").SetInternal(err)
	}
	if !stat.Mode().IsRegular() {
		return echo.NewHTTPError(http.StatusNotFound, "File not found")
	}

	if c.Response().Header().Get(echo.HeaderContentType) == "" {
		c.Response().Header().Set(echo.HeaderContentType, getContentType(validated))
	}

	http.ServeContent(c.Response(), c.Request(), filepath.Base(validated), stat.ModTime(), f)
	return nil
}

// Close closes the underlying Root
func (sfs *SecureFS) Close() error {
	if sfs.root != nil {
		return sfs.root.Close()
	}
	return nil
}
