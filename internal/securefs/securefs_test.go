package securefs

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupSecureFS creates a SecureFS over a fresh temp dir.
func setupSecureFS(t *testing.T) (sfs *SecureFS, tempDir string) {
	t.Helper()

	tempDir = t.TempDir()
	sfs, err := New(tempDir)
	require.NoError(t, err, "Failed to create SecureFS")
	t.Cleanup(func() { _ = sfs.Close() })

	return sfs, tempDir
}

func TestNewCreatesBaseDir(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), "nested", "root")
	sfs, err := New(base)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sfs.Close() })

	info, err := os.Stat(base)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, base, sfs.BaseDir())
}

func TestWriteAndReadFile(t *testing.T) {
	t.Parallel()
	sfs, tempDir := setupSecureFS(t)

	require.NoError(t, sfs.MkdirAll("3", 0o750))
	require.NoError(t, sfs.WriteFile("3/a.png", []byte("png"), 0o600))

	onDisk, err := os.ReadFile(filepath.Join(tempDir, "3", "a.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), onDisk)

	data, err := sfs.ReadFile("3/a.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)

	exists, err := sfs.Exists("3/a.png")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = sfs.Exists("3/b.png")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestReadFileWithSizeLimit(t *testing.T) {
	t.Parallel()
	sfs, _ := setupSecureFS(t)
	sfs.SetMaxReadFileSize(4)

	require.NoError(t, sfs.WriteFile("small", []byte("1234"), 0o600))
	require.NoError(t, sfs.WriteFile("large", []byte("12345"), 0o600))

	_, err := sfs.ReadFile("small")
	require.NoError(t, err)

	_, err = sfs.ReadFile("large")
	require.ErrorIs(t, err, ErrFileTooLarge)
}

func TestMkdirAllNested(t *testing.T) {
	t.Parallel()
	sfs, tempDir := setupSecureFS(t)

	require.NoError(t, sfs.MkdirAll("a/b/c", 0o750))
	require.NoError(t, sfs.MkdirAll("a/b/c", 0o750), "second call must be a no-op")
	require.NoError(t, sfs.MkdirAll(".", 0o750))

	info, err := os.Stat(filepath.Join(tempDir, "a", "b", "c"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestValidateRelativePath(t *testing.T) {
	t.Parallel()
	sfs, _ := setupSecureFS(t)

	tests := []struct {
		in      string
		want    string
		wantErr error
	}{
		{in: "3/x.png", want: filepath.Join("3", "x.png")},
		{in: "3/../4/x.png", want: filepath.Join("4", "x.png")},
		{in: "./3//x.png", want: filepath.Join("3", "x.png")},
		{in: "../etc/passwd", wantErr: ErrPathTraversal},
		{in: "3/../../etc/passwd", wantErr: ErrPathTraversal},
		{in: "..", wantErr: ErrPathTraversal},
		{in: "/etc/passwd", wantErr: ErrInvalidPath},
		{in: "", wantErr: ErrInvalidPath},
		{in: "a\x00b", wantErr: ErrInvalidPath},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := sfs.ValidateRelativePath(tt.in)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteOutsideRootRejected(t *testing.T) {
	t.Parallel()
	sfs, tempDir := setupSecureFS(t)

	err := sfs.WriteFile("../escape.txt", []byte("x"), 0o600)
	require.ErrorIs(t, err, ErrPathTraversal)

	_, statErr := os.Stat(filepath.Join(filepath.Dir(tempDir), "escape.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFollowingEscapingSymlinkFails(t *testing.T) {
	t.Parallel()
	sfs, tempDir := setupSecureFS(t)

	outside := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o600))
	if err := os.Symlink(outside, filepath.Join(tempDir, "link.txt")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	_, err := sfs.ReadFile("link.txt")
	require.Error(t, err)
}

func serve(t *testing.T, sfs *SecureFS, relPath string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	rec := httptest.NewRecorder()
	return rec, sfs.ServeRelativeFile(e.NewContext(req, rec), relPath)
}

func TestServeRelativeFile(t *testing.T) {
	t.Parallel()
	sfs, _ := setupSecureFS(t)
	require.NoError(t, sfs.MkdirAll("7", 0o750))
	require.NoError(t, sfs.WriteFile("7/img.png", []byte("\x89PNG"), 0o600))

	rec, err := serve(t, sfs, "7/img.png")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, "\x89PNG", rec.Body.String())
}

func TestServeRelativeFileErrors(t *testing.T) {
	t.Parallel()
	sfs, tempDir := setupSecureFS(t)
	require.NoError(t, sfs.MkdirAll("dir", 0o750))

	outside := filepath.Join(t.TempDir(), "passwd")
	require.NoError(t, os.WriteFile(outside, []byte("root"), 0o600))
	symlinkOK := os.Symlink(outside, filepath.Join(tempDir, "escape.png")) == nil

	tests := []struct {
		name string
		path string
		code int
	}{
		{"missing", "1/none.png", http.StatusNotFound},
		{"traversal", "../../etc/passwd", http.StatusBadRequest},
		{"absolute", "/etc/passwd", http.StatusBadRequest},
		{"directory", "dir", http.StatusNotFound},
	}
	if symlinkOK {
		tests = append(tests, struct {
			name string
			path string
			code int
		}{"escaping symlink", "escape.png", http.StatusNotFound})
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec, err := serve(t, sfs, tt.path)
			var he *echo.HTTPError
			require.ErrorAs(t, err, &he)
			assert.Equal(t, tt.code, he.Code)
			assert.NotContains(t, rec.Body.String(), "root")
		})
	}
}
