package assets

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func writeFontFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("fake font bytes"), 0o644))
	return path
}

func TestStart_ServesFontRoute(t *testing.T) {
	srv := NewServer(testLog())
	defer srv.Stop()

	url, err := srv.Start(writeFontFile(t, "display.ttf"))
	require.NoError(t, err)
	assert.Contains(t, url, "http://localhost:")
	assert.Contains(t, url, "/font")

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "font/ttf", resp.Header.Get("Content-Type"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "public, max-age=31536000, immutable", resp.Header.Get("Cache-Control"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "fake font bytes", string(body))
}

func TestStart_ServesBasenameRoute(t *testing.T) {
	srv := NewServer(testLog())
	defer srv.Stop()

	url, err := srv.Start(writeFontFile(t, "display.woff2"))
	require.NoError(t, err)

	base := url[:len(url)-len("/font")]
	resp, err := http.Get(base + "/display.woff2")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "font/woff2", resp.Header.Get("Content-Type"))
}

func TestServer_UnmatchedPathIs404(t *testing.T) {
	srv := NewServer(testLog())
	defer srv.Stop()

	url, err := srv.Start(writeFontFile(t, "display.otf"))
	require.NoError(t, err)

	base := url[:len(url)-len("/font")]
	resp, err := http.Get(base + "/other.otf")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_MethodHandling(t *testing.T) {
	srv := NewServer(testLog())
	defer srv.Stop()

	url, err := srv.Start(writeFontFile(t, "display.woff"))
	require.NoError(t, err)

	resp, err := http.Post(url, "application/octet-stream", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	req, err := http.NewRequest(http.MethodOptions, url, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Empty(t, body)
}

func TestStart_SamePathIsNoop(t *testing.T) {
	srv := NewServer(testLog())
	defer srv.Stop()

	path := writeFontFile(t, "display.ttc")
	first, err := srv.Start(path)
	require.NoError(t, err)
	second, err := srv.Start(path)
	require.NoError(t, err)

	// Same URL, same port: the listener was not rebound.
	assert.Equal(t, first, second)
}

func TestStart_DifferentPathReplacesListener(t *testing.T) {
	srv := NewServer(testLog())
	defer srv.Stop()

	first, err := srv.Start(writeFontFile(t, "one.ttf"))
	require.NoError(t, err)

	second, err := srv.Start(writeFontFile(t, "two.ttf"))
	require.NoError(t, err)

	resp, err := http.Get(second)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	if first != second {
		// The prior listener must be gone.
		_, err = http.Get(first)
		assert.Error(t, err)
	}
}

func TestStart_UnsupportedExtension(t *testing.T) {
	srv := NewServer(testLog())

	_, err := srv.Start(writeFontFile(t, "notes.txt"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedExtension)
	assert.Contains(t, err.Error(), ".txt")
	// Validation failed before any listener was created.
	assert.False(t, srv.Listening())
}

func TestStart_MissingFile(t *testing.T) {
	srv := NewServer(testLog())

	_, err := srv.Start(filepath.Join(t.TempDir(), "absent.ttf"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFileUnusable)
	assert.False(t, srv.Listening())
}

func TestStart_BadPathKeepsExistingListener(t *testing.T) {
	srv := NewServer(testLog())
	defer srv.Stop()

	url, err := srv.Start(writeFontFile(t, "display.ttf"))
	require.NoError(t, err)

	_, err = srv.Start(writeFontFile(t, "notes.csv"))
	require.Error(t, err)

	// The healthy server survived the rejected start.
	resp, err := http.Get(url)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestURL_FailsWhenStopped(t *testing.T) {
	srv := NewServer(testLog())

	_, err := srv.URL()
	assert.ErrorIs(t, err, ErrNotListening)

	url, err := srv.Start(writeFontFile(t, "display.ttf"))
	require.NoError(t, err)

	got, err := srv.URL()
	require.NoError(t, err)
	assert.Equal(t, url, got)

	srv.Stop()
	_, err = srv.URL()
	assert.ErrorIs(t, err, ErrNotListening)
}

func TestStop_Idempotent(t *testing.T) {
	srv := NewServer(testLog())
	srv.Stop()

	_, err := srv.Start(writeFontFile(t, "display.ttf"))
	require.NoError(t, err)
	srv.Stop()
	srv.Stop()
	assert.False(t, srv.Listening())
}
