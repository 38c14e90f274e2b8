package tesseract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewMissingBinary(t *testing.T) {
	t.Parallel()

	_, err := New(filepath.Join(t.TempDir(), "no-such-tesseract"), "", nil)
	require.ErrorIs(t, err, ErrUnavailable)
}

// fakeBinary writes a shell script that echoes its stdin in upper case.
func fakeBinary(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "tesseract")
	script := "#!/bin/sh\ntr '[:lower:]' '[:upper:]'\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o700))
	return path
}

func TestExtractPipesImageThroughBinary(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("made in usa\n"))
	}))
	defer srv.Close()

	eng, err := New(fakeBinary(t), "eng", srv.Client())
	require.NoError(t, err)
	text, err := eng.Extract(context.Background(), srv.URL+"/a.png")
	require.NoError(t, err)
	require.Equal(t, "MADE IN USA", text)
}

func TestExtractDownloadFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	eng, err := New(fakeBinary(t), "", nil)
	require.NoError(t, err)
	_, err = eng.Extract(context.Background(), srv.URL+"/missing.png")
	require.ErrorContains(t, err, "status 404")
}
