// Package tesseract runs a local tesseract binary as the recognizer of last resort.
package tesseract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"

	"github.com/JakeFAU/listing-enricher/internal/ocr"
)

const maxImageBytes = 16 << 20

// ErrUnavailable is returned when no tesseract binary can be found.
var ErrUnavailable = errors.New("tesseract: binary not available")

// Engine downloads an image and pipes it through `tesseract stdin stdout`.
type Engine struct {
	path string
	lang string
	http *http.Client
}

var _ ocr.Extractor = (*Engine)(nil)

// New locates the binary. An empty path searches PATH for "tesseract".
func New(path, lang string, httpClient *http.Client) (*Engine, error) {
	if path == "" {
		path = "tesseract"
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if lang == "" {
		lang = "eng"
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Engine{path: resolved, lang: lang, http: httpClient}, nil
}

// Extract recognizes text in imageURL. The caller bounds it with ctx.
func (e *Engine) Extract(ctx context.Context, imageURL string) (string, error) {
	img, err := e.download(ctx, imageURL)
	if err != nil {
		return "", err
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.path, "stdin", "stdout", "-l", e.lang)
	cmd.Stdin = bytes.NewReader(img)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("run tesseract: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (e *Engine) download(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build image request: %w", err)
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("download image: status %d", resp.StatusCode)
	}
	img, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return img, nil
}
