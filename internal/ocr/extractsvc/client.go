// Package extractsvc calls a text-extraction microservice: POST /extract-text {url} -> {text}.
package extractsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/listing-enricher/internal/ocr"
)

// Client implements ocr.Extractor.
type Client struct {
	endpoint string
	timeout  time.Duration
	http     *http.Client
}

var _ ocr.Extractor = (*Client)(nil)

// New targets baseURL; "/extract-text" is appended unless already present.
func New(baseURL string, timeout time.Duration, httpClient *http.Client) *Client {
	endpoint := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if !strings.HasSuffix(endpoint, "/extract-text") {
		endpoint += "/extract-text"
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{endpoint: endpoint, timeout: timeout, http: httpClient}
}

// Extract asks the service for the text in imageURL.
func (c *Client) Extract(ctx context.Context, imageURL string) (string, error) {
	body, err := json.Marshal(map[string]string{"url": imageURL})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("post %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("post %s: status %d", c.endpoint, resp.StatusCode)
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}
