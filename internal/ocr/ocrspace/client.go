// Package ocrspace calls the OCR.space parse API by image URL.
package ocrspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/listing-enricher/internal/ocr"
)

const (
	DefaultGetEndpoint  = "https://api.ocr.space/parse/imageurl"
	DefaultPostEndpoint = "https://api.ocr.space/parse/image"

	maxBody = 4 << 20
)

// ErrProcessing is returned when the provider reports a processing failure.
var ErrProcessing = errors.New("ocrspace: errored on processing")

// Limiter throttles calls per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config configures a Client.
type Config struct {
	GetEndpoint  string
	PostEndpoint string
	GetTimeout   time.Duration
	PostTimeout  time.Duration
	HTTPClient   *http.Client
	Limiter      Limiter
}

// Client implements ocr.Provider.
type Client struct {
	cfg Config
}

var _ ocr.Provider = (*Client)(nil)

// New returns a Client with defaults applied.
func New(cfg Config) *Client {
	if cfg.GetEndpoint == "" {
		cfg.GetEndpoint = DefaultGetEndpoint
	}
	if cfg.PostEndpoint == "" {
		cfg.PostEndpoint = DefaultPostEndpoint
	}
	if cfg.GetTimeout <= 0 {
		cfg.GetTimeout = 15 * time.Second
	}
	if cfg.PostTimeout <= cfg.GetTimeout {
		cfg.PostTimeout = cfg.GetTimeout + 10*time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Client{cfg: cfg}
}

// Get parses the image by URL with the key in the query string.
func (c *Client) Get(ctx context.Context, req ocr.Request) (string, error) {
	values := req.Params.Values()
	values.Set("apikey", req.APIKey)
	values.Set("url", req.ImageURL)
	endpoint := c.cfg.GetEndpoint + "?" + values.Encode()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.GetTimeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build get request: %w", err)
	}
	return c.do(ctx, httpReq)
}

// Post parses the image by URL with a form body and the key in a header.
func (c *Client) Post(ctx context.Context, req ocr.Request) (string, error) {
	values := req.Params.Values()
	values.Set("url", req.ImageURL)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.PostTimeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.PostEndpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return "", fmt.Errorf("build post request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("apikey", req.APIKey)
	return c.do(ctx, httpReq)
}

func (c *Client) do(ctx context.Context, req *http.Request) (string, error) {
	if c.cfg.Limiter != nil {
		if err := c.cfg.Limiter.Wait(ctx, req.URL.String()); err != nil {
			return "", err
		}
	}
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", req.Method, redact(req.URL), err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%s %s: status %d", req.Method, redact(req.URL), resp.StatusCode)
	}
	return parse(body)
}

type response struct {
	ParsedResults []struct {
		ParsedText   string `json:"ParsedText"`
		ErrorMessage string `json:"ErrorMessage"`
	} `json:"ParsedResults"`
	OCRExitCode           int             `json:"OCRExitCode"`
	IsErroredOnProcessing bool            `json:"IsErroredOnProcessing"`
	ErrorMessage          json.RawMessage `json:"ErrorMessage"`
}

func parse(body []byte) (string, error) {
	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if r.IsErroredOnProcessing {
		if msg := errorMessage(r.ErrorMessage); msg != "" {
			return "", fmt.Errorf("%w: %s", ErrProcessing, msg)
		}
		return "", ErrProcessing
	}
	parts := make([]string, 0, len(r.ParsedResults))
	for _, pr := range r.ParsedResults {
		if t := strings.TrimSpace(pr.ParsedText); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n"), nil
}

// errorMessage accepts the provider's string or string-array error field.
func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "; ")
	}
	return ""
}

// redact drops the API key from logged URLs.
func redact(u *url.URL) string {
	cp := *u
	q := cp.Query()
	if q.Has("apikey") {
		q.Set("apikey", "REDACTED")
		cp.RawQuery = q.Encode()
	}
	return cp.String()
}
