// Package sheets talks to the spreadsheet-backed web app that holds the ASIN
// queue and receives one result row per processed item.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-enricher/internal/retry"
)

// Mode selects which queue the endpoint returns.
type Mode string

const (
	// ModeNew returns only identifiers without a result row yet.
	ModeNew Mode = "get_new_asins"
	// ModeAll returns the whole queue.
	ModeAll Mode = "get_asins"

	modeWriteRow = "write_row"
	maxBody      = 1 << 20
)

// ErrStatus wraps every non-2xx response.
var ErrStatus = errors.New("sheets: unexpected status")

// Row is the payload written for one item. Bullets are joined with newlines.
type Row struct {
	ASIN             string `json:"asin"`
	Title            string `json:"title"`
	Bullets          string `json:"bullets"`
	Description      string `json:"description"`
	Brand            string `json:"brand"`
	Manufacturer     string `json:"manufacturer"`
	BrandInfo        string `json:"brandInfo"`
	ManufacturerInfo string `json:"manufacturerInfo"`
	OCRText          string `json:"ocrText"`
}

// Client reads the queue and writes rows. It holds no endpoint; each call
// receives the endpoint from the run's configuration snapshot.
type Client struct {
	http    *http.Client
	timeout time.Duration
	writes  retry.Policy
	logger  *zap.Logger
}

// NewClient builds a Client. A nil httpClient uses a fresh http.Client.
func NewClient(httpClient *http.Client, timeout time.Duration, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:    httpClient,
		timeout: timeout,
		writes:  retry.Fixed{Attempts: 1},
		logger:  logger.Named("sheets"),
	}
}

// WithWriteRetry retries WriteRow on transport errors and 5xx responses.
// Each attempt gets its own timeout; a timed-out attempt is not retried.
func (c *Client) WithWriteRetry(p retry.Policy) *Client {
	if p != nil {
		c.writes = p
	}
	return c
}

// FetchPending returns the raw queue entries. Entries are not parsed here.
func (c *Client) FetchPending(ctx context.Context, endpoint string, mode Mode) ([]string, error) {
	if mode == "" {
		mode = ModeNew
	}
	target, err := withMode(endpoint, string(mode))
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build queue request: %w", err)
	}
	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch queue: %w", err)
	}
	var payload struct {
		ASINs []json.RawMessage `json:"asins"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode queue: %w", err)
	}
	out := make([]string, 0, len(payload.ASINs))
	for _, raw := range payload.ASINs {
		out = append(out, rawEntry(raw))
	}
	c.logger.Debug("queue fetched", zap.String("mode", string(mode)), zap.Int("entries", len(out)))
	return out, nil
}

// WriteRow posts one result row.
func (c *Client) WriteRow(ctx context.Context, endpoint string, row Row) error {
	target, err := withMode(endpoint, modeWriteRow)
	if err != nil {
		return err
	}
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	err = retry.Do(ctx, c.writes, func(ctx context.Context, attempt int) error {
		err := c.post(ctx, target, data)
		if err == nil {
			return nil
		}
		if !transient(err) {
			return retry.Permanent(err)
		}
		c.logger.Warn("row write failed",
			zap.String("asin", row.ASIN),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("write row %s: %w", row.ASIN, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, target string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build write request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = c.do(req)
	return err
}

// transient reports whether a write may succeed when repeated: transport
// failures and server-side statuses.
func transient(err error) bool {
	var status *statusError
	if errors.As(err, &status) {
		return status.code >= http.StatusInternalServerError
	}
	return !errors.Is(err, context.Canceled)
}

// JoinBullets formats bullet points for the row.
func JoinBullets(bullets []string) string {
	return strings.Join(bullets, "\n")
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err //nolint:wrapcheck // wrapped by callers
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{code: resp.StatusCode}
	}
	return body, nil
}

type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("%s: %d", ErrStatus, e.code) }
func (e *statusError) Unwrap() error { return ErrStatus }

func withMode(endpoint, mode string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid endpoint %q", endpoint)
	}
	q := u.Query()
	q.Set("mode", mode)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// rawEntry accepts string entries and stringifies anything else (numbers,
// bare identifiers typed into a sheet cell).
func rawEntry(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.Trim(string(raw), `"`)
}
