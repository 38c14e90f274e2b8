// Package session owns the page session for one work item: it opens an
// isolated tab, waits for the agent's scrape result, asks the agent for image
// candidates and closes the tab exactly once.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-enricher/internal/agent"
	"github.com/JakeFAU/listing-enricher/internal/imagerank"
	"github.com/JakeFAU/listing-enricher/internal/message"
	"github.com/JakeFAU/listing-enricher/internal/metrics"
	"github.com/JakeFAU/listing-enricher/internal/retry"
)

// DefaultDomain is used when no marketplace domain is configured.
const DefaultDomain = "amazon.com"

// ErrScrapeTimeout is returned when the agent does not report in time.
// Its message is the failure string recorded for the item.
var ErrScrapeTimeout = errors.New("timeout")

// ErrNoData is returned when the agent's scrape message carries no result.
var ErrNoData = errors.New("no_data")

// ErrClosed is returned by operations on a closed handle.
var ErrClosed = errors.New("session: closed")

// Tab is a browser tab exclusively owned by one session.
type Tab interface {
	agent.Page
	Navigate(ctx context.Context, rawURL string) (int, error)
	Close() error
}

// Browser opens tabs.
type Browser interface {
	NewTab(ctx context.Context) (Tab, error)
}

// BrowserFunc adapts a function to Browser.
type BrowserFunc func(ctx context.Context) (Tab, error)

// NewTab implements Browser.
func (f BrowserFunc) NewTab(ctx context.Context) (Tab, error) { return f(ctx) }

// Agent is the page-side responder attached to every tab.
type Agent interface {
	Attach(ctx context.Context, page agent.Page)
	Request(ctx context.Context, tabID string, kind message.Type) (any, error)
	Detach(tabID string)
}

// Options configures a Coordinator.
type Options struct {
	// ScrapeTimeout is the default wait for the scrape result.
	ScrapeTimeout time.Duration
	// AgentRetries and AgentRetryDelay absorb the race between tab creation
	// and agent readiness.
	AgentRetries    int
	AgentRetryDelay time.Duration
	// RequestTimeout bounds one request round trip to the agent.
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// Coordinator opens and drives page sessions.
type Coordinator struct {
	browser Browser
	agent   Agent
	bus     *message.Bus
	opts    Options
	logger  *zap.Logger
}

// NewCoordinator wires the browser, the agent and the bus the agent publishes on.
func NewCoordinator(browser Browser, ag Agent, bus *message.Bus, opts Options) *Coordinator {
	if opts.ScrapeTimeout <= 0 {
		opts.ScrapeTimeout = 40 * time.Second
	}
	if opts.AgentRetries <= 0 {
		opts.AgentRetries = 16
	}
	if opts.AgentRetryDelay <= 0 {
		opts.AgentRetryDelay = 450 * time.Millisecond
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{browser: browser, agent: ag, bus: bus, opts: opts, logger: logger.Named("session")}
}

// Handle is an open session. It is owned by the caller that opened it.
type Handle struct {
	ASIN string
	URL  string

	tab    Tab
	scrape *message.Expectation

	closeOnce sync.Once
	closed    chan struct{}
}

// TabID returns the id of the tab, or "" for a nil handle.
func (h *Handle) TabID() string {
	if h == nil || h.tab == nil {
		return ""
	}
	return h.tab.ID()
}

func (h *Handle) isClosed() bool {
	select {
	case <-h.closed:
		return true
	default:
		return false
	}
}

// NormalizeDomain strips scheme, "www." and any path from domain, defaulting
// to DefaultDomain.
func NormalizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "www.")
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if d == "" {
		return DefaultDomain
	}
	return d
}

// ProductURL builds the product page URL for asin on domain.
func ProductURL(domain, asin string) string {
	return "https://" + NormalizeDomain(domain) + "/dp/" + url.PathEscape(asin)
}

// Open creates a tab, registers for its scrape result, navigates to the
// product page and attaches the agent. On error nothing stays open.
func (c *Coordinator) Open(ctx context.Context, asin, domain string) (*Handle, error) {
	tab, err := c.browser.NewTab(ctx)
	if err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}
	h := &Handle{
		ASIN:   asin,
		URL:    ProductURL(domain, asin),
		tab:    tab,
		closed: make(chan struct{}),
		// Registered before navigation so an early report is not lost.
		scrape: c.bus.Expect(message.Match(message.TypeScrapeResult, tab.ID())),
	}
	metrics.ObserveSession("opened")

	status, err := tab.Navigate(ctx, h.URL)
	if err != nil {
		c.Close(h)
		return nil, err //nolint:wrapcheck // tab errors name the url
	}
	c.logger.Debug("session opened",
		zap.String("asin", asin),
		zap.String("tab_id", tab.ID()),
		zap.Int("status", status),
	)
	c.agent.Attach(ctx, tab)
	return h, nil
}

// AwaitScrape waits for the agent's scrape result. A timeout <= 0 uses the
// configured default. On timeout the listener is removed and ErrScrapeTimeout
// is returned.
func (c *Coordinator) AwaitScrape(ctx context.Context, h *Handle, timeout time.Duration) (agent.ScrapeResult, error) {
	if h == nil || h.isClosed() {
		return agent.ScrapeResult{}, ErrClosed
	}
	if timeout <= 0 {
		timeout = c.opts.ScrapeTimeout
	}
	msg, err := h.scrape.Wait(ctx, timeout)
	switch {
	case errors.Is(err, message.ErrTimeout):
		if h.isClosed() {
			return agent.ScrapeResult{}, ErrClosed
		}
		metrics.ObserveSession("scrape_timeout")
		return agent.ScrapeResult{}, ErrScrapeTimeout
	case err != nil:
		return agent.ScrapeResult{}, err //nolint:wrapcheck // context error
	}
	result, ok := msg.Payload.(agent.ScrapeResult)
	if !ok {
		c.logger.Debug("scrape message without result", zap.String("payload", fmt.Sprintf("%T", msg.Payload)))
		return agent.ScrapeResult{}, ErrNoData
	}
	return result, nil
}

// RequestImageCandidates asks the agent for ranked image candidates. Only
// transport failures are retried; an empty list is a valid answer.
func (c *Coordinator) RequestImageCandidates(ctx context.Context, h *Handle) ([]imagerank.Candidate, error) {
	reply, err := c.request(ctx, h, message.TypeGetOCRImages)
	if err != nil {
		return nil, err
	}
	cands, ok := reply.([]imagerank.Candidate)
	if !ok {
		return nil, fmt.Errorf("unexpected image payload %T", reply)
	}
	return cands, nil
}

// DebugSections asks the agent for its section analysis of the page.
func (c *Coordinator) DebugSections(ctx context.Context, h *Handle) (imagerank.Analysis, error) {
	reply, err := c.request(ctx, h, message.TypeDebugSections)
	if err != nil {
		return imagerank.Analysis{}, err
	}
	analysis, ok := reply.(imagerank.Analysis)
	if !ok {
		return imagerank.Analysis{}, fmt.Errorf("unexpected sections payload %T", reply)
	}
	return analysis, nil
}

func (c *Coordinator) request(ctx context.Context, h *Handle, kind message.Type) (any, error) {
	if h == nil || h.isClosed() {
		return nil, ErrClosed
	}
	policy := retry.Fixed{Attempts: c.opts.AgentRetries, Delay: c.opts.AgentRetryDelay}
	reply, err := retry.DoValue(ctx, policy, func(ctx context.Context, attempt int) (any, error) {
		if h.isClosed() {
			return nil, retry.Permanent(ErrClosed)
		}
		v, err := message.Call(ctx, c.opts.RequestTimeout, func(ctx context.Context) (any, error) {
			return c.agent.Request(ctx, h.tab.ID(), kind)
		})
		if err != nil && !transient(err) {
			return nil, retry.Permanent(err)
		}
		if err != nil {
			c.logger.Debug("agent not reachable yet",
				zap.String("asin", h.ASIN),
				zap.String("kind", string(kind)),
				zap.Int("attempt", attempt),
			)
		}
		return v, err
	})
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", kind, err)
	}
	return reply, nil
}

// transient reports whether err is a delivery failure worth retrying.
func transient(err error) bool {
	return errors.Is(err, agent.ErrNoReceiver) || errors.Is(err, message.ErrTimeout)
}

// Close tears the session down: the scrape listener, the agent and the tab.
// It is safe to call repeatedly, concurrently and with a nil handle. Tab
// close errors are logged, never returned.
func (c *Coordinator) Close(h *Handle) {
	if h == nil {
		return
	}
	h.closeOnce.Do(func() {
		close(h.closed)
		h.scrape.Cancel()
		c.agent.Detach(h.tab.ID())
		if err := h.tab.Close(); err != nil {
			c.logger.Debug("tab close failed", zap.String("asin", h.ASIN), zap.Error(err))
		}
		metrics.ObserveSession("closed")
	})
}
