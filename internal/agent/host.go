// Package agent is the page-side half of the session handshake. For every
// attached tab it waits for the document to settle, publishes the scraped
// product fields once, and then answers image and section requests from the
// parsed document.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-enricher/internal/imagerank"
	"github.com/JakeFAU/listing-enricher/internal/message"
	"github.com/JakeFAU/listing-enricher/internal/retry"
)

var (
	// ErrNoReceiver means no agent is ready in the tab yet. Callers may retry.
	ErrNoReceiver = errors.New("agent: no receiver in tab")
	// ErrUnsupported is returned for message types the agent does not answer.
	ErrUnsupported = errors.New("agent: unsupported request")
)

// Page is the rendered document of one tab.
type Page interface {
	ID() string
	WaitReady(ctx context.Context, selector string) error
	HTML(ctx context.Context) (string, error)
}

// Options configures a Host.
type Options struct {
	// SettleDelay is waited after the document is ready, before scraping.
	SettleDelay time.Duration
	// ReadyTimeout bounds the wait for the document body.
	ReadyTimeout time.Duration
	MaxImages    int
	Logger       *zap.Logger
}

type tabState struct {
	cancel context.CancelFunc
	page   *imagerank.Page
}

// Host runs the agent for every attached tab and publishes on bus.
type Host struct {
	bus    *message.Bus
	opts   Options
	logger *zap.Logger

	mu   sync.Mutex
	tabs map[string]*tabState
}

// NewHost returns a Host publishing to bus.
func NewHost(bus *message.Bus, opts Options) *Host {
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 30 * time.Second
	}
	if opts.MaxImages <= 0 || opts.MaxImages > imagerank.DefaultMax {
		opts.MaxImages = imagerank.DefaultMax
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Host{
		bus:    bus,
		opts:   opts,
		logger: logger.Named("agent"),
		tabs:   make(map[string]*tabState),
	}
}

// Attach starts the agent for page and returns immediately. The scrape
// result is published on the bus as TypeScrapeResult; a page without a
// product title publishes nothing.
func (h *Host) Attach(ctx context.Context, page Page) {
	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	if old, ok := h.tabs[page.ID()]; ok {
		old.cancel()
	}
	h.tabs[page.ID()] = &tabState{cancel: cancel}
	h.mu.Unlock()

	go h.load(ctx, page)
}

// Detach stops the agent for tabID and forgets its document. Safe to repeat.
func (h *Host) Detach(tabID string) {
	h.mu.Lock()
	st, ok := h.tabs[tabID]
	delete(h.tabs, tabID)
	h.mu.Unlock()
	if ok {
		st.cancel()
	}
}

// Request answers a request addressed to the agent in tabID.
func (h *Host) Request(_ context.Context, tabID string, kind message.Type) (any, error) {
	h.mu.Lock()
	st, ok := h.tabs[tabID]
	var page *imagerank.Page
	if ok {
		page = st.page
	}
	h.mu.Unlock()
	if page == nil {
		return nil, ErrNoReceiver
	}

	switch kind {
	case message.TypeGetOCRImages:
		return imagerank.Widen(page, imagerank.DefaultStrategies(), h.opts.MaxImages), nil
	case message.TypeDebugSections:
		return imagerank.Analyze(page.Doc, h.opts.MaxImages), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, kind)
	}
}

func (h *Host) load(ctx context.Context, page Page) {
	logger := h.logger.With(zap.String("tab_id", page.ID()))

	readyCtx, stop := context.WithTimeout(ctx, h.opts.ReadyTimeout)
	err := page.WaitReady(readyCtx, "body")
	stop()
	if err != nil {
		logger.Debug("page never became ready", zap.Error(err))
		return
	}
	if err := retry.Sleep(ctx, h.opts.SettleDelay); err != nil {
		return
	}

	markup, err := page.HTML(ctx)
	if err != nil {
		logger.Debug("read page html failed", zap.Error(err))
		return
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		logger.Debug("parse page html failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	st, ok := h.tabs[page.ID()]
	if !ok || ctx.Err() != nil {
		h.mu.Unlock()
		return
	}
	st.page = imagerank.NewPage(doc)
	h.mu.Unlock()

	result, found := Scrape(doc)
	if !found {
		logger.Debug("no product title on page")
		return
	}
	delivered := h.bus.Publish(message.Message{Type: message.TypeScrapeResult, TabID: page.ID(), Payload: result})
	logger.Debug("scrape result published", zap.Int("listeners", delivered), zap.Int("bullets", len(result.Bullets)))
}
