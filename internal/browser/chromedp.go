// Package browser opens isolated headless Chrome tabs, one per work item.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
)

// Config controls the browser.
type Config struct {
	// MaxTabs bounds concurrently open tabs; 0 means unbounded.
	MaxTabs           int
	Headless          bool
	ExecPath          string
	UserAgent         string
	NavigationTimeout time.Duration
}

// Browser owns one Chrome process and hands out tabs.
type Browser struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	closeAll    context.CancelFunc

	startOnce sync.Once
	startErr  error
	closeOnce sync.Once
}

// NewChromedp creates a Browser backed by chromedp. Chrome is started lazily
// with the first tab.
func NewChromedp(cfg Config) (*Browser, error) {
	if cfg.MaxTabs < 0 {
		return nil, fmt.Errorf("max tabs must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxTabs > 0 {
		limiter = make(chan struct{}, cfg.MaxTabs)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	// Tabs are created as targets of this browser context.
	browserCtx, closeAll := chromedp.NewContext(allocCtx)

	return &Browser{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		browserCtx:  browserCtx,
		closeAll:    closeAll,
	}, nil
}

// Close shuts the browser down. Open tabs become unusable.
func (b *Browser) Close() {
	b.closeOnce.Do(func() {
		b.closeAll()
		b.allocCancel()
	})
}

// NewTab opens a blank tab, waiting for a free slot when MaxTabs is reached.
func (b *Browser) NewTab(ctx context.Context) (*Tab, error) {
	if err := b.start(); err != nil {
		return nil, err
	}
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	tabCtx, cancel := chromedp.NewContext(b.browserCtx)
	// Run with no actions creates the target.
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		b.release()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	t := &Tab{
		id:         uuid.NewString(),
		ctx:        tabCtx,
		cancel:     cancel,
		release:    b.release,
		userAgent:  b.cfg.UserAgent,
		navTimeout: b.cfg.NavigationTimeout,
		meta:       newResponseMeta(),
	}
	chromedp.ListenTarget(tabCtx, t.meta.captureEvent)
	return t, nil
}

// start launches Chrome once. Tabs are then created in the running browser
// instead of each allocating their own process.
func (b *Browser) start() error {
	b.startOnce.Do(func() {
		if err := chromedp.Run(b.browserCtx); err != nil {
			b.startErr = fmt.Errorf("start browser: %w", err)
		}
	})
	return b.startErr
}

func (b *Browser) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tab slot wait canceled: %w", ctx.Err())
	}
}

func (b *Browser) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}

// Tab is one isolated page. It is owned by a single session.
type Tab struct {
	id         string
	ctx        context.Context
	cancel     context.CancelFunc
	release    func()
	userAgent  string
	navTimeout time.Duration
	meta       *responseMeta

	closeOnce sync.Once
}

// ID identifies the tab in agent messages.
func (t *Tab) ID() string { return t.id }

// Navigate loads url and returns the document status code. A zero status
// means no document response was observed.
func (t *Tab) Navigate(ctx context.Context, url string) (int, error) {
	err := t.run(ctx, t.navTimeout,
		t.networkSetupAction(),
		chromedp.Navigate(url),
	)
	if err != nil {
		return 0, fmt.Errorf("navigate %s: %w", url, err)
	}
	status, _ := t.meta.snapshot()
	return status, nil
}

// WaitReady blocks until selector is present in the document.
func (t *Tab) WaitReady(ctx context.Context, selector string) error {
	if err := t.run(ctx, 0, chromedp.WaitReady(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %s: %w", selector, err)
	}
	return nil
}

// HTML returns the rendered document.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	var html string
	if err := t.run(ctx, 0, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	return html, nil
}

// Close closes the tab and frees its slot. Safe to call repeatedly.
func (t *Tab) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()
		if t.release != nil {
			t.release()
		}
	})
	return nil
}

// run executes actions on the tab, bounded by ctx and an optional timeout.
func (t *Tab) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, timeout)
		defer cancelTimeout()
	}
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err //nolint:wrapcheck // wrapped by callers
	}
	return nil
}

func (t *Tab) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if t.userAgent != "" {
			if err := emulation.SetUserAgentOverride(t.userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}
