// Package pipeline runs one enrichment pass over the queue: fetch pending
// identifiers, then for each one open a page session, take the scrape result,
// resolve image text and write the row. Identifiers are processed strictly one
// after another; a watchdog bounds each of them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-enricher/internal/agent"
	"github.com/JakeFAU/listing-enricher/internal/asin"
	"github.com/JakeFAU/listing-enricher/internal/imagerank"
	"github.com/JakeFAU/listing-enricher/internal/metrics"
	"github.com/JakeFAU/listing-enricher/internal/ocr"
	"github.com/JakeFAU/listing-enricher/internal/progress"
	"github.com/JakeFAU/listing-enricher/internal/retry"
	"github.com/JakeFAU/listing-enricher/internal/session"
	"github.com/JakeFAU/listing-enricher/internal/sheets"
	"github.com/JakeFAU/listing-enricher/internal/storage"
)

// EmptyQueueMessage is the info status message of a run with nothing to do.
const EmptyQueueMessage = "No new ASINs to process."

var (
	// ErrMissingEndpoint aborts a run before any processing.
	ErrMissingEndpoint = errors.New("queue endpoint is not configured")
	// ErrWatchdogTimeout is the outcome of an item whose pipeline did not settle in time.
	ErrWatchdogTimeout = errors.New("asin_watchdog_timeout")
	// ErrNoData is the outcome of a scrape message that carried no result.
	ErrNoData = session.ErrNoData
	// ErrCanceled is the outcome of items not processed because the run was canceled.
	ErrCanceled = errors.New("canceled")
)

// RunConfig is the immutable per-run snapshot.
type RunConfig struct {
	RunID     string
	Endpoint  string
	QueueMode sheets.Mode
	APIKey    string
	Domain    string
}

// Queue reads pending identifiers and accepts result rows.
type Queue interface {
	FetchPending(ctx context.Context, endpoint string, mode sheets.Mode) ([]string, error)
	WriteRow(ctx context.Context, endpoint string, row sheets.Row) error
}

// Recognizer resolves text for image URLs. It never fails; missing text is "".
type Recognizer interface {
	ResolveAll(ctx context.Context, imageURLs []string, apiKey string) []ocr.Outcome
}

// Clock supplies event timestamps.
type Clock interface {
	Now() time.Time
}

// Outcome is the result for one identifier.
type Outcome struct {
	ASIN  string `json:"asin"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Report is the tally of a run.
type Report struct {
	RunID     string    `json:"run_id"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Total     int       `json:"total"`
	Outcomes  []Outcome `json:"outcomes"`
}

// Options configures a Runner.
type Options struct {
	// Watchdog bounds one identifier's whole pipeline.
	Watchdog time.Duration
	// PauseMin and PauseMax bound the jittered pause between identifiers.
	PauseMin time.Duration
	PauseMax time.Duration
	// Archive receives one JSON document per written item when set.
	Archive       storage.BlobStore
	ArchivePrefix string
	// DebugSections also asks the agent for its section analysis and archives it.
	DebugSections bool
	Clock         Clock
	Logger        *zap.Logger
}

// Runner executes runs. It is safe to reuse across runs but runs must not overlap.
type Runner struct {
	queue    Queue
	sessions Opener
	ocr      Recognizer
	events   progress.Emitter
	opts     Options
	logger   *zap.Logger
}

// wallClock stamps events in UTC.
type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

// NewRunner wires the collaborators. A nil events emitter discards events.
func NewRunner(queue Queue, sessions Opener, recognizer Recognizer, events progress.Emitter, opts Options) *Runner {
	if opts.Watchdog <= 0 {
		opts.Watchdog = 90 * time.Second
	}
	if opts.PauseMax < opts.PauseMin {
		opts.PauseMax = opts.PauseMin
	}
	if opts.ArchivePrefix == "" {
		opts.ArchivePrefix = "runs"
	}
	if opts.Clock == nil {
		opts.Clock = wallClock{}
	}
	if events == nil {
		events = progress.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		queue:    queue,
		sessions: sessions,
		ocr:      recognizer,
		events:   events,
		opts:     opts,
		logger:   logger.Named("pipeline"),
	}
}

// Run processes the queue once. Configuration and queue-read failures are
// returned and end the run with an error status; item failures are counted
// in the report. A canceled ctx fails the remaining items and returns ctx.Err().
func (r *Runner) Run(ctx context.Context, cfg RunConfig) (Report, error) {
	report := Report{RunID: cfg.RunID, Outcomes: []Outcome{}}
	start := r.opts.Clock.Now()
	logger := r.logger.With(zap.String("run_id", cfg.RunID))

	if cfg.Endpoint == "" {
		r.status(cfg.RunID, progress.StatusError, ErrMissingEndpoint.Error(), start, report)
		return report, ErrMissingEndpoint
	}
	r.status(cfg.RunID, progress.StatusStarted, "", start, report)

	raw, err := r.queue.FetchPending(ctx, cfg.Endpoint, cfg.QueueMode)
	if err != nil {
		r.status(cfg.RunID, progress.StatusError, err.Error(), start, report)
		return report, fmt.Errorf("fetch queue: %w", err)
	}
	ids := asin.ExtractAll(raw)
	logger.Info("queue fetched", zap.Int("raw", len(raw)), zap.Int("asins", len(ids)))
	if len(ids) == 0 {
		r.status(cfg.RunID, progress.StatusInfo, EmptyQueueMessage, start, report)
		return report, nil
	}

	report.Total = len(ids)
	for i, id := range ids {
		index := i + 1
		itemErr := ErrCanceled
		itemStart := r.opts.Clock.Now()
		if ctx.Err() == nil {
			r.events.Emit(progress.Progress(cfg.RunID, itemStart, index, report.Total, id))
			itemErr = r.guarded(ctx, cfg, id)
		}

		outcome := Outcome{ASIN: id, OK: itemErr == nil}
		if itemErr != nil {
			outcome.Error = itemErr.Error()
			report.Failed++
			logger.Warn("item failed", zap.String("asin", id), zap.Error(itemErr))
		} else {
			report.Succeeded++
		}
		report.Outcomes = append(report.Outcomes, outcome)
		now := r.opts.Clock.Now()
		r.events.Emit(progress.ItemDone(cfg.RunID, now, index, report.Total, id, itemErr, nonNegative(now.Sub(itemStart))))

		if index < report.Total && ctx.Err() == nil {
			_ = retry.Sleep(ctx, retry.Between(r.opts.PauseMin, r.opts.PauseMax))
		}
	}

	r.status(cfg.RunID, progress.StatusDone, "", start, report)
	logger.Info("run finished",
		zap.Int("success", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("total", report.Total),
	)
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("run canceled: %w", err)
	}
	return report, nil
}

func (r *Runner) status(runID string, status progress.Status, msg string, start time.Time, report Report) {
	now := r.opts.Clock.Now()
	evt := progress.RunStatus(runID, now, status, msg)
	if evt.Terminal() {
		evt.Total, evt.Succeeded, evt.Failed = report.Total, report.Succeeded, report.Failed
		evt.Dur = nonNegative(now.Sub(start))
	}
	r.events.Emit(evt)
}

// guarded runs one identifier under the watchdog. When the watchdog or the
// run context fires first, the item's context is canceled and its session is
// closed from here; the abandoned goroutine finishes against a dead context.
func (r *Runner) guarded(ctx context.Context, cfg RunConfig, id string) error {
	itemCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	guard := &sessionGuard{}
	done := make(chan error, 1)
	go func() {
		done <- r.process(itemCtx, cfg, id, guard)
	}()

	timer := time.NewTimer(r.opts.Watchdog)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		metrics.ObserveWatchdog()
		cancel()
		guard.close()
		return ErrWatchdogTimeout
	case <-ctx.Done():
		cancel()
		guard.close()
		return ErrCanceled
	}
}

func (r *Runner) process(ctx context.Context, cfg RunConfig, id string, guard *sessionGuard) (err error) {
	ctx, span := otel.Tracer("pipeline").Start(ctx, "pipeline.item")
	span.SetAttributes(attribute.String("run.id", cfg.RunID), attribute.String("asin", id))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	sess, err := r.sessions.Open(ctx, id, cfg.Domain)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	if !guard.set(sess) {
		return ErrWatchdogTimeout
	}
	defer guard.close()

	scraped, err := sess.AwaitScrape(ctx)
	if err != nil {
		return err //nolint:wrapcheck // the session error is the recorded outcome
	}
	rec := Record{
		RunID:  cfg.RunID,
		ASIN:   id,
		URL:    sess.URL(),
		Scrape: scraped,
	}
	rec.Candidates, err = sess.ImageCandidates(ctx)
	if err != nil {
		r.logger.Warn("image candidates unavailable", zap.String("asin", id), zap.Error(err))
	}
	if r.opts.DebugSections {
		if analysis, err := sess.Sections(ctx); err == nil {
			rec.Sections = &analysis
		}
	}
	// The page is no longer needed once candidates are known.
	guard.close()

	rec.OCR = r.ocr.ResolveAll(ctx, imagerank.URLs(rec.Candidates), cfg.APIKey)
	rec.Row = buildRow(id, scraped, rec.OCR)
	span.SetAttributes(attribute.Int("ocr.images", len(rec.OCR)), attribute.Int("ocr.text_len", len(rec.Row.OCRText)))

	if err := r.queue.WriteRow(ctx, cfg.Endpoint, rec.Row); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	rec.WrittenAt = r.opts.Clock.Now()
	r.archive(ctx, rec)
	return nil
}

func buildRow(id string, scraped agent.ScrapeResult, outcomes []ocr.Outcome) sheets.Row {
	texts := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		texts = append(texts, o.Text)
	}
	return sheets.Row{
		ASIN:             id,
		Title:            scraped.Title,
		Bullets:          sheets.JoinBullets(scraped.Bullets),
		Description:      scraped.Description,
		Brand:            scraped.Brand,
		Manufacturer:     scraped.Manufacturer,
		BrandInfo:        scraped.Brand,
		ManufacturerInfo: scraped.Manufacturer,
		OCRText:          ocr.Merge(texts),
	}
}

func (r *Runner) archive(ctx context.Context, rec Record) {
	if r.opts.Archive == nil {
		return
	}
	key := storage.ItemKey(r.opts.ArchivePrefix, rec.RunID, rec.ASIN)
	uri, err := storage.PutJSON(ctx, r.opts.Archive, key, rec)
	if err != nil {
		r.logger.Warn("archive failed", zap.String("asin", rec.ASIN), zap.Error(err))
		return
	}
	r.logger.Debug("item archived", zap.String("asin", rec.ASIN), zap.String("uri", uri))
}

// sessionGuard lets the watchdog close a session the item goroutine opened.
// A session registered after the guard closed is closed immediately.
type sessionGuard struct {
	mu     sync.Mutex
	sess   Session
	closed bool
}

func (g *sessionGuard) set(s Session) bool {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		s.Close()
		return false
	}
	g.sess = s
	g.mu.Unlock()
	return true
}

func (g *sessionGuard) close() {
	g.mu.Lock()
	g.closed = true
	s := g.sess
	g.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
