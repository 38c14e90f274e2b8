// Package ocr resolves readable text for product images. A single image is
// tried across a matrix of URL variants, request parameters and credentials,
// then an extraction service, then a local engine. Every failure collapses to
// empty text; nothing in this package returns an error to the pipeline.
package ocr

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-enricher/internal/batch"
	"github.com/JakeFAU/listing-enricher/internal/imagerank"
	"github.com/JakeFAU/listing-enricher/internal/metrics"
	"github.com/JakeFAU/listing-enricher/internal/retry"
)

var errNoText = errors.New("ocr: no text")

// Request is one provider call.
type Request struct {
	ImageURL string
	APIKey   string
	Params   Params
}

// Provider is a hosted recognizer reachable by GET and by POST.
type Provider interface {
	Get(ctx context.Context, req Request) (string, error)
	Post(ctx context.Context, req Request) (string, error)
}

// Extractor recognizes text without provider credentials.
type Extractor interface {
	Extract(ctx context.Context, imageURL string) (string, error)
}

// Cache stores resolved text per image URL.
type Cache interface {
	Get(ctx context.Context, imageURL string) (string, bool, error)
	Set(ctx context.Context, imageURL, text string) error
}

// Outcome is the text resolved for one image; Text may be empty.
type Outcome struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// Options configures a Resolver.
type Options struct {
	Provider     Provider
	FallbackKeys []string
	Params       []Params
	KeyBackoff   time.Duration

	// Service is tried per URL variant after the provider matrix.
	Service Extractor
	// Local is the last resort, bounded by LocalTimeout.
	Local        Extractor
	LocalTimeout time.Duration

	Cache Cache

	Concurrency int
	TaskTimeout time.Duration

	Logger *zap.Logger
}

// Resolver runs the resolution strategy.
type Resolver struct {
	opts   Options
	logger *zap.Logger
}

// NewResolver applies defaults to opts.
func NewResolver(opts Options) *Resolver {
	if len(opts.Params) == 0 {
		opts.Params = ParamVariants
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 18 * time.Second
	}
	if opts.LocalTimeout <= 0 {
		opts.LocalTimeout = 20 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{opts: opts, logger: logger.Named("ocr")}
}

// ResolveAll resolves every image with bounded concurrency and returns one
// outcome per URL in input order. Timed-out images yield empty text.
func (r *Resolver) ResolveAll(ctx context.Context, imageURLs []string, apiKey string) []Outcome {
	results := batch.MapBounded(ctx, imageURLs, r.opts.Concurrency, r.opts.TaskTimeout,
		func(ctx context.Context, u string) (string, error) {
			return r.Resolve(ctx, u, apiKey), nil
		})

	out := make([]Outcome, len(imageURLs))
	for i, res := range results {
		out[i] = Outcome{URL: imageURLs[i], Text: res.Value}
		switch {
		case res.TimedOut():
			metrics.ObserveOCRImage("timeout")
			r.logger.Warn("ocr image timed out", zap.String("url", imageURLs[i]), zap.Duration("limit", r.opts.TaskTimeout))
		case res.Value == "":
			metrics.ObserveOCRImage("empty")
		default:
			metrics.ObserveOCRImage("text")
		}
	}
	return out
}

// Resolve returns the text found in imageURL, or "" when every stage fails.
func (r *Resolver) Resolve(ctx context.Context, imageURL, apiKey string) string {
	if !imagerank.IsValidOCRImage(imageURL, "") {
		metrics.ObserveOCRAttempt("filter", "skipped")
		return ""
	}

	ctx, span := otel.Tracer("ocr").Start(ctx, "ocr.resolve")
	span.SetAttributes(attribute.String("image.url", imageURL))
	defer span.End()

	if text := r.cached(ctx, imageURL); text != "" {
		return text
	}

	text, stage := r.resolveUncached(ctx, imageURL, apiKey)
	span.SetAttributes(attribute.String("ocr.stage", stage), attribute.Int("ocr.text_len", len(text)))
	if text != "" && r.opts.Cache != nil {
		if err := r.opts.Cache.Set(ctx, imageURL, text); err != nil {
			r.logger.Debug("ocr cache set failed", zap.String("url", imageURL), zap.Error(err))
		}
	}
	return text
}

func (r *Resolver) cached(ctx context.Context, imageURL string) string {
	if r.opts.Cache == nil {
		return ""
	}
	text, ok, err := r.opts.Cache.Get(ctx, imageURL)
	if err != nil {
		r.logger.Debug("ocr cache get failed", zap.String("url", imageURL), zap.Error(err))
		return ""
	}
	if ok && text != "" {
		metrics.ObserveOCRAttempt("cache", "hit")
		return text
	}
	return ""
}

func (r *Resolver) resolveUncached(ctx context.Context, imageURL, apiKey string) (string, string) {
	variants := URLVariants(imageURL)

	if text := r.matrix(ctx, variants, Credentials(apiKey, r.opts.FallbackKeys)); text != "" {
		return text, "provider"
	}
	if ctx.Err() != nil {
		return "", "canceled"
	}

	if r.opts.Service != nil {
		text, _ := retry.DoValue(ctx, retry.Fixed{Attempts: len(variants)}, func(ctx context.Context, attempt int) (string, error) {
			return r.extract(ctx, "extract_service", r.opts.Service, variants[attempt-1])
		})
		if text != "" {
			return text, "extract_service"
		}
	}

	if r.opts.Local != nil && ctx.Err() == nil {
		localCtx, cancel := context.WithTimeout(ctx, r.opts.LocalTimeout)
		defer cancel()
		text, _ := r.extract(localCtx, "local", r.opts.Local, imageURL)
		if text != "" {
			return text, "local"
		}
	}
	return "", "none"
}

type cell struct {
	url    string
	params Params
}

// matrix walks URL variants (outer) and parameter variants (inner), rotating
// credentials for each cell, and stops at the first non-empty text.
func (r *Resolver) matrix(ctx context.Context, variants, keys []string) string {
	if r.opts.Provider == nil || len(keys) == 0 {
		return ""
	}
	cells := make([]cell, 0, len(variants)*len(r.opts.Params))
	for _, u := range variants {
		for _, p := range r.opts.Params {
			cells = append(cells, cell{url: u, params: p})
		}
	}

	text, _ := retry.DoValue(ctx, retry.Fixed{Attempts: len(cells)}, func(ctx context.Context, attempt int) (string, error) {
		c := cells[attempt-1]
		return r.rotate(ctx, c, keys)
	})
	return text
}

// rotate tries every credential for one cell with a fixed backoff between keys.
func (r *Resolver) rotate(ctx context.Context, c cell, keys []string) (string, error) {
	policy := retry.Fixed{Attempts: len(keys), Delay: r.opts.KeyBackoff}
	return retry.DoValue(ctx, policy, func(ctx context.Context, attempt int) (string, error) {
		return r.getThenPost(ctx, Request{ImageURL: c.url, APIKey: keys[attempt-1], Params: c.params})
	})
}

// getThenPost falls back to POST when GET errors or finds nothing.
func (r *Resolver) getThenPost(ctx context.Context, req Request) (string, error) {
	text, err := r.opts.Provider.Get(ctx, req)
	if text = strings.TrimSpace(text); err == nil && text != "" {
		metrics.ObserveOCRAttempt("provider_get", "text")
		return text, nil
	}
	metrics.ObserveOCRAttempt("provider_get", outcomeLabel(err))
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	text, err = r.opts.Provider.Post(ctx, req)
	if text = strings.TrimSpace(text); err == nil && text != "" {
		metrics.ObserveOCRAttempt("provider_post", "text")
		return text, nil
	}
	metrics.ObserveOCRAttempt("provider_post", outcomeLabel(err))
	if err != nil {
		r.logger.Debug("ocr provider attempt failed",
			zap.String("url", req.ImageURL),
			zap.String("params", req.Params.Name),
			zap.Error(err),
		)
		return "", err
	}
	return "", errNoText
}

func (r *Resolver) extract(ctx context.Context, stage string, e Extractor, imageURL string) (string, error) {
	text, err := e.Extract(ctx, imageURL)
	text = strings.TrimSpace(text)
	if err != nil {
		metrics.ObserveOCRAttempt(stage, "error")
		r.logger.Debug("ocr extractor failed", zap.String("stage", stage), zap.String("url", imageURL), zap.Error(err))
		return "", err
	}
	if text == "" {
		metrics.ObserveOCRAttempt(stage, "empty")
		return "", errNoText
	}
	metrics.ObserveOCRAttempt(stage, "text")
	return text, nil
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "empty"
}
