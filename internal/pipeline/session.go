package pipeline

import (
	"context"
	"time"

	"github.com/JakeFAU/listing-enricher/internal/agent"
	"github.com/JakeFAU/listing-enricher/internal/imagerank"
	"github.com/JakeFAU/listing-enricher/internal/ocr"
	"github.com/JakeFAU/listing-enricher/internal/session"
	"github.com/JakeFAU/listing-enricher/internal/sheets"
)

// Session is one open product page. Close must be idempotent.
type Session interface {
	URL() string
	AwaitScrape(ctx context.Context) (agent.ScrapeResult, error)
	ImageCandidates(ctx context.Context) ([]imagerank.Candidate, error)
	Sections(ctx context.Context) (imagerank.Analysis, error)
	Close()
}

// Opener opens a session for one identifier on a marketplace domain.
type Opener interface {
	Open(ctx context.Context, asin, domain string) (Session, error)
}

// Coordinated adapts a session.Coordinator to Opener.
type Coordinated struct {
	Coordinator *session.Coordinator
	// ScrapeTimeout is passed to AwaitScrape; zero uses the coordinator default.
	ScrapeTimeout time.Duration
}

// Open implements Opener.
func (c Coordinated) Open(ctx context.Context, asin, domain string) (Session, error) {
	h, err := c.Coordinator.Open(ctx, asin, domain)
	if err != nil {
		return nil, err //nolint:wrapcheck // wrapped by the runner
	}
	return &coordinatedSession{c: c.Coordinator, h: h, timeout: c.ScrapeTimeout}, nil
}

type coordinatedSession struct {
	c       *session.Coordinator
	h       *session.Handle
	timeout time.Duration
}

func (s *coordinatedSession) URL() string { return s.h.URL }

func (s *coordinatedSession) AwaitScrape(ctx context.Context) (agent.ScrapeResult, error) {
	return s.c.AwaitScrape(ctx, s.h, s.timeout) //nolint:wrapcheck // sentinel is the outcome
}

func (s *coordinatedSession) ImageCandidates(ctx context.Context) ([]imagerank.Candidate, error) {
	return s.c.RequestImageCandidates(ctx, s.h) //nolint:wrapcheck // already names the request
}

func (s *coordinatedSession) Sections(ctx context.Context) (imagerank.Analysis, error) {
	return s.c.DebugSections(ctx, s.h) //nolint:wrapcheck // already names the request
}

func (s *coordinatedSession) Close() { s.c.Close(s.h) }

// Record is the archive document written for one item.
type Record struct {
	RunID      string                `json:"run_id"`
	ASIN       string                `json:"asin"`
	URL        string                `json:"url"`
	Scrape     agent.ScrapeResult    `json:"scrape"`
	Candidates []imagerank.Candidate `json:"candidates"`
	Sections   *imagerank.Analysis   `json:"sections,omitempty"`
	OCR        []ocr.Outcome         `json:"ocr"`
	Row        sheets.Row            `json:"row"`
	WrittenAt  time.Time             `json:"written_at"`
}
