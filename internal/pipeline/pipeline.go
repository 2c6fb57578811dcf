package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/DailyBinder/internal/compose"
	"github.com/TobiSchelling/DailyBinder/internal/config"
	"github.com/TobiSchelling/DailyBinder/internal/dispatch"
	"github.com/TobiSchelling/DailyBinder/internal/edition"
	"github.com/TobiSchelling/DailyBinder/internal/fetch"
	"github.com/TobiSchelling/DailyBinder/internal/links"
)

// ErrIndexFetch wraps failures to retrieve the index page itself.
var ErrIndexFetch = errors.New("index page unavailable")

// ErrNoLinks is re-exported so callers only need this package.
var ErrNoLinks = links.ErrNoLinks

// PageFetcher is the network side of a run.
type PageFetcher interface {
	FetchPage(ctx context.Context, pageURL string) (string, error)
	FetchArticle(ctx context.Context, link edition.ArticleLink) edition.ArticleRecord
}

// RobotsChecker is implemented by fetchers that can honour robots.txt.
type RobotsChecker interface {
	RobotsFilter(ctx context.Context, indexURL string) (func(*url.URL) bool, error)
}

// Options tune a single run. Zero values fall back to the config.
type Options struct {
	Workers    int
	Timeout    time.Duration
	Headers    map[string]string
	OnProgress dispatch.ProgressFunc
}

// Binder orchestrates index fetch, link discovery, dispatch and rendering.
type Binder struct {
	cfg      *config.Config
	log      *logrus.Logger
	renderer *compose.Renderer
	// newFetcher is swapped in tests.
	newFetcher func(opts fetch.Options) PageFetcher
}

// New creates a new binder.
func New(cfg *config.Config, log *logrus.Logger) (*Binder, error) {
	renderer, err := compose.NewRenderer()
	if err != nil {
		return nil, err
	}
	b := &Binder{cfg: cfg, log: log, renderer: renderer}
	b.newFetcher = func(opts fetch.Options) PageFetcher {
		return fetch.NewFetcher(opts, log)
	}
	return b, nil
}

// Renderer exposes the document renderer, e.g. for Markdown renditions.
func (b *Binder) Renderer() *compose.Renderer {
	return b.renderer
}

// DiscoverLinks finds the article links on an already fetched index page.
func (b *Binder) DiscoverLinks(markup, pageURL string) ([]edition.ArticleLink, error) {
	return links.Discover(markup, pageURL, links.Options{Marker: b.cfg.Site.ArticleMarker})
}

// Run binds the edition at indexURL into one document. Only an unreachable
// index page or an index without article links fail the run; individual
// article failures appear as placeholder sections.
func (b *Binder) Run(ctx context.Context, indexURL string, opts Options) (*edition.Document, error) {
	runLog := b.log.WithFields(logrus.Fields{"run_id": uuid.NewString(), "index": indexURL})

	if _, err := url.ParseRequestURI(indexURL); err != nil {
		return nil, fmt.Errorf("%w: invalid URL %q", ErrIndexFetch, indexURL)
	}

	workers := opts.Workers
	if workers == 0 {
		workers = b.cfg.Crawl.Workers
	}
	workers = config.ClampWorkers(workers)
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = b.cfg.Timeout()
	}
	headers := opts.Headers
	if headers == nil {
		headers = b.cfg.RequestHeaders()
	}

	fetcher := b.newFetcher(fetch.Options{
		Timeout:       timeout,
		Headers:       headers,
		Encoding:      b.cfg.Extract.Encoding,
		TitleTag:      b.cfg.Extract.TitleTag,
		TitleFallback: b.cfg.Extract.TitleFallback,
		ImageMarker:   b.cfg.Extract.ImageMarker,
		ContentID:     b.cfg.Extract.ContentID,
		MaxConns:      workers,
	})

	runLog.Info("Step 1/4: Fetching index page...")
	markup, err := fetcher.FetchPage(ctx, indexURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndexFetch, err)
	}

	runLog.Info("Step 2/4: Discovering article links...")
	linkOpts := links.Options{Marker: b.cfg.Site.ArticleMarker}
	if rc, ok := fetcher.(RobotsChecker); ok && b.cfg.Site.RespectRobots {
		allow, err := rc.RobotsFilter(ctx, indexURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrIndexFetch, err)
		}
		linkOpts.Allow = allow
	}
	found, err := links.Discover(markup, indexURL, linkOpts)
	if err != nil {
		return nil, err
	}

	runLog.WithField("workers", workers).Infof("Step 3/4: Fetching %d articles...", len(found))
	onProgress := func(p edition.Progress) {
		runLog.WithFields(logrus.Fields{"completed": p.Completed, "total": p.Total}).Debugf("finished %s", p.Record.URL)
		if opts.OnProgress != nil {
			opts.OnProgress(p)
		}
	}
	records := dispatch.Run(ctx, found, workers, fetcher.FetchArticle, onProgress)

	runLog.Info("Step 4/4: Composing document...")
	doc := &edition.Document{
		IndexURL:  indexURL,
		DateToken: compose.DateToken(indexURL),
		Title:     b.cfg.Site.Name + "合輯",
		Records:   compose.Order(records),
	}
	doc.HTML, err = b.renderer.Render(doc.Title, doc.DateToken, doc.Records)
	if err != nil {
		return nil, err
	}

	runLog.WithField("failed", doc.FailedCount()).Infof("Document composed: %d articles", len(doc.Records))
	return doc, nil
}

// TodayURL builds the index URL of the edition published on now's date in
// the site's time zone.
func TodayURL(cfg *config.Config, now time.Time) string {
	loc, err := time.LoadLocation(cfg.Site.TimeZone)
	if err != nil {
		loc = time.FixedZone("UTC+8", 8*60*60)
	}
	return fmt.Sprintf(cfg.Site.TodayURL, now.In(loc).Format("2006-01/02"))
}
