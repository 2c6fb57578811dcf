package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html/charset"

	"github.com/TobiSchelling/DailyBinder/internal/edition"
)

// maxBodyBytes caps how much of a single page is read.
const maxBodyBytes = 16 << 20

// Options configures a Fetcher.
type Options struct {
	Timeout     time.Duration
	Headers     map[string]string
	Encoding    string
	TitleTag    string
	ImageMarker string
	ContentID   string
	// TitleFallback is "none" or "readability".
	TitleFallback string
	// MaxConns bounds open connections per host; normally the worker count.
	MaxConns int
}

// Fetcher retrieves index and article pages and extracts article records.
// It holds only read-only configuration and is safe for concurrent use.
type Fetcher struct {
	client      *http.Client
	headers     map[string]string
	timeout     time.Duration
	encoding    string
	titles      TitleExtractor
	imageMarker string
	contentID   string
	log         logrus.FieldLogger
}

// NewFetcher creates a new fetcher.
func NewFetcher(opts Options, log logrus.FieldLogger) *Fetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Encoding == "" {
		opts.Encoding = "utf-8"
	}
	if opts.TitleTag == "" {
		opts.TitleTag = "founder-title"
	}
	if opts.ImageMarker == "" {
		opts.ImageMarker = "/res/"
	}
	if opts.ContentID == "" {
		opts.ContentID = "ozoom"
	}

	var titles TitleExtractor = NewTagTitle(opts.TitleTag)
	if opts.TitleFallback == "readability" {
		titles = TitleChain{titles, ReadabilityTitle{}}
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.MaxConns > 0 {
		transport.MaxConnsPerHost = opts.MaxConns
		transport.MaxIdleConnsPerHost = opts.MaxConns
	}

	return &Fetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		headers:     opts.Headers,
		timeout:     opts.Timeout,
		encoding:    opts.Encoding,
		titles:      titles,
		imageMarker: opts.ImageMarker,
		contentID:   opts.ContentID,
		log:         log,
	}
}

// FetchPage GETs pageURL and returns its body decoded with the configured
// encoding, regardless of what the response declares.
func (f *Fetcher) FetchPage(ctx context.Context, pageURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &HTTPError{Code: resp.StatusCode, URL: pageURL}
	}

	decoded, err := charset.NewReaderLabel(f.encoding, io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("decoding %s: %w", pageURL, err)
	}
	body, err := io.ReadAll(decoded)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", pageURL, err)
	}
	return string(body), nil
}

// FetchArticle retrieves and parses one article. It never fails: network and
// parse errors come back as a StatusFailed record.
func (f *Fetcher) FetchArticle(ctx context.Context, link edition.ArticleLink) edition.ArticleRecord {
	entry := f.log.WithFields(logrus.Fields{"index": link.Index, "url": link.URL})

	raw, err := f.FetchPage(ctx, link.URL)
	if err != nil {
		entry.WithError(err).Warn("article fetch failed")
		return edition.FailedRecord(link, err)
	}

	rec, err := f.ParseArticle(raw, link)
	if err != nil {
		entry.WithError(err).Warn("article parse failed")
		return edition.FailedRecord(link, err)
	}

	entry.WithField("images", len(rec.ImageURLs)).Debugf("fetched %s", rec.Title)
	return rec
}

// ParseArticle extracts title, resource images and the content container
// from an article page. Missing title or body are substituted with
// placeholders, not reported as errors.
func (f *Fetcher) ParseArticle(raw string, link edition.ArticleLink) (edition.ArticleRecord, error) {
	pageURL, err := url.Parse(link.URL)
	if err != nil {
		return edition.ArticleRecord{}, fmt.Errorf("parsing article URL: %w", err)
	}

	title, ok := f.titles.ExtractTitle(raw, pageURL)
	if !ok {
		title = edition.UntitledPlaceholder
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return edition.ArticleRecord{}, fmt.Errorf("parsing article page: %w", err)
	}

	images := []string{}
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if src == "" || !strings.Contains(src, f.imageMarker) {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(src))
		if err != nil {
			return
		}
		images = append(images, pageURL.ResolveReference(ref).String())
	})

	body := edition.MissingBodyPlaceholder
	if content := doc.Find(fmt.Sprintf("[id=%q]", f.contentID)).First(); content.Length() > 0 {
		html, err := goquery.OuterHtml(content)
		if err != nil {
			return edition.ArticleRecord{}, fmt.Errorf("serializing content: %w", err)
		}
		body = html
	}

	return edition.ArticleRecord{
		Index:     link.Index,
		URL:       link.URL,
		Title:     title,
		ImageURLs: images,
		BodyHTML:  body,
		AnchorID:  edition.AnchorID(link.Index),
		Status:    edition.StatusOK,
	}, nil
}

// HTTPError is returned for responses with a 4xx or 5xx status.
type HTTPError struct {
	Code int
	URL  string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d %s: %s", e.Code, http.StatusText(e.Code), e.URL)
}
