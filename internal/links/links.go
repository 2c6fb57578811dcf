// Package links discovers article URLs on an edition's index page.
package links

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/DailyBinder/internal/edition"
)

// ErrNoLinks is returned when an index page references no article pages.
var ErrNoLinks = errors.New("no article links found")

// Options controls which hrefs qualify as article links.
type Options struct {
	// Marker is the substring identifying article-content hrefs.
	Marker string
	// Allow, when set, drops resolved links it rejects (robots.txt).
	Allow func(u *url.URL) bool
}

// Discover returns the deduplicated article links referenced by markup, in
// first-seen order with dense indices. The markup may be an HTML index page
// or an RSS/Atom feed. When nothing qualifies it returns an empty slice and
// ErrNoLinks.
func Discover(markup, pageURL string, opts Options) ([]edition.ArticleLink, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parsing index URL: %w", err)
	}
	if opts.Marker == "" {
		return nil, fmt.Errorf("article marker must not be empty")
	}

	var hrefs []string
	if isFeed(markup) {
		hrefs, err = feedHrefs(markup)
	} else {
		hrefs, err = anchorHrefs(markup)
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(hrefs))
	found := []edition.ArticleLink{}
	for _, href := range hrefs {
		if !strings.Contains(href, opts.Marker) {
			continue
		}
		abs, ok := resolve(base, href)
		if !ok {
			continue
		}
		if opts.Allow != nil && !opts.Allow(abs) {
			continue
		}
		key := abs.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		found = append(found, edition.ArticleLink{Index: len(found), URL: key})
	}

	if len(found) == 0 {
		return found, ErrNoLinks
	}
	return found, nil
}

func anchorHrefs(markup string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parsing index page: %w", err)
	}

	var hrefs []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href != "" {
			hrefs = append(hrefs, href)
		}
	})
	return hrefs, nil
}

func isFeed(markup string) bool {
	switch gofeed.DetectFeedType(strings.NewReader(markup)) {
	case gofeed.FeedTypeRSS, gofeed.FeedTypeAtom:
		return true
	}
	return false
}

func feedHrefs(markup string) ([]string, error) {
	feed, err := gofeed.NewParser().ParseString(markup)
	if err != nil {
		return nil, fmt.Errorf("parsing index feed: %w", err)
	}

	var hrefs []string
	for _, item := range feed.Items {
		link := item.Link
		if link == "" {
			link = item.GUID
		}
		if link = strings.TrimSpace(link); link != "" {
			hrefs = append(hrefs, link)
		}
	}
	return hrefs, nil
}

func resolve(base *url.URL, href string) (*url.URL, bool) {
	ref, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return nil, false
	}
	abs.Fragment = ""
	return abs, true
}
