package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/temoto/robotstxt"
)

// RobotsFilter loads robots.txt for indexURL's host and returns a predicate
// reporting whether a link may be fetched with the configured user agent.
// A missing or unreadable robots.txt allows everything.
func (f *Fetcher) RobotsFilter(ctx context.Context, indexURL string) (func(*url.URL) bool, error) {
	u, err := url.Parse(indexURL)
	if err != nil {
		return nil, fmt.Errorf("parsing index URL: %w", err)
	}
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", u.Scheme, u.Host)

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.log.WithError(err).Warnf("robots.txt unavailable at %s, allowing all", robotsURL)
		return allowAll, nil
	}
	defer resp.Body.Close()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		f.log.WithError(err).Warnf("robots.txt unparsable at %s, allowing all", robotsURL)
		return allowAll, nil
	}

	group := data.FindGroup(f.headers["User-Agent"])
	return func(link *url.URL) bool {
		if link.Host != u.Host {
			return true
		}
		return group.Test(link.RequestURI())
	}, nil
}

func allowAll(*url.URL) bool { return true }
