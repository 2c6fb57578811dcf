package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/DailyBinder/internal/config"
	"github.com/TobiSchelling/DailyBinder/internal/edition"
	"github.com/TobiSchelling/DailyBinder/internal/fetch"
	"github.com/TobiSchelling/DailyBinder/internal/logging"
)

func newTestBinder(t *testing.T) *Binder {
	t.Helper()
	cfg := config.Default()
	cfg.Crawl.TimeoutSec = 2
	b, err := New(cfg, logging.Discard())
	require.NoError(t, err)
	return b
}

// fakeSite serves an index page linking to n articles. Article failIdx
// hangs past the client timeout when failIdx >= 0.
func fakeSite(t *testing.T, n, failIdx int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/html/2026-02/10/node_1.htm", func(w http.ResponseWriter, r *http.Request) {
		var sb strings.Builder
		sb.WriteString(`<html><body><a href="node_2.htm">第二版</a>`)
		for i := 0; i < n; i++ {
			fmt.Fprintf(&sb, `<a href="content_%d.htm">%d</a>`, i, i)
			// Repeat every link to exercise dedup.
			fmt.Fprintf(&sb, `<area><a href="content_%d.htm">again</a>`, i)
		}
		sb.WriteString(`</body></html>`)
		w.Write([]byte(sb.String()))
	})
	mux.HandleFunc("/html/2026-02/10/", func(w http.ResponseWriter, r *http.Request) {
		var i int
		if _, err := fmt.Sscanf(r.URL.Path, "/html/2026-02/10/content_%d.htm", &i); err != nil {
			http.NotFound(w, r)
			return
		}
		if i == failIdx {
			select {
			case <-time.After(5 * time.Second):
			case <-r.Context().Done():
			}
			return
		}
		fmt.Fprintf(w, `<html><body><founder-title>第%d篇</founder-title>
<img src="../../../res/%d.jpg"><div id="ozoom"><p>正文%d</p></div></body></html>`, i, i, i)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRunBindsEdition(t *testing.T) {
	srv := fakeSite(t, 6, -1)
	b := newTestBinder(t)

	var progress []edition.Progress
	doc, err := b.Run(context.Background(), srv.URL+"/html/2026-02/10/node_1.htm", Options{
		Workers:    3,
		OnProgress: func(p edition.Progress) { progress = append(progress, p) },
	})
	require.NoError(t, err)

	assert.Equal(t, "20260210", doc.DateToken)
	require.Len(t, doc.Records, 6)
	for i, r := range doc.Records {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, fmt.Sprintf("第%d篇", i), r.Title)
		assert.Equal(t, []string{fmt.Sprintf("%s/res/%d.jpg", srv.URL, i)}, r.ImageURLs)
	}
	require.Len(t, progress, 6)
	assert.Equal(t, 6, progress[5].Completed)
	assert.Equal(t, 6, progress[5].Total)
	assert.Contains(t, doc.HTML, "澳門日報合輯 (20260210)")
	assert.Equal(t, "MacaoDaily_20260210.html", doc.Filename("MacaoDaily", "html"))
}

func TestRunIsolatesOneFailedArticle(t *testing.T) {
	srv := fakeSite(t, 5, 3)
	b := newTestBinder(t)

	doc, err := b.Run(context.Background(), srv.URL+"/html/2026-02/10/node_1.htm", Options{
		Workers: 2,
		Timeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NotNil(t, doc)
	require.Len(t, doc.Records, 5)

	assert.Equal(t, 1, doc.FailedCount())
	failed := doc.Records[3]
	assert.True(t, failed.Failed())
	assert.Contains(t, failed.Title, "content_3.htm")
	assert.Equal(t, 5, strings.Count(doc.HTML, `class="article-card`))
	assert.Contains(t, doc.HTML, `id="news_3"`)
}

func TestRunIndexFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	doc, err := newTestBinder(t).Run(context.Background(), srv.URL+"/html/2026-02/10/node_1.htm", Options{})
	assert.Nil(t, doc)
	assert.True(t, errors.Is(err, ErrIndexFetch))
}

func TestRunInvalidURL(t *testing.T) {
	_, err := newTestBinder(t).Run(context.Background(), "not a url", Options{})
	assert.True(t, errors.Is(err, ErrIndexFetch))
}

// stubFetcher serves canned pages and counts article fetches.
type stubFetcher struct {
	index    string
	articles atomic.Int32
	delay    func(i int) time.Duration
}

func (s *stubFetcher) FetchPage(context.Context, string) (string, error) {
	return s.index, nil
}

func (s *stubFetcher) FetchArticle(_ context.Context, link edition.ArticleLink) edition.ArticleRecord {
	s.articles.Add(1)
	if s.delay != nil {
		time.Sleep(s.delay(link.Index))
	}
	return edition.ArticleRecord{
		Index:    link.Index,
		URL:      link.URL,
		Title:    fmt.Sprintf("title %d", link.Index),
		BodyHTML: "<p>body</p>",
		AnchorID: edition.AnchorID(link.Index),
	}
}

func withStub(b *Binder, s *stubFetcher) {
	b.newFetcher = func(fetch.Options) PageFetcher { return s }
}

func TestRunNoLinksSkipsDispatch(t *testing.T) {
	b := newTestBinder(t)
	stub := &stubFetcher{index: `<a href="node_2.htm">二版</a>`}
	withStub(b, stub)

	doc, err := b.Run(context.Background(), "https://www.macaodaily.com/html/2026-02/10/node_1.htm", Options{})
	assert.Nil(t, doc)
	assert.True(t, errors.Is(err, ErrNoLinks))
	assert.Equal(t, int32(0), stub.articles.Load())
}

func TestRunOrderingIsDeterministic(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&sb, `<a href="content_%d.htm">x</a>`, i)
	}
	index := sb.String()
	indexURL := "https://www.macaodaily.com/html/2026-02/10/node_1.htm"

	var want string
	for run := 0; run < 4; run++ {
		rng := rand.New(rand.NewSource(int64(run)))
		delays := make([]time.Duration, 10)
		for i := range delays {
			delays[i] = time.Duration(rng.Intn(10)) * time.Millisecond
		}

		b := newTestBinder(t)
		withStub(b, &stubFetcher{index: index, delay: func(i int) time.Duration { return delays[i] }})

		doc, err := b.Run(context.Background(), indexURL, Options{Workers: 4})
		require.NoError(t, err)
		if run == 0 {
			want = doc.HTML
			continue
		}
		assert.Equal(t, want, doc.HTML, "run %d differs", run)
	}
}

func TestDiscoverLinks(t *testing.T) {
	b := newTestBinder(t)
	found, err := b.DiscoverLinks(`<a href="content_1.htm">1</a><a href="content_1.htm">1</a>`, "https://www.macaodaily.com/html/2026-02/10/node_1.htm")
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestTodayURL(t *testing.T) {
	cfg := config.Default()
	// 17:30 UTC on Feb 9 is already Feb 10 in Macau.
	now := time.Date(2026, 2, 9, 17, 30, 0, 0, time.UTC)
	assert.Equal(t, "https://www.macaodaily.com/html/2026-02/10/node_1.htm", TodayURL(cfg, now))
}
