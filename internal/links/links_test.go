package links

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/DailyBinder/internal/edition"
)

const indexURL = "https://www.macaodaily.com/html/2026-02/10/node_1.htm"

var opts = Options{Marker: "content_"}

func TestDiscoverResolvesRelativeLinks(t *testing.T) {
	markup := `<html><body>
		<a href="node_2.htm">第二版</a>
		<a href="content_100.htm">A</a>
		<a href="/html/2026-02/10/content_101.htm">B</a>
		<a href="https://www.macaodaily.com/html/2026-02/10/content_102.htm">C</a>
	</body></html>`

	found, err := Discover(markup, indexURL, opts)
	require.NoError(t, err)

	assert.Equal(t, []edition.ArticleLink{
		{Index: 0, URL: "https://www.macaodaily.com/html/2026-02/10/content_100.htm"},
		{Index: 1, URL: "https://www.macaodaily.com/html/2026-02/10/content_101.htm"},
		{Index: 2, URL: "https://www.macaodaily.com/html/2026-02/10/content_102.htm"},
	}, found)
}

func TestDiscoverDeduplicatesAtFirstPosition(t *testing.T) {
	markup := `<a href="content_1.htm">one</a>
		<map><area href="content_x.htm"></map>
		<a href="content_2.htm">two</a>
		<a href="content_1.htm">one again</a>
		<a href="content_3.htm">three</a>
		<a href="./content_1.htm#top">one, third time</a>`

	found, err := Discover(markup, indexURL, opts)
	require.NoError(t, err)
	require.Len(t, found, 3)

	assert.True(t, strings.HasSuffix(found[0].URL, "content_1.htm"))
	assert.True(t, strings.HasSuffix(found[1].URL, "content_2.htm"))
	assert.True(t, strings.HasSuffix(found[2].URL, "content_3.htm"))
	for i, l := range found {
		assert.Equal(t, i, l.Index, "indices must be dense")
	}
}

func TestDiscoverNoLinks(t *testing.T) {
	markup := `<a href="node_1.htm">頭版</a><a href="node_2.htm">二版</a>`

	found, err := Discover(markup, indexURL, opts)
	assert.True(t, errors.Is(err, ErrNoLinks))
	assert.Empty(t, found)
	assert.NotNil(t, found)
}

func TestDiscoverSkipsNonHTTPTargets(t *testing.T) {
	markup := `<a href="javascript:open('content_9.htm')">js</a><a href="mailto:content_editor@example.com">mail</a><a href="content_9.htm">ok</a>`

	found, err := Discover(markup, indexURL, opts)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "https://www.macaodaily.com/html/2026-02/10/content_9.htm", found[0].URL)
}

func TestDiscoverAppliesAllowFilter(t *testing.T) {
	markup := `<a href="content_1.htm">1</a><a href="/private/content_2.htm">2</a>`
	o := Options{
		Marker: "content_",
		Allow: func(u *url.URL) bool {
			return !strings.HasPrefix(u.Path, "/private/")
		},
	}

	found, err := Discover(markup, indexURL, o)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, 0, found[0].Index)
}

func TestDiscoverFromRSSFeed(t *testing.T) {
	feed := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>澳門日報</title>
<item><title>A</title><link>https://www.macaodaily.com/html/2026-02/10/content_1.htm</link></item>
<item><title>Nav</title><link>https://www.macaodaily.com/html/2026-02/10/node_1.htm</link></item>
<item><title>B</title><link>https://www.macaodaily.com/html/2026-02/10/content_2.htm</link></item>
<item><title>A again</title><link>https://www.macaodaily.com/html/2026-02/10/content_1.htm</link></item>
</channel></rss>`

	found, err := Discover(feed, "https://www.macaodaily.com/rss.xml", opts)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.True(t, strings.HasSuffix(found[0].URL, "content_1.htm"))
	assert.True(t, strings.HasSuffix(found[1].URL, "content_2.htm"))
}

func TestDiscoverRequiresMarker(t *testing.T) {
	_, err := Discover(`<a href="content_1.htm">x</a>`, indexURL, Options{})
	assert.Error(t, err)
}
