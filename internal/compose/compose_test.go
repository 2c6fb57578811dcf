package compose

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/DailyBinder/internal/edition"
)

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer()
	require.NoError(t, err)
	return r
}

func sampleRecords(n int) []edition.ArticleRecord {
	records := make([]edition.ArticleRecord, n)
	for i := range records {
		records[i] = edition.ArticleRecord{
			Index:     i,
			URL:       fmt.Sprintf("https://www.macaodaily.com/html/2026-02/10/content_%d.htm", i),
			Title:     fmt.Sprintf("標題 %d", i),
			ImageURLs: []string{fmt.Sprintf("https://www.macaodaily.com/res/%d.jpg", i)},
			BodyHTML:  fmt.Sprintf(`<div id="ozoom"><p>內文 %d</p></div>`, i),
			AnchorID:  edition.AnchorID(i),
		}
	}
	return records
}

func TestDateToken(t *testing.T) {
	assert.Equal(t, "20260210", DateToken("https://www.macaodaily.com/html/2026-02/10/node_1.htm"))
	assert.Equal(t, FallbackDateToken, DateToken("https://www.macaodaily.com/index.htm"))
}

func TestOrderRestoresIndexOrder(t *testing.T) {
	records := sampleRecords(10)
	shuffled := make([]edition.ArticleRecord, len(records))
	copy(shuffled, records)
	rand.New(rand.NewSource(7)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	ordered := Order(shuffled)
	for i, r := range ordered {
		assert.Equal(t, i, r.Index)
	}
	assert.NotEqual(t, ordered, shuffled, "Order must not sort in place")
}

func TestRenderIsDeterministicAcrossCompletionOrders(t *testing.T) {
	r := newTestRenderer(t)
	records := sampleRecords(8)

	want, err := r.Render("澳門日報合輯", "20260210", Order(records))
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 5; i++ {
		perm := make([]edition.ArticleRecord, len(records))
		copy(perm, records)
		rng.Shuffle(len(perm), func(a, b int) { perm[a], perm[b] = perm[b], perm[a] })

		got, err := r.Render("澳門日報合輯", "20260210", Order(perm))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestRenderStructure(t *testing.T) {
	r := newTestRenderer(t)
	out, err := r.Render("澳門日報合輯", "20260210", sampleRecords(3))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"))
	assert.Contains(t, out, `<meta charset="UTF-8">`)
	assert.Contains(t, out, "<h1>澳門日報合輯 (20260210)</h1>")
	for i := 0; i < 3; i++ {
		assert.Contains(t, out, fmt.Sprintf(`<a href="#news_%d">%d. 標題 %d</a>`, i, i+1, i))
		assert.Contains(t, out, fmt.Sprintf(`id="news_%d"`, i))
	}

	toc := strings.Index(out, `id="toc"`)
	first := strings.Index(out, `id="news_0"`)
	second := strings.Index(out, `id="news_1"`)
	third := strings.Index(out, `id="news_2"`)
	assert.True(t, toc < first && first < second && second < third, "toc then sections in index order")

	// Section internals: title, source link, image, body, in that order.
	section := out[first:second]
	ti := strings.Index(section, "標題 0")
	si := strings.Index(section, "content_0.htm")
	ii := strings.Index(section, "res/0.jpg")
	bi := strings.Index(section, "內文 0")
	assert.True(t, ti < si && si < ii && ii < bi)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "</html>"))
}

func TestRenderEscapesTitles(t *testing.T) {
	r := newTestRenderer(t)
	records := sampleRecords(1)
	records[0].Title = `</div></body><script>alert(1)</script>`

	out, err := r.Render("合輯", "Archive", records)
	require.NoError(t, err)
	assert.NotContains(t, out, "<script>alert(1)</script>")
	assert.Contains(t, out, "&lt;script&gt;")
}

func TestRenderFailedRecordPlaceholder(t *testing.T) {
	r := newTestRenderer(t)
	records := sampleRecords(2)
	records[1] = edition.FailedRecord(edition.ArticleLink{Index: 1, URL: "https://www.macaodaily.com/html/2026-02/10/content_1.htm"}, errors.New("timeout"))

	out, err := r.Render("合輯", "20260210", records)
	require.NoError(t, err)
	assert.Contains(t, out, `class="article-card failed" id="news_1"`)
	assert.Contains(t, out, "抓取失敗: https://www.macaodaily.com/html/2026-02/10/content_1.htm")
	assert.Contains(t, out, "錯誤: timeout")
}

func TestRenderIdempotent(t *testing.T) {
	r := newTestRenderer(t)
	records := sampleRecords(4)
	a, err := r.Render("合輯", "20260210", records)
	require.NoError(t, err)
	b, err := r.Render("合輯", "20260210", records)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMarkdown(t *testing.T) {
	r := newTestRenderer(t)
	doc, err := r.Render("合輯", "20260210", sampleRecords(2))
	require.NoError(t, err)

	out, err := r.Markdown(doc)
	require.NoError(t, err)
	assert.Contains(t, out, "標題 1")
	assert.Contains(t, out, "內文 0")
	assert.Contains(t, out, "](#news_0)")
	assert.NotContains(t, out, "font-family")
}
