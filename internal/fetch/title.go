package fetch

import (
	"net/url"
	"regexp"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// TitleExtractor pulls an article title out of a raw page. ok is false when
// the page carries no recognizable title.
type TitleExtractor interface {
	ExtractTitle(raw string, pageURL *url.URL) (title string, ok bool)
}

// TagTitle matches the publishing system's inline title tag, e.g.
// <founder-title>...</founder-title>. The source markup is not well formed
// around this tag so it is matched as text, not parsed.
type TagTitle struct {
	re *regexp.Regexp
}

// NewTagTitle builds a TagTitle for the given tag name.
func NewTagTitle(tag string) *TagTitle {
	q := regexp.QuoteMeta(tag)
	return &TagTitle{re: regexp.MustCompile(`(?s)<` + q + `>(.*?)</` + q + `>`)}
}

func (t *TagTitle) ExtractTitle(raw string, _ *url.URL) (string, bool) {
	m := t.re.FindStringSubmatch(raw)
	if m == nil {
		return "", false
	}
	title := strings.ReplaceAll(m[1], "<![CDATA[", "")
	title = strings.ReplaceAll(title, "]]>", "")
	return strings.TrimSpace(title), true
}

// ReadabilityTitle falls back to readability's title heuristics.
type ReadabilityTitle struct{}

func (ReadabilityTitle) ExtractTitle(raw string, pageURL *url.URL) (string, bool) {
	article, err := readability.FromReader(strings.NewReader(raw), pageURL)
	if err != nil {
		return "", false
	}
	title := strings.TrimSpace(article.Title)
	return title, title != ""
}

// TitleChain tries each extractor in turn.
type TitleChain []TitleExtractor

func (c TitleChain) ExtractTitle(raw string, pageURL *url.URL) (string, bool) {
	for _, e := range c {
		if title, ok := e.ExtractTitle(raw, pageURL); ok {
			return title, true
		}
	}
	return "", false
}
