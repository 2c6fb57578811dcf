// Package edition holds the data passed between the stages of a bind run.
package edition

import (
	"fmt"
	"html"
)

// Status records whether an article fetch succeeded.
type Status int

const (
	StatusOK Status = iota
	StatusFailed
)

func (s Status) String() string {
	if s == StatusFailed {
		return "failed"
	}
	return "ok"
}

// Placeholder text substituted when extraction or fetching falls short.
const (
	UntitledPlaceholder    = "無標題"
	MissingBodyPlaceholder = "<p>（內文擷取失敗）</p>"
)

// ArticleLink is a discovered article URL and its position on the index page.
type ArticleLink struct {
	Index int
	URL   string
}

// ArticleRecord is the result of fetching one ArticleLink.
type ArticleRecord struct {
	Index     int
	URL       string
	Title     string
	ImageURLs []string
	BodyHTML  string
	AnchorID  string
	Status    Status
	Reason    string
}

// Failed reports whether the fetch for this record failed.
func (r ArticleRecord) Failed() bool {
	return r.Status == StatusFailed
}

// AnchorID returns the in-document anchor for the article at index i.
func AnchorID(i int) string {
	return fmt.Sprintf("news_%d", i)
}

// FailedRecord builds the stand-in record for a link whose fetch failed.
func FailedRecord(link ArticleLink, err error) ArticleRecord {
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	return ArticleRecord{
		Index:    link.Index,
		URL:      link.URL,
		Title:    "抓取失敗: " + link.URL,
		BodyHTML: "<p>錯誤: " + html.EscapeString(reason) + "</p>",
		AnchorID: AnchorID(link.Index),
		Status:   StatusFailed,
		Reason:   reason,
	}
}

// Progress is emitted once per finished article.
type Progress struct {
	Completed int
	Total     int
	Record    ArticleRecord
}

// Document is a bound edition: its records in index order and the rendered HTML.
type Document struct {
	IndexURL  string
	DateToken string
	Title     string
	Records   []ArticleRecord
	HTML      string
}

// FailedCount returns how many records carry a failure placeholder.
func (d *Document) FailedCount() int {
	n := 0
	for _, r := range d.Records {
		if r.Failed() {
			n++
		}
	}
	return n
}

// Filename returns the suggested download name, e.g. MacaoDaily_20260210.html.
func (d *Document) Filename(prefix, ext string) string {
	if prefix == "" {
		prefix = "Edition"
	}
	if ext == "" {
		ext = "html"
	}
	return fmt.Sprintf("%s_%s.%s", prefix, d.DateToken, ext)
}
