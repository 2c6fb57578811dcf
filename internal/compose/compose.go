package compose

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"regexp"
	"sort"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"

	"github.com/TobiSchelling/DailyBinder/internal/edition"
)

//go:embed templates/document.html
var templateFS embed.FS

// FallbackDateToken labels editions whose index URL carries no date.
const FallbackDateToken = "Archive"

var datePattern = regexp.MustCompile(`(\d{4}-\d{2}/\d{2})`)

// Renderer turns ordered article records into a self-contained document.
// It holds no mutable state after construction.
type Renderer struct {
	tmpl      *template.Template
	converter *md.Converter
}

// NewRenderer parses the embedded document shell.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"inc": func(i int) int { return i + 1 },
		// Body fragments are re-serialized from a parsed tree, so their
		// tags are balanced and cannot close the shell around them.
		"trusted": func(s string) template.HTML { return template.HTML(s) }, //nolint: gosec
	}

	tmpl, err := template.New("document.html").Funcs(funcMap).ParseFS(templateFS, "templates/document.html")
	if err != nil {
		return nil, fmt.Errorf("parsing document template: %w", err)
	}

	return &Renderer{tmpl: tmpl, converter: md.NewConverter("", true, nil).Remove("head", "style")}, nil
}

// Order returns a copy of records sorted by their index-page position.
func Order(records []edition.ArticleRecord) []edition.ArticleRecord {
	ordered := make([]edition.ArticleRecord, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })
	return ordered
}

// DateToken derives the edition token from an index URL: the YYYY-MM/DD
// segment collapsed to YYYYMMDD, or FallbackDateToken.
func DateToken(indexURL string) string {
	m := datePattern.FindString(indexURL)
	if m == "" {
		return FallbackDateToken
	}
	return strings.NewReplacer("-", "", "/", "").Replace(m)
}

// Render composes the document shell, table of contents and one section per
// record, in the order given. Output depends only on its arguments.
func (r *Renderer) Render(title, dateToken string, records []edition.ArticleRecord) (string, error) {
	var buf bytes.Buffer
	err := r.tmpl.Execute(&buf, map[string]any{
		"Title":     title,
		"DateToken": dateToken,
		"Records":   records,
	})
	if err != nil {
		return "", fmt.Errorf("rendering document: %w", err)
	}
	return buf.String(), nil
}

// Markdown converts a rendered document to a Markdown rendition.
func (r *Renderer) Markdown(document string) (string, error) {
	out, err := r.converter.ConvertString(document)
	if err != nil {
		return "", fmt.Errorf("converting to markdown: %w", err)
	}
	return out, nil
}
