package database

// Edition is an archived bound document.
type Edition struct {
	ID           string
	IndexURL     string
	DateToken    string
	Title        string
	ArticleCount int
	FailedCount  int
	HTML         string
	Markdown     *string
	GeneratedAt  *string
}

// EditionArticle is the outcome of one article within an archived edition.
type EditionArticle struct {
	EditionID string
	Index     int
	URL       string
	Title     string
	Status    string // "ok" or "failed"
	Reason    *string
}

// Stats contains aggregate archive statistics.
type Stats struct {
	Editions       int
	Articles       int
	FailedArticles int
	Days           int
}
