package database

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/TobiSchelling/DailyBinder/internal/edition"
)

// InsertEdition archives a bound document and its per-article outcomes.
// It returns the new edition ID.
func (db *DB) InsertEdition(doc *edition.Document, markdown string) (string, error) {
	id := uuid.NewString()

	var md *string
	if markdown != "" {
		md = &markdown
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return "", fmt.Errorf("begin insert edition: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO editions
		(id, index_url, date_token, title, article_count, failed_count, html, markdown)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, doc.IndexURL, doc.DateToken, doc.Title, len(doc.Records), doc.FailedCount(), doc.HTML, md,
	)
	if err != nil {
		return "", fmt.Errorf("inserting edition: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO edition_articles (edition_id, idx, url, title, status, reason)
		VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return "", err
	}
	defer stmt.Close()

	for _, r := range doc.Records {
		var reason *string
		if r.Reason != "" {
			reason = &r.Reason
		}
		if _, err := stmt.Exec(id, r.Index, r.URL, r.Title, r.Status.String(), reason); err != nil {
			return "", fmt.Errorf("inserting article %d: %w", r.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit edition: %w", err)
	}
	return id, nil
}

const editionColumns = `id, index_url, date_token, title, article_count, failed_count, html, markdown, generated_at`

func scanEdition(row interface{ Scan(...any) error }) (*Edition, error) {
	var e Edition
	if err := row.Scan(&e.ID, &e.IndexURL, &e.DateToken, &e.Title,
		&e.ArticleCount, &e.FailedCount, &e.HTML, &e.Markdown, &e.GeneratedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEdition returns the edition with the given ID, or nil if none exists.
func (db *DB) GetEdition(id string) (*Edition, error) {
	row := db.conn.QueryRow(`SELECT `+editionColumns+` FROM editions WHERE id = ?`, id)

	e, err := scanEdition(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// GetAllEditions returns all editions, newest first.
func (db *DB) GetAllEditions() ([]Edition, error) {
	rows, err := db.conn.Query(
		`SELECT ` + editionColumns + ` FROM editions ORDER BY generated_at DESC, date_token DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var editions []Edition
	for rows.Next() {
		e, err := scanEdition(rows)
		if err != nil {
			return nil, err
		}
		editions = append(editions, *e)
	}
	return editions, rows.Err()
}

// GetEditionArticles returns an edition's article outcomes in index order.
func (db *DB) GetEditionArticles(editionID string) ([]EditionArticle, error) {
	rows, err := db.conn.Query(
		`SELECT edition_id, idx, url, title, status, reason
		FROM edition_articles WHERE edition_id = ? ORDER BY idx`, editionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var articles []EditionArticle
	for rows.Next() {
		var a EditionArticle
		if err := rows.Scan(&a.EditionID, &a.Index, &a.URL, &a.Title, &a.Status, &a.Reason); err != nil {
			return nil, err
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

// DeleteEdition removes an edition; its article outcomes go with it via
// ON DELETE CASCADE.
func (db *DB) DeleteEdition(id string) error {
	_, err := db.conn.Exec("DELETE FROM editions WHERE id = ?", id)
	return err
}

// GetStats returns aggregate archive statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM editions", &s.Editions},
		{"SELECT COUNT(*) FROM edition_articles", &s.Articles},
		{"SELECT COUNT(*) FROM edition_articles WHERE status = 'failed'", &s.FailedArticles},
		{"SELECT COUNT(DISTINCT date_token) FROM editions", &s.Days},
	}

	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	return s, nil
}
