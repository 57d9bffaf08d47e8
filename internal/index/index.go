// Package index maintains a SQLite search index over every product's
// features. The admin console's paginated feature search runs against it
// instead of scanning the JSON documents on every keystroke. The index is
// disposable: it is rebuilt from a snapshot whenever the data changes.
package index

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Yrzhe/vibe-coding-product-changelog/internal/domain"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/storage"
)

//go:embed schema.sql
var schema string

// Index is the feature search index.
type Index struct {
	db *sql.DB
}

// New opens (or creates) the index database. Use ":memory:" for an
// ephemeral index.
func New(path string) (*Index, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	// The in-memory database lives per connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("init index schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Close closes the underlying database.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Rebuild replaces the whole index with the given products.
func (ix *Index) Rebuild(products []domain.Product) error {
	tx, err := ix.db.Begin()
	if err != nil {
		return fmt.Errorf("begin rebuild: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM features"); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	stmt, err := tx.Prepare(
		"INSERT INTO features (id, product, key, title, description, time, tags, tags_none) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
	)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range products {
		for _, f := range p.Features {
			tags, err := json.Marshal(f.Tags)
			if err != nil {
				return fmt.Errorf("marshal tags: %w", err)
			}
			if f.Tags == nil {
				tags = []byte("[]")
			}
			_, err = stmt.Exec(
				uuid.New().String(), p.Name, storage.FeatureKey(f),
				f.Title, f.Description, f.Time, string(tags), f.TagsNone,
			)
			if err != nil {
				return fmt.Errorf("insert feature: %w", err)
			}
		}
	}
	return tx.Commit()
}

// Result is one search hit.
type Result struct {
	Product     string             `json:"product"`
	Key         string             `json:"key"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Time        string             `json:"time"`
	Tags        domain.FeatureTags `json:"tags"`
	TagsNone    bool               `json:"tags_none,omitempty"`
}

// Search returns one page of features matching the product filter (empty
// matches all) and the substring query against title or description, newest
// first, plus the total match count. Pages are 1-based.
func (ix *Index) Search(product, query string, page, pageSize int) ([]Result, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	pattern := "%" + query + "%"

	var total int
	err := ix.db.QueryRow(`
		SELECT COUNT(*) FROM features
		WHERE (? = '' OR product = ?)
		  AND (? = '' OR title LIKE ? OR description LIKE ?)
	`, product, product, query, pattern, pattern).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count features: %w", err)
	}

	rows, err := ix.db.Query(`
		SELECT product, key, title, description, time, tags, tags_none FROM features
		WHERE (? = '' OR product = ?)
		  AND (? = '' OR title LIKE ? OR description LIKE ?)
		ORDER BY time DESC, rowid ASC
		LIMIT ? OFFSET ?
	`, product, product, query, pattern, pattern, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("search features: %w", err)
	}
	defer rows.Close()

	results := []Result{}
	for rows.Next() {
		var r Result
		var tags string
		if err := rows.Scan(&r.Product, &r.Key, &r.Title, &r.Description, &r.Time, &tags, &r.TagsNone); err != nil {
			return nil, 0, fmt.Errorf("scan feature: %w", err)
		}
		_ = r.Tags.UnmarshalJSON([]byte(tags))
		results = append(results, r)
	}
	return results, total, rows.Err()
}
