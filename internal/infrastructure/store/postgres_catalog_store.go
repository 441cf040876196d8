package store

import (
	"context"
	"database/sql"
)

// PostgresCatalogStore implements CatalogStoreInterface using PostgreSQL
type PostgresCatalogStore struct {
	db *sql.DB
}

// NewPostgresCatalogStore creates a new PostgreSQL-based catalog store
func NewPostgresCatalogStore(db *sql.DB) *PostgresCatalogStore {
	return &PostgresCatalogStore{db: db}
}

func (s *PostgresCatalogStore) InsertCategory(ctx context.Context, c *CategoryRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, description, bg_color, img_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.Name, c.Description, c.BgColor, c.ImgURL, c.CreatedAt, c.UpdatedAt)
	return translateError(err)
}

const categorySelect = `
	SELECT c.id, c.name, c.description, c.bg_color, c.img_url,
	       (SELECT COUNT(*) FROM items i WHERE i.category_id = c.id),
	       c.created_at, c.updated_at
	FROM categories c`

func scanCategory(row rowScanner) (*CategoryRecord, error) {
	var c CategoryRecord
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &c.BgColor, &c.ImgURL, &c.ItemCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresCatalogStore) GetCategory(ctx context.Context, categoryID string) (*CategoryRecord, error) {
	c, err := scanCategory(s.db.QueryRowContext(ctx, categorySelect+` WHERE c.id = $1`, categoryID))
	if err != nil {
		return nil, translateError(err)
	}
	return c, nil
}

func (s *PostgresCatalogStore) ListCategories(ctx context.Context) ([]CategoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, categorySelect+` ORDER BY c.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []CategoryRecord
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		categories = append(categories, *c)
	}
	return categories, rows.Err()
}

func (s *PostgresCatalogStore) DeleteCategory(ctx context.Context, categoryID string) error {
	return execDelete(ctx, s.db, `DELETE FROM categories WHERE id = $1`, categoryID)
}

func (s *PostgresCatalogStore) InsertItem(ctx context.Context, item *ItemRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, category_id, name, description, price, img_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.CategoryID, item.Name, item.Description, item.Price, item.ImgURL, item.CreatedAt, item.UpdatedAt)
	return translateError(err)
}

const itemSelect = `
	SELECT i.id, i.category_id, c.name, i.name, i.description, i.price, i.img_url, i.created_at, i.updated_at
	FROM items i
	JOIN categories c ON c.id = i.category_id`

func scanItem(row rowScanner) (*ItemRecord, error) {
	var i ItemRecord
	if err := row.Scan(&i.ID, &i.CategoryID, &i.CategoryName, &i.Name, &i.Description, &i.Price, &i.ImgURL, &i.CreatedAt, &i.UpdatedAt); err != nil {
		return nil, err
	}
	return &i, nil
}

func (s *PostgresCatalogStore) GetItem(ctx context.Context, itemID string) (*ItemRecord, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, itemSelect+` WHERE i.id = $1`, itemID))
	if err != nil {
		return nil, translateError(err)
	}
	return item, nil
}

func (s *PostgresCatalogStore) ListItems(ctx context.Context) ([]ItemRecord, error) {
	rows, err := s.db.QueryContext(ctx, itemSelect+` ORDER BY i.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ItemRecord
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (s *PostgresCatalogStore) DeleteItem(ctx context.Context, itemID string) error {
	return execDelete(ctx, s.db, `DELETE FROM items WHERE id = $1`, itemID)
}

var _ CatalogStoreInterface = (*PostgresCatalogStore)(nil)
