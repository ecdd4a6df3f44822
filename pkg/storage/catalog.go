package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"dealscout/pkg/models"

	_ "modernc.org/sqlite"
)

// Catalog is the durable product store. One row per (store, product name);
// a store's rows are replaced wholesale on every successful scrape pass.
type Catalog struct {
	db *sql.DB

	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func New(dbPath string) (*Catalog, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS products (
			store_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			original_price REAL,
			discounted_price REAL NOT NULL,
			category TEXT NOT NULL,
			is_favorite INTEGER NOT NULL DEFAULT 0,
			extra TEXT,
			PRIMARY KEY (store_id, name)
		)
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Catalog{db: db, subs: make(map[chan struct{}]struct{})}, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

// ReplaceStore swaps a store's catalog for the scraped set in one
// transaction, so readers never observe the store half-emptied. Favorite
// flags are carried over to products whose (store, name) key survives the
// swap; a scrape must never clear what the user marked.
func (c *Catalog) ReplaceStore(ctx context.Context, storeID models.StoreID, products []models.Product) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	favorites, err := favoriteNames(ctx, tx, storeID)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM products WHERE store_id = ?`, storeID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO products (store_id, name, original_price, discounted_price, category, is_favorite, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(store_id, name) DO UPDATE SET
			original_price = excluded.original_price,
			discounted_price = excluded.discounted_price,
			category = excluded.category,
			extra = excluded.extra
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range products {
		var extra any
		if p.Extra != nil {
			data, err := json.Marshal(p.Extra)
			if err != nil {
				return fmt.Errorf("failed to marshal extra payload for %q: %w", p.Name, err)
			}
			extra = string(data)
		}
		fav := p.IsFavorite || favorites[p.Name]
		if _, err := stmt.ExecContext(ctx, p.StoreID, p.Name, p.OriginalPrice, p.DiscountedPrice, p.Category, fav, extra); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	c.notify()
	return nil
}

// DeleteStore drops every product of a store, e.g. when the store is
// disabled or removed.
func (c *Catalog) DeleteStore(ctx context.Context, storeID models.StoreID) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM products WHERE store_id = ?`, storeID); err != nil {
		return err
	}
	c.notify()
	return nil
}

// UpdateFavorite flips the user-set favorite flag of one product.
func (c *Catalog) UpdateFavorite(ctx context.Context, storeID models.StoreID, name string, isFavorite bool) error {
	res, err := c.db.ExecContext(ctx,
		`UPDATE products SET is_favorite = ? WHERE store_id = ? AND name = ?`,
		isFavorite, storeID, name,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("product not found: %s/%s", storeID, name)
	}
	c.notify()
	return nil
}

func (c *Catalog) AllProducts(ctx context.Context) ([]models.Product, error) {
	return c.query(ctx, `SELECT store_id, name, original_price, discounted_price, category, is_favorite, extra FROM products`)
}

func (c *Catalog) ProductsByStore(ctx context.Context, storeID models.StoreID) ([]models.Product, error) {
	return c.query(ctx,
		`SELECT store_id, name, original_price, discounted_price, category, is_favorite, extra FROM products WHERE store_id = ?`,
		storeID,
	)
}

func (c *Catalog) ProductsByStoreAndCategory(ctx context.Context, storeID models.StoreID, category string) ([]models.Product, error) {
	return c.query(ctx,
		`SELECT store_id, name, original_price, discounted_price, category, is_favorite, extra FROM products WHERE store_id = ? AND category = ?`,
		storeID, category,
	)
}

func (c *Catalog) Favorites(ctx context.Context) ([]models.Product, error) {
	return c.query(ctx,
		`SELECT store_id, name, original_price, discounted_price, category, is_favorite, extra FROM products WHERE is_favorite = 1`,
	)
}

// BestDiscounts ranks products by computed discount percentage. Products
// without a reference price cannot be ranked and are left out.
func (c *Catalog) BestDiscounts(ctx context.Context, limit int) ([]models.Product, error) {
	return c.query(ctx, `
		SELECT store_id, name, original_price, discounted_price, category, is_favorite, extra
		FROM products
		WHERE original_price IS NOT NULL AND original_price > discounted_price
		ORDER BY (original_price - discounted_price) / original_price DESC
		LIMIT ?
	`, limit)
}

// ProductByKey returns the product or nil when absent.
func (c *Catalog) ProductByKey(ctx context.Context, storeID models.StoreID, name string) (*models.Product, error) {
	products, err := c.query(ctx,
		`SELECT store_id, name, original_price, discounted_price, category, is_favorite, extra FROM products WHERE store_id = ? AND name = ?`,
		storeID, name,
	)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, nil
	}
	return &products[0], nil
}

// Subscribe returns a channel that receives a coalesced signal whenever the
// catalog changes. The channel is closed when ctx is cancelled.
func (c *Catalog) Subscribe(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	c.subs[ch] = struct{}{}
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		delete(c.subs, ch)
		c.mu.Unlock()
		close(ch)
	}()
	return ch
}

func (c *Catalog) notify() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- struct{}{}:
		default: // subscriber already has a pending signal
		}
	}
}

func (c *Catalog) query(ctx context.Context, q string, args ...any) ([]models.Product, error) {
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func scanProduct(rows *sql.Rows) (models.Product, error) {
	var (
		p        models.Product
		original sql.NullFloat64
		extra    sql.NullString
	)
	if err := rows.Scan(&p.StoreID, &p.Name, &original, &p.DiscountedPrice, &p.Category, &p.IsFavorite, &extra); err != nil {
		return models.Product{}, err
	}
	if original.Valid {
		p.OriginalPrice = &original.Float64
	}
	if extra.Valid && extra.String != "" {
		if err := json.Unmarshal([]byte(extra.String), &p.Extra); err != nil {
			log.Printf("Catalog: malformed extra payload for %s/%s: %v", p.StoreID, p.Name, err)
		}
	}
	return p, nil
}

func favoriteNames(ctx context.Context, tx *sql.Tx, storeID models.StoreID) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT name FROM products WHERE store_id = ? AND is_favorite = 1`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	favorites := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		favorites[name] = true
	}
	return favorites, rows.Err()
}
