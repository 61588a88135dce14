package database

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// Seed populates the database with development sample data: one vendor, one
// product and its Shopify counterpart. It does nothing once any product
// exists.
func Seed(db *sql.DB) error {
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM products").Scan(&count); err != nil {
		return fmt.Errorf("seed check products: %w", err)
	}

	if count > 0 {
		slog.Info("database already seeded, skipping")
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("seed begin: %w", err)
	}
	defer tx.Rollback()

	var vendorID int64
	if err := tx.QueryRow(`
		INSERT INTO vendors (data) VALUES ($1) RETURNING id
	`, `{"name":"Sample Vendor"}`).Scan(&vendorID); err != nil {
		return fmt.Errorf("seed insert vendor: %w", err)
	}

	var productID int64
	if err := tx.QueryRow(`
		INSERT INTO products (data) VALUES ($1) RETURNING id
	`, fmt.Sprintf(`{"title":"Sample Product","sku":"SAMPLE-1","vendor_id":%d}`, vendorID)).Scan(&productID); err != nil {
		return fmt.Errorf("seed insert product: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO channeled_products (entity_id, channel, platform_id, data)
		VALUES ($1, $2, $3, $4)
	`, productID, "shopify", "gid://shopify/Product/1", `{"title":"Sample Product","status":"active"}`); err != nil {
		return fmt.Errorf("seed insert channeled product: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("seed commit: %w", err)
	}

	slog.Info("database seeded with sample data",
		"vendor_id", vendorID,
		"product_id", productID,
	)

	return nil
}
