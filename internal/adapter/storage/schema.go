package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// The stock check and the product foreign key back the invariants the
// application enforces: stock can never be negative and a product cannot
// disappear while an order item references it.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		price DECIMAL(10,2) NOT NULL DEFAULT 0,
		stock INT NOT NULL,
		version INT NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		CONSTRAINT stock_non_negative CHECK (stock >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		status VARCHAR(32) NOT NULL DEFAULT 'completed',
		total DECIMAL(10,2) NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		order_id BIGINT NOT NULL,
		product_id BIGINT NOT NULL,
		quantity INT NOT NULL,
		price DECIMAL(10,2),
		CONSTRAINT fk_order_items_order FOREIGN KEY (order_id)
			REFERENCES orders (id) ON DELETE CASCADE,
		CONSTRAINT fk_order_items_product FOREIGN KEY (product_id)
			REFERENCES products (id)
	)`,
}

// EnsureSchema creates the tables if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// SeedProducts inserts the demo catalog. Idempotent: existing rows with
// the same ids are left untouched.
func SeedProducts(ctx context.Context, db *sql.DB) error {
	seed := []struct {
		id    int64
		name  string
		price string
		stock int
	}{
		{1, "Gaming Laptop", "2499.90", 5},
		{2, "Wireless Mouse", "49.90", 5},
		{3, "4K Monitor", "1299.00", 0},
	}
	for _, s := range seed {
		_, err := db.ExecContext(ctx, `
			INSERT INTO products (id, name, price, stock, version)
			VALUES (?, ?, ?, ?, 1)
			ON DUPLICATE KEY UPDATE id = id`,
			s.id, s.name, s.price, s.stock,
		)
		if err != nil {
			return fmt.Errorf("seed product %q: %w", s.name, err)
		}
	}
	return nil
}
