package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/rl1809/ministore/internal/core/domain"
)

// MySQL error numbers mapped to domain errors.
const (
	mysqlErrRowIsReferenced = 1451 // cannot delete, child row exists
	mysqlErrCheckViolated   = 3819 // stock_non_negative check tripped
)

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// execer is satisfied by both *sql.DB and *sql.Tx so the reservation
// statement is identical inside and outside a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Reserve performs the conditional decrement as a single statement. The
// version check and the write are one indivisible operation; RowsAffected
// zero means another writer moved the version since the caller's read.
func (m *MySQLAdapter) Reserve(ctx context.Context, productID int64, qty, expectedVersion int) (bool, error) {
	return reserve(ctx, m.db, productID, qty, expectedVersion)
}

func reserve(ctx context.Context, ex execer, productID int64, qty, expectedVersion int) (bool, error) {
	res, err := ex.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - ?, version = version + 1, updated_at = NOW()
		WHERE id = ? AND version = ?`,
		qty, productID, expectedVersion,
	)
	if err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == mysqlErrCheckViolated {
			// The stock check is a backstop; a caller that read fresh state
			// cannot trip it. Report not-applied so the caller re-reads.
			return false, nil
		}
		return false, fmt.Errorf("reserve stock: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reserve stock: %w", err)
	}
	return rows > 0, nil
}

// PlaceOrder validates and reserves every line inside one transaction and
// commits the order header together with all its items. Any failed line
// rolls back the reservations of the lines before it.
func (m *MySQLAdapter) PlaceOrder(ctx context.Context, items []domain.LineItem) (*domain.Order, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	order := &domain.Order{
		Status:    domain.OrderStatusCompleted,
		CreatedAt: time.Now().UTC(),
	}

	for _, item := range items {
		var p domain.Product
		err := tx.QueryRowContext(ctx, `
			SELECT id, name, price, stock, version
			FROM products WHERE id = ?`, item.ProductID,
		).Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.Version)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.ProductNotFoundError{ProductID: item.ProductID}
		}
		if err != nil {
			return nil, fmt.Errorf("read product %d: %w", item.ProductID, err)
		}

		if p.Stock < item.Quantity {
			return nil, &domain.InsufficientStockError{
				ProductID: p.ID,
				Available: p.Stock,
				Requested: item.Quantity,
			}
		}

		applied, err := reserve(ctx, tx, p.ID, item.Quantity, p.Version)
		if err != nil {
			return nil, err
		}
		if !applied {
			// A concurrent order touched this product between our read and
			// the conditional write. Transient; the caller retries the whole
			// order against fresh state.
			return nil, &domain.VersionConflictError{ProductID: p.ID}
		}

		order.Items = append(order.Items, domain.OrderItem{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    item.Quantity,
			Price:       p.Price,
		})
	}

	order.Total = domain.TotalOf(order.Items)

	res, err := tx.ExecContext(ctx, `
		INSERT INTO orders (status, total, created_at) VALUES (?, ?, ?)`,
		string(order.Status), order.Total, order.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	order.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("order id: %w", err)
	}

	for i := range order.Items {
		order.Items[i].OrderID = order.ID
		res, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, quantity, price)
			VALUES (?, ?, ?, ?)`,
			order.ID, order.Items[i].ProductID, order.Items[i].Quantity, order.Items[i].Price,
		)
		if err != nil {
			return nil, fmt.Errorf("insert order item: %w", err)
		}
		order.Items[i].ID, err = res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("order item id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit order: %w", err)
	}
	return order, nil
}

func (m *MySQLAdapter) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var p domain.Product
	err := m.db.QueryRowContext(ctx, `
		SELECT id, name, price, stock, version, created_at, updated_at
		FROM products WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.Version, &p.CreatedAt, &p.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

func (m *MySQLAdapter) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, name, price, stock, version, created_at, updated_at
		FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (m *MySQLAdapter) CreateProduct(ctx context.Context, name string, price decimal.Decimal, stock int) (*domain.Product, error) {
	now := time.Now().UTC()
	res, err := m.db.ExecContext(ctx, `
		INSERT INTO products (name, price, stock, version, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)`,
		name, price, stock, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert product: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("product id: %w", err)
	}
	return &domain.Product{
		ID: id, Name: name, Price: price, Stock: stock, Version: 1,
		CreatedAt: now, UpdatedAt: now,
	}, nil
}

// RestockProduct bumps the version exactly like a reservation does, so
// restocks and reservations share one total order per product.
func (m *MySQLAdapter) RestockProduct(ctx context.Context, id int64, qty int) (*domain.Product, error) {
	p, err := m.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &domain.ProductNotFoundError{ProductID: id}
	}

	res, err := m.db.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + ?, version = version + 1, updated_at = NOW()
		WHERE id = ? AND version = ?`,
		qty, id, p.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("restock product: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("restock product: %w", err)
	}
	if rows == 0 {
		return nil, &domain.VersionConflictError{ProductID: id}
	}

	p.Stock += qty
	p.Version++
	return p, nil
}

func (m *MySQLAdapter) DeleteProduct(ctx context.Context, id int64) error {
	res, err := m.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == mysqlErrRowIsReferenced {
			return fmt.Errorf("delete product %d: %w", id, domain.ErrProductReferenced)
		}
		return fmt.Errorf("delete product: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if rows == 0 {
		return &domain.ProductNotFoundError{ProductID: id}
	}
	return nil
}

func (m *MySQLAdapter) ListOrders(ctx context.Context, page, limit int) ([]domain.Order, int, error) {
	var total int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	offset := (page - 1) * limit
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, status, total, created_at
		FROM orders ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	byID := make(map[int64]int)
	for rows.Next() {
		var o domain.Order
		var status string
		if err := rows.Scan(&o.ID, &status, &o.Total, &o.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		o.Status = domain.OrderStatus(status)
		byID[o.ID] = len(orders)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(orders) == 0 {
		return orders, total, nil
	}

	placeholders := make([]string, 0, len(orders))
	args := make([]any, 0, len(orders))
	for id := range byID {
		placeholders = append(placeholders, "?")
		args = append(args, id)
	}
	itemRows, err := m.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT oi.id, oi.order_id, oi.product_id, p.name, oi.quantity, oi.price
		FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id IN (%s)
		ORDER BY oi.id`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list order items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var it domain.OrderItem
		if err := itemRows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Quantity, &it.Price); err != nil {
			return nil, 0, fmt.Errorf("scan order item: %w", err)
		}
		if idx, ok := byID[it.OrderID]; ok {
			orders[idx].Items = append(orders[idx].Items, it)
		}
	}
	return orders, total, itemRows.Err()
}
