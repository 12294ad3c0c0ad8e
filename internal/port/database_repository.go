package port

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rl1809/ministore/internal/core/domain"
)

type DatabaseRepository interface {
	// GetProduct retrieves a product by id; returns nil when it does not exist
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)

	// ListProducts returns all products ordered by id
	ListProducts(ctx context.Context) ([]domain.Product, error)

	// CreateProduct inserts a product with version 1
	CreateProduct(ctx context.Context, name string, price decimal.Decimal, stock int) (*domain.Product, error)

	// RestockProduct adds qty to stock, gated on the product's current version
	RestockProduct(ctx context.Context, id int64, qty int) (*domain.Product, error)

	// DeleteProduct removes a product; fails with ErrProductReferenced when
	// an order item still points at it
	DeleteProduct(ctx context.Context, id int64) error

	// Reserve applies stock = stock - qty and version = version + 1 as one
	// conditional write keyed on expectedVersion. applied=false means the
	// version no longer matched; it is an expected outcome, not an error,
	// and the primitive never retries internally.
	Reserve(ctx context.Context, productID int64, qty, expectedVersion int) (applied bool, err error)

	// PlaceOrder runs the whole multi-line order in one transaction:
	// per line read, availability check, conditional decrement, staged item;
	// then the order header and all items. Any failure rolls back everything.
	PlaceOrder(ctx context.Context, items []domain.LineItem) (*domain.Order, error)

	// ListOrders returns one page of orders, newest first, with their items,
	// plus the total order count
	ListOrders(ctx context.Context, page, limit int) ([]domain.Order, int, error)
}
