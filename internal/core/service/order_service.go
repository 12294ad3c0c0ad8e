package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rl1809/ministore/internal/core/domain"
	"github.com/rl1809/ministore/internal/port"
)

const (
	idempotencyKeyPrefix = "idempotency:"

	defaultPageLimit = 10
	maxPageLimit     = 100
)

// OrderService is the coordinator-facing API. It validates input, applies
// the per-request idempotency guard and classifies outcomes; the atomic
// unit of work itself lives in the storage adapter. The service never
// retries: conflict recovery is the caller's responsibility.
type OrderService struct {
	db        port.DatabaseRepository
	cache     port.CacheRepository
	completed chan domain.Order
}

// NewOrderService wires the service to its storage and cache collaborators.
// cache may be nil, which disables the idempotency guard.
func NewOrderService(db port.DatabaseRepository, cache port.CacheRepository, queueSize int) *OrderService {
	return &OrderService{
		db:        db,
		cache:     cache,
		completed: make(chan domain.Order, queueSize),
	}
}

// PlaceOrder places one multi-line order atomically. requestID is optional;
// when set and a cache is configured, a duplicate request id is rejected
// before any state is touched. A failed placement releases the claimed key
// so the caller can resubmit the same request id after a conflict.
func (s *OrderService) PlaceOrder(ctx context.Context, requestID string, items []domain.LineItem) (*domain.Order, error) {
	if len(items) == 0 {
		return nil, domain.ErrEmptyOrder
	}
	for i, item := range items {
		if item.ProductID <= 0 || item.Quantity <= 0 {
			return nil, fmt.Errorf("item %d: %w", i, domain.ErrInvalidLineItem)
		}
	}

	var key string
	if requestID != "" && s.cache != nil {
		key = idempotencyKeyPrefix + requestID
		ok, err := s.cache.SetIdempotency(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !ok {
			return nil, domain.ErrDuplicateRequest
		}
	}

	order, err := s.db.PlaceOrder(ctx, items)
	if err != nil {
		if key != "" {
			// The rolled-back attempt left no state behind; freeing the key
			// keeps the same request id retryable.
			if relErr := s.cache.ReleaseIdempotency(ctx, key); relErr != nil {
				return nil, fmt.Errorf("release idempotency key: %v: %w", relErr, err)
			}
		}
		return nil, err
	}

	// Post-commit audit stream. Placement never blocks on it.
	select {
	case s.completed <- *order:
	default:
	}

	return order, nil
}

func (s *OrderService) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	if id <= 0 {
		return nil, &domain.ProductNotFoundError{ProductID: id}
	}
	p, err := s.db.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &domain.ProductNotFoundError{ProductID: id}
	}
	return p, nil
}

func (s *OrderService) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.db.ListProducts(ctx)
}

func (s *OrderService) CreateProduct(ctx context.Context, name string, price decimal.Decimal, stock int) (*domain.Product, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("product name must not be empty")
	}
	if stock < 0 {
		return nil, fmt.Errorf("initial stock must not be negative")
	}
	if price.IsNegative() {
		return nil, fmt.Errorf("price must not be negative")
	}
	return s.db.CreateProduct(ctx, name, price, stock)
}

func (s *OrderService) RestockProduct(ctx context.Context, id int64, qty int) (*domain.Product, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("restock quantity: %w", domain.ErrInvalidLineItem)
	}
	return s.db.RestockProduct(ctx, id, qty)
}

func (s *OrderService) DeleteProduct(ctx context.Context, id int64) error {
	return s.db.DeleteProduct(ctx, id)
}

// ListOrders returns one page of order history, newest first.
func (s *OrderService) ListOrders(ctx context.Context, page, limit int) ([]domain.Order, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return s.db.ListOrders(ctx, page, limit)
}

// Completed exposes the stream of committed orders for audit workers.
func (s *OrderService) Completed() <-chan domain.Order {
	return s.completed
}

// Close stops the audit stream. Call after the HTTP surface is down.
func (s *OrderService) Close() {
	close(s.completed)
}
