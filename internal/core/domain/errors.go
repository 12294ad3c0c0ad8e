package domain

import (
	"errors"
	"fmt"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrVersionConflict   = errors.New("version conflict")
	ErrProductReferenced = errors.New("product is referenced by existing orders")
	ErrDuplicateRequest  = errors.New("duplicate request")
	ErrEmptyOrder        = errors.New("order must contain at least one item")
	ErrInvalidLineItem   = errors.New("line item product id and quantity must be positive")
)

// ProductNotFoundError carries the id of the missing product.
type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

func (e *ProductNotFoundError) Unwrap() error { return ErrProductNotFound }

// InsufficientStockError reports how far short the available stock fell.
type InsufficientStockError struct {
	ProductID int64
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// VersionConflictError signals that a concurrent writer moved the product
// version between the caller's read and its conditional write. Transient:
// the caller is expected to re-read and resubmit the whole order.
type VersionConflictError struct {
	ProductID int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on product %d", e.ProductID)
}

func (e *VersionConflictError) Unwrap() error { return ErrVersionConflict }
