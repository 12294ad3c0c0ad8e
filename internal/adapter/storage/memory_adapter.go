package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/ministore/internal/core/domain"
)

// MemoryAdapter is an in-memory DatabaseRepository with the same contract
// as the MySQL adapter: version-gated conditional writes, all-or-nothing
// order placement and reference-guarded deletes. Used by tests and local
// runs without a database.
type MemoryAdapter struct {
	mu         sync.Mutex
	products   map[int64]*domain.Product
	orders     []domain.Order
	nextProd   int64
	nextOrder  int64
	nextItem   int64
	referenced map[int64]int // product id -> order item count
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		products:   make(map[int64]*domain.Product),
		referenced: make(map[int64]int),
		nextProd:   1,
		nextOrder:  1,
		nextItem:   1,
	}
}

func (m *MemoryAdapter) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryAdapter) ListProducts(ctx context.Context) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryAdapter) CreateProduct(ctx context.Context, name string, price decimal.Decimal, stock int) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	p := &domain.Product{
		ID: m.nextProd, Name: name, Price: price, Stock: stock, Version: 1,
		CreatedAt: now, UpdatedAt: now,
	}
	m.nextProd++
	m.products[p.ID] = p
	cp := *p
	return &cp, nil
}

func (m *MemoryAdapter) RestockProduct(ctx context.Context, id int64, qty int) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, &domain.ProductNotFoundError{ProductID: id}
	}
	p.Stock += qty
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	cp := *p
	return &cp, nil
}

func (m *MemoryAdapter) DeleteProduct(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[id]; !ok {
		return &domain.ProductNotFoundError{ProductID: id}
	}
	if m.referenced[id] > 0 {
		return domain.ErrProductReferenced
	}
	delete(m.products, id)
	return nil
}

func (m *MemoryAdapter) Reserve(ctx context.Context, productID int64, qty, expectedVersion int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reserveLocked(productID, qty, expectedVersion), nil
}

func (m *MemoryAdapter) reserveLocked(productID int64, qty, expectedVersion int) bool {
	p, ok := m.products[productID]
	if !ok || p.Version != expectedVersion || p.Stock < qty {
		return false
	}
	p.Stock -= qty
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	return true
}

func (m *MemoryAdapter) PlaceOrder(ctx context.Context, items []domain.LineItem) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Reservations run against copies and are swapped in only after every
	// line succeeded, so a late failure rolls the whole order back. Holding
	// the lock for the full placement plays the role of the SQL transaction;
	// version conflicts cannot occur here, only via the standalone Reserve.
	touched := make(map[int64]*domain.Product)
	read := func(id int64) *domain.Product {
		if p, ok := touched[id]; ok {
			return p
		}
		p, ok := m.products[id]
		if !ok {
			return nil
		}
		cp := *p
		touched[id] = &cp
		return &cp
	}

	staged := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		p := read(item.ProductID)
		if p == nil {
			return nil, &domain.ProductNotFoundError{ProductID: item.ProductID}
		}
		if p.Stock < item.Quantity {
			return nil, &domain.InsufficientStockError{
				ProductID: p.ID,
				Available: p.Stock,
				Requested: item.Quantity,
			}
		}
		p.Stock -= item.Quantity
		p.Version++
		p.UpdatedAt = time.Now().UTC()
		staged = append(staged, domain.OrderItem{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    item.Quantity,
			Price:       p.Price,
		})
	}

	for id, p := range touched {
		m.products[id] = p
	}

	order := domain.Order{
		ID:        m.nextOrder,
		Status:    domain.OrderStatusCompleted,
		Total:     domain.TotalOf(staged),
		CreatedAt: time.Now().UTC(),
	}
	m.nextOrder++
	for _, it := range staged {
		it.ID = m.nextItem
		m.nextItem++
		it.OrderID = order.ID
		order.Items = append(order.Items, it)
		m.referenced[it.ProductID]++
	}
	m.orders = append(m.orders, order)

	cp := order
	cp.Items = append([]domain.OrderItem(nil), order.Items...)
	return &cp, nil
}

func (m *MemoryAdapter) ListOrders(ctx context.Context, page, limit int) ([]domain.Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := len(m.orders)
	// Newest first, same ordering as the SQL adapter.
	sorted := append([]domain.Order(nil), m.orders...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID > sorted[j].ID })

	start := (page - 1) * limit
	if start >= total {
		return nil, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	out := make([]domain.Order, end-start)
	copy(out, sorted[start:end])
	return out, total, nil
}
