package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/rl1809/ministore/internal/core/domain"
)

// getMySQLDB connects to the test database or skips the test. Run with
// MYSQL_TEST_DSN pointing at a disposable database.
func getMySQLDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv("MYSQL_TEST_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/ministore_test?parseTime=true"
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("mysql not available: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		t.Skipf("mysql not available: %v", err)
	}
	if err := EnsureSchema(ctx, db); err != nil {
		db.Close()
		t.Fatalf("ensure schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustCreateProduct(t *testing.T, m *MySQLAdapter, name, price string, stock int) *domain.Product {
	t.Helper()
	p, err := m.CreateProduct(context.Background(), name, decimal.RequireFromString(price), stock)
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	return p
}

func countOrderItems(t *testing.T, db *sql.DB, productID int64) int {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM order_items WHERE product_id = ?`, productID).Scan(&n)
	if err != nil {
		t.Fatalf("count order items: %v", err)
	}
	return n
}

func TestMySQLAdapter_Reserve(t *testing.T) {
	db := getMySQLDB(t)
	adapter := NewMySQLAdapter(db)
	ctx := context.Background()

	p := mustCreateProduct(t, adapter, "Gaming Laptop", "2499.90", 5)

	applied, err := adapter.Reserve(ctx, p.ID, 3, p.Version)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !applied {
		t.Fatal("expected reservation to apply")
	}

	got, err := adapter.GetProduct(ctx, p.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if got.Stock != 2 {
		t.Errorf("expected stock 2, got %d", got.Stock)
	}
	if got.Version != p.Version+1 {
		t.Errorf("expected version %d, got %d", p.Version+1, got.Version)
	}
}

func TestMySQLAdapter_Reserve_StaleVersion(t *testing.T) {
	db := getMySQLDB(t)
	adapter := NewMySQLAdapter(db)
	ctx := context.Background()

	p := mustCreateProduct(t, adapter, "Wireless Mouse", "49.90", 5)

	// First reservation moves the version; the second one carries the old
	// version and must be refused without touching the row.
	if applied, err := adapter.Reserve(ctx, p.ID, 1, p.Version); err != nil || !applied {
		t.Fatalf("first reserve failed: applied=%v err=%v", applied, err)
	}
	applied, err := adapter.Reserve(ctx, p.ID, 1, p.Version)
	if err != nil {
		t.Fatalf("stale reserve: %v", err)
	}
	if applied {
		t.Fatal("stale version must not apply")
	}

	got, _ := adapter.GetProduct(ctx, p.ID)
	if got.Stock != 4 || got.Version != p.Version+1 {
		t.Errorf("row changed by stale reserve: stock=%d version=%d", got.Stock, got.Version)
	}
}

func TestMySQLAdapter_PlaceOrder(t *testing.T) {
	db := getMySQLDB(t)
	adapter := NewMySQLAdapter(db)
	ctx := context.Background()

	p := mustCreateProduct(t, adapter, "4K Monitor", "1299.00", 5)

	order, err := adapter.PlaceOrder(ctx, []domain.LineItem{{ProductID: p.ID, Quantity: 2}})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if order.ID == 0 {
		t.Error("expected a persisted order id")
	}
	if !order.Total.Equal(decimal.RequireFromString("2598.00")) {
		t.Errorf("unexpected total: %s", order.Total)
	}
	if len(order.Items) != 1 || order.Items[0].OrderID != order.ID {
		t.Errorf("items not linked to order: %+v", order.Items)
	}

	got, _ := adapter.GetProduct(ctx, p.ID)
	if got.Stock != 3 || got.Version != p.Version+1 {
		t.Errorf("expected stock=3 version=%d, got stock=%d version=%d",
			p.Version+1, got.Stock, got.Version)
	}
	if n := countOrderItems(t, db, p.ID); n != 1 {
		t.Errorf("expected 1 order item row, got %d", n)
	}
}

func TestMySQLAdapter_PlaceOrder_InsufficientStock(t *testing.T) {
	db := getMySQLDB(t)
	adapter := NewMySQLAdapter(db)
	ctx := context.Background()

	p := mustCreateProduct(t, adapter, "4K Monitor", "1299.00", 2)

	_, err := adapter.PlaceOrder(ctx, []domain.LineItem{{ProductID: p.ID, Quantity: 5}})

	var stockErr *domain.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got: %v", err)
	}
	if stockErr.Available != 2 || stockErr.Requested != 5 {
		t.Errorf("expected available=2 requested=5, got %+v", stockErr)
	}

	got, _ := adapter.GetProduct(ctx, p.ID)
	if got.Stock != 2 || got.Version != p.Version {
		t.Errorf("rejected order changed the row: %+v", got)
	}
	if n := countOrderItems(t, db, p.ID); n != 0 {
		t.Errorf("rejected order left %d item rows", n)
	}
}

func TestMySQLAdapter_PlaceOrder_UnknownProduct(t *testing.T) {
	db := getMySQLDB(t)
	adapter := NewMySQLAdapter(db)

	_, err := adapter.PlaceOrder(context.Background(), []domain.LineItem{
		{ProductID: 1 << 60, Quantity: 1},
	})
	if !errors.Is(err, domain.ErrProductNotFound) {
		t.Errorf("expected ErrProductNotFound, got: %v", err)
	}
}

func TestMySQLAdapter_PlaceOrder_SecondLineRollsBackFirst(t *testing.T) {
	db := getMySQLDB(t)
	adapter := NewMySQLAdapter(db)
	ctx := context.Background()

	a := mustCreateProduct(t, adapter, "Gaming Laptop", "2499.90", 5)
	b := mustCreateProduct(t, adapter, "4K Monitor", "1299.00", 1)

	_, err := adapter.PlaceOrder(ctx, []domain.LineItem{
		{ProductID: a.ID, Quantity: 2},
		{ProductID: b.ID, Quantity: 3},
	})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got: %v", err)
	}

	gotA, _ := adapter.GetProduct(ctx, a.ID)
	if gotA.Stock != 5 || gotA.Version != a.Version {
		t.Errorf("first line not rolled back: stock=%d version=%d", gotA.Stock, gotA.Version)
	}
	if n := countOrderItems(t, db, a.ID); n != 0 {
		t.Errorf("aborted order left %d item rows", n)
	}
}

func TestMySQLAdapter_PlaceOrder_Concurrent(t *testing.T) {
	db := getMySQLDB(t)
	adapter := NewMySQLAdapter(db)
	ctx := context.Background()

	initialStock := 10
	totalRequests := 30
	p := mustCreateProduct(t, adapter, "Gaming Laptop", "2499.90", initialStock)

	var success, conflict, soldOut, other atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := adapter.PlaceOrder(ctx, []domain.LineItem{{ProductID: p.ID, Quantity: 1}})
			switch {
			case err == nil:
				success.Add(1)
			case errors.Is(err, domain.ErrVersionConflict):
				conflict.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				soldOut.Add(1)
			default:
				other.Add(1)
			}
		}()
	}
	wg.Wait()

	if other.Load() != 0 {
		t.Fatalf("unexpected errors during concurrent placement: %d", other.Load())
	}
	// Without retries only a subset wins; the ledger must still balance.
	if success.Load() > int32(initialStock) {
		t.Errorf("oversold: %d successes for stock %d", success.Load(), initialStock)
	}
	got, _ := adapter.GetProduct(ctx, p.ID)
	if got.Stock < 0 {
		t.Error("stock went negative")
	}
	if got.Stock != initialStock-int(success.Load()) {
		t.Errorf("stock %d does not match %d successes", got.Stock, success.Load())
	}
	if n := countOrderItems(t, db, p.ID); n != int(success.Load()) {
		t.Errorf("expected %d order item rows, got %d", success.Load(), n)
	}
	t.Logf("concurrent placement: success=%d conflict=%d soldOut=%d",
		success.Load(), conflict.Load(), soldOut.Load())
}

func TestMySQLAdapter_RestockProduct(t *testing.T) {
	db := getMySQLDB(t)
	adapter := NewMySQLAdapter(db)
	ctx := context.Background()

	p := mustCreateProduct(t, adapter, "4K Monitor", "1299.00", 0)

	got, err := adapter.RestockProduct(ctx, p.ID, 7)
	if err != nil {
		t.Fatalf("restock: %v", err)
	}
	if got.Stock != 7 || got.Version != p.Version+1 {
		t.Errorf("expected stock=7 version=%d, got %+v", p.Version+1, got)
	}

	if _, err := adapter.RestockProduct(ctx, 1<<60, 1); !errors.Is(err, domain.ErrProductNotFound) {
		t.Errorf("expected ErrProductNotFound, got: %v", err)
	}
}

func TestMySQLAdapter_DeleteProduct(t *testing.T) {
	db := getMySQLDB(t)
	adapter := NewMySQLAdapter(db)
	ctx := context.Background()

	free := mustCreateProduct(t, adapter, "Wireless Mouse", "49.90", 3)
	sold := mustCreateProduct(t, adapter, "Gaming Laptop", "2499.90", 3)

	if _, err := adapter.PlaceOrder(ctx, []domain.LineItem{{ProductID: sold.ID, Quantity: 1}}); err != nil {
		t.Fatalf("place order: %v", err)
	}

	// A product referenced by order history must survive the delete.
	if err := adapter.DeleteProduct(ctx, sold.ID); !errors.Is(err, domain.ErrProductReferenced) {
		t.Errorf("expected ErrProductReferenced, got: %v", err)
	}
	if got, _ := adapter.GetProduct(ctx, sold.ID); got == nil {
		t.Error("referenced product disappeared")
	}

	if err := adapter.DeleteProduct(ctx, free.ID); err != nil {
		t.Errorf("delete unreferenced product: %v", err)
	}
	if err := adapter.DeleteProduct(ctx, free.ID); !errors.Is(err, domain.ErrProductNotFound) {
		t.Errorf("expected ErrProductNotFound on second delete, got: %v", err)
	}
}

func TestMySQLAdapter_ListOrders(t *testing.T) {
	db := getMySQLDB(t)
	adapter := NewMySQLAdapter(db)
	ctx := context.Background()

	p := mustCreateProduct(t, adapter, "Wireless Mouse", "49.90", 10)

	var last *domain.Order
	for i := 0; i < 3; i++ {
		o, err := adapter.PlaceOrder(ctx, []domain.LineItem{{ProductID: p.ID, Quantity: 1}})
		if err != nil {
			t.Fatalf("place order %d: %v", i, err)
		}
		last = o
	}

	orders, total, err := adapter.ListOrders(ctx, 1, 2)
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if total < 3 {
		t.Errorf("expected at least 3 orders, got %d", total)
	}
	if len(orders) != 2 {
		t.Fatalf("expected page of 2, got %d", len(orders))
	}
	// Newest first.
	if orders[0].ID != last.ID {
		t.Errorf("expected newest order %d first, got %d", last.ID, orders[0].ID)
	}
	if len(orders[0].Items) != 1 || orders[0].Items[0].ProductName != "Wireless Mouse" {
		t.Errorf("items not hydrated: %+v", orders[0].Items)
	}
}
