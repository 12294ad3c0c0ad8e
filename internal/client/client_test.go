package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/ministore/internal/core/domain"
)

// scriptedServer answers POST /api/orders with the given status codes in
// order, recording the request id of every attempt.
type scriptedServer struct {
	mu         sync.Mutex
	statuses   []int
	requestIDs []string
}

func (s *scriptedServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RequestID string `json:"request_id"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		s.mu.Lock()
		s.requestIDs = append(s.requestIDs, req.RequestID)
		status := s.statuses[0]
		if len(s.statuses) > 1 {
			s.statuses = s.statuses[1:]
		}
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusCreated {
			json.NewEncoder(w).Encode(domain.Order{
				ID:     1,
				Status: domain.OrderStatusCompleted,
				Total:  decimal.RequireFromString("49.90"),
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"error": "product 1 was modified concurrently"})
	}
}

func TestPlaceOrder_RetriesOnConflict(t *testing.T) {
	script := &scriptedServer{statuses: []int{http.StatusConflict, http.StatusConflict, http.StatusCreated}}
	srv := httptest.NewServer(script.handler())
	defer srv.Close()

	c := New(srv.URL, 5)
	order, attempts, err := c.PlaceOrder(context.Background(), []domain.LineItem{{ProductID: 1, Quantity: 1}})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.EqualValues(t, 1, order.ID)

	// One request id spans all attempts so the server can deduplicate.
	require.Len(t, script.requestIDs, 3)
	assert.NotEmpty(t, script.requestIDs[0])
	assert.Equal(t, script.requestIDs[0], script.requestIDs[1])
	assert.Equal(t, script.requestIDs[0], script.requestIDs[2])
}

func TestPlaceOrder_GivesUpAfterMaxAttempts(t *testing.T) {
	script := &scriptedServer{statuses: []int{http.StatusConflict}}
	srv := httptest.NewServer(script.handler())
	defer srv.Close()

	c := New(srv.URL, 3)
	_, attempts, err := c.PlaceOrder(context.Background(), []domain.LineItem{{ProductID: 1, Quantity: 1}})
	require.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.Equal(t, 3, attempts)
	assert.Len(t, script.requestIDs, 3)
}

func TestPlaceOrder_PermanentErrorsAreNotRetried(t *testing.T) {
	script := &scriptedServer{statuses: []int{http.StatusBadRequest}}
	srv := httptest.NewServer(script.handler())
	defer srv.Close()

	c := New(srv.URL, 5)
	_, attempts, err := c.PlaceOrder(context.Background(), []domain.LineItem{{ProductID: 1, Quantity: 99}})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, 1, attempts, "a 400 is permanent, no retry")
}

func TestPlaceOrder_ContextCancellation(t *testing.T) {
	script := &scriptedServer{statuses: []int{http.StatusConflict}}
	srv := httptest.NewServer(script.handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(srv.URL, 10)
	_, _, err := c.PlaceOrder(ctx, []domain.LineItem{{ProductID: 1, Quantity: 1}})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAttemptsExhausted)
}

func TestGetProduct(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/products/7" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "product not found"})
			return
		}
		json.NewEncoder(w).Encode(domain.Product{ID: 7, Name: "Gaming Laptop", Stock: 5, Version: 2})
	}))
	defer srv.Close()

	c := New(srv.URL, 0)

	p, err := c.GetProduct(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Stock)
	assert.Equal(t, 2, p.Version)

	_, err = c.GetProduct(context.Background(), 8)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}
