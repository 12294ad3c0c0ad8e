// Package client implements the documented caller-side contract for the
// order API: a 409 means a concurrent order moved a product's version, so
// the whole order is resubmitted after a randomized backoff. The service
// itself never retries.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/ministore/internal/core/domain"
)

const (
	DefaultMaxAttempts = 10

	// Backoff is drawn uniformly from [backoffMin, backoffMin+backoffJitter)
	// so racing clients spread out instead of colliding again in lockstep.
	backoffMin    = 50 * time.Millisecond
	backoffJitter = 150 * time.Millisecond
)

// ErrAttemptsExhausted is returned when every attempt ended in a conflict.
var ErrAttemptsExhausted = errors.New("gave up after repeated version conflicts")

// APIError is a non-2xx response from the order API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

type OrderClient struct {
	baseURL     string
	httpClient  *http.Client
	maxAttempts int
}

// New creates a client for the given base URL. maxAttempts <= 0 selects
// DefaultMaxAttempts.
func New(baseURL string, maxAttempts int) *OrderClient {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &OrderClient{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		maxAttempts: maxAttempts,
	}
}

type orderRequest struct {
	RequestID string            `json:"request_id,omitempty"`
	Items     []domain.LineItem `json:"items"`
}

type apiErrorBody struct {
	Error string `json:"error"`
}

// PlaceOrder submits the order, retrying the whole item list on conflict.
// One request id spans all attempts; the server releases the idempotency
// claim of a failed attempt. Returns the number of attempts made.
func (c *OrderClient) PlaceOrder(ctx context.Context, items []domain.LineItem) (*domain.Order, int, error) {
	requestID := uuid.New().String()

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		order, retryable, err := c.submit(ctx, requestID, items)
		if err == nil {
			return order, attempt, nil
		}
		if !retryable {
			return nil, attempt, err
		}
		if attempt == c.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, attempt, ctx.Err()
		case <-time.After(backoffMin + rand.N(backoffJitter)):
		}
	}
	return nil, c.maxAttempts, ErrAttemptsExhausted
}

func (c *OrderClient) submit(ctx context.Context, requestID string, items []domain.LineItem) (*domain.Order, bool, error) {
	body, err := json.Marshal(orderRequest{RequestID: requestID, Items: items})
	if err != nil {
		return nil, false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/orders", bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusCreated {
		var order domain.Order
		if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
			return nil, false, fmt.Errorf("decode order: %w", err)
		}
		return &order, false, nil
	}

	var apiErr apiErrorBody
	json.NewDecoder(resp.Body).Decode(&apiErr)
	return nil, resp.StatusCode == http.StatusConflict, &APIError{
		StatusCode: resp.StatusCode,
		Message:    apiErr.Error,
	}
}

// GetProduct reads fresh product state, e.g. to decide whether retrying
// still makes sense or to display current stock.
func (c *OrderClient) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/products/%d", c.baseURL, id), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr apiErrorBody
		json.NewDecoder(resp.Body).Decode(&apiErr)
		return nil, &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}

	var p domain.Product
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode product: %w", err)
	}
	return &p, nil
}
