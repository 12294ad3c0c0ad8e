package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rl1809/ministore/internal/client"
	"github.com/rl1809/ministore/internal/core/domain"
)

const (
	defaultTarget = "http://localhost:8080"
	productID     = 1
	quantity      = 1
	totalRequests = 50
)

func main() {
	ctx := context.Background()

	target := os.Getenv("TARGET_URL")
	if target == "" {
		target = defaultTarget
	}
	c := client.New(target, 0)

	before, err := c.GetProduct(ctx, productID)
	if err != nil {
		log.Fatalf("failed to read product %d: %v", productID, err)
	}
	log.Printf("target product %d: stock=%d version=%d", before.ID, before.Stock, before.Version)

	var successCount, soldOutCount, gaveUpCount, otherCount atomic.Int32
	var retriedCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, attempts, err := c.PlaceOrder(ctx, []domain.LineItem{
				{ProductID: productID, Quantity: quantity},
			})
			if attempts > 1 {
				retriedCount.Add(1)
			}

			var apiErr *client.APIError
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, client.ErrAttemptsExhausted):
				gaveUpCount.Add(1)
			case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest:
				soldOutCount.Add(1)
			default:
				otherCount.Add(1)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()

	fmt.Println("========== LOAD TEST RESULTS ==========")
	fmt.Printf("Initial Stock:     %d\n", before.Stock)
	fmt.Printf("Total Requests:    %d\n", totalRequests)
	fmt.Printf("Successful:        %d\n", success)
	fmt.Printf("Sold Out (400):    %d\n", soldOutCount.Load())
	fmt.Printf("Gave Up (409s):    %d\n", gaveUpCount.Load())
	fmt.Printf("Other Errors:      %d\n", otherCount.Load())
	fmt.Printf("Needed Retries:    %d\n", retriedCount.Load())
	fmt.Printf("Duration:          %v\n", elapsed)
	fmt.Println("=======================================")

	after, err := c.GetProduct(ctx, productID)
	if err != nil {
		log.Fatalf("failed to read final stock: %v", err)
	}
	fmt.Printf("Final Stock: %d (version %d)\n", after.Stock, after.Version)

	switch {
	case after.Stock < 0:
		fmt.Println("FAIL: stock went negative")
	case int(success)*quantity == before.Stock-after.Stock:
		fmt.Println("PASS: every successful order is accounted for in stock")
	default:
		fmt.Printf("FAIL: %d successes but stock moved by %d\n",
			success, before.Stock-after.Stock)
	}
}
