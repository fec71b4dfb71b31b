package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var productNames = []string{
	"Cola Classic 1L",
	"cola classic 1l bottle",
	"Pure Soap Bar 100g",
	"Orange Juice Fresh 500ml",
	"orng juice 500",
	"Whole Wheat Bread",
	"Mystery Item 42",
}

var storeIDs = []string{"store-1", "store-2", "store-3", "store-7"}

type lineItem struct {
	ProductText string  `json:"product_text"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	LineAmount  float64 `json:"line_amount"`
}

type transaction struct {
	TransactionID string     `json:"transaction_id"`
	StoreID       string     `json:"store_id"`
	OccurredAt    string     `json:"occurred_at"`
	TotalAmount   float64    `json:"total_amount"`
	LineItems     []lineItem `json:"line_items"`
}

func randomTransaction(rng *rand.Rand) ([]byte, error) {
	n := 1 + rng.Intn(4)
	items := make([]lineItem, 0, n)
	var total float64
	for i := 0; i < n; i++ {
		qty := float64(1 + rng.Intn(3))
		price := 1 + rng.Float64()*49
		amount := qty * price
		items = append(items, lineItem{
			ProductText: productNames[rng.Intn(len(productNames))],
			Quantity:    qty,
			UnitPrice:   price,
			LineAmount:  amount,
		})
		total += amount
	}

	txn := transaction{
		TransactionID: uuid.NewString(),
		StoreID:       storeIDs[rng.Intn(len(storeIDs))],
		OccurredAt:    time.Now().UTC().Format(time.RFC3339),
		TotalAmount:   total,
		LineItems:     items,
	}
	return json.Marshal(txn)
}

func main() {
	targetURL := flag.String("url", "http://localhost:8080/ingest", "Target URL for ingestion")
	apiKey := flag.String("api-key", "supersecretkey", "API Key for authentication")
	concurrency := flag.Int("c", 10, "Number of concurrent workers")
	duration := flag.Duration("d", 30*time.Second, "Duration of the load test")
	rps := flag.Int("rps", 1000, "Requests per second limit")
	dupRate := flag.Float64("dup", 0.05, "Fraction of requests resubmitting a previous payload")
	flag.Parse()

	log.Printf("Starting load test on %s", *targetURL)
	log.Printf("Concurrency: %d, Duration: %s, RPS: %d", *concurrency, *duration, *rps)

	var wg sync.WaitGroup
	var successCount, errorCount atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(*rps), 100) // Allow bursts up to 100

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			client := &http.Client{
				Timeout: 5 * time.Second,
			}
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
			var lastPayload []byte

			for {
				select {
				case <-ctx.Done():
					return
				default:
					limiter.Wait(ctx) // Wait for token from rate limiter

					payload := lastPayload
					if payload == nil || rng.Float64() >= *dupRate {
						var err error
						payload, err = randomTransaction(rng)
						if err != nil {
							continue
						}
						lastPayload = payload
					}

					req, err := http.NewRequestWithContext(ctx, http.MethodPost, *targetURL, bytes.NewBuffer(payload))
					if err != nil {
						continue
					}
					req.Header.Set("Content-Type", "application/json")
					req.Header.Set("X-API-Key", *apiKey)

					resp, err := client.Do(req)
					if err != nil {
						errorCount.Add(1)
						continue
					}

					if resp.StatusCode == http.StatusAccepted {
						successCount.Add(1)
					} else {
						errorCount.Add(1)
					}
					resp.Body.Close()
				}
			}
		}(i)
	}

	wg.Wait()

	totalRequests := successCount.Load() + errorCount.Load()
	actualRPS := float64(totalRequests) / duration.Seconds()

	log.Println("Load test finished.")
	log.Printf("Total Requests: %d", totalRequests)
	log.Printf("Successful (202 Accepted): %d", successCount.Load())
	log.Printf("Errors: %d", errorCount.Load())
	log.Printf("Actual RPS: %.2f", actualRPS)
}
