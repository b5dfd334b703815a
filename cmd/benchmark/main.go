package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	skus        int
	stock       int
	travelDate  string
)

// Metrics
var (
	totalRequests uint64
	placed        uint64
	released      uint64
	fail409       uint64 // Duplicate keys
	fail422       uint64 // Sold out
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.IntVar(&skus, "skus", 100, "Number of SKUs to seed")
	flag.IntVar(&stock, "stock", 1000, "Initial stock per SKU")
	flag.StringVar(&travelDate, "date", time.Now().AddDate(0, 0, 1).Format("2006-01-02"), "Travel date to book")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	client := &http.Client{Timeout: 5 * time.Second}
	if err := seed(client); err != nil {
		log.Fatalf("Seeding inventory failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		g.Go(func() error { return worker(ctx, client, i) })
	}
	if err := g.Wait(); err != nil {
		log.Printf("Worker stopped: %v", err)
	}
	printResults(time.Since(start))
}

func seed(client *http.Client) error {
	for i := 1; i <= skus; i++ {
		resp, err := post(context.Background(), client, "/api/v1/inventory/init", map[string]any{
			"sku_id":          skuID(i),
			"inventory_dates": []string{travelDate},
			"total_qty":       stock,
			"operator":        "benchmark",
		})
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("init %s: status %d", skuID(i), resp.StatusCode)
		}
	}
	return nil
}

// worker places an order and refunds every other one so stock keeps moving
// in both directions on the same records.
func worker(ctx context.Context, client *http.Client, n int) error {
	for seq := 0; ctx.Err() == nil; seq++ {
		resp, err := post(ctx, client, "/api/v1/orders", map[string]any{
			"order_no":    fmt.Sprintf("bench-%d-%d-%d", n, seq, time.Now().UnixNano()),
			"channel_id":  "bench",
			"sku_id":      skuID(pickSKU()),
			"travel_date": travelDate,
			"quantity":    1,
			"sale_price":  "100",
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		var order struct {
			ID string `json:"id"`
		}
		switch resp.StatusCode {
		case http.StatusCreated:
			atomic.AddUint64(&placed, 1)
			json.NewDecoder(resp.Body).Decode(&order)
		case http.StatusConflict:
			atomic.AddUint64(&fail409, 1)
		case http.StatusUnprocessableEntity:
			atomic.AddUint64(&fail422, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()

		if order.ID != "" && seq%2 == 0 {
			resp, err := post(ctx, client, "/api/v1/orders/"+order.ID+"/refund", map[string]any{"operator": "benchmark"})
			if err != nil {
				continue
			}
			atomic.AddUint64(&totalRequests, 1)
			if resp.StatusCode == http.StatusOK {
				atomic.AddUint64(&released, 1)
			}
			resp.Body.Close()
		}
	}
	return nil
}

func post(ctx context.Context, client *http.Client, path string, payload any) (*http.Response, error) {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, "POST", targetURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return client.Do(req)
}

func pickSKU() int {
	if workload == "hotspot" {
		// Hotspot: 90% of traffic goes to SKU 1 & 2
		if rand.Float32() < 0.90 {
			return rand.Intn(2) + 1
		}
	}
	return rand.Intn(skus) + 1
}

func skuID(i int) string { return fmt.Sprintf("bench-sku-%d", i) }

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	ok := atomic.LoadUint64(&placed)
	rel := atomic.LoadUint64(&released)
	f409 := atomic.LoadUint64(&fail409)
	f422 := atomic.LoadUint64(&fail422)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	var soldOutRate float64
	if total > 0 {
		soldOutRate = float64(f422) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":         workload,
		"duration_sec":     d.Seconds(),
		"total_requests":   total,
		"throughput_tps":   tps,
		"orders_placed":    ok,
		"orders_refunded":  rel,
		"duplicate_orders": f409,
		"sold_out":         f422,
		"sold_out_pct":     soldOutRate,
		"errors":           fErr,
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("Unable to write %s: %v", filename, err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
