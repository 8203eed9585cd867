package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockledger/stockledger/internal/app"
	"github.com/stockledger/stockledger/internal/config"
	"github.com/stockledger/stockledger/internal/core/domain"
)

const (
	initialStock  = 20
	totalRequests = 50
)

func main() {
	ctx := context.Background()

	dir, err := os.MkdirTemp("", "stockledger-stress")
	if err != nil {
		log.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	cfg := config.Config{
		StoreDriver: config.DriverSQLite,
		SQLitePath:  filepath.Join(dir, "stress.db"),
		PhoneRegion: "US",
	}
	a, err := app.New(ctx, cfg, config.NewLogger("error", "text", io.Discard))
	if err != nil {
		log.Fatalf("failed to open ledger: %v", err)
	}
	defer a.Close()

	item, err := a.Services.Catalog.CreateItem(ctx, domain.ItemInput{
		Name:         "Flash Sale Item",
		Code:         "FLASH-1",
		Price:        decimal.NewFromInt(1),
		OpeningStock: decimal.NewFromInt(initialStock),
	})
	if err != nil {
		log.Fatalf("failed to create item: %v", err)
	}
	customer, err := a.Services.Catalog.CreateCustomer(ctx, domain.PartyInput{Name: "Stress Customer"})
	if err != nil {
		log.Fatalf("failed to create customer: %v", err)
	}

	var successCount atomic.Int32
	var failCount atomic.Int32
	var otherCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			lines := []domain.LineInput{{ItemID: item.ID, Quantity: "1", Price: "1"}}
			_, err := a.Services.Ledger.RecordSale(ctx, customer.ID, "", lines, fmt.Sprintf("request %d", n))
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				failCount.Add(1)
			default:
				otherCount.Add(1)
				log.Printf("request %d: unexpected error: %v", n, err)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	fail := failCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Rejected:         %d\n", fail)
	fmt.Printf("Other Errors:     %d\n", otherCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success == initialStock && fail == totalRequests-initialStock {
		fmt.Printf("PASS: Exactly %d sales succeeded, %d rejected\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d rejected, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, fail)
	}

	final, err := a.Services.Catalog.GetItem(ctx, item.ID)
	if err != nil {
		log.Fatalf("failed to read item: %v", err)
	}
	fmt.Printf("Final Stock: %s\n", final.CurrentStock)

	if final.CurrentStock.IsZero() {
		fmt.Println("PASS: Stock depleted to 0, never negative")
	} else {
		fmt.Printf("FAIL: Expected stock 0, got %s\n", final.CurrentStock)
	}

	sales, err := a.Services.Catalog.ListSales(ctx)
	if err != nil {
		log.Fatalf("failed to list sales: %v", err)
	}
	if len(sales) == initialStock {
		fmt.Printf("PASS: %d sales recorded\n", len(sales))
	} else {
		fmt.Printf("FAIL: Expected %d sales recorded, got %d\n", initialStock, len(sales))
	}
}
