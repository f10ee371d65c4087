package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/storefront_backend/config"
	"bitbucket.org/mmdatafocus/storefront_backend/models"
)

func dec(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func TestReserveConcurrentNoOversell(t *testing.T) {
	store := newFakeStore()
	store.addInventory(&models.InventoryRecord{
		ProductCode:    "P1",
		WarehouseName:  "HCM",
		TheoreticalQty: dec(100),
	}, false)

	ledger := NewInventoryLedger(store, config.GetLogger())

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := 0; i < 150; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := ledger.Reserve(context.Background(), "P1", dec(1), "HCM", false, "", false)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
				return
			}
			var insufficient *InsufficientStockError
			if !errors.As(err, &insufficient) {
				t.Errorf("unexpected error: %v", err)
				return
			}
			rejected++
		}()
	}
	wg.Wait()

	if accepted != 100 || rejected != 50 {
		t.Fatalf("expected 100 accepted / 50 rejected, got %d / %d", accepted, rejected)
	}
	rec, _ := store.GetInventory(context.Background(), "P1", "HCM", false)
	if !rec.TheoreticalQty.IsZero() {
		t.Fatalf("expected theoretical qty 0, got %s", rec.TheoreticalQty)
	}
	if rec.TheoreticalQty.IsNegative() {
		t.Fatal("theoretical qty went negative")
	}
}

func TestReserveFloorsReservedAtZero(t *testing.T) {
	store := newFakeStore()
	store.addInventory(&models.InventoryRecord{
		ProductCode:    "P1",
		WarehouseName:  "HCM",
		TheoreticalQty: dec(50),
		ReservedQty:    dec(3),
	}, false)

	ledger := NewInventoryLedger(store, config.GetLogger())
	if err := ledger.Reserve(context.Background(), "P1", dec(10), "HCM", false, "", false); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	rec, _ := store.GetInventory(context.Background(), "P1", "HCM", false)
	if !rec.ReservedQty.IsZero() {
		t.Fatalf("expected reserved qty floored at 0, got %s", rec.ReservedQty)
	}
	if !rec.TheoreticalQty.Equal(dec(40)) {
		t.Fatalf("expected theoretical qty 40, got %s", rec.TheoreticalQty)
	}
}

func TestReserveVatLedgerKeepsTheoreticalUntouched(t *testing.T) {
	store := newFakeStore()
	store.addInventory(&models.InventoryRecord{
		ProductCode:    "P1",
		WarehouseName:  "HCM",
		TheoreticalQty: dec(50),
		ReservedQty:    dec(20),
	}, true)

	ledger := NewInventoryLedger(store, config.GetLogger())
	if err := ledger.Reserve(context.Background(), "P1", dec(5), "HCM", true, "", false); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	rec, _ := store.GetInventory(context.Background(), "P1", "HCM", true)
	if !rec.TheoreticalQty.Equal(dec(50)) {
		t.Fatalf("VAT path must not touch theoretical qty, got %s", rec.TheoreticalQty)
	}
	if !rec.ReservedQty.Equal(dec(15)) {
		t.Fatalf("expected reserved qty 15, got %s", rec.ReservedQty)
	}
}

func TestReserveExemptGroupBypassesCheckAndDecrement(t *testing.T) {
	store := newFakeStore()
	store.addInventory(&models.InventoryRecord{
		ProductCode:    "GIFT-1",
		WarehouseName:  "HCM",
		TheoreticalQty: dec(0),
		ReservedQty:    dec(2),
	}, false)

	ledger := NewInventoryLedger(store, config.GetLogger())
	if err := ledger.Reserve(context.Background(), "GIFT-1", dec(5), "HCM", false, "GIFT", false); err != nil {
		t.Fatalf("exempt group must bypass the stock check: %v", err)
	}

	rec, _ := store.GetInventory(context.Background(), "GIFT-1", "HCM", false)
	if !rec.TheoreticalQty.IsZero() {
		t.Fatalf("exempt group must not consume theoretical stock, got %s", rec.TheoreticalQty)
	}
	if !rec.ReservedQty.IsZero() {
		t.Fatalf("expected hold released and floored, got %s", rec.ReservedQty)
	}
}

func TestReserveWarehouseFallback(t *testing.T) {
	store := newFakeStore()
	store.addInventory(&models.InventoryRecord{
		ProductCode:    "P1",
		WarehouseName:  "DN",
		TheoreticalQty: dec(10),
	}, false)

	ledger := NewInventoryLedger(store, config.GetLogger())
	if err := ledger.Reserve(context.Background(), "P1", dec(4), "HCM", false, "", false); err != nil {
		t.Fatalf("expected warehouse-agnostic fallback, got %v", err)
	}
	rec, _ := store.GetInventory(context.Background(), "P1", "DN", false)
	if !rec.TheoreticalQty.Equal(dec(6)) {
		t.Fatalf("expected theoretical qty 6, got %s", rec.TheoreticalQty)
	}
}

func TestReserveFallbackRecordSharesOneLock(t *testing.T) {
	store := newFakeStore()
	store.addInventory(&models.InventoryRecord{
		ProductCode:    "P1",
		WarehouseName:  "DN",
		TheoreticalQty: dec(100),
	}, false)

	// Half the callers name HCM and fall back to the DN record. Both paths
	// must serialize on the same key or updates get lost.
	ledger := NewInventoryLedger(store, config.GetLogger())
	warehouses := []string{"DN", "HCM"}
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := ledger.Reserve(context.Background(), "P1", dec(1), warehouses[i%2], false, "", false); err != nil {
				t.Errorf("reserve failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	rec, _ := store.GetInventory(context.Background(), "P1", "DN", false)
	if !rec.TheoreticalQty.IsZero() {
		t.Fatalf("lost update through the fallback record, theoretical qty %s", rec.TheoreticalQty)
	}
}

func TestReserveInsufficientStockErrorFields(t *testing.T) {
	store := newFakeStore()
	store.addInventory(&models.InventoryRecord{
		ProductCode:    "P1",
		WarehouseName:  "HCM",
		TheoreticalQty: dec(5),
	}, false)

	ledger := NewInventoryLedger(store, config.GetLogger())
	err := ledger.Reserve(context.Background(), "P1", dec(10), "HCM", false, "", false)

	var insufficient *InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if insufficient.ProductCode != "P1" {
		t.Fatalf("expected product P1, got %q", insufficient.ProductCode)
	}
	if !insufficient.Requested.Equal(dec(10)) || !insufficient.Available.Equal(dec(5)) {
		t.Fatalf("expected requested 10 / available 5, got %s / %s",
			insufficient.Requested, insufficient.Available)
	}
}

func TestReserveSkipCheckAllowsNegativeTheoretical(t *testing.T) {
	store := newFakeStore()
	store.addInventory(&models.InventoryRecord{
		ProductCode:    "P1",
		WarehouseName:  "HCM",
		TheoreticalQty: dec(2),
	}, false)

	ledger := NewInventoryLedger(store, config.GetLogger())
	if err := ledger.Reserve(context.Background(), "P1", dec(5), "HCM", false, "", true); err != nil {
		t.Fatalf("skipCheck must bypass the sufficiency check: %v", err)
	}
	rec, _ := store.GetInventory(context.Background(), "P1", "HCM", false)
	if !rec.TheoreticalQty.Equal(dec(-3)) {
		t.Fatalf("expected theoretical qty -3, got %s", rec.TheoreticalQty)
	}
}

func TestReserveNoRecordAnywhere(t *testing.T) {
	ledger := NewInventoryLedger(newFakeStore(), config.GetLogger())
	if err := ledger.Reserve(context.Background(), "GHOST", dec(1), "HCM", false, "", false); err == nil {
		t.Fatal("expected an error when no inventory record exists")
	}
}
