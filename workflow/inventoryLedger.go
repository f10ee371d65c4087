package workflow

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/storefront_backend/config"
	"bitbucket.org/mmdatafocus/storefront_backend/models"
	"bitbucket.org/mmdatafocus/storefront_backend/utils"
)

// InsufficientStockError rejects a reservation that would oversell.
type InsufficientStockError struct {
	ProductCode string
	Requested   decimal.Decimal
	Available   decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %s, available %s",
		e.ProductCode, e.Requested.String(), e.Available.String())
}

// Product groups exempt from the stock sufficiency check and from theoretical
// decrement. Samples, gifts and service items consume no stock but still need
// their reservation released.
var defaultExemptGroups = []string{"SAMPLE", "GIFT", "SERVICE"}

// InventoryLedger applies reservations against the two stock ledgers. A
// reservation for a given (ledger, product) key is serialized by a per-key
// in-process mutex; the read-then-write pair never interleaves with another
// reservation on the same key. A distributed lock is taken as well
// when redis is up, covering multi-instance deployments best effort.
type InventoryLedger struct {
	store  Store
	logger *logrus.Logger

	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex

	exemptGroups map[string]bool
}

func NewInventoryLedger(store Store, logger *logrus.Logger) *InventoryLedger {
	exempt := make(map[string]bool)
	for _, g := range defaultExemptGroups {
		exempt[g] = true
	}
	for _, g := range utils.SplitTerms(os.Getenv("STOCK_EXEMPT_GROUPS")) {
		exempt[g] = true
	}
	return &InventoryLedger{
		store:        store,
		logger:       logger,
		keyLocks:     make(map[string]*sync.Mutex),
		exemptGroups: exempt,
	}
}

func (l *InventoryLedger) IsExemptGroup(productGroupCode string) bool {
	return l.exemptGroups[strings.ToUpper(strings.TrimSpace(productGroupCode))]
}

func (l *InventoryLedger) keyLock(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.keyLocks[key]; ok {
		return m
	}
	m := &sync.Mutex{}
	l.keyLocks[key] = m
	return m
}

// reservationKey deliberately ignores the warehouse: read falls back to a
// warehouse-agnostic record, so two requests naming different warehouses can
// land on the same row and must share one lock.
func reservationKey(productCode string, isVatOrder bool) string {
	ledger := "stock"
	if isVatOrder {
		ledger = "vatstock"
	}
	return ledger + ":" + strings.ToUpper(productCode)
}

// read fetches the current record, falling back to a warehouse-agnostic
// lookup when the exact pair has no row.
func (l *InventoryLedger) read(ctx context.Context, productCode string, warehouseName string, isVatOrder bool) (*models.InventoryRecord, error) {
	rec, err := l.store.GetInventory(ctx, productCode, warehouseName, isVatOrder)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec, err = l.store.GetInventoryByProduct(ctx, productCode, isVatOrder)
		if err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// Available returns the current theoretical quantity for a product, or nil
// when no ledger record exists. Advisory only; Reserve re-reads under lock.
func (l *InventoryLedger) Available(ctx context.Context, productCode string, warehouseName string, isVatOrder bool) (*decimal.Decimal, error) {
	rec, err := l.read(ctx, productCode, warehouseName, isVatOrder)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	qty := rec.TheoreticalQty
	return &qty, nil
}

// Check is the read-only sufficiency probe used before any line is persisted.
// It never writes; a passing check is advisory and Reserve re-validates.
func (l *InventoryLedger) Check(ctx context.Context, productCode string, quantity decimal.Decimal, warehouseName string, isVatOrder bool, productGroupCode string) error {
	if l.IsExemptGroup(productGroupCode) {
		return nil
	}
	rec, err := l.read(ctx, productCode, warehouseName, isVatOrder)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("no inventory record for product %s", productCode)
	}
	if rec.TheoreticalQty.LessThan(quantity) {
		return &InsufficientStockError{
			ProductCode: productCode,
			Requested:   quantity,
			Available:   rec.TheoreticalQty,
		}
	}
	return nil
}

// Reserve re-validates stock under the per-key lock and applies the combined
// decrement in a single record patch. Reserved quantity is floored at zero.
// Callers pass quantity pre-aggregated across all lines of the same product.
func (l *InventoryLedger) Reserve(ctx context.Context, productCode string, quantity decimal.Decimal, warehouseName string, isVatOrder bool, productGroupCode string, skipCheck bool) error {
	key := reservationKey(productCode, isVatOrder)

	lock := l.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if locker := config.GetRedisLock(); locker != nil {
		dl, err := locker.Obtain(ctx, "StockLock:"+key, 10*time.Second, &redislock.Options{
			RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 20),
		})
		if err != nil {
			config.LogError(l.logger, "workflow", "InventoryLedger.Reserve", "redislock", key, err)
		} else {
			defer dl.Release(context.Background())
		}
	}

	// Fresh read under the lock. Values read earlier in the request are stale
	// by definition once another reservation may have run.
	rec, err := l.read(ctx, productCode, warehouseName, isVatOrder)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("no inventory record for product %s", productCode)
	}

	exempt := l.IsExemptGroup(productGroupCode)
	if !skipCheck && !exempt && rec.TheoreticalQty.LessThan(quantity) {
		return &InsufficientStockError{
			ProductCode: productCode,
			Requested:   quantity,
			Available:   rec.TheoreticalQty,
		}
	}

	newReserved := rec.ReservedQty.Sub(quantity)
	if newReserved.IsNegative() {
		newReserved = decimal.Zero
	}

	fields := map[string]any{"reserved_qty": newReserved}
	if !isVatOrder && !exempt {
		fields["theoretical_qty"] = rec.TheoreticalQty.Sub(quantity)
	}
	return l.store.UpdateInventory(ctx, rec.ID, isVatOrder, fields)
}
