package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/storefront_backend/models"
)

// NOTE: These tests are intentionally network-free. fakeStore implements the
// Store interface in memory with the same absence semantics as the HTTP
// gateway: lookups that find nothing return (nil, nil).

type fakeStore struct {
	mu sync.Mutex

	order       *models.Order
	products    map[string]*models.Product
	units       map[string]*models.Unit
	quotes      map[string]*models.Quote
	promotions  map[string]*models.PromotionCandidate
	orderPromos []string
	usages      []*models.PromotionUsage
	inventory   map[string]*models.InventoryRecord
	vatLedger   map[string]*models.InventoryRecord

	createdLines []*models.OrderLine
	updatedLines []*models.OrderLine
	headerPatch  map[string]any

	failProducts   map[string]bool
	usageCreateErr error
	createDelay    time.Duration
	nextId         int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products:     make(map[string]*models.Product),
		units:        make(map[string]*models.Unit),
		quotes:       make(map[string]*models.Quote),
		promotions:   make(map[string]*models.PromotionCandidate),
		inventory:    make(map[string]*models.InventoryRecord),
		vatLedger:    make(map[string]*models.InventoryRecord),
		failProducts: make(map[string]bool),
	}
}

func invKey(productCode string, warehouseName string) string {
	return strings.ToUpper(productCode) + "|" + strings.ToUpper(warehouseName)
}

func (f *fakeStore) ledger(isVat bool) map[string]*models.InventoryRecord {
	if isVat {
		return f.vatLedger
	}
	return f.inventory
}

func (f *fakeStore) addInventory(rec *models.InventoryRecord, isVat bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec.ID == "" {
		f.nextId++
		rec.ID = fmt.Sprintf("inv-%d", f.nextId)
	}
	f.ledger(isVat)[invKey(rec.ProductCode, rec.WarehouseName)] = rec
}

func (f *fakeStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.order != nil && f.order.ID == id {
		cp := *f.order
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) FindProduct(ctx context.Context, code string) (*models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.products[code]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) FindUnit(ctx context.Context, name string) (*models.Unit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.units[name]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) FindQuote(ctx context.Context, productId string, unitId string) (*models.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q, ok := f.quotes[productId+"|"+unitId]; ok {
		cp := *q
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) GetPromotion(ctx context.Context, id string) (*models.PromotionCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.promotions[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) ListOrderPromotions(ctx context.Context, orderId string) ([]*models.PromotionCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.PromotionCandidate, 0, len(f.orderPromos))
	for _, id := range f.orderPromos {
		if p, ok := f.promotions[id]; ok {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) FindPromotionByLabel(ctx context.Context, label string) (*models.PromotionCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.promotions {
		if strings.EqualFold(p.Name, label) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) SearchPromotions(ctx context.Context, productCode string, label string) ([]*models.PromotionCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.PromotionCandidate
	for _, p := range f.promotions {
		codeHit := strings.Contains(strings.ToUpper(p.ProductCodes), strings.ToUpper(productCode))
		labelHit := label != "" && strings.Contains(strings.ToUpper(p.Name), strings.ToUpper(label))
		if codeHit || labelHit {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) FindUsageRecord(ctx context.Context, orderId string, promotionId string) (*models.PromotionUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.usages {
		if u.OrderId == orderId && u.PromotionId == promotionId {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CreateUsageRecord(ctx context.Context, orderId string, promotionId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.usageCreateErr != nil {
		return f.usageCreateErr
	}
	f.nextId++
	f.usages = append(f.usages, &models.PromotionUsage{
		ID:          fmt.Sprintf("usage-%d", f.nextId),
		OrderId:     orderId,
		PromotionId: promotionId,
	})
	return nil
}

func (f *fakeStore) CreateOrderLine(ctx context.Context, line *models.OrderLine) (*models.OrderLine, error) {
	if f.createDelay > 0 {
		time.Sleep(f.createDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failProducts[line.ProductCode] {
		return nil, errors.New("store rejected write")
	}
	f.nextId++
	cp := *line
	cp.ID = fmt.Sprintf("line-%d", f.nextId)
	f.createdLines = append(f.createdLines, &cp)
	return &cp, nil
}

func (f *fakeStore) UpdateOrderLine(ctx context.Context, line *models.OrderLine) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failProducts[line.ProductCode] {
		return errors.New("store rejected write")
	}
	cp := *line
	f.updatedLines = append(f.updatedLines, &cp)
	return nil
}

func (f *fakeStore) GetInventory(ctx context.Context, productCode string, warehouseName string, isVatOrder bool) (*models.InventoryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.ledger(isVatOrder)[invKey(productCode, warehouseName)]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) GetInventoryByProduct(ctx context.Context, productCode string, isVatOrder bool) (*models.InventoryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.ledger(isVatOrder) {
		if strings.EqualFold(rec.ProductCode, productCode) {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) UpdateInventory(ctx context.Context, id string, isVatOrder bool, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.ledger(isVatOrder) {
		if rec.ID != id {
			continue
		}
		if v, ok := fields["theoretical_qty"]; ok {
			rec.TheoreticalQty = v.(decimal.Decimal)
		}
		if v, ok := fields["reserved_qty"]; ok {
			rec.ReservedQty = v.(decimal.Decimal)
		}
		return nil
	}
	return errors.New("inventory record not found: " + id)
}

func (f *fakeStore) PatchOrderHeader(ctx context.Context, orderId string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headerPatch = fields
	return nil
}
