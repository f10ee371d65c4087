package crm

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"bitbucket.org/mmdatafocus/storefront_backend/models"
)

// Entity set names on the business data platform.
const (
	entityOrders          = "orders"
	entityOrderLines      = "orderlines"
	entityProducts        = "products"
	entityUnits           = "units"
	entityQuotes          = "quotes"
	entityPromotions      = "promotions"
	entityOrderPromotions = "orderpromotions"
	entityUsageRecords    = "promotionusages"
	entityStockLedger     = "stockledger"
	entityVatStockLedger  = "vatstockledger"
)

// Store is the typed record-store gateway the engine consumes. Lookups that
// find nothing return (nil, nil); the engine decides whether absence is fatal.
type Store struct {
	client *Client
}

func NewStore(client *Client) *Store {
	return &Store{client: client}
}

func listParams(filter string, top int) url.Values {
	params := url.Values{}
	if filter != "" {
		params.Set("$filter", filter)
	}
	if top > 0 {
		params.Set("$top", strconv.Itoa(top))
	}
	return params
}

func listAs[T any](ctx context.Context, c *Client, entitySet string, filter string, top int) ([]*T, error) {
	raws, err := c.List(ctx, entitySet, listParams(filter, top))
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(raws))
	for _, raw := range raws {
		var rec T
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, nil
}

func firstAs[T any](ctx context.Context, c *Client, entitySet string, filter string) (*T, error) {
	recs, err := listAs[T](ctx, c, entitySet, filter, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return firstAs[models.Order](ctx, s.client, entityOrders, filterEq("id", id))
}

func (s *Store) FindProduct(ctx context.Context, code string) (*models.Product, error) {
	return firstAs[models.Product](ctx, s.client, entityProducts, filterEq("code", code))
}

func (s *Store) FindUnit(ctx context.Context, name string) (*models.Unit, error) {
	return firstAs[models.Unit](ctx, s.client, entityUnits, filterEq("name", name))
}

func (s *Store) FindQuote(ctx context.Context, productId string, unitId string) (*models.Quote, error) {
	return firstAs[models.Quote](ctx, s.client, entityQuotes,
		filterAnd(filterEq("product_id", productId), filterEq("unit_id", unitId)))
}

func (s *Store) GetPromotion(ctx context.Context, id string) (*models.PromotionCandidate, error) {
	return firstAs[models.PromotionCandidate](ctx, s.client, entityPromotions, filterEq("id", id))
}

type orderPromotion struct {
	OrderId     string `json:"order_id"`
	PromotionId string `json:"promotion_id"`
}

// ListOrderPromotions returns the promotions already associated with an order
// header via the association entity.
func (s *Store) ListOrderPromotions(ctx context.Context, orderId string) ([]*models.PromotionCandidate, error) {
	assocs, err := listAs[orderPromotion](ctx, s.client, entityOrderPromotions, filterEq("order_id", orderId), 0)
	if err != nil {
		return nil, err
	}
	out := make([]*models.PromotionCandidate, 0, len(assocs))
	for _, a := range assocs {
		promo, err := s.GetPromotion(ctx, a.PromotionId)
		if err != nil {
			return nil, err
		}
		if promo != nil {
			out = append(out, promo)
		}
	}
	return out, nil
}

func (s *Store) FindPromotionByLabel(ctx context.Context, label string) (*models.PromotionCandidate, error) {
	return firstAs[models.PromotionCandidate](ctx, s.client, entityPromotions, filterEq("name", label))
}

// SearchPromotions is the broad correlated lookup: any promotion whose code
// list mentions the product or whose name mentions the label. Scoring happens
// in the resolver, not here.
func (s *Store) SearchPromotions(ctx context.Context, productCode string, label string) ([]*models.PromotionCandidate, error) {
	filter := "contains(product_codes,'" + escapeQuotes(productCode) + "')"
	if label != "" {
		filter = filter + " or contains(name,'" + escapeQuotes(label) + "')"
	}
	return listAs[models.PromotionCandidate](ctx, s.client, entityPromotions, filter, 25)
}

func (s *Store) FindUsageRecord(ctx context.Context, orderId string, promotionId string) (*models.PromotionUsage, error) {
	return firstAs[models.PromotionUsage](ctx, s.client, entityUsageRecords,
		filterAnd(filterEq("order_id", orderId), filterEq("promotion_id", promotionId)))
}

func (s *Store) CreateUsageRecord(ctx context.Context, orderId string, promotionId string) error {
	_, err := s.client.Create(ctx, entityUsageRecords, models.PromotionUsage{
		OrderId:     orderId,
		PromotionId: promotionId,
	})
	return err
}

func (s *Store) CreateOrderLine(ctx context.Context, line *models.OrderLine) (*models.OrderLine, error) {
	raw, err := s.client.Create(ctx, entityOrderLines, line)
	if err != nil {
		return nil, err
	}
	var created models.OrderLine
	if err := json.Unmarshal(raw, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *Store) UpdateOrderLine(ctx context.Context, line *models.OrderLine) error {
	fields := map[string]any{
		"product_id":         line.ProductId,
		"product_code":       line.ProductCode,
		"product_group_code": line.ProductGroupCode,
		"category_label":     line.CategoryLabel,
		"unit_id":            line.UnitId,
		"quantity":           line.Quantity,
		"unit_price":         line.UnitPrice,
		"discounted_price":   line.DiscountedPrice,
		"discount_pct":       line.DiscountPct,
		"discount_amount":    line.DiscountAmount,
		"secondary_discount": line.SecondaryDiscount,
		"vat_pct":            line.VatPct,
		"subtotal":           line.Subtotal,
		"vat_amount":         line.VatAmount,
		"total":              line.Total,
		"promotion_id":       line.PromotionId,
		"promotion_label":    line.PromotionLabel,
		"quote_id":           line.QuoteId,
		"delivery_date":      line.DeliveryDate,
		"delivery_shift":     line.DeliveryShift,
		"approver_id":        line.ApproverId,
		"is_approved":        line.IsApproved,
	}
	return s.client.Patch(ctx, entityOrderLines, line.ID, fields)
}

func ledgerEntity(isVatOrder bool) string {
	if isVatOrder {
		return entityVatStockLedger
	}
	return entityStockLedger
}

func (s *Store) GetInventory(ctx context.Context, productCode string, warehouseName string, isVatOrder bool) (*models.InventoryRecord, error) {
	return firstAs[models.InventoryRecord](ctx, s.client, ledgerEntity(isVatOrder),
		filterAnd(filterEq("product_code", productCode), filterEq("warehouse_name", warehouseName)))
}

func (s *Store) GetInventoryByProduct(ctx context.Context, productCode string, isVatOrder bool) (*models.InventoryRecord, error) {
	return firstAs[models.InventoryRecord](ctx, s.client, ledgerEntity(isVatOrder), filterEq("product_code", productCode))
}

func (s *Store) UpdateInventory(ctx context.Context, id string, isVatOrder bool, fields map[string]any) error {
	return s.client.Patch(ctx, ledgerEntity(isVatOrder), id, fields)
}

func (s *Store) PatchOrderHeader(ctx context.Context, orderId string, fields map[string]any) error {
	return s.client.Patch(ctx, entityOrders, orderId, fields)
}

func escapeQuotes(v string) string {
	out := make([]byte, 0, len(v))
	for i := 0; i < len(v); i++ {
		if v[i] == '\'' {
			out = append(out, '\'', '\'')
			continue
		}
		out = append(out, v[i])
	}
	return string(out)
}
