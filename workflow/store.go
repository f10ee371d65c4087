package workflow

import (
	"context"

	"bitbucket.org/mmdatafocus/storefront_backend/models"
)

// Store is the narrow view of the external record store the engine depends
// on. crm.Store implements it over HTTP; tests implement it in memory.
// Lookups that find nothing return (nil, nil); absence is data, not an error.
type Store interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)

	FindProduct(ctx context.Context, code string) (*models.Product, error)
	FindUnit(ctx context.Context, name string) (*models.Unit, error)
	FindQuote(ctx context.Context, productId string, unitId string) (*models.Quote, error)

	GetPromotion(ctx context.Context, id string) (*models.PromotionCandidate, error)
	ListOrderPromotions(ctx context.Context, orderId string) ([]*models.PromotionCandidate, error)
	FindPromotionByLabel(ctx context.Context, label string) (*models.PromotionCandidate, error)
	SearchPromotions(ctx context.Context, productCode string, label string) ([]*models.PromotionCandidate, error)
	FindUsageRecord(ctx context.Context, orderId string, promotionId string) (*models.PromotionUsage, error)
	CreateUsageRecord(ctx context.Context, orderId string, promotionId string) error

	CreateOrderLine(ctx context.Context, line *models.OrderLine) (*models.OrderLine, error)
	UpdateOrderLine(ctx context.Context, line *models.OrderLine) error

	GetInventory(ctx context.Context, productCode string, warehouseName string, isVatOrder bool) (*models.InventoryRecord, error)
	GetInventoryByProduct(ctx context.Context, productCode string, isVatOrder bool) (*models.InventoryRecord, error)
	UpdateInventory(ctx context.Context, id string, isVatOrder bool, fields map[string]any) error

	PatchOrderHeader(ctx context.Context, orderId string, fields map[string]any) error
}
