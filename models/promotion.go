package models

import (
	"time"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/storefront_backend/utils"
)

// PromotionCandidate is a read-only snapshot of a promotion record fetched
// from the external platform. Snapshots are cached per promotion id for the
// duration of one finalization request.
type PromotionCandidate struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	ProductCodes      string          `json:"product_codes"`
	ProductGroupCodes string          `json:"product_group_codes"`
	StartDate         *time.Time      `json:"start_date"`
	EndDate           *time.Time      `json:"end_date"`
	MinOrderTotal     decimal.Decimal `json:"min_order_total"`
	PaymentTerms      string          `json:"payment_terms"`
	Active            *bool           `json:"active"`
}

// AllowedTerms returns the promotion's payment-term restriction as normalized
// tokens. Empty means unrestricted.
func (p *PromotionCandidate) AllowedTerms() []string {
	return utils.SplitTerms(p.PaymentTerms)
}

// InWindow reports whether t falls inside the promotion's applicability
// window. A missing bound is open-ended on that side.
func (p *PromotionCandidate) InWindow(t time.Time) bool {
	if p.StartDate != nil && t.Before(*p.StartDate) {
		return false
	}
	if p.EndDate != nil && t.After(*p.EndDate) {
		return false
	}
	return true
}

// IsActive treats a missing flag as active; the upstream data leaves the
// column unset on most records.
func (p *PromotionCandidate) IsActive() bool {
	return p.Active == nil || *p.Active
}

// PromotionUsage links an order header to a promotion bound during
// finalization. At most one usage record exists per (order, promotion).
type PromotionUsage struct {
	ID          string `json:"id"`
	OrderId     string `json:"order_id"`
	PromotionId string `json:"promotion_id"`
}
