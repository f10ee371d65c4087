package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// OrderLine is one unit of an order being finalized. Records live in the
// external platform; this struct is the engine's typed view of one.
type OrderLine struct {
	ID                string          `json:"id"`
	ProductCode       string          `json:"product_code"`
	ProductId         string          `json:"product_id"`
	ProductGroupCode  string          `json:"product_group_code"`
	CategoryLabel     string          `json:"category_label"`
	Unit              string          `json:"unit"`
	UnitId            string          `json:"unit_id"`
	Quantity          int             `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	DiscountedPrice   decimal.Decimal `json:"discounted_price"`
	DiscountPct       decimal.Decimal `json:"discount_pct"`
	DiscountAmount    decimal.Decimal `json:"discount_amount"`
	SecondaryDiscount decimal.Decimal `json:"secondary_discount"`
	VatPct            decimal.Decimal `json:"vat_pct"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	VatAmount         decimal.Decimal `json:"vat_amount"`
	Total             decimal.Decimal `json:"total"`
	PromotionId       string          `json:"promotion_id"`
	PromotionLabel    string          `json:"promotion_label"`
	QuoteId           string          `json:"quote_id"`
	DeliveryDate      *time.Time      `json:"delivery_date"`
	DeliveryShift     *Shift          `json:"delivery_shift"`
	ApproverId        string          `json:"approver_id"`
	IsApproved        *bool           `json:"is_approved"`
}

// NewOrderLine is the caller-supplied shape of a line in a finalize request.
// Caller-supplied totals are ignored; the server recomputes them.
type NewOrderLine struct {
	ID                string          `json:"id"`
	ProductCode       string          `json:"product_code" binding:"required"`
	ProductGroupCode  string          `json:"product_group_code"`
	CategoryLabel     string          `json:"category_label"`
	Unit              string          `json:"unit"`
	UnitId            string          `json:"unit_id"`
	Quantity          int             `json:"quantity" binding:"required,gt=0"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	DiscountedPrice   decimal.Decimal `json:"discounted_price"`
	DiscountPct       decimal.Decimal `json:"discount_pct"`
	DiscountAmount    decimal.Decimal `json:"discount_amount"`
	SecondaryDiscount decimal.Decimal `json:"secondary_discount"`
	VatPct            decimal.Decimal `json:"vat_pct"`
	PromotionId       string          `json:"promotion_id"`
	PromotionLabel    string          `json:"promotion_label"`
	DeliveryDate      string          `json:"delivery_date"`
	ApproverId        string          `json:"approver_id"`
	IsApproved        *bool           `json:"is_approved"`
}

var ErrInvalidQuantity = errors.New("quantity must be greater than zero")

var decimalOneHundred = decimal.NewFromInt(100)

// EffectivePrice is the discounted price when one is set, else the base price.
func EffectivePrice(unitPrice decimal.Decimal, discountedPrice decimal.Decimal) decimal.Decimal {
	if discountedPrice.IsPositive() {
		return discountedPrice
	}
	return unitPrice
}

// ComputeTotals derives subtotal, VAT amount and total from price, quantity
// and VAT percentage. This derivation is authoritative: it runs server-side on
// every save regardless of what the caller sent. It is a pure function.
//
//	subtotal = effective price * quantity
//	vat      = round(subtotal * vat% / 100)
//	total    = subtotal + vat
func ComputeTotals(unitPrice decimal.Decimal, discountedPrice decimal.Decimal, quantity int, vatPct decimal.Decimal) (subtotal, vatAmount, total decimal.Decimal, err error) {
	if quantity <= 0 {
		return decimal.Zero, decimal.Zero, decimal.Zero, ErrInvalidQuantity
	}
	price := EffectivePrice(unitPrice, discountedPrice)
	subtotal = price.Mul(decimal.NewFromInt(int64(quantity)))
	vatAmount = subtotal.Mul(vatPct).Div(decimalOneHundred).Round(0)
	total = subtotal.Add(vatAmount)
	return subtotal, vatAmount, total, nil
}

// ApplyTotals recomputes the derived money fields in place.
func (l *OrderLine) ApplyTotals() error {
	subtotal, vat, total, err := ComputeTotals(l.UnitPrice, l.DiscountedPrice, l.Quantity, l.VatPct)
	if err != nil {
		return err
	}
	l.Subtotal = subtotal
	l.VatAmount = vat
	l.Total = total
	return nil
}
