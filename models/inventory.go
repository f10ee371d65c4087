package models

import "github.com/shopspring/decimal"

// InventoryRecord is one (product, warehouse) row in one of the two stock
// ledgers. Which ledger a record belongs to is decided by the order's VAT
// flag; the two ledgers never share records.
type InventoryRecord struct {
	ID             string          `json:"id"`
	ProductCode    string          `json:"product_code"`
	WarehouseName  string          `json:"warehouse_name"`
	TheoreticalQty decimal.Decimal `json:"theoretical_qty"`
	ReservedQty    decimal.Decimal `json:"reserved_qty"`
	Location       string          `json:"location"`
}

// Product is the engine's view of a product record: just enough to resolve
// line references.
type Product struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	GroupCode string `json:"group_code"`
}

// Unit is a unit-of-measure record.
type Unit struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Quote is a price-reference record looked up per (product, unit) pair.
type Quote struct {
	ID        string `json:"id"`
	ProductId string `json:"product_id"`
	UnitId    string `json:"unit_id"`
}
