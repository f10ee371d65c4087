package models

import "time"

// Order is the order header. It is owned by the external platform and
// read-only to the engine.
type Order struct {
	ID               string    `json:"id"`
	WarehouseName    string    `json:"warehouse_name"`
	IsVatOrder       bool      `json:"is_vat_order"`
	CustomerIndustry string    `json:"customer_industry"`
	PaymentTerms     string    `json:"payment_terms"`
	CreatedAt        time.Time `json:"created_at"`
}
