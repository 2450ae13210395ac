package inventory

import "time"

// Record is the latest known inventory state of a SKU, task or not.
type Record struct {
	SKU          string    `json:"sku" db:"sku"`
	InventoryNum int       `json:"inventory_num" db:"inventory_num"`
	SalesNum     int       `json:"sales_num" db:"sales_num"`
	SaleDay      *int      `json:"sale_day" db:"sale_day"`
	Labels       LabelSet  `json:"labels" db:"labels"`
	Charge       *string   `json:"charge" db:"charge"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Apply overwrites the record's metrics.
func (r *Record) Apply(m Metrics) {
	r.InventoryNum = m.InventoryNum
	r.SalesNum = m.SalesNum
	r.SaleDay = m.SaleDay
	r.Labels = m.Labels
}

// Statistics counts inventory records per label category.
type Statistics struct {
	Normal         int `json:"normal"`
	Aging          int `json:"aging"`
	NoSales        int `json:"no_sales"`
	Negative       int `json:"negative"`
	InStockNoSales int `json:"in_stock_no_sales"`
}

// Add counts one record's labels.
func (s *Statistics) Add(labels LabelSet) {
	if FilterNormal.Match(labels) {
		s.Normal++
	}
	if FilterAging.Match(labels) {
		s.Aging++
	}
	if FilterNoSales.Match(labels) {
		s.NoSales++
	}
	if FilterNegative.Match(labels) {
		s.Negative++
	}
	if FilterInStockNoSales.Match(labels) {
		s.InStockNoSales++
	}
}
