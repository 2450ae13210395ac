package inventory

import (
	"fmt"
	"math"
)

const (
	// HotSellerSales is the trailing 7-day sales above which a SKU is a hot seller.
	HotSellerSales = 300
	// AgingDays is the days-of-supply threshold for ordinary SKUs.
	AgingDays = 15
	// HotSellerAgingDays is the days-of-supply threshold for hot sellers.
	HotSellerAgingDays = 30
)

// Row is one SKU of an inventory snapshot.
type Row struct {
	SKU          string `json:"sku"`
	InventoryNum int    `json:"inventory_num"`
	SalesNum     int    `json:"sales_num"`
}

// Metrics are the values derived from a snapshot row.
type Metrics struct {
	InventoryNum int      `json:"inventory_num"`
	SalesNum     int      `json:"sales_num"`
	SaleDay      *int     `json:"sale_day"`
	Labels       LabelSet `json:"labels"`
}

// SaleDay returns days of supply, rounded half away from zero, or nil
// when there were no sales.
func SaleDay(inventoryNum, salesNum int) *int {
	if salesNum <= 0 {
		return nil
	}
	d := int(math.Round(float64(inventoryNum) * 7 / float64(salesNum)))
	return &d
}

// AgingThreshold returns the days-of-supply limit for a label set.
func AgingThreshold(labels LabelSet) int {
	if labels.Has(HotSeller) {
		return HotSellerAgingDays
	}
	return AgingDays
}

// Classify derives sale_day and labels for a SKU.
func Classify(inventoryNum, salesNum int) Metrics {
	m := Metrics{
		InventoryNum: inventoryNum,
		SalesNum:     salesNum,
		SaleDay:      SaleDay(inventoryNum, salesNum),
	}

	var labels LabelSet
	if inventoryNum == 0 {
		labels = labels.With(NoStock)
	}
	if salesNum == 0 {
		labels = labels.With(NoSales)
	}
	if salesNum > HotSellerSales {
		labels = labels.With(HotSeller)
	}
	if m.SaleDay != nil && *m.SaleDay > AgingThreshold(labels) {
		labels = labels.With(AgingWarning)
	}
	if inventoryNum < 0 {
		labels = labels.With(NegativeInventory)
	}
	m.Labels = labels
	return m
}

// InStockNoSales reports whether the SKU has stock on hand but sold nothing.
func InStockNoSales(labels LabelSet) bool {
	return labels.Has(NoSales) && !labels.Has(NoStock) && !labels.Has(NegativeInventory)
}

// Eligible reports whether a SKU with these labels should be a task.
func Eligible(labels LabelSet) bool {
	return labels.Has(AgingWarning) || InStockNoSales(labels)
}

// Filter selects SKUs by label category.
type Filter string

const (
	FilterAny            Filter = ""
	FilterAging          Filter = "aging"
	FilterInStockNoSales Filter = "in_stock_no_sales"
	FilterNoSales        Filter = "no_sales"
	FilterNegative       Filter = "negative"
	FilterNormal         Filter = "normal"
)

// ParseFilter validates a label filter name.
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(s); f {
	case FilterAny, FilterAging, FilterInStockNoSales, FilterNoSales, FilterNegative, FilterNormal:
		return f, nil
	default:
		return "", fmt.Errorf("unknown label filter %q", s)
	}
}

// Match reports whether labels fall in the filter's category.
func (f Filter) Match(labels LabelSet) bool {
	switch f {
	case FilterAging:
		return labels.Has(AgingWarning)
	case FilterInStockNoSales:
		return InStockNoSales(labels)
	case FilterNoSales:
		return labels.Has(NoSales)
	case FilterNegative:
		return labels.Has(NegativeInventory)
	case FilterNormal:
		return !labels.Has(NoStock) && !labels.Has(NoSales) && !labels.Has(AgingWarning) && !labels.Has(NegativeInventory)
	default:
		return true
	}
}
