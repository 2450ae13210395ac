package task

import (
	"time"

	"github.com/kylemclaren/slowstock/internal/inventory"
)

// ReviewStatus is the terminal outcome recorded in history.
type ReviewStatus string

const (
	ReviewApproved ReviewStatus = "approved"
	ReviewTimeout  ReviewStatus = "timeout"
)

// Valid reports whether s is a known outcome.
func (s ReviewStatus) Valid() bool {
	return s == ReviewApproved || s == ReviewTimeout
}

// Entry is an immutable history record of a terminal outcome.
type Entry struct {
	ID               int64              `json:"id"`
	SKU              string             `json:"sku"`
	CompletedSaleDay *int               `json:"completed_sale_day"`
	Charge           *string            `json:"charge"`
	Plan             Plan               `json:"plan"`
	InventoryNum     int                `json:"inventory_num"`
	SalesNum         int                `json:"sales_num"`
	Labels           inventory.LabelSet `json:"labels"`
	Notes            *string            `json:"notes"`
	ImageURLs        []string           `json:"image_urls"`
	ReviewStatus     ReviewStatus       `json:"review_status"`
	CompletedAt      time.Time          `json:"completed_at"`
}
