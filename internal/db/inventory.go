package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/kylemclaren/slowstock/internal/inventory"
)

// ErrNotFound is returned when a non-task record is missing.
var ErrNotFound = errors.New("not found")

const inventoryColumns = "sku, inventory_num, sales_num, sale_day, labels, charge, created_at, updated_at"

// GetInventory retrieves an inventory record by SKU.
func (s *Store) GetInventory(ctx context.Context, sku string) (*inventory.Record, error) {
	var rec inventory.Record
	err := sqlx.GetContext(ctx, s.q, &rec, s.rebind("SELECT "+inventoryColumns+" FROM inventory WHERE sku = ?"), sku)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("inventory %s: %w", sku, ErrNotFound)
		}
		return nil, fmt.Errorf("get inventory %s: %w", sku, err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

// InsertInventory creates an inventory record.
func (s *Store) InsertInventory(ctx context.Context, rec *inventory.Record) error {
	_, err := s.exec(ctx, `
		INSERT INTO inventory (`+inventoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.SKU, rec.InventoryNum, rec.SalesNum, rec.SaleDay, rec.Labels, rec.Charge,
		utc(rec.CreatedAt), utc(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert inventory %s: %w", rec.SKU, err)
	}
	return nil
}

// UpdateInventory overwrites an inventory record.
func (s *Store) UpdateInventory(ctx context.Context, rec *inventory.Record) error {
	_, err := s.exec(ctx, `
		UPDATE inventory SET inventory_num = ?, sales_num = ?, sale_day = ?, labels = ?, charge = ?, updated_at = ?
		WHERE sku = ?
	`, rec.InventoryNum, rec.SalesNum, rec.SaleDay, rec.Labels, rec.Charge, utc(rec.UpdatedAt), rec.SKU)
	if err != nil {
		return fmt.Errorf("update inventory %s: %w", rec.SKU, err)
	}
	return nil
}

// ListInventory retrieves inventory records ordered by SKU, optionally
// narrowed by a SKU substring.
func (s *Store) ListInventory(ctx context.Context, sku string) ([]*inventory.Record, error) {
	query := "SELECT " + inventoryColumns + " FROM inventory"
	var args []any
	if sku != "" {
		query += " WHERE LOWER(sku) LIKE ?"
		args = append(args, "%"+strings.ToLower(sku)+"%")
	}
	query += " ORDER BY sku"

	var recs []*inventory.Record
	if err := sqlx.SelectContext(ctx, s.q, &recs, s.rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	return recs, nil
}
