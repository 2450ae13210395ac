package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/kylemclaren/slowstock/internal/inventory"
)

// ListOwnerPatterns returns the owner mapping in match order.
func (s *Store) ListOwnerPatterns(ctx context.Context) ([]inventory.OwnerPattern, error) {
	var patterns []inventory.OwnerPattern
	err := sqlx.SelectContext(ctx, s.q, &patterns, "SELECT pattern, owner FROM owner_patterns ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("list owner patterns: %w", err)
	}
	return patterns, nil
}

// ReplaceOwnerPatterns swaps the whole mapping. Call it inside WithTx so
// readers never see a partial table.
func (s *Store) ReplaceOwnerPatterns(ctx context.Context, patterns []inventory.OwnerPattern) error {
	if _, err := s.exec(ctx, "DELETE FROM owner_patterns"); err != nil {
		return fmt.Errorf("clear owner patterns: %w", err)
	}
	for i, p := range patterns {
		if _, err := s.exec(ctx, "INSERT INTO owner_patterns (position, pattern, owner) VALUES (?, ?, ?)",
			i, p.Pattern, p.Owner); err != nil {
			return fmt.Errorf("insert owner pattern %q: %w", p.Pattern, err)
		}
	}
	return nil
}
