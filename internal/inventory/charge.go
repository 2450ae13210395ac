package inventory

import "strings"

const (
	DefaultSpecialPattern = "ZMT"
	DefaultSpecialOwner   = "朱梦婷"
)

// OwnerPattern maps a SKU substring to an owner.
type OwnerPattern struct {
	Pattern string `json:"pattern" db:"pattern"`
	Owner   string `json:"owner" db:"owner"`
}

// Resolver assigns owners to SKUs. A SKU containing SpecialPattern always
// goes to SpecialOwner; otherwise the first matching pattern wins.
type Resolver struct {
	SpecialPattern string
	SpecialOwner   string
}

// DefaultResolver returns a resolver with the built-in special owner.
func DefaultResolver() Resolver {
	return Resolver{SpecialPattern: DefaultSpecialPattern, SpecialOwner: DefaultSpecialOwner}
}

// Resolve returns the owner for sku, or nil when nothing matches.
func (r Resolver) Resolve(sku string, patterns []OwnerPattern) *string {
	if r.SpecialPattern != "" && r.SpecialOwner != "" && strings.Contains(sku, r.SpecialPattern) {
		owner := r.SpecialOwner
		return &owner
	}
	for _, p := range patterns {
		if p.Pattern == "" || p.Owner == "" {
			continue
		}
		if strings.Contains(sku, p.Pattern) {
			owner := p.Owner
			return &owner
		}
	}
	return nil
}
