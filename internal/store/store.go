// Package store is the Catalog Reader: read-only lookups over features,
// pricing tiers, templates, bundle discounts, and coupons. All returned
// values are snapshots — the Assembly Engine must not assume a second read
// returns the same data, so implementations copy rather than hand back
// internal pointers into shared maps.
package store

import (
	"context"

	"github.com/starterkit-studio/engine/pkg/models"
)

// CatalogReader is the primary read interface the Feature Resolver, Pricing
// Calculator, and Assembly Engine depend on. Production wires a Postgres
// implementation (see postgres.go); tests use the in-memory one
// (see memory.go) — both satisfy the same contract, so either can back the
// engine without the caller knowing which.
type CatalogReader interface {
	// Features returns catalog records for the given slugs. Unknown slugs
	// are silently omitted — callers detect a missing feature by comparing
	// len(result) against len(slugs) or by slug-set difference.
	Features(ctx context.Context, slugs []string) ([]models.Feature, error)

	// Tier returns the named pricing tier, or ErrNotFound.
	Tier(ctx context.Context, slug string) (*models.PricingTier, error)

	// Template returns the named template, or (nil, nil) if slug is empty.
	// An unknown non-empty slug is ErrNotFound.
	Template(ctx context.Context, slug string) (*models.Template, error)

	// ActiveBundles returns every bundle discount with IsActive set,
	// ordered by ID ascending (the order the Pricing Calculator applies
	// them in).
	ActiveBundles(ctx context.Context) ([]models.BundleDiscount, error)

	// CouponByCode returns the coupon for an (already uppercased) code, or
	// (nil, nil) if none exists.
	CouponByCode(ctx context.Context, code string) (*models.Coupon, error)

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the reader.
	Close() error
}

// ErrNotFound is returned when a requested catalog entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}
