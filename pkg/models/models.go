// Package models holds the plain data types shared across the studio engine:
// catalog records read from the store, the order an operator is generating
// for, and the preview-session state machine. Types here carry json/db tags
// the way the store and wire layers expect.
package models

import "time"

// ── Feature ──────────────────────────────────────────────────

// PackageKind is the dependency-manifest partition a PackageSpec belongs to.
type PackageKind string

const (
	PackageRuntime PackageKind = "runtime"
	PackageDev     PackageKind = "dev"
	PackagePeer    PackageKind = "peer"
)

// FileMapping relocates a logical source path into the emitted project.
type FileMapping struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// SchemaMapping points at a datamodel fragment contributed by a feature.
// Model is advisory; the Schema Merger discovers real names by parsing.
type SchemaMapping struct {
	Model  string `json:"model"`
	Source string `json:"source"`
}

// EnvVar is a single environment variable declaration contributed by a
// feature. Keys are globally namespaced; the Assembly Engine writes every
// declaration into .env.example as-is and does not deduplicate a key that
// several features declare.
type EnvVar struct {
	Key         string `json:"key"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Default     string `json:"default,omitempty"`
}

// PackageSpec is one dependency-manifest entry.
type PackageSpec struct {
	Name    string      `json:"name"`
	Version string      `json:"version"`
	Kind    PackageKind `json:"kind"`
}

// Feature is a stable, catalog-owned unit of optional functionality.
// Treated as an immutable snapshot by the Assembly Engine: all mappings are
// decoded strictly at catalog-read time so schema drift surfaces then, not
// mid-generation.
type Feature struct {
	Slug        string   `json:"slug" db:"slug"`
	Name        string   `json:"name" db:"name"`
	Description string   `json:"description" db:"description"`
	Category    string   `json:"category" db:"category"`
	Requires    []string `json:"requires,omitempty" db:"-"`

	FileMappings   []FileMapping   `json:"file_mappings,omitempty" db:"-"`
	SchemaMappings []SchemaMapping `json:"schema_mappings,omitempty" db:"-"`
	EnvVars        []EnvVar        `json:"env_vars,omitempty" db:"-"`
	NpmPackages    []PackageSpec   `json:"npm_packages,omitempty" db:"-"`

	Price int64 `json:"price" db:"price"` // integer minor units
}

// ── Pricing catalog records ──────────────────────────────────

// PricingTier is a purchasable plan; features in IncludedFeatures are
// bundled in at no extra charge.
type PricingTier struct {
	Slug             string   `json:"slug" db:"slug"`
	Name             string   `json:"name" db:"name"`
	Price            int64    `json:"price" db:"price"`
	IncludedFeatures []string `json:"included_features,omitempty" db:"-"`
	DisplayOrder     int      `json:"display_order" db:"display_order"`
	IsActive         bool     `json:"is_active" db:"is_active"`
}

// Template is a preset feature selection layered on top of a tier.
type Template struct {
	Slug             string   `json:"slug" db:"slug"`
	Name             string   `json:"name" db:"name"`
	IncludedFeatures []string `json:"included_features,omitempty" db:"-"`
}

// DiscountKind is the value-interpretation for a bundle or coupon discount.
type DiscountKind string

const (
	DiscountPercentage DiscountKind = "percentage"
	DiscountFixed      DiscountKind = "fixed"
)

// ActiveWindow bounds a bundle's eligibility in time. Either bound may be
// the zero Time, meaning unbounded on that side.
type ActiveWindow struct {
	StartsAt  time.Time `json:"starts_at,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// BundleDiscount is an operator-defined discount rule evaluated against an
// order's tier and selected features.
type BundleDiscount struct {
	ID                 int64         `json:"id" db:"id"`
	Name               string        `json:"name" db:"name"`
	Type               DiscountKind  `json:"type" db:"type"`
	Value              int64         `json:"value" db:"value"`
	MinItems           int           `json:"min_items" db:"min_items"`
	ApplicableTiers    []string      `json:"applicable_tiers,omitempty" db:"-"`
	ApplicableFeatures []string      `json:"applicable_features,omitempty" db:"-"`
	ActiveWindow       *ActiveWindow `json:"active_window,omitempty" db:"-"`
	// Expr is an optional operator-authored eligibility expression (evaluated
	// in addition to the static fields above), e.g.
	// "SelectedCount >= 3 && Subtotal > 10000". The Postgres catalog reader
	// has no column for it and leaves it empty; only bundles built in code
	// (such as MemoryCatalog fixtures) carry one.
	Expr     string `json:"expr,omitempty" db:"expr"`
	IsActive bool   `json:"is_active" db:"is_active"`
}

// Coupon is a customer-entered code applied on top of bundle discounts.
type Coupon struct {
	Code        string       `json:"code" db:"code"`
	Type        DiscountKind `json:"type" db:"type"`
	Value       int64        `json:"value" db:"value"`
	MaxUses     *int         `json:"max_uses,omitempty" db:"max_uses"`
	UsedCount   int          `json:"used_count" db:"used_count"`
	MinPurchase *int64       `json:"min_purchase,omitempty" db:"min_purchase"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty" db:"expires_at"`
	IsActive    bool         `json:"is_active" db:"is_active"`
}

// ── Order ────────────────────────────────────────────────────

// LicenseStatus tracks the lifecycle of an order's download license.
type LicenseStatus string

const (
	LicenseStatusActive  LicenseStatus = "active"
	LicenseStatusExpired LicenseStatus = "expired"
	LicenseStatusRevoked LicenseStatus = "revoked"
)

// License is the order's download entitlement, rendered verbatim into
// LICENSE.md by the emitter.
type License struct {
	Key           string        `json:"key"`
	DownloadToken string        `json:"download_token"`
	ExpiresAt     *time.Time    `json:"expires_at,omitempty"`
	MaxDownloads  int           `json:"max_downloads"`
	DownloadCount int           `json:"download_count"`
	Status        LicenseStatus `json:"status"`
}

// Totals holds the Pricing Calculator's output, persisted on the order at
// checkout time. The Assembly Engine does not read it.
type Totals struct {
	Subtotal int64  `json:"subtotal"`
	Discount int64  `json:"discount"`
	Total    int64  `json:"total"`
	Currency string `json:"currency"`
}

// Order is the unit of work the Assembly Engine generates an archive for.
type Order struct {
	OrderNumber      string   `json:"order_number" db:"order_number"`
	Tier             string   `json:"tier" db:"tier"`
	SelectedFeatures []string `json:"selected_features,omitempty" db:"-"`
	Template         string   `json:"template,omitempty" db:"template"`
	CustomerEmail    string   `json:"customer_email" db:"customer_email"`
	CustomerName     string   `json:"customer_name,omitempty" db:"customer_name"`
	CouponCode       string   `json:"coupon_code,omitempty" db:"coupon_code"`

	Totals  Totals  `json:"totals"`
	License License `json:"license"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ── Preview session ──────────────────────────────────────────

// SchemaStatus is the Preview Control Plane's provisioning state machine.
// Forward-only, except that Failed may restart at Pending; Invalidated is
// terminal.
type SchemaStatus string

const (
	SchemaPending      SchemaStatus = "pending"
	SchemaProvisioning SchemaStatus = "provisioning"
	SchemaReady        SchemaStatus = "ready"
	SchemaFailed       SchemaStatus = "failed"
	SchemaInvalidated  SchemaStatus = "invalidated"
)

// PreviewSession is a short-lived, per-customer preview workspace.
type PreviewSession struct {
	SessionToken string       `json:"session_token"`
	SchemaName   string       `json:"schema_name,omitempty"`
	SchemaStatus SchemaStatus `json:"schema_status"`
	CreatedAt    time.Time    `json:"created_at"`
	ExpiresAt    time.Time    `json:"expires_at"`
}
