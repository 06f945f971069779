// Package pricing implements the Pricing Calculator: tier price plus
// non-included add-on features, bundle discounts, a coupon, and a
// (currently zero, reserved) tax rate.
package pricing

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/starterkit-studio/engine/internal/store"
	"github.com/starterkit-studio/engine/pkg/models"
)

// InvalidTierError is surfaced to the caller; generation never begins.
type InvalidTierError struct {
	Slug string
}

func (e *InvalidTierError) Error() string {
	return fmt.Sprintf("invalid or inactive tier: %s", e.Slug)
}

// BundleBreakdown is one eligible bundle's contribution, for the caller's
// itemized receipt.
type BundleBreakdown struct {
	Name   string
	Amount int64
}

// Totals is the Pricing Calculator's full output.
type Totals struct {
	TierPrice      int64
	FeaturesPrice  int64
	Subtotal       int64
	BundleDiscounts []BundleBreakdown
	CouponDiscount  int64
	TotalDiscount   int64
	Tax             int64
	Total           int64
	Currency        string
	Breakdown       []string // human-readable line items, in computation order
}

// Calculator computes order totals against a CatalogReader.
type Calculator struct {
	catalog  store.CatalogReader
	taxRate  float64 // reserved; currently 0
	currency string

	eligibilityCache map[string]*vm.Program
}

func NewCalculator(catalog store.CatalogReader) *Calculator {
	return &Calculator{
		catalog:          catalog,
		taxRate:          0,
		currency:         "usd",
		eligibilityCache: make(map[string]*vm.Program),
	}
}

// bundleEnv is the expression environment a bundle's Expr predicate is
// evaluated against. A bundle's static fields (applicableTiers, minItems,
// applicableFeatures, activeWindow) are checked first in isEligible; Expr
// runs only for bundles that set it, as an additional, operator-authored
// condition.
type bundleEnv struct {
	Tier             string
	SelectedFeatures []string
	SelectedCount    int
	Subtotal         int64
	Now              time.Time
}

// Calculate implements the ten-step algorithm in order.
func (c *Calculator) Calculate(ctx context.Context, tierSlug string, selectedFeatures []string, couponCode string) (*Totals, error) {
	tier, err := c.catalog.Tier(ctx, tierSlug)
	if err != nil {
		return nil, &InvalidTierError{Slug: tierSlug}
	}
	if !tier.IsActive {
		return nil, &InvalidTierError{Slug: tierSlug}
	}

	features, err := c.catalog.Features(ctx, selectedFeatures)
	if err != nil {
		return nil, fmt.Errorf("pricing: fetch features: %w", err)
	}

	included := toSet(tier.IncludedFeatures)

	var featuresPrice int64
	for _, f := range features {
		if included[f.Slug] {
			continue
		}
		featuresPrice += f.Price
	}

	tierPrice := tier.Price
	subtotal := tierPrice + featuresPrice

	totals := &Totals{
		TierPrice:     tierPrice,
		FeaturesPrice: featuresPrice,
		Subtotal:      subtotal,
		Currency:      c.currency,
	}
	totals.Breakdown = append(totals.Breakdown,
		fmt.Sprintf("tier %s: %d", tier.Slug, tierPrice),
		fmt.Sprintf("features: %d", featuresPrice))

	bundles, err := c.catalog.ActiveBundles(ctx)
	if err != nil {
		return nil, fmt.Errorf("pricing: fetch bundles: %w", err)
	}
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].ID < bundles[j].ID })

	now := time.Now().UTC()
	var bundleTotal int64
	for _, b := range bundles {
		eligible, eerr := c.isEligible(b, tier.Slug, selectedFeatures, subtotal, now)
		if eerr != nil {
			return nil, fmt.Errorf("pricing: bundle %d eligibility: %w", b.ID, eerr)
		}
		if !eligible {
			continue
		}
		amount := discountAmount(b.Type, b.Value, subtotal)
		bundleTotal += amount
		totals.BundleDiscounts = append(totals.BundleDiscounts, BundleBreakdown{Name: b.Name, Amount: amount})
		totals.Breakdown = append(totals.Breakdown, fmt.Sprintf("bundle %q: -%d", b.Name, amount))
	}

	var couponAmount int64
	if couponCode != "" {
		coupon, cerr := c.catalog.CouponByCode(ctx, strings.ToUpper(couponCode))
		if cerr != nil {
			return nil, fmt.Errorf("pricing: fetch coupon: %w", cerr)
		}
		if coupon != nil && couponEligible(coupon, subtotal, now) {
			couponAmount = discountAmount(coupon.Type, coupon.Value, subtotal)
			totals.Breakdown = append(totals.Breakdown, fmt.Sprintf("coupon %q: -%d", coupon.Code, couponAmount))
		}
	}
	totals.CouponDiscount = couponAmount

	totalDiscount := bundleTotal + couponAmount
	totals.TotalDiscount = totalDiscount

	taxable := subtotal - totalDiscount
	tax := roundHalfAwayFromZero(float64(taxable) * c.taxRate)
	totals.Tax = tax

	total := subtotal - totalDiscount + tax
	if total < 0 {
		total = 0
	}
	totals.Total = total

	return totals, nil
}

func (c *Calculator) isEligible(b models.BundleDiscount, tier string, selected []string, subtotal int64, now time.Time) (bool, error) {
	if len(b.ApplicableTiers) > 0 && !contains(b.ApplicableTiers, tier) {
		return false, nil
	}
	if b.MinItems > len(selected) {
		return false, nil
	}
	if len(b.ApplicableFeatures) > 0 && !intersects(b.ApplicableFeatures, selected) {
		return false, nil
	}
	if b.ActiveWindow != nil {
		if !b.ActiveWindow.StartsAt.IsZero() && now.Before(b.ActiveWindow.StartsAt) {
			return false, nil
		}
		if !b.ActiveWindow.ExpiresAt.IsZero() && now.After(b.ActiveWindow.ExpiresAt) {
			return false, nil
		}
	}
	if b.Expr != "" {
		prog, err := c.CompileExtraRule(b.Expr)
		if err != nil {
			return false, err
		}
		return c.EvalExtraRule(prog, tier, selected, subtotal)
	}
	return true, nil
}

// CompileExtraRule compiles an operator-authored eligibility expression
// (e.g. "SelectedCount >= 3 && Subtotal > 10000") from a bundle's Expr
// field, caching the compiled program by source so repeated Calculate calls
// against the same catalog don't recompile it. isEligible calls this for
// any bundle with a non-empty Expr; bundles without one never touch expr.
func (c *Calculator) CompileExtraRule(exprSrc string) (*vm.Program, error) {
	if prog, ok := c.eligibilityCache[exprSrc]; ok {
		return prog, nil
	}
	prog, err := expr.Compile(exprSrc, expr.Env(bundleEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("pricing: compile eligibility rule: %w", err)
	}
	c.eligibilityCache[exprSrc] = prog
	return prog, nil
}

// EvalExtraRule runs a compiled extra rule against an order context.
func (c *Calculator) EvalExtraRule(prog *vm.Program, tier string, selected []string, subtotal int64) (bool, error) {
	env := bundleEnv{
		Tier:             tier,
		SelectedFeatures: selected,
		SelectedCount:    len(selected),
		Subtotal:         subtotal,
		Now:              time.Now().UTC(),
	}
	out, err := expr.Run(prog, env)
	if err != nil {
		return false, fmt.Errorf("pricing: eval eligibility rule: %w", err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

func couponEligible(c *models.Coupon, subtotal int64, now time.Time) bool {
	if !c.IsActive {
		return false
	}
	if c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
		return false
	}
	if c.MaxUses != nil && c.UsedCount >= *c.MaxUses {
		return false
	}
	if c.MinPurchase != nil && subtotal < *c.MinPurchase {
		return false
	}
	return true
}

func discountAmount(kind models.DiscountKind, value, subtotal int64) int64 {
	switch kind {
	case models.DiscountPercentage:
		return roundHalfAwayFromZero(float64(subtotal) * float64(value) / 100.0)
	case models.DiscountFixed:
		return value
	default:
		return 0
	}
}

// roundHalfAwayFromZero rounds x to the nearest integer, ties away from
// zero — applied at each multiplication step per the pricing contract.
func roundHalfAwayFromZero(x float64) int64 {
	if x >= 0 {
		return int64(math.Floor(x + 0.5))
	}
	return int64(math.Ceil(x - 0.5))
}

func toSet(ss []string) map[string]bool {
	m := make(map[string]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	set := toSet(a)
	for _, v := range b {
		if set[v] {
			return true
		}
	}
	return false
}
