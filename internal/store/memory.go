package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/starterkit-studio/engine/pkg/models"
)

// MemoryCatalog is an in-memory CatalogReader used by tests and local
// development without a database. It copies struct values in and out, so a
// returned pointer never aliases a stored record; slice fields (Requires,
// mappings, IncludedFeatures and the like) are not deep-copied and still
// share their backing arrays with the stored records.
type MemoryCatalog struct {
	mu        sync.RWMutex
	features  map[string]models.Feature
	tiers     map[string]models.PricingTier
	templates map[string]models.Template
	bundles   []models.BundleDiscount
	coupons   map[string]models.Coupon
}

// NewMemoryCatalog returns an empty catalog; use the Seed* methods to load
// fixtures before use.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		features:  make(map[string]models.Feature),
		tiers:     make(map[string]models.PricingTier),
		templates: make(map[string]models.Template),
		coupons:   make(map[string]models.Coupon),
	}
}

func (m *MemoryCatalog) SeedFeature(f models.Feature) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.features[f.Slug] = f
}

func (m *MemoryCatalog) SeedTier(t models.PricingTier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiers[t.Slug] = t
}

func (m *MemoryCatalog) SeedTemplate(t models.Template) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[t.Slug] = t
}

func (m *MemoryCatalog) SeedBundle(b models.BundleDiscount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bundles = append(m.bundles, b)
	sort.Slice(m.bundles, func(i, j int) bool { return m.bundles[i].ID < m.bundles[j].ID })
}

func (m *MemoryCatalog) SeedCoupon(c models.Coupon) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coupons[strings.ToUpper(c.Code)] = c
}

func (m *MemoryCatalog) Features(ctx context.Context, slugs []string) ([]models.Feature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Feature, 0, len(slugs))
	for _, slug := range slugs {
		if f, ok := m.features[slug]; ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *MemoryCatalog) Tier(ctx context.Context, slug string) (*models.PricingTier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tiers[slug]
	if !ok {
		return nil, &ErrNotFound{Entity: "tier", Key: slug}
	}
	return &t, nil
}

func (m *MemoryCatalog) Template(ctx context.Context, slug string) (*models.Template, error) {
	if slug == "" {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[slug]
	if !ok {
		return nil, &ErrNotFound{Entity: "template", Key: slug}
	}
	return &t, nil
}

func (m *MemoryCatalog) ActiveBundles(ctx context.Context) ([]models.BundleDiscount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.BundleDiscount, 0, len(m.bundles))
	for _, b := range m.bundles {
		if b.IsActive {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *MemoryCatalog) CouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.coupons[strings.ToUpper(code)]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *MemoryCatalog) Ping(ctx context.Context) error { return nil }
func (m *MemoryCatalog) Close() error                   { return nil }
