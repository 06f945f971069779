package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/starterkit-studio/engine/internal/store"
	"github.com/starterkit-studio/engine/pkg/models"
)

func TestMemoryCatalog_FeaturesOmitsUnknownSlugs(t *testing.T) {
	c := store.NewMemoryCatalog()
	c.SeedFeature(models.Feature{Slug: "auth", Name: "Auth"})

	got, err := c.Features(context.Background(), []string{"auth", "missing"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "auth", got[0].Slug)
}

func TestMemoryCatalog_TierNotFound(t *testing.T) {
	c := store.NewMemoryCatalog()
	_, err := c.Tier(context.Background(), "ghost")
	require.Error(t, err)

	var notFound *store.ErrNotFound
	require.ErrorAs(t, err, &notFound)
}

func TestMemoryCatalog_EmptyTemplateSlugReturnsNilWithoutError(t *testing.T) {
	c := store.NewMemoryCatalog()
	tmpl, err := c.Template(context.Background(), "")
	require.NoError(t, err)
	require.Nil(t, tmpl)
}

func TestMemoryCatalog_ActiveBundlesExcludesInactive(t *testing.T) {
	c := store.NewMemoryCatalog()
	c.SeedBundle(models.BundleDiscount{ID: 1, Name: "A", IsActive: true})
	c.SeedBundle(models.BundleDiscount{ID: 2, Name: "B", IsActive: false})

	got, err := c.ActiveBundles(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "A", got[0].Name)
}

func TestMemoryCatalog_CouponLookupIsCaseInsensitive(t *testing.T) {
	c := store.NewMemoryCatalog()
	c.SeedCoupon(models.Coupon{Code: "SAVE10", IsActive: true})

	got, err := c.CouponByCode(context.Background(), "save10")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "SAVE10", got.Code)
}

func TestMemoryCatalog_UnknownCouponReturnsNilNoError(t *testing.T) {
	c := store.NewMemoryCatalog()
	got, err := c.CouponByCode(context.Background(), "nope")
	require.NoError(t, err)
	require.Nil(t, got)
}
