package manifestmerger_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/starterkit-studio/engine/internal/manifestmerger"
	"github.com/starterkit-studio/engine/pkg/models"
)

func baseManifest() *manifestmerger.BaseManifest {
	return &manifestmerger.BaseManifest{
		Name:    "my-app",
		Version: "0.1.0",
		Scripts: map[string]string{"build": "tsc"},
		Runtime: map[string]string{"express": "^4.19.0"},
	}
}

func TestMerge_AddsFeaturePackagesByKind(t *testing.T) {
	features := []manifestmerger.FeatureManifest{
		{Slug: "billing", Packages: []models.PackageSpec{
			{Name: "stripe", Version: "^14.0.0", Kind: models.PackageRuntime},
			{Name: "@types/stripe", Version: "^8.0.0", Kind: models.PackageDev},
		}},
	}

	res := manifestmerger.Merge(baseManifest(), features)
	require.Contains(t, res.JSON, `"stripe": "^14.0.0"`)
	require.Contains(t, res.JSON, `"@types/stripe": "^8.0.0"`)
	require.Contains(t, res.JSON, `"express": "^4.19.0"`)
	require.Empty(t, res.Warnings)
}

func TestMerge_IdenticalDuplicateSilentlyMerged(t *testing.T) {
	features := []manifestmerger.FeatureManifest{
		{Slug: "a", Packages: []models.PackageSpec{{Name: "lodash", Version: "^4.0.0", Kind: models.PackageRuntime}}},
		{Slug: "b", Packages: []models.PackageSpec{{Name: "lodash", Version: "^4.0.0", Kind: models.PackageRuntime}}},
	}

	res := manifestmerger.Merge(baseManifest(), features)
	require.Empty(t, res.Warnings)
}

func TestMerge_ConflictingVersionWarnsAndKeepsFirst(t *testing.T) {
	features := []manifestmerger.FeatureManifest{
		{Slug: "a", Packages: []models.PackageSpec{{Name: "lodash", Version: "^4.0.0", Kind: models.PackageRuntime}}},
		{Slug: "b", Packages: []models.PackageSpec{{Name: "lodash", Version: "^3.0.0", Kind: models.PackageRuntime}}},
	}

	res := manifestmerger.Merge(baseManifest(), features)
	require.Len(t, res.Warnings, 1)
	require.Equal(t, "DependencyConflict", res.Warnings[0].Kind)
	require.Contains(t, res.JSON, `"lodash": "^4.0.0"`)
	require.NotContains(t, res.JSON, `"lodash": "^3.0.0"`)
}

func TestMerge_BaseScriptsWinOnCollision(t *testing.T) {
	base := baseManifest()
	base.Scripts["codegen:billing"] = "custom-build-step"

	features := []manifestmerger.FeatureManifest{{Slug: "billing"}}
	res := manifestmerger.Merge(base, features)
	require.Contains(t, res.JSON, `"codegen:billing": "custom-build-step"`)
}

func TestMerge_OutputIsDeterministicAcrossCalls(t *testing.T) {
	features := []manifestmerger.FeatureManifest{
		{Slug: "z-feature", Packages: []models.PackageSpec{{Name: "zeta", Version: "1.0.0", Kind: models.PackageRuntime}}},
		{Slug: "a-feature", Packages: []models.PackageSpec{{Name: "alpha", Version: "1.0.0", Kind: models.PackageRuntime}}},
	}

	first := manifestmerger.Merge(baseManifest(), features)
	second := manifestmerger.Merge(baseManifest(), features)
	require.Equal(t, first.JSON, second.JSON)
}
