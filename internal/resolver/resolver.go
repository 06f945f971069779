// Package resolver implements the Feature Resolver: it transitively closes
// a customer's selected features under the catalog's `requires` relation.
package resolver

import (
	"context"
	"fmt"
	"sort"

	"github.com/starterkit-studio/engine/internal/store"
	"github.com/starterkit-studio/engine/pkg/models"
)

// CatalogCycleError is returned when the `requires` relation among the
// fetched features contains a cycle. This is a catalog authoring bug, not
// a customer input error, so it aborts the generation entirely.
type CatalogCycleError struct {
	Slugs []string // the cycle, in traversal order
}

func (e *CatalogCycleError) Error() string {
	return fmt.Sprintf("catalog cycle detected: %v", e.Slugs)
}

// Resolved is the Feature Resolver's output.
type Resolved struct {
	// Features is sorted by (module.category, slug) ascending. This order
	// — not the selection order — drives every subsequent iteration in the
	// Schema Merger, Manifest Merger, and Assembly Engine.
	Features []models.Feature

	// AllSlugs is Features' slugs, sorted lexicographically.
	AllSlugs []string

	// DependencyTree maps slug -> its direct requires, as fetched.
	DependencyTree map[string][]string
}

// Resolver closes a feature selection under `requires` against a
// CatalogReader.
type Resolver struct {
	catalog store.CatalogReader
}

func NewResolver(catalog store.CatalogReader) *Resolver {
	return &Resolver{catalog: catalog}
}

// Resolve implements the five-step algorithm: seed from selection + template,
// fetch, close under requires (re-fetching unseen slugs in batches until
// the closure is stable), reject cycles found by a DFS over the closed set,
// then sort deterministically.
func (r *Resolver) Resolve(ctx context.Context, selectedFeatures []string, tier string, template *models.Template) (*Resolved, error) {
	seed := unionSlugs(selectedFeatures, templateFeatures(template))

	bySlug := make(map[string]models.Feature)
	pending := seed

	for len(pending) > 0 {
		fetched, err := r.catalog.Features(ctx, pending)
		if err != nil {
			return nil, fmt.Errorf("feature resolver: fetch features: %w", err)
		}
		for _, f := range fetched {
			bySlug[f.Slug] = f
		}

		var next []string
		for _, slug := range pending {
			f, ok := bySlug[slug]
			if !ok {
				continue // unknown slug: silently dropped per CatalogReader contract
			}
			for _, req := range f.Requires {
				if _, seen := bySlug[req]; !seen {
					next = append(next, req)
				}
			}
		}
		pending = dedupeSorted(next)
	}

	depTree := make(map[string][]string, len(bySlug))
	for slug, f := range bySlug {
		depTree[slug] = append([]string(nil), f.Requires...)
	}

	if cycle := findCycle(depTree); cycle != nil {
		return nil, &CatalogCycleError{Slugs: cycle}
	}

	allSlugs := make([]string, 0, len(bySlug))
	for slug := range bySlug {
		allSlugs = append(allSlugs, slug)
	}

	features := make([]models.Feature, 0, len(allSlugs))
	for _, slug := range allSlugs {
		features = append(features, bySlug[slug])
	}
	sort.Slice(features, func(i, j int) bool {
		if features[i].Category != features[j].Category {
			return features[i].Category < features[j].Category
		}
		return features[i].Slug < features[j].Slug
	})

	sort.Strings(allSlugs)

	return &Resolved{
		Features:       features,
		AllSlugs:       allSlugs,
		DependencyTree: depTree,
	}, nil
}

func unionSlugs(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func templateFeatures(t *models.Template) []string {
	if t == nil {
		return nil
	}
	return t.IncludedFeatures
}

func dedupeSorted(slugs []string) []string {
	seen := make(map[string]bool, len(slugs))
	var out []string
	for _, s := range slugs {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// findCycle runs a DFS over the dependency tree with a three-color visited
// set (unvisited / in-progress / done) and returns the first cycle found as
// a slug path, or nil if the relation is acyclic.
func findCycle(depTree map[string][]string) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(depTree))
	var path []string

	var visit func(slug string) []string
	visit = func(slug string) []string {
		color[slug] = gray
		path = append(path, slug)
		for _, dep := range depTree[slug] {
			switch color[dep] {
			case gray:
				return append(append([]string(nil), path...), dep)
			case white:
				if cyc := visit(dep); cyc != nil {
					return cyc
				}
			}
		}
		path = path[:len(path)-1]
		color[slug] = black
		return nil
	}

	slugs := make([]string, 0, len(depTree))
	for s := range depTree {
		slugs = append(slugs, s)
	}
	sort.Strings(slugs)

	for _, s := range slugs {
		if color[s] == white {
			if cyc := visit(s); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}
