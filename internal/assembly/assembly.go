// Package assembly implements the Assembly Engine: the deterministic
// pipeline that resolves a customer's feature set, merges per-feature
// artifacts into a single consistent project, and streams the result as a
// reproducible ZIP archive.
//
// Each generate() call is logically single-threaded; multiple calls run in
// parallel and share only the read-only catalog and the read-only
// filesystem tree beneath ProjectRoot. No temporary files are used — the
// engine writes archive entries directly to the caller's sink as it
// produces them.
package assembly

import (
	"archive/zip"
	"bytes"
	"compress/flate"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/starterkit-studio/engine/internal/emitter"
	"github.com/starterkit-studio/engine/internal/manifestmerger"
	"github.com/starterkit-studio/engine/internal/pathresolver"
	"github.com/starterkit-studio/engine/internal/resolver"
	"github.com/starterkit-studio/engine/internal/schemamerger"
	"github.com/starterkit-studio/engine/internal/store"
	"github.com/starterkit-studio/engine/pkg/models"
)

// Warning is one entry of the generate() side channel: a non-fatal event
// that does not affect archive bytes but is readable by the caller
// alongside the stream.
type Warning struct {
	Kind    string
	Message string
}

// excludedDirs are directory basenames never copied from the base tree.
var excludedDirs = map[string]bool{
	".git":         true, // vcs dir
	"node_modules": true, // dep cache
	"dist":         true, // build output
	"build":        true, // build output
	".preview":     true, // preview sandbox dir
}

// excludedFiles are exact file basenames never copied.
var excludedFiles = map[string]bool{
	".env":        true,
	".DS_Store":   true,
	"Thumbs.db":   true,
	"preview.config.json": true, // preview scaffolding
}

// coreEnvBlock is the always-present core block of .env.example, in order.
var coreEnvBlock = []string{
	"NODE_ENV", "PORT", "API_URL", "DATABASE_URL",
	"JWT_SECRET", "JWT_EXPIRES_IN", "JWT_REFRESH_EXPIRES_IN",
	"CORS_ORIGIN", "FRONTEND_URL",
}

// Engine orchestrates the Catalog Reader, Path Resolver, Feature Resolver,
// Schema Merger, Manifest Merger, and Emitter into one generate() call.
type Engine struct {
	catalog  store.CatalogReader
	resolver *resolver.Resolver
	paths    *pathresolver.Resolver
	roots    pathresolver.Roots
}

func NewEngine(catalog store.CatalogReader, roots pathresolver.Roots) *Engine {
	return &Engine{
		catalog:  catalog,
		resolver: resolver.NewResolver(catalog),
		paths:    pathresolver.New(roots),
		roots:    roots,
	}
}

// Generate implements the nine strict-order phases in §4.6 and streams
// the resulting ZIP to outSink. Every feature file mapping's source and
// destination is validated in phase 2, before phase 3 (the base tree copy)
// writes any bytes to outSink.
func (e *Engine) Generate(ctx context.Context, order *models.Order, outSink io.Writer) ([]Warning, error) {
	var warnings []Warning

	// Phase 1: resolve features.
	tier, err := e.catalog.Tier(ctx, order.Tier)
	if err != nil {
		return nil, fmt.Errorf("assembly: tier lookup: %w", err)
	}

	var tmpl *models.Template
	if order.Template != "" {
		tmpl, err = e.catalog.Template(ctx, order.Template)
		if err != nil {
			return nil, fmt.Errorf("assembly: template lookup: %w", err)
		}
	}

	resolved, err := e.resolver.Resolve(ctx, order.SelectedFeatures, order.Tier, tmpl)
	if err != nil {
		return nil, fmt.Errorf("assembly: feature resolution: %w", err)
	}

	projectName := projectName(order.Template, order.Tier)
	modTime := order.CreatedAt
	if modTime.IsZero() {
		modTime = time.Now().UTC()
	}
	generatedAt := modTime

	log.Info().
		Str("order", order.OrderNumber).
		Str("project", projectName).
		Int("features", len(resolved.Features)).
		Msg("assembly: starting generation")

	zw := zip.NewWriter(outSink)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})
	defer zw.Close()

	written := make(map[string]bool) // destination -> emitted, guards uniqueness

	// Phase 2: validate every feature file mapping's source and destination
	// before any archive bytes are written, per the path-traversal guard —
	// a malicious mapping aborts generation before the base tree copy below
	// ever touches outSink.
	type resolvedMapping struct {
		fm       models.FileMapping
		destRoot string
	}
	var mappings []resolvedMapping
	for _, f := range resolved.Features {
		for _, fm := range f.FileMappings {
			destRoot, derr := e.paths.ResolveDestination(projectName, fm.Destination)
			if derr != nil {
				var escape *pathresolver.PathEscapeError
				if asPathEscape(derr, &escape) {
					return warnings, derr // fatal: path traversal
				}
				return warnings, fmt.Errorf("assembly: resolve destination %s: %w", fm.Destination, derr)
			}
			if _, serr := e.paths.ResolveSource(fm.Source); serr != nil {
				var escape *pathresolver.PathEscapeError
				if asPathEscape(serr, &escape) {
					return warnings, serr // fatal: path traversal
				}
				return warnings, fmt.Errorf("assembly: resolve source %s: %w", fm.Source, serr)
			}
			mappings = append(mappings, resolvedMapping{fm: fm, destRoot: destRoot})
		}
	}

	// Phase 3: copy the base core tree.
	if err := e.copyBaseTree(zw, projectName, modTime, written); err != nil {
		return warnings, fmt.Errorf("assembly: copy base tree: %w", err)
	}

	// Phase 4: per-feature file mappings, in §4.5 order then mapping order.
	for _, rm := range mappings {
		w, ferr := e.copyFileMapping(zw, rm.destRoot, rm.fm, modTime, written)
		if ferr != nil {
			return warnings, fmt.Errorf("assembly: file mapping %s->%s: %w", rm.fm.Source, rm.fm.Destination, ferr)
		}
		if w != nil {
			warnings = append(warnings, *w)
		}
	}

	// Phase 5: schema merge.
	var schemaFragments [][]string
	for _, f := range resolved.Features {
		var paths []string
		for _, sm := range f.SchemaMappings {
			paths = append(paths, sm.Source)
		}
		if len(paths) > 0 {
			schemaFragments = append(schemaFragments, paths)
		}
	}
	baseSchema, _ := e.readSource("core/prisma/schema.prisma")
	schemaResult, err := schemamerger.Merge(baseSchema, schemaFragments, e.readFragment)
	if err != nil {
		return warnings, fmt.Errorf("assembly: schema merge: %w", err)
	}
	for _, w := range schemaResult.Warnings {
		warnings = append(warnings, Warning{Kind: w.Kind, Message: w.Message})
	}
	if err := writeEntry(zw, path.Join(projectName, "backend/prisma/schema.prisma"), []byte(schemaResult.Text), modTime, written); err != nil {
		return warnings, err
	}

	// Phase 6: manifest merges, server then web.
	serverBase := e.readBaseManifest("core/backend/package.json")
	serverFeatures := featureManifests(resolved.Features)
	serverResult := manifestmerger.Merge(serverBase, serverFeatures)
	for _, w := range serverResult.Warnings {
		warnings = append(warnings, Warning{Kind: w.Kind, Message: w.Message})
	}
	if err := writeEntry(zw, path.Join(projectName, "backend/package.json"), []byte(serverResult.JSON), modTime, written); err != nil {
		return warnings, err
	}

	if webBase := e.readBaseManifest("core/web/package.json"); webBase != nil {
		webResult := manifestmerger.Merge(webBase, serverFeatures)
		for _, w := range webResult.Warnings {
			warnings = append(warnings, Warning{Kind: w.Kind, Message: w.Message})
		}
		if err := writeEntry(zw, path.Join(projectName, "web/package.json"), []byte(webResult.JSON), modTime, written); err != nil {
			return warnings, err
		}
	}

	// Phase 7: .env.example.
	envContent := renderEnvExample(resolved.Features)
	if err := writeEntry(zw, path.Join(projectName, "backend/.env.example"), []byte(envContent), modTime, written); err != nil {
		return warnings, err
	}

	// Phase 8: license, readme, config.
	licenseText := emitter.License(order, tier.Name, generatedAt)
	if err := writeEntry(zw, path.Join(projectName, "LICENSE.md"), []byte(licenseText), modTime, written); err != nil {
		return warnings, err
	}

	readmeText := emitter.README(order, displayName(tmpl, projectName), tier.Name, resolved.Features, generatedAt)
	if err := writeEntry(zw, path.Join(projectName, "README.md"), []byte(readmeText), modTime, written); err != nil {
		return warnings, err
	}

	configText, cerr := emitter.Config(order, order.Template, resolved.Features, generatedAt)
	if cerr != nil {
		return warnings, fmt.Errorf("assembly: render starter-config.json: %w", cerr)
	}
	if err := writeEntry(zw, path.Join(projectName, "starter-config.json"), []byte(configText), modTime, written); err != nil {
		return warnings, err
	}

	// Phase 9: finalize.
	if err := zw.Close(); err != nil {
		return warnings, fmt.Errorf("assembly: finalize archive: %w", err)
	}
	// The deferred Close above exists for the early-return paths; on this
	// path it returns a "closed twice" error that the defer discards, and
	// this call is the authoritative one.

	log.Info().Str("order", order.OrderNumber).Int("warnings", len(warnings)).Msg("assembly: generation complete")
	return warnings, nil
}

func asPathEscape(err error, out **pathresolver.PathEscapeError) bool {
	if pe, ok := err.(*pathresolver.PathEscapeError); ok {
		*out = pe
		return true
	}
	return false
}

// projectName implements "<template.slug or 'starter'>-<tier>".
func projectName(templateSlug, tier string) string {
	base := templateSlug
	if base == "" {
		base = "starter"
	}
	return base + "-" + tier
}

// displayName is the human-readable name the README introduces the project
// by: the resolved template's name when one was selected, else the
// generated project name.
func displayName(tmpl *models.Template, projectName string) string {
	if tmpl != nil {
		return tmpl.Name
	}
	return projectName
}

// copyBaseTree walks CoreBase in lexicographic order, applying the
// exclusion rules against each entry's basename, and writes every
// surviving file into the archive rooted at projectName. Base files at the
// paths the later phases generate are skipped: the merged versions replace
// them.
func (e *Engine) copyBaseTree(zw *zip.Writer, projectName string, modTime time.Time, written map[string]bool) error {
	generated := map[string]bool{
		"backend/prisma/schema.prisma": true,
		"backend/package.json":         true,
		"web/package.json":             true,
		"backend/.env.example":         true,
		"LICENSE.md":                   true,
		"README.md":                    true,
		"starter-config.json":          true,
	}
	root := e.roots.CoreBase
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // an empty core base is legal in dev/test environments
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("core base %q is not a directory", root)
	}

	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		base := d.Name()
		if d.IsDir() {
			if p != root && excludedDirs[base] {
				return filepath.SkipDir
			}
			return nil
		}
		if excludedFiles[base] || strings.HasSuffix(base, ".log") {
			return nil
		}

		rel, rerr := filepath.Rel(root, p)
		if rerr != nil {
			return rerr
		}
		if generated[filepath.ToSlash(rel)] {
			return nil
		}
		dest := path.Join(projectName, filepath.ToSlash(rel))

		data, rerr := os.ReadFile(p)
		if rerr != nil {
			return rerr
		}
		return writeEntry(zw, dest, data, modTime, written)
	})
}

// copyFileMapping copies one feature FileMapping whose source and
// destination were already validated in phase 2. A missing source degrades
// to a MissingSource warning rather than aborting.
func (e *Engine) copyFileMapping(zw *zip.Writer, destRoot string, fm models.FileMapping, modTime time.Time, written map[string]bool) (*Warning, error) {
	srcPath, err := e.paths.ResolveSource(fm.Source)
	if err != nil {
		return nil, err
	}

	info, statErr := os.Stat(srcPath)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return &Warning{Kind: "MissingSource", Message: fmt.Sprintf("source not found: %s", fm.Source)}, nil
		}
		return nil, statErr
	}

	if !info.IsDir() {
		data, rerr := os.ReadFile(srcPath)
		if rerr != nil {
			return nil, rerr
		}
		return nil, writeEntry(zw, destRoot, data, modTime, written)
	}

	return nil, filepath.WalkDir(srcPath, func(p string, d fs.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		if d.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(srcPath, p)
		if rerr != nil {
			return rerr
		}
		dest := path.Join(destRoot, filepath.ToSlash(rel))
		data, rerr := os.ReadFile(p)
		if rerr != nil {
			return rerr
		}
		return writeEntry(zw, dest, data, modTime, written)
	})
}

// writeEntry writes one archive entry with a fixed mod time, enforcing the
// one-entry-per-destination-path invariant.
func writeEntry(zw *zip.Writer, dest string, data []byte, modTime time.Time, written map[string]bool) error {
	if written[dest] {
		return fmt.Errorf("duplicate destination path: %s", dest)
	}
	written[dest] = true

	hdr := &zip.FileHeader{
		Name:     dest,
		Method:   zip.Deflate,
		Modified: modTime,
	}
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, bytes.NewReader(data))
	return err
}

func (e *Engine) readSource(logical string) (string, bool) {
	p, err := e.paths.ResolveSource(logical)
	if err != nil {
		return "", false
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// readFragment adapts readSource to schemamerger.FragmentSource.
func (e *Engine) readFragment(logical string) (string, bool, error) {
	p, err := e.paths.ResolveSource(logical)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(data), true, nil
}

// jsonManifest mirrors the subset of package.json fields the Manifest
// Merger base input needs.
type jsonManifest struct {
	Name            string            `json:"name"`
	Version         string            `json:"version"`
	Scripts         map[string]string `json:"scripts"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
	PeerDependencies map[string]string `json:"peerDependencies"`
}

func (e *Engine) readBaseManifest(logical string) *manifestmerger.BaseManifest {
	content, ok := e.readSource(logical)
	if !ok {
		return nil
	}
	var jm jsonManifest
	if err := json.Unmarshal([]byte(content), &jm); err != nil {
		log.Warn().Err(err).Str("path", logical).Msg("assembly: base manifest is not valid JSON, treating as empty")
		return &manifestmerger.BaseManifest{}
	}
	return &manifestmerger.BaseManifest{
		Name:    jm.Name,
		Version: jm.Version,
		Scripts: orEmpty(jm.Scripts),
		Runtime: orEmpty(jm.Dependencies),
		Dev:     orEmpty(jm.DevDependencies),
		Peer:    orEmpty(jm.PeerDependencies),
	}
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func featureManifests(features []models.Feature) []manifestmerger.FeatureManifest {
	out := make([]manifestmerger.FeatureManifest, 0, len(features))
	for _, f := range features {
		out = append(out, manifestmerger.FeatureManifest{Slug: f.Slug, Packages: f.NpmPackages})
	}
	return out
}

// renderEnvExample begins with the fixed core block, then appends each
// resolved feature's envVars in §4.5 iteration order.
func renderEnvExample(features []models.Feature) string {
	var b strings.Builder
	for _, key := range coreEnvBlock {
		fmt.Fprintf(&b, "%s=\n", key)
	}
	for _, f := range features {
		for _, ev := range f.EnvVars {
			fmt.Fprintf(&b, "# %s (%s)\n", ev.Description, requiredLabel(ev.Required))
			fmt.Fprintf(&b, "%s=%s\n", ev.Key, ev.Default)
		}
	}
	return b.String()
}

func requiredLabel(required bool) string {
	if required {
		return "required"
	}
	return "optional"
}

// requiredEnvKeys collects every required=true env key across features, for
// callers that want to assert the §8 superset property in tests.
func requiredEnvKeys(features []models.Feature) []string {
	var keys []string
	for _, f := range features {
		for _, ev := range f.EnvVars {
			if ev.Required {
				keys = append(keys, ev.Key)
			}
		}
	}
	sort.Strings(keys)
	return keys
}
