// Package manifestmerger produces a dependency manifest for a single build
// target (server or web): the union of a base manifest and the npmPackages
// entries of every resolved feature, partitioned by kind and rendered as
// canonical JSON (fixed key order, each dependency map sorted by name).
package manifestmerger

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/starterkit-studio/engine/pkg/models"
)

// Warning is a non-fatal event recorded during a merge.
type Warning struct {
	Kind    string // "DependencyConflict"
	Message string
}

// BaseManifest is the pre-feature manifest for one target.
type BaseManifest struct {
	Name    string
	Version string
	Scripts map[string]string
	Runtime map[string]string
	Dev     map[string]string
	Peer    map[string]string
}

// Result is one target's merged, canonicalized manifest.
type Result struct {
	JSON     string
	Warnings []Warning
}

// FeatureManifest is one resolved feature's contribution. Packages are not
// filtered by target: the Assembly Engine passes the same list to the
// server and the web merge.
type FeatureManifest struct {
	Slug     string
	Packages []models.PackageSpec
}

// Merge implements the merge contract for a single target. features
// must already be in §4.5 resolved-feature order; script names are derived
// from it (sorted, deterministic codegen hook names).
func Merge(base *BaseManifest, features []FeatureManifest) *Result {
	res := &Result{}

	runtime := cloneMap(base.Runtime)
	dev := cloneMap(base.Dev)
	peer := cloneMap(base.Peer)

	declaredBy := make(map[string]string) // "kind:name" -> version already set (base or first feature)
	for name, v := range runtime {
		declaredBy["runtime:"+name] = v
	}
	for name, v := range dev {
		declaredBy["dev:"+name] = v
	}
	for name, v := range peer {
		declaredBy["peer:"+name] = v
	}

	for _, fm := range features {
		for _, pkg := range fm.Packages {
			var target map[string]string
			switch pkg.Kind {
			case models.PackageRuntime:
				target = runtime
			case models.PackageDev:
				target = dev
			case models.PackagePeer:
				target = peer
			default:
				continue
			}

			key := string(pkg.Kind) + ":" + pkg.Name
			if existing, ok := declaredBy[key]; ok {
				if existing != pkg.Version {
					res.Warnings = append(res.Warnings, Warning{
						Kind: "DependencyConflict",
						Message: fmt.Sprintf(
							"%s: %s@%s from %s ignored, %s already resolved",
							pkg.Kind, pkg.Name, pkg.Version, fm.Slug, existing),
					})
				}
				continue // identical duplicates silently merged; conflicts keep the first
			}
			target[pkg.Name] = pkg.Version
			declaredBy[key] = pkg.Version
		}
	}

	scripts := cloneMap(base.Scripts)
	for _, name := range codegenScriptNames(features) {
		if _, exists := scripts[name]; !exists {
			scripts[name] = "true"
		}
		// base scripts win on name collision: never overwritten here.
	}

	res.JSON = renderCanonical(base.Name, base.Version, scripts, runtime, dev, peer)
	return res
}

// codegenScriptNames derives a stable, sorted list of codegen hook names
// from the resolved feature slugs.
func codegenScriptNames(features []FeatureManifest) []string {
	names := make([]string, 0, len(features))
	for _, fm := range features {
		names = append(names, "codegen:"+fm.Slug)
	}
	sort.Strings(names)
	return names
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// renderCanonical writes fixed-key-order, 2-space-indent JSON: name,
// version, scripts, runtime-deps, dev-deps, peer-deps, each map sorted by
// key, with a trailing newline.
func renderCanonical(name, version string, scripts, runtime, dev, peer map[string]string) string {
	var b strings.Builder
	b.WriteString("{\n")
	fmt.Fprintf(&b, "  \"name\": %s,\n", jsonString(name))
	fmt.Fprintf(&b, "  \"version\": %s,\n", jsonString(version))
	writeSortedMapField(&b, "scripts", scripts, true)
	writeSortedMapField(&b, "dependencies", runtime, true)
	writeSortedMapField(&b, "devDependencies", dev, true)
	writeSortedMapField(&b, "peerDependencies", peer, false)
	b.WriteString("}\n")
	return b.String()
}

func writeSortedMapField(b *strings.Builder, key string, m map[string]string, trailingComma bool) {
	fmt.Fprintf(b, "  %s: {", jsonString(key))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(b, "\n    %s: %s", jsonString(k), jsonString(m[k]))
	}
	if len(keys) > 0 {
		b.WriteString("\n  }")
	} else {
		b.WriteString("}")
	}
	if trailingComma {
		b.WriteString(",")
	}
	b.WriteString("\n")
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
