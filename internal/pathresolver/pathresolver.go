// Package pathresolver maps logical source/destination paths onto the
// filesystem and the archive, rejecting any path that would escape its
// declared root — the same resolve-then-verify check the dashboard static
// file server in this codebase's ancestry applies before calling
// http.ServeFile.
package pathresolver

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// PathEscapeError is fatal for the file mapping that triggered it — the
// whole generate call aborts (see the Assembly Engine).
type PathEscapeError struct {
	Logical string
	Root    string
}

func (e *PathEscapeError) Error() string {
	return fmt.Sprintf("path escape: %q resolves outside root %q", e.Logical, e.Root)
}

// Roots bundles the filesystem roots a Resolver is scoped to.
type Roots struct {
	// ProjectRoot is the base project tree every emitted archive starts
	// from, and the root for modules/ and core/-prefixed logical paths.
	ProjectRoot string
	// CoreBase is the root for legacy (unprefixed) logical paths.
	CoreBase string
}

// Resolver resolves logical source paths (rooted at ProjectRoot or
// CoreBase) and destination paths (rooted at the project name inside the
// archive).
type Resolver struct {
	roots Roots
}

func New(roots Roots) *Resolver {
	return &Resolver{roots: roots}
}

// ResolveSource maps a feature's FileMapping.Source onto an absolute
// filesystem path. Recognized roots: "modules/<name>/...", "core/...", or
// legacy paths treated as relative to CoreBase.
func (r *Resolver) ResolveSource(logical string) (string, error) {
	var base string
	var rel string

	switch {
	case strings.HasPrefix(logical, "modules/"):
		base = r.roots.ProjectRoot
		rel = logical
	case strings.HasPrefix(logical, "core/"):
		base = r.roots.ProjectRoot
		rel = logical
	default:
		base = r.roots.CoreBase
		rel = logical
	}

	return resolveUnder(base, rel)
}

// ResolveDestination maps a FileMapping.Destination onto an archive-internal
// path rooted at projectName. Archive paths always use "/" regardless of
// host OS, so this uses the "path" package rather than "path/filepath".
func (r *Resolver) ResolveDestination(projectName, destination string) (string, error) {
	root := path.Clean(projectName)
	joined := path.Clean(path.Join(root, destination))

	if joined != root && !strings.HasPrefix(joined, root+"/") {
		return "", &PathEscapeError{Logical: destination, Root: root}
	}
	return joined, nil
}

// resolveUnder joins rel onto root, cleans the result, and verifies it did
// not escape root. The check runs on normalized separators and happens
// before any I/O, per the path-traversal guard contract.
func resolveUnder(root, rel string) (string, error) {
	root = filepath.Clean(root)
	joined := filepath.Join(root, rel)
	joined = filepath.Clean(joined)

	if joined != root && !strings.HasPrefix(joined, root+string(filepath.Separator)) {
		return "", &PathEscapeError{Logical: rel, Root: root}
	}
	return joined, nil
}
