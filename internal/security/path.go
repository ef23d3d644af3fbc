// Package security confines user-supplied file paths to a directory.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrOutsideDirectory is returned when a path resolves outside the allowed
// directory.
var ErrOutsideDirectory = errors.New("path escapes the allowed directory")

// ResolveWithin resolves name against dir and returns its canonical path.
// Relative names are taken relative to dir. Symlinks are followed, so a link
// inside dir pointing elsewhere is rejected. The file need not exist.
func ResolveWithin(dir, name string) (string, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve directory %s: %w", dir, err)
	}
	root, err = filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("resolve directory %s: %w", dir, err)
	}

	p := name
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	canonical := canonicalize(filepath.Clean(p))

	rel, err := filepath.Rel(root, canonical)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", name, ErrOutsideDirectory)
	}
	return canonical, nil
}

// canonicalize resolves symlinks in the longest existing prefix of p.
func canonicalize(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	parent := filepath.Dir(p)
	if parent == p {
		return p
	}
	return filepath.Join(canonicalize(parent), filepath.Base(p))
}
