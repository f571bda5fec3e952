// Package workspace confines untrusted, user-supplied paths to the
// configured workspace root. Every filesystem-touching skill invocation
// goes through Resolve before a subprocess is spawned.
package workspace

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrInvalidPath indicates a malformed input path (empty, NUL bytes,
	// or an absolute path where a relative one is required).
	ErrInvalidPath = errors.New("invalid path")
	// ErrPathEscape indicates a path that resolves outside the workspace root.
	ErrPathEscape = errors.New("path escapes workspace root")
)

// Validator resolves relative paths against a workspace root and rejects
// anything that would land outside it. It holds no mutable state and is
// safe for concurrent use.
type Validator struct {
	root string
	// deniedPrefixes are workspace-relative prefixes skills may never touch.
	deniedPrefixes []string
}

// NewValidator creates a Validator for the given workspace root.
// The root must be an absolute path.
func NewValidator(root string, deniedPrefixes ...string) (*Validator, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: workspace root is empty", ErrInvalidPath)
	}
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("%w: workspace root must be absolute: %s", ErrInvalidPath, root)
	}
	denied := make([]string, 0, len(deniedPrefixes))
	for _, p := range deniedPrefixes {
		denied = append(denied, strings.Trim(filepath.ToSlash(p), "/"))
	}
	return &Validator{root: filepath.Clean(root), deniedPrefixes: denied}, nil
}

// Root returns the workspace root the validator confines paths to.
func (v *Validator) Root() string {
	return v.root
}

// Resolve converts a user-supplied relative path into an absolute path
// under the workspace root. It fails with ErrInvalidPath for malformed
// input and ErrPathEscape when the cleaned path would leave the root.
// The prefix check is component-wise, so a root of /ws never matches
// paths under /ws-backup.
func (v *Validator) Resolve(rel string) (string, error) {
	norm, err := Normalize(rel)
	if err != nil {
		return "", err
	}

	abs := filepath.Join(v.root, filepath.FromSlash(norm))

	// Join cleans ".." segments; verify the result still sits under root.
	if !isWithin(v.root, abs) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, rel)
	}

	for _, prefix := range v.deniedPrefixes {
		if prefix == "" {
			continue
		}
		if norm == prefix || strings.HasPrefix(norm, prefix+"/") {
			return "", fmt.Errorf("%w: %s is reserved", ErrPathEscape, prefix)
		}
	}

	return abs, nil
}

// Normalize cleans a user-supplied path into a slash-separated relative
// form with "." segments removed. It rejects empty input, NUL bytes,
// absolute paths, and any path whose cleaned form begins with "..".
// The root itself normalizes to "".
func Normalize(rel string) (string, error) {
	if strings.ContainsRune(rel, 0) {
		return "", fmt.Errorf("%w: contains NUL byte", ErrInvalidPath)
	}

	trimmed := strings.TrimSpace(rel)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if trimmed == "." || trimmed == "./" {
		return "", nil
	}

	slashed := filepath.ToSlash(trimmed)
	if strings.HasPrefix(slashed, "/") || filepath.IsAbs(trimmed) || hasWindowsVolume(trimmed) {
		return "", fmt.Errorf("%w: absolute paths not allowed: %s", ErrInvalidPath, rel)
	}

	cleaned := filepath.ToSlash(filepath.Clean(filepath.FromSlash(slashed)))
	if cleaned == "." {
		return "", nil
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, rel)
	}
	return cleaned, nil
}

// isWithin reports whether target equals base or is a descendant of it,
// comparing path components rather than raw string prefixes.
func isWithin(base, target string) bool {
	relPath, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return relPath == "." || (relPath != ".." && !strings.HasPrefix(relPath, ".."+string(filepath.Separator)))
}

// hasWindowsVolume reports whether the path carries a drive-letter or UNC
// volume prefix. Skill paths come from model output and may use either
// separator convention.
func hasWindowsVolume(p string) bool {
	if len(p) >= 2 && p[1] == ':' {
		c := p[0]
		return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
	}
	return strings.HasPrefix(p, `\\`)
}
