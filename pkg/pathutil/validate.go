// Package pathutil provides path normalization and containment checks.
package pathutil

import (
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/jvs-project/goldgate/pkg/errclass"
)

// Normalize cleans p, applies NFC normalization and converts it to slash form.
// Hook hosts on macOS hand over NFD paths; rules are written in NFC.
func Normalize(p string) string {
	p = norm.NFC.String(p)
	return path.Clean(filepath.ToSlash(p))
}

// RelToRoot returns target relative to root in normalized slash form.
// Relative targets are interpreted against root. A target outside root is
// returned unchanged (normalized) with ok=false.
func RelToRoot(root, target string) (rel string, ok bool) {
	if !filepath.IsAbs(target) {
		return Normalize(target), !escapes(Normalize(target))
	}
	r, err := filepath.Rel(root, target)
	if err != nil {
		return Normalize(target), false
	}
	r = Normalize(r)
	if escapes(r) {
		return Normalize(target), false
	}
	return r, true
}

func escapes(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, "../") || path.IsAbs(rel)
}

// ValidateArtifactID checks that an artifact id is a safe relative path.
func ValidateArtifactID(id string) error {
	if id == "" || id == "." {
		return errclass.ErrNameInvalid.WithMessage("artifact id must not be empty")
	}
	if path.IsAbs(id) || escapes(id) {
		return errclass.ErrPathEscape.WithMessagef("artifact id escapes its root: %s", id)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return errclass.ErrNameInvalid.WithMessagef("artifact id must not contain control characters: %q", id)
		}
	}
	return nil
}

// ValidatePathSafety verifies target path does not escape root, following symlinks.
func ValidatePathSafety(root, targetPath string) error {
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return errclass.ErrPathEscape.WithMessagef("cannot resolve root: %v", err)
	}

	resolvedTarget, err := filepath.EvalSymlinks(targetPath)
	if err != nil {
		if os.IsNotExist(err) {
			resolvedTarget = resolveClosestAncestor(targetPath)
		} else {
			return errclass.ErrPathEscape.WithMessagef("cannot resolve target: %v", err)
		}
	}

	if !strings.HasPrefix(resolvedTarget+string(filepath.Separator), resolvedRoot+string(filepath.Separator)) &&
		resolvedTarget != resolvedRoot {
		return errclass.ErrPathEscape.WithMessagef("path escapes %s: %s", root, targetPath)
	}

	return nil
}

// resolveClosestAncestor walks up from path to find the closest existing
// ancestor, resolves it, then appends the remaining components.
func resolveClosestAncestor(p string) string {
	dir := filepath.Dir(p)
	base := filepath.Base(p)

	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		if os.IsNotExist(err) && dir != p {
			resolved = resolveClosestAncestor(dir)
		} else {
			return filepath.Clean(p)
		}
	}
	return filepath.Join(resolved, base)
}
