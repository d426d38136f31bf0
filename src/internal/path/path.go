// Package path manipulates the absolute, slash-separated paths of the versioned tree.
//
// A canonical path has exactly one leading slash, no trailing slash and no empty components.  The
// root is "/".  Unlike go's "path" library, "." and ".." are not resolved: they are simply invalid
// components (see Validate).
package path

import (
	"strings"
	"unicode"

	"github.com/pachyderm/fsfs/src/internal/errors"
)

// Root is the canonical root path.
const Root = "/"

// Canonicalize returns the canonical form of p: a leading slash is added, repeated slashes are
// collapsed and a trailing slash is removed.
func Canonicalize(p string) string {
	if p == "" || p == Root {
		return Root
	}
	var sb strings.Builder
	sb.Grow(len(p) + 1)
	for _, c := range Components(p) {
		sb.WriteByte('/')
		sb.WriteString(c)
	}
	if sb.Len() == 0 {
		return Root
	}
	return sb.String()
}

// Components returns the non-empty components of p.
func Components(p string) []string {
	parts := strings.Split(p, "/")
	result := parts[:0]
	for _, part := range parts {
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}

// Validate reports whether p may name a node.  Control characters and the components "." and ".."
// are rejected.
func Validate(p string) error {
	for i, r := range p {
		if unicode.IsControl(r) {
			return errors.Errorf("invalid control character %q at byte %d", r, i)
		}
	}
	for _, c := range Components(p) {
		if c == "." || c == ".." {
			return errors.Errorf("invalid path component %q", c)
		}
	}
	return nil
}

// IsSingleComponent reports whether name can be a directory entry name.
func IsSingleComponent(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.Contains(name, "/")
}

// Join appends the relative path rel to the canonical path parent.
func Join(parent, rel string) string {
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return parent
	}
	if parent == Root || parent == "" {
		return Root + rel
	}
	return parent + "/" + rel
}

// Split splits a canonical path into its parent and final component.  The root splits into ("/",
// "").
func Split(p string) (string, string) {
	if p == Root {
		return Root, ""
	}
	i := strings.LastIndexByte(p, '/')
	if i <= 0 {
		return Root, p[i+1:]
	}
	return p[:i], p[i+1:]
}

// Dir returns the parent of a canonical path.
func Dir(p string) string {
	d, _ := Split(p)
	return d
}

// Base returns the final component of a canonical path.
func Base(p string) string {
	_, b := Split(p)
	return b
}

// SkipAncestor returns p relative to ancestor and true if ancestor is p or one of its ancestors.
// The relative path of p to itself is "".
func SkipAncestor(ancestor, p string) (string, bool) {
	if ancestor == p {
		return "", true
	}
	if ancestor == Root {
		return p[1:], true
	}
	if strings.HasPrefix(p, ancestor) && p[len(ancestor)] == '/' {
		return p[len(ancestor)+1:], true
	}
	return "", false
}

// IsAncestor reports whether ancestor is p or one of its ancestors.
func IsAncestor(ancestor, p string) bool {
	_, ok := SkipAncestor(ancestor, p)
	return ok
}
