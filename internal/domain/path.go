package domain

import "strings"

// NormalizePath maps the external path forms onto one canonical value:
// "" and "/" both become RootPath, trailing slashes are stripped, and a
// missing leading slash is added.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == RootPath {
		return RootPath
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = p[:len(p)-1]
	}
	return p
}

// SplitPath breaks a normalized path into its segments. The root path
// yields no segments.
func SplitPath(p string) []string {
	p = NormalizePath(p)
	if p == RootPath {
		return nil
	}
	return strings.Split(strings.TrimPrefix(p, "/"), "/")
}

// JoinPath appends name to a normalized parent path.
func JoinPath(parent, name string) string {
	parent = NormalizePath(parent)
	if parent == RootPath {
		return RootPath + name
	}
	return parent + "/" + name
}

// PathDepth counts the segments of a normalized path; the root is depth 0.
func PathDepth(p string) int {
	return len(SplitPath(p))
}
