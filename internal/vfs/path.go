package vfs

import (
	"errors"
	"fmt"
	"strings"
)

// RootPath is the only path that always exists.
const RootPath = "/"

var (
	ErrEmptyPath     = errors.New("path is empty")
	ErrParentSegment = errors.New("'..' segments are not allowed")
)

// NormalizePath turns model-supplied paths into the canonical absolute form:
// leading slash, no trailing slash, no empty or "." segments. Paths that try
// to climb with ".." are rejected rather than resolved.
func NormalizePath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", ErrEmptyPath
	}
	p = strings.ReplaceAll(p, "\\", "/")
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, seg := range parts {
		switch seg {
		case "", ".":
			continue
		case "..":
			return "", fmt.Errorf("%w: %q", ErrParentSegment, p)
		}
		out = append(out, seg)
	}
	if len(out) == 0 {
		return RootPath, nil
	}
	return "/" + strings.Join(out, "/"), nil
}

func parentOf(p string) string {
	if p == RootPath {
		return ""
	}
	i := strings.LastIndex(p, "/")
	if i <= 0 {
		return RootPath
	}
	return p[:i]
}

func baseName(p string) string {
	return p[strings.LastIndex(p, "/")+1:]
}

// ancestors lists the directories between the root and p, top-down,
// excluding both the root and p itself.
func ancestors(p string) []string {
	var out []string
	for dir := parentOf(p); dir != "" && dir != RootPath; dir = parentOf(dir) {
		out = append(out, dir)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func depth(p string) int {
	if p == RootPath {
		return 0
	}
	return strings.Count(p, "/")
}

func isWithin(p, dir string) bool {
	if dir == RootPath {
		return true
	}
	return p == dir || strings.HasPrefix(p, dir+"/")
}
