package facts

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/zeebo/xxh3"
)

// NormalizePath returns the identity form of a path: slash separated and
// lower-cased.
func NormalizePath(path string) string {
	return strings.ToLower(filepath.ToSlash(filepath.Clean(path)))
}

// FileKey derives the stable key of a file from its path.
func FileKey(path string) string {
	return hashKey("file", NormalizePath(path))
}

// EntityKey derives a stable key from file path, entity kind, name, and
// source position. Identical text re-extracted at the same position yields
// the same key.
func EntityKey(path, kind, name string, line, col int) string {
	return hashKey(kind, fmt.Sprintf("%s|%s|%s|%d:%d", NormalizePath(path), kind, name, line, col))
}

func hashKey(prefix, s string) string {
	return fmt.Sprintf("%s:%016x", strings.ToLower(prefix), xxh3.HashString(s))
}
