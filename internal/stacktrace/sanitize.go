// ABOUTME: File name sanitization and local-source classification for stack frames
// ABOUTME: Strips bundler prefixes, queries and URL schemes; checks project-root containment

package stacktrace

import (
	"path/filepath"
	"strings"
)

// bundlerPrefixes are stripped from the front of file names.
var bundlerPrefixes = []string{
	"webpack-internal:///",
	"webpack:///",
}

// dependencyMarkers mark paths inside third-party dependency directories.
var dependencyMarkers = []string{
	"node_modules",
	"bower_components",
	"jspm_packages",
}

// foreignMarkers mark engine-generated or evaluated code.
var foreignMarkers = []string{
	NativeCode,
	"<anonymous>",
	"eval at",
}

// SanitizeFileName normalizes a stack frame file name.
// It is a pure string transform and idempotent.
func SanitizeFileName(name string) string {
	for {
		next := sanitizeOnce(name)
		if next == name {
			return name
		}
		name = next
	}
}

func sanitizeOnce(name string) string {
	for _, prefix := range bundlerPrefixes {
		name = strings.TrimPrefix(name, prefix)
	}

	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}

	switch {
	case strings.HasPrefix(name, "file://"):
		name = strings.TrimPrefix(name, "file://")
	case strings.HasPrefix(name, "http://"), strings.HasPrefix(name, "https://"):
		name = urlPath(name)
	}

	return name
}

// urlPath returns the path component of an http(s) URL.
func urlPath(raw string) string {
	rest := raw[strings.Index(raw, "://")+3:]
	if i := strings.Index(rest, "/"); i >= 0 {
		return rest[i:]
	}
	return "/"
}

// isDependency reports whether fileName lies inside a third-party package directory.
func isDependency(fileName string) bool {
	for _, marker := range dependencyMarkers {
		if strings.Contains(fileName, marker) {
			return true
		}
	}
	return false
}

// IsLocalSource reports whether a sanitized file name belongs to project source.
// With a project root, containment is checked on resolved paths, so a sibling
// directory sharing the root's prefix is not local.
func IsLocalSource(fileName, projectRoot string) bool {
	if fileName == "" {
		return false
	}
	if isDependency(fileName) {
		return false
	}
	for _, marker := range foreignMarkers {
		if strings.Contains(fileName, marker) {
			return false
		}
	}
	if strings.HasPrefix(fileName, "http://") || strings.HasPrefix(fileName, "https://") {
		return false
	}

	if projectRoot != "" {
		root, err := filepath.Abs(projectRoot)
		if err != nil {
			return false
		}
		target := fileName
		if !filepath.IsAbs(target) {
			target = filepath.Join(root, target)
		}
		rel, err := filepath.Rel(root, target)
		if err != nil {
			return false
		}
		return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
	}

	return !filepath.IsAbs(fileName) && !strings.Contains(fileName, "://")
}
