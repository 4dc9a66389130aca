package hostapi

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// matchGlob matches a slash-separated relative path in the findFiles
// dialect: "**" spans any number of directories, "{a,b}" is an alternation,
// a trailing "/**" also matches the directory itself, and a pattern without
// a slash also matches the base name.
func matchGlob(pattern, rel string) bool {
	if ok, _ := doublestar.Match(pattern, rel); ok {
		return true
	}
	if dir, ok := strings.CutSuffix(pattern, "/**"); ok {
		if ok, _ := doublestar.Match(dir, rel); ok {
			return true
		}
	}
	if !strings.Contains(pattern, "/") {
		ok, _ := doublestar.Match(pattern, path.Base(rel))
		return ok
	}
	return false
}

func validateGlob(pattern string) error {
	if pattern == "" {
		return nil
	}
	if strings.Contains(pattern, "..") {
		return fmt.Errorf("invalid pattern %q: contains path traversal", pattern)
	}
	if !doublestar.ValidatePattern(pattern) {
		return fmt.Errorf("invalid pattern %q: %w", pattern, doublestar.ErrBadPattern)
	}
	return nil
}
