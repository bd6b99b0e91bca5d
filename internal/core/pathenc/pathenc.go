// Package pathenc converts between filesystem project paths and the single
// directory-name segments the assistant CLI uses under its projects root.
//
// The encoding collapses both '/' and '_' to '-', so it is lossy: Decode can
// only rebuild the original path by checking which interpretation exists on
// disk, and is documented best-effort for paths mixing the two characters.
package pathenc

import (
	"os"
	"strings"
)

// dirExists is swappable in tests.
var dirExists = func(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Encode converts an absolute project path to its log-store segment.
// "/Users/foo/bar_baz" becomes "-Users-foo-bar-baz".
func Encode(path string) string {
	s := strings.ReplaceAll(path, "/", "-")
	return strings.ReplaceAll(s, "_", "-")
}

// Decode rebuilds a path from an encoded segment.
//
// It walks the encoded segments left to right and, at each boundary, accepts
// the first run of segments that names a directory that actually exists:
// first the bare segment, then runs rejoined with '_' or '-'. If no
// interpretation validates at some boundary, the whole segment falls back to
// treating every separator as a path boundary. Ambiguous inputs where more
// than one interpretation exists on disk may misdecode; that is accepted.
func Decode(encoded string) string {
	trimmed := strings.TrimPrefix(encoded, "-")
	segments := strings.Split(trimmed, "-")

	naive := "/" + strings.Join(segments, "/")
	if trimmed == "" {
		return "/"
	}

	path := ""
	for i := 0; i < len(segments); {
		component, n, ok := matchRun(path, segments[i:])
		if !ok {
			return naive
		}
		path += "/" + component
		i += n
	}
	return path
}

// matchRun finds the shortest run of segments that names an existing
// directory under base, trying '_' then '-' as the rejoining character.
func matchRun(base string, segments []string) (component string, n int, ok bool) {
	for j := 1; j <= len(segments); j++ {
		for _, sep := range []string{"_", "-"} {
			if j == 1 && sep == "-" {
				continue // identical to the "_" candidate
			}
			candidate := strings.Join(segments[:j], sep)
			if dirExists(base + "/" + candidate) {
				return candidate, j, true
			}
		}
	}
	return "", 0, false
}
