package gateway

import (
	"strings"

	"github.com/Taiwoayodeji/ChatGifs/internal/model"
)

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Split returns the segments of path. The root path has none.
func Split(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// ValidSegment reports whether s can be used as one path segment.
func ValidSegment(s string) bool {
	if s == "" || strings.HasPrefix(s, ".") {
		return false
	}
	return !strings.ContainsAny(s, "/#$[]\x00")
}

// ValidatePath checks every segment of path. The empty path is the root.
func ValidatePath(path string) error {
	for _, seg := range Split(path) {
		if !ValidSegment(seg) {
			return model.Errorf(model.Invalid, "path", "invalid path %q", path)
		}
	}
	return nil
}

// IsAncestor reports whether a is a strict ancestor of b.
func IsAncestor(a, b string) bool {
	if a == b {
		return false
	}
	if a == "" {
		return true
	}
	return strings.HasPrefix(b, a+"/")
}

// Related reports whether a change at changed affects a subscriber watching
// watched: the same node, a node inside it, or one of its ancestors.
func Related(watched, changed string) bool {
	return watched == changed || IsAncestor(watched, changed) || IsAncestor(changed, watched)
}

// Parent returns the parent of path; the root's parent is the root.
func Parent(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return ""
	}
	return path[:i]
}

// Base returns the last segment of path.
func Base(path string) string {
	return path[strings.LastIndexByte(path, '/')+1:]
}
