package gateway

import "sort"

// Snapshot is the value of a subtree at one point in time.
type Snapshot struct {
	Path  string
	Value any
}

// Exists reports whether anything is stored at the path.
func (s Snapshot) Exists() bool {
	return s.Value != nil
}

// Key is the last segment of the snapshot's path.
func (s Snapshot) Key() string {
	return Base(s.Path)
}

// Child returns the snapshot of a direct child.
func (s Snapshot) Child(key string) Snapshot {
	child := Snapshot{Path: Join(s.Path, key)}
	if s.Path == "" {
		child.Path = key
	}
	if m, ok := s.Value.(map[string]any); ok {
		child.Value = m[key]
	}
	return child
}

// Children returns the direct children in ascending key order. A leaf or
// absent snapshot has none.
func (s Snapshot) Children() []Snapshot {
	m, ok := s.Value.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Snapshot, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.Child(k))
	}
	return out
}
