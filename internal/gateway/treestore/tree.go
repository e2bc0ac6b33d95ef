package treestore

import (
	"encoding/json"
	"strings"

	"github.com/Taiwoayodeji/ChatGifs/internal/gateway"
	"github.com/Taiwoayodeji/ChatGifs/internal/model"
)

const (
	treePrefix    = "t/"
	accountPrefix = "a/"
)

func leafKey(path string) []byte {
	return []byte(treePrefix + path)
}

// subtreeBounds returns the key range holding every leaf strictly below
// path. '0' is the byte after '/', so the upper bound is exclusive.
func subtreeBounds(path string) (lower, upper []byte) {
	if path == "" {
		return []byte(treePrefix), []byte("t0")
	}
	return []byte(treePrefix + path + "/"), []byte(treePrefix + path + "0")
}

// normalize turns an arbitrary Go value into its generic JSON form and
// replaces server timestamp placeholders with now.
func normalize(v any, now int64) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, model.Wrap(model.Invalid, "encode", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, model.Wrap(model.Invalid, "encode", err)
	}
	return resolve(out, now), nil
}

func resolve(v any, now int64) any {
	if gateway.IsServerTimestamp(v) {
		return float64(now)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, child := range m {
		m[k] = resolve(child, now)
	}
	return m
}

// flatten writes one encoded leaf per scalar or array under path. Empty
// objects produce nothing.
func flatten(path string, v any, out map[string][]byte) error {
	if m, ok := v.(map[string]any); ok {
		for k, child := range m {
			if !gateway.ValidSegment(k) {
				return model.Errorf(model.Invalid, "write", "invalid key %q under %q", k, path)
			}
			p := k
			if path != "" {
				p = path + "/" + k
			}
			if err := flatten(p, child, out); err != nil {
				return err
			}
		}
		return nil
	}
	if v == nil {
		return nil
	}
	if path == "" {
		return model.Errorf(model.Invalid, "write", "root must be an object")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return model.Wrap(model.Invalid, "write", err)
	}
	out[path] = raw
	return nil
}

// insert places a decoded leaf at rel inside root, creating objects on the
// way down.
func insert(root map[string]any, rel string, v any) {
	segs := strings.Split(rel, "/")
	node := root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := node[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			node[seg] = next
		}
		node = next
	}
	node[segs[len(segs)-1]] = v
}

// ancestors lists every strict ancestor of path except the root.
func ancestors(path string) []string {
	segs := gateway.Split(path)
	out := make([]string, 0, len(segs))
	for i := 1; i < len(segs); i++ {
		out = append(out, strings.Join(segs[:i], "/"))
	}
	return out
}
