// Package realtime provides a hierarchical key/value store with change
// subscriptions. Values live at "/"-separated paths; reading a path that is
// not itself a leaf assembles every leaf beneath it into a JSON object.
// Writers replace whole subtrees and leave siblings alone, even when an
// ancestor was written as a single object. Watchers of a path are woken by
// any change at, above or below it.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
)

var (
	ErrNotConfigured     = errors.New("realtime store is not configured")
	ErrUnsupportedScheme = errors.New("unsupported realtime store url scheme")
	ErrEmptyPath         = errors.New("path must not be empty")
	ErrInvalidValue      = errors.New("value is not valid JSON")
)

// Backend is the storage contract every store implementation satisfies.
type Backend interface {
	// Get returns the value at path. ok is false when nothing is stored at
	// or beneath path.
	Get(ctx context.Context, path string) (value json.RawMessage, ok bool, err error)
	// Set replaces the subtree at path. A JSON null value deletes it.
	Set(ctx context.Context, path string, value json.RawMessage) error
	// Delete removes the subtree at path.
	Delete(ctx context.Context, path string) error
	// Watch calls fn after every change related to path. fn must not block.
	Watch(path string, fn func()) (cancel func(), err error)
	Close() error
}

// Snapshot is the state of a subscribed path at delivery time.
type Snapshot struct {
	Path   string
	Value  json.RawMessage
	Exists bool
}

// Decode unmarshals the snapshot value into v.
func (s Snapshot) Decode(v any) error {
	if !s.Exists {
		return nil
	}
	return json.Unmarshal(s.Value, v)
}

// Join builds a path from segments, dropping empty ones and stray slashes.
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

func normalize(path string) (string, error) {
	p := Join(path)
	if p == "" {
		return "", ErrEmptyPath
	}
	return p, nil
}

// isUnder reports whether p lies strictly beneath parent.
func isUnder(p, parent string) bool {
	return strings.HasPrefix(p, parent+"/")
}

// related reports whether a change at changed can affect a reader of watched.
func related(watched, changed string) bool {
	return watched == changed || isUnder(changed, watched) || isUnder(watched, changed)
}

// ancestors lists every proper ancestor of p, nearest last.
func ancestors(p string) []string {
	var out []string
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			out = append(out, p[:i])
		}
	}
	return out
}

func isNull(v json.RawMessage) bool {
	return len(bytes.TrimSpace(v)) == 0 || bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// assemble resolves path against a flat set of leaves. A path inside an
// ancestor leaf resolves to the matching member of that leaf's value.
func assemble(path string, leaves map[string]json.RawMessage) (json.RawMessage, bool, error) {
	if v, ok := leaves[path]; ok {
		return v, true, nil
	}
	anc := ancestors(path)
	for i := len(anc) - 1; i >= 0; i-- {
		if v, ok := leaves[anc[i]]; ok {
			return descend(v, strings.Split(strings.TrimPrefix(path, anc[i]+"/"), "/"))
		}
	}

	keys := make([]string, 0)
	for k := range leaves {
		if isUnder(k, path) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, false, nil
	}
	sort.Strings(keys)

	root := map[string]any{}
	for _, k := range keys {
		rel := strings.Split(strings.TrimPrefix(k, path+"/"), "/")
		node := root
		for _, seg := range rel[:len(rel)-1] {
			child, ok := node[seg].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[seg] = child
			}
			node = child
		}
		node[rel[len(rel)-1]] = leaves[k]
	}

	data, err := json.Marshal(root)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// descend walks rel through nested JSON objects.
func descend(v json.RawMessage, rel []string) (json.RawMessage, bool, error) {
	for _, seg := range rel {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(v, &obj); err != nil || obj == nil {
			return nil, false, nil
		}
		child, ok := obj[seg]
		if !ok || isNull(child) {
			return nil, false, nil
		}
		v = child
	}
	return v, true, nil
}

// splitAncestors prepares a write at p when an ancestor of p is stored as a
// single leaf. An ancestor holding a JSON object is replaced by one leaf per
// member, repeatedly down the path, so the members beside p survive the
// write; an ancestor holding anything else is dropped. lookup returns the
// stored leaf at a path. The result lists the leaves to remove and the
// leaves to add; nothing at or beneath p is added.
func splitAncestors(p string, lookup func(string) (json.RawMessage, bool)) ([]string, map[string]json.RawMessage) {
	var remove []string
	add := make(map[string]json.RawMessage)
	for _, a := range ancestors(p) {
		v, ok := add[a]
		if ok {
			delete(add, a)
		} else if v, ok = lookup(a); ok {
			remove = append(remove, a)
		}
		if !ok {
			continue
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(v, &obj); err != nil {
			continue
		}
		for k, child := range obj {
			if k == "" || strings.Contains(k, "/") || isNull(child) {
				continue
			}
			add[a+"/"+k] = child
		}
	}
	for k := range add {
		if k == p || isUnder(k, p) {
			delete(add, k)
		}
	}
	return remove, add
}

// watchers is the registry every backend uses to fan change notifications
// out to subscribers.
type watchers struct {
	mu   sync.Mutex
	next uint64
	set  map[uint64]watcher
}

type watcher struct {
	path string
	fn   func()
}

func newWatchers() *watchers {
	return &watchers{set: make(map[uint64]watcher)}
}

func (w *watchers) add(path string, fn func()) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next++
	id := w.next
	w.set[id] = watcher{path: path, fn: fn}
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.set, id)
	}
}

func (w *watchers) notify(changed string) {
	w.mu.Lock()
	fns := make([]func(), 0, len(w.set))
	for _, wt := range w.set {
		if related(wt.path, changed) {
			fns = append(fns, wt.fn)
		}
	}
	w.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (w *watchers) notifyAll() {
	w.mu.Lock()
	fns := make([]func(), 0, len(w.set))
	for _, wt := range w.set {
		fns = append(fns, wt.fn)
	}
	w.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (w *watchers) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.set)
}
