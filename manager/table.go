package manager

import (
	"strings"

	"github.com/wippyai/memloader"
)

// record is a loaded-module entry. It is owned exclusively by the table
// while the module is loaded; the loader it holds is never shared across
// records.
type record struct {
	loader memloader.Loader
	name   string // nominal name as supplied by the caller
	key    string // case-folded base name, the dedup key
	handle memloader.Handle
	kind   memloader.Kind
	refs   int
}

// table is the ordered collection of module records. It has no locking of
// its own: every access happens under the manager's exclusive lock.
type table struct {
	records []*record
}

// allocate returns a handle not held by any current record. It probes
// densely from HandleBase, rescanning from the start of the table after
// every collision. Handles stay small and deterministic for a given
// load/unload sequence, and a released handle becomes reusable
// immediately. The caller must insert the record before releasing the
// lock, or the next allocation could hand out the same value.
func (t *table) allocate() memloader.Handle {
	h := memloader.HandleBase
	for i := 0; i < len(t.records); i++ {
		if t.records[i].handle == h {
			h++
			i = -1
		}
	}
	return h
}

func (t *table) byHandle(h memloader.Handle) *record {
	for _, r := range t.records {
		if r.handle == h {
			return r
		}
	}
	return nil
}

func (t *table) byName(key string) *record {
	for _, r := range t.records {
		if r.key == key {
			return r
		}
	}
	return nil
}

func (t *table) insert(r *record) {
	t.records = append(t.records, r)
}

func (t *table) remove(r *record) {
	for i, cur := range t.records {
		if cur == r {
			t.records = append(t.records[:i], t.records[i+1:]...)
			return
		}
	}
}

func (t *table) len() int {
	return len(t.records)
}

// nameKey folds a nominal file name to its dedup key: directory components
// are ignored and comparison is case-insensitive, matching the native
// loader's by-name identity rule.
func nameKey(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	return strings.ToLower(name)
}
