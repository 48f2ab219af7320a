package streamindex

import (
	"sort"
	"strings"
)

// WriteVector records which replicas have toggled their bit on a stream.
// Each write flips the writer's bit; the value is diagnostic only.
type WriteVector map[string]struct{}

// ParseWriteVector decodes the comma-separated persisted form.
func ParseWriteVector(s string) WriteVector {
	wv := WriteVector{}
	if s == "" {
		return wv
	}
	for _, r := range strings.Split(s, ",") {
		if r != "" {
			wv[r] = struct{}{}
		}
	}
	return wv
}

// Get reports whether replica's bit is set.
func (wv WriteVector) Get(replica string) bool {
	_, ok := wv[replica]
	return ok
}

// Flip toggles replica's bit and returns the new value.
func (wv WriteVector) Flip(replica string) bool {
	if _, ok := wv[replica]; ok {
		delete(wv, replica)
		return false
	}
	wv[replica] = struct{}{}
	return true
}

// Clone returns an independent copy.
func (wv WriteVector) Clone() WriteVector {
	out := make(WriteVector, len(wv))
	for k := range wv {
		out[k] = struct{}{}
	}
	return out
}

// String returns the sorted comma-separated form.
func (wv WriteVector) String() string {
	ids := make([]string, 0, len(wv))
	for k := range wv {
		ids = append(ids, k)
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}
