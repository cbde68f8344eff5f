package object

import "sort"

// TagSet maps tag or metadata keys to values. Keys are unique by construction.
type TagSet map[string]string

// Clone returns an independent copy. A nil set clones to an empty set.
func (t TagSet) Clone() TagSet {
	out := make(TagSet, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Keys returns the keys in lexical order.
func (t TagSet) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports whether both sets hold the same entries.
func (t TagSet) Equal(other TagSet) bool {
	if len(t) != len(other) {
		return false
	}
	for k, v := range t {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// ChangeType describes how a tag differs between two sets.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeRemoved  ChangeType = "removed"
	ChangeModified ChangeType = "modified"
)

// TagChange is one entry that differs between the tags an object had and the
// tags written to it.
type TagChange struct {
	Type     ChangeType `json:"type"`
	Key      string     `json:"key"`
	Previous string     `json:"previous,omitempty"`
	Current  string     `json:"current,omitempty"`
}
