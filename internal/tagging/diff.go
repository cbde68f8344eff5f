package tagging

import (
	"sort"

	"github.com/yairfalse/scantag/pkg/object"
)

// Diff compares the tags before and after a write. Changes are ordered by key.
// Identical sets yield an empty, non-nil slice.
func Diff(before, after object.TagSet) []object.TagChange {
	changes := make([]object.TagChange, 0)
	changes = append(changes, removedAndModified(before, after)...)
	changes = append(changes, added(before, after)...)

	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Key < changes[j].Key
	})
	return changes
}

func removedAndModified(before, after object.TagSet) []object.TagChange {
	var changes []object.TagChange
	for key, prev := range before {
		curr, exists := after[key]
		switch {
		case !exists:
			changes = append(changes, object.TagChange{Type: object.ChangeRemoved, Key: key, Previous: prev})
		case curr != prev:
			changes = append(changes, object.TagChange{Type: object.ChangeModified, Key: key, Previous: prev, Current: curr})
		}
	}
	return changes
}

func added(before, after object.TagSet) []object.TagChange {
	var changes []object.TagChange
	for key, curr := range after {
		if _, exists := before[key]; !exists {
			changes = append(changes, object.TagChange{Type: object.ChangeAdded, Key: key, Current: curr})
		}
	}
	return changes
}
