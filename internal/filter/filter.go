// Package filter decides which scanned objects the engine acts on.
package filter

import (
	"strings"

	"github.com/yairfalse/scantag/pkg/object"
)

// Filter selects objects by store and key prefix.
type Filter struct {
	excludeStores   map[string]bool
	includePrefixes []string
	excludePrefixes []string
}

// New creates a new Filter. Empty lists place no restriction.
func New(excludeStores, includePrefixes, excludePrefixes []string) *Filter {
	excludeMap := make(map[string]bool)
	for _, s := range excludeStores {
		excludeMap[s] = true
	}

	return &Filter{
		excludeStores:   excludeMap,
		includePrefixes: includePrefixes,
		excludePrefixes: excludePrefixes,
	}
}

// ShouldProcessStore returns true if objects in store are acted on.
func (f *Filter) ShouldProcessStore(store string) bool {
	return !f.excludeStores[store]
}

// Allows returns true if loc passes every filter. A nil Filter allows
// everything.
func (f *Filter) Allows(loc object.Location) bool {
	if f == nil {
		return true
	}
	if !f.ShouldProcessStore(loc.Store) {
		return false
	}

	// Include prefixes (whitelist) - ANY must match
	if len(f.includePrefixes) > 0 && !hasAnyPrefix(loc.Key, f.includePrefixes) {
		return false
	}

	// Exclude prefixes (blacklist) - ANY match excludes
	return !hasAnyPrefix(loc.Key, f.excludePrefixes)
}

func hasAnyPrefix(key string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// IsEmpty returns true if no filters are configured.
func (f *Filter) IsEmpty() bool {
	return f == nil || (len(f.excludeStores) == 0 && len(f.includePrefixes) == 0 && len(f.excludePrefixes) == 0)
}
