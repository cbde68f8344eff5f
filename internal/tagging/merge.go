package tagging

import (
	"errors"
	"fmt"

	"github.com/yairfalse/scantag/internal/fault"
	"github.com/yairfalse/scantag/pkg/object"
)

// DefaultMaxTags is the S3 per-object tag limit.
const DefaultMaxTags = 10

// ErrTagLimitExceeded is returned when the merged set would not fit.
var ErrTagLimitExceeded = errors.New("tag limit exceeded")

// Merge drops every reserved-namespace entry from existing and adds computed.
// The result is meant for full replacement. When it would hold more than
// maxCount entries, existing is returned untouched with ErrTagLimitExceeded.
// A maxCount <= 0 disables the limit.
func Merge(existing, computed object.TagSet, owns func(string) bool, maxCount int) (object.TagSet, error) {
	merged := make(object.TagSet, len(existing)+len(computed))
	foreign := 0
	for k, v := range existing {
		if owns(k) {
			continue
		}
		merged[k] = v
		foreign++
	}
	for k, v := range computed {
		merged[k] = v
	}

	if maxCount > 0 && len(merged) > maxCount {
		err := fmt.Errorf("%w: %d foreign + %d engine tags > %d", ErrTagLimitExceeded, foreign, len(computed), maxCount)
		return existing, fault.New(fault.TagLimit, "merge tags", err)
	}

	return merged, nil
}

// Merge merges using the schema's reserved namespace.
func (s Schema) Merge(existing, computed object.TagSet, maxCount int) (object.TagSet, error) {
	return Merge(existing, computed, s.Owns, maxCount)
}
