// Package tagging owns the engine's tag vocabulary and merges engine tags with
// the foreign tags already on an object.
package tagging

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yairfalse/scantag/internal/sanitize"
	"github.com/yairfalse/scantag/pkg/object"
)

// Tag names inside the reserved namespace.
const (
	NameScanned          = "scanned"
	NameScanResult       = "scan-result"
	NameScanDetailCode   = "scan-detail-code"
	NameScanDate         = "scan-date"
	NameScanDetailMsg    = "scan-detail-message"
	NameQuarantined      = "quarantined"
	NameSourceLocation   = "source-location"
	NameQuarantineSource = "quarantine-source"
	NameQuarantineDate   = "quarantine-date"
	NameQuarantineEvent  = "quarantine-event"
	NameMalwares         = "malwares"
)

// DateLayout formats the scan-date tag.
const DateLayout = "2006/01/02 15:04:05"

// RecordDateLayout formats the quarantine-date tag.
const RecordDateLayout = "2006-01-02T15:04:05Z"

// Style selects how keys are spelled for a backend.
type Style int

const (
	// Dash keys (fss-scan-result) for backends that accept arbitrary keys.
	Dash Style = iota
	// Underscore keys (fss_scan_result) for backends restricted to [A-Za-z0-9_].
	Underscore
)

// ParseStyle maps "dash"/"underscore" to a Style.
func ParseStyle(s string) (Style, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "dash":
		return Dash, nil
	case "underscore":
		return Underscore, nil
	default:
		return Dash, fmt.Errorf("unknown key style %q", s)
	}
}

// Schema spells engine tag keys and writes values through a sanitizer.
type Schema struct {
	Style     Style
	Sanitizer sanitize.Sanitizer
}

// NewSchema returns a schema for style using the given value alphabet.
func NewSchema(style Style, s sanitize.Sanitizer) Schema {
	return Schema{Style: style, Sanitizer: s}
}

// Prefix is the reserved namespace prefix.
func (s Schema) Prefix() string {
	if s.Style == Underscore {
		return "fss_"
	}
	return "fss-"
}

// Key returns the backend key for a tag name.
func (s Schema) Key(name string) string {
	if s.Style == Underscore {
		return sanitize.Key(s.Prefix() + name)
	}
	return s.Prefix() + name
}

// Owns reports whether key belongs to the reserved namespace.
func (s Schema) Owns(key string) bool {
	return strings.HasPrefix(key, s.Prefix())
}

// ScanInput is what the computed scan tags are derived from.
type ScanInput struct {
	Verdict      object.Verdict
	Detail       string
	Code         int
	ScannedAt    time.Time
	RawTimestamp string
	Quarantined  bool
	Source       object.Location
}

// ScanTags builds the computed tag set for a scan result.
func (s Schema) ScanTags(in ScanInput) object.TagSet {
	tags := object.TagSet{
		s.Key(NameScanned):        "true",
		s.Key(NameScanResult):     s.Sanitizer.Value(in.Verdict.TagValue()),
		s.Key(NameScanDetailCode): s.Sanitizer.Value(strconv.Itoa(in.Code)),
		s.Key(NameScanDate):       s.Sanitizer.Value(FormatScanDate(in.ScannedAt, in.RawTimestamp)),
		s.Key(NameScanDetailMsg):  s.Sanitizer.Value(in.Detail),
	}

	if in.Quarantined {
		tags[s.Key(NameQuarantined)] = "true"
		tags[s.Key(NameSourceLocation)] = s.Sanitizer.Value(in.Source.String())
	}

	return tags
}

// RecordTags renders a QuarantineRecord as destination tags.
func (s Schema) RecordTags(rec object.QuarantineRecord) object.TagSet {
	tags := object.TagSet{
		s.Key(NameQuarantineSource): s.Sanitizer.Value(rec.Source.String()),
		s.Key(NameQuarantineDate):   s.recordDate(rec),
		s.Key(NameScanResult):       s.Sanitizer.Value(object.VerdictMalicious.TagValue()),
		s.Key(NameMalwares):         s.Sanitizer.Value(strings.Join(rec.Malwares, ", ")),
	}
	if rec.EventID != "" {
		tags[s.Key(NameQuarantineEvent)] = s.Sanitizer.Value(rec.EventID)
	}
	return tags
}

func (s Schema) recordDate(rec object.QuarantineRecord) string {
	return s.Sanitizer.Value(rec.Timestamp.UTC().Format(RecordDateLayout))
}

// HasRecordFor reports whether tags carry a QuarantineRecord for source.
func (s Schema) HasRecordFor(tags object.TagSet, source object.Location) bool {
	got, ok := tags[s.Key(NameQuarantineSource)]
	return ok && got == s.Sanitizer.Value(source.String())
}

// RecordMatches reports whether tags carry the record rec would write: same
// source and same scan event. Records written without an event ID are matched
// on their date instead. A record for an earlier upload at the same key does
// not match.
func (s Schema) RecordMatches(tags object.TagSet, rec object.QuarantineRecord) bool {
	if !s.HasRecordFor(tags, rec.Source) {
		return false
	}
	if rec.EventID != "" {
		return tags[s.Key(NameQuarantineEvent)] == s.Sanitizer.Value(rec.EventID)
	}
	_, tagged := tags[s.Key(NameQuarantineEvent)]
	return !tagged && tags[s.Key(NameQuarantineDate)] == s.recordDate(rec)
}

// FormatScanDate renders the scan time, falling back to the raw text when the
// scanner timestamp could not be parsed.
func FormatScanDate(at time.Time, raw string) string {
	if at.IsZero() {
		return raw
	}
	return at.UTC().Format(DateLayout)
}
