package tagging

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/scantag/internal/fault"
	"github.com/yairfalse/scantag/internal/sanitize"
	"github.com/yairfalse/scantag/pkg/object"
)

var dash = NewSchema(Dash, sanitize.ForCharset("s3"))

func TestSchema_Keys(t *testing.T) {
	assert.Equal(t, "fss-scan-result", dash.Key(NameScanResult))
	assert.True(t, dash.Owns("fss-anything"))
	assert.False(t, dash.Owns("Owner"))

	under := NewSchema(Underscore, sanitize.Default)
	assert.Equal(t, "fss_", under.Prefix())
	assert.Equal(t, "fss_scan_detail_message", under.Key(NameScanDetailMsg))
	assert.True(t, under.Owns(under.Key(NameQuarantineSource)))
}

func TestParseStyle(t *testing.T) {
	s, err := ParseStyle("")
	require.NoError(t, err)
	assert.Equal(t, Dash, s)

	s, err = ParseStyle("Underscore")
	require.NoError(t, err)
	assert.Equal(t, Underscore, s)

	_, err = ParseStyle("camel")
	assert.Error(t, err)
}

func TestScanTags_Clean(t *testing.T) {
	tags := dash.ScanTags(ScanInput{
		Verdict:   object.VerdictClean,
		Detail:    "-",
		Code:      0,
		ScannedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	assert.Equal(t, object.TagSet{
		"fss-scanned":             "true",
		"fss-scan-result":         "no issues found",
		"fss-scan-detail-code":    "0",
		"fss-scan-date":           "2024/01/01 00:00:00",
		"fss-scan-detail-message": "-",
	}, tags)
}

func TestScanTags_Quarantined(t *testing.T) {
	tags := dash.ScanTags(ScanInput{
		Verdict:     object.VerdictMalicious,
		Detail:      "Trojan.X, EICAR",
		Code:        1,
		ScannedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Quarantined: true,
		Source:      object.Location{Store: "docs", Key: "a.pdf"},
	})

	assert.Len(t, tags, 7)
	assert.Equal(t, "malicious", tags["fss-scan-result"])
	assert.Equal(t, "Trojan.X EICAR", tags["fss-scan-detail-message"])
	assert.Equal(t, "true", tags["fss-quarantined"])
	assert.Equal(t, "docs/a.pdf", tags["fss-source-location"])
}

func TestScanTags_UnparsableDateFallsBackToRaw(t *testing.T) {
	tags := dash.ScanTags(ScanInput{Verdict: object.VerdictUnknown, RawTimestamp: "yesterday-ish"})
	assert.Equal(t, "yesterday-ish", tags["fss-scan-date"])
}

func TestRecordTags_RoundTrip(t *testing.T) {
	src := object.Location{Store: "docs", Key: "a.pdf"}
	rec := object.QuarantineRecord{
		Source:      src,
		Destination: object.Location{Store: "quarantine", Key: "docs/a.pdf"},
		Timestamp:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Malwares:    []string{"Trojan.X"},
	}

	tags := dash.RecordTags(rec)

	assert.Equal(t, "docs/a.pdf", tags["fss-quarantine-source"])
	assert.Equal(t, "2024-01-01T00:00:00Z", tags["fss-quarantine-date"])
	assert.Equal(t, "malicious", tags["fss-scan-result"])
	assert.Equal(t, "Trojan.X", tags["fss-malwares"])
	assert.True(t, dash.HasRecordFor(tags, src))
	assert.False(t, dash.HasRecordFor(tags, object.Location{Store: "docs", Key: "b.pdf"}))
	assert.False(t, dash.HasRecordFor(object.TagSet{}, src))
}

func TestMerge(t *testing.T) {
	existing := object.TagSet{
		"Owner":           "team-a",
		"env":             "prod",
		"fss-scan-result": "malicious",
		"fss-stale":       "old",
	}
	computed := object.TagSet{
		"fss-scan-result": "no issues found",
		"fss-scanned":     "true",
	}

	merged, err := Merge(existing, computed, dash.Owns, 10)

	require.NoError(t, err)
	assert.Equal(t, object.TagSet{
		"Owner":           "team-a",
		"env":             "prod",
		"fss-scan-result": "no issues found",
		"fss-scanned":     "true",
	}, merged)
}

func TestMerge_NeverDropsForeignKeys(t *testing.T) {
	existing := object.TagSet{"a": "1", "b": "2", "fss-x": "3"}
	computed := object.TagSet{"fss-y": "4"}

	merged, err := dash.Merge(existing, computed, 10)

	require.NoError(t, err)
	for _, k := range []string{"a", "b"} {
		assert.Equal(t, existing[k], merged[k])
	}
	assert.Len(t, merged, 2+len(computed))
}

func TestMerge_LimitExceeded(t *testing.T) {
	existing := object.TagSet{}
	for _, k := range []string{"a", "b", "c", "d", "e", "f"} {
		existing[k] = "v"
	}
	existing["fss-scanned"] = "true"
	snapshot := existing.Clone()

	computed := dash.ScanTags(ScanInput{Verdict: object.VerdictClean, Detail: "-"})

	got, err := dash.Merge(existing, computed, 10)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTagLimitExceeded))
	assert.True(t, fault.Is(err, fault.TagLimit))
	assert.Equal(t, snapshot, got)
	assert.Equal(t, snapshot, existing)
}

func TestMerge_ExactlyAtLimit(t *testing.T) {
	existing := object.TagSet{"a": "1", "b": "2", "c": "3", "d": "4", "e": "5"}
	computed := dash.ScanTags(ScanInput{Verdict: object.VerdictClean, Detail: "-"})

	merged, err := dash.Merge(existing, computed, 10)

	require.NoError(t, err)
	assert.Len(t, merged, 10)
}

func TestMerge_NoLimit(t *testing.T) {
	existing := object.TagSet{"a": "1", "b": "2"}
	merged, err := dash.Merge(existing, object.TagSet{"fss-z": "1"}, 0)

	require.NoError(t, err)
	assert.Len(t, merged, 3)
}

func TestMerge_NilExisting(t *testing.T) {
	merged, err := dash.Merge(nil, object.TagSet{"fss-scanned": "true"}, 10)

	require.NoError(t, err)
	assert.Equal(t, object.TagSet{"fss-scanned": "true"}, merged)
}

func TestMerge_Idempotent(t *testing.T) {
	existing := object.TagSet{"Owner": "me"}
	computed := dash.ScanTags(ScanInput{Verdict: object.VerdictMalicious, Detail: "Trojan.X", Code: 1})

	first, err := dash.Merge(existing, computed, 10)
	require.NoError(t, err)
	second, err := dash.Merge(first, computed, 10)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRecordMatches(t *testing.T) {
	src := object.Location{Store: "docs", Key: "a.pdf"}
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := object.QuarantineRecord{Source: src, Timestamp: at, EventID: "evt-1", Malwares: []string{"Trojan.X"}}
	tags := dash.RecordTags(rec)

	later := rec
	later.EventID = "evt-2"
	later.Timestamp = at.Add(time.Hour)

	otherSource := rec
	otherSource.Source = object.Location{Store: "docs", Key: "b.pdf"}

	undated := rec
	undated.EventID = ""

	assert.Equal(t, "evt-1", tags["fss-quarantine-event"])
	assert.True(t, dash.RecordMatches(tags, rec))
	assert.False(t, dash.RecordMatches(tags, later), "record of an earlier upload")
	assert.False(t, dash.RecordMatches(tags, otherSource))
	assert.False(t, dash.RecordMatches(tags, undated), "event-tagged record needs an event ID")
	assert.False(t, dash.RecordMatches(object.TagSet{}, rec))

	legacy := dash.RecordTags(undated)
	assert.NotContains(t, legacy, "fss-quarantine-event")
	assert.True(t, dash.RecordMatches(legacy, undated))
	assert.False(t, dash.RecordMatches(legacy, rec))
}
