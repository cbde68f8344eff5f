// Package report renders processing outcomes for the command line.
package report

import (
	"time"

	"github.com/yairfalse/scantag/pkg/object"
)

// Data is everything a report needs.
type Data struct {
	Tool      string    `json:"tool"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Summary   Summary   `json:"summary"`
	Results   []Entry   `json:"results"`
}

// Summary counts outcomes by result.
type Summary struct {
	Total       int `json:"total"`
	Clean       int `json:"clean"`
	Malicious   int `json:"malicious"`
	Unknown     int `json:"unknown"`
	Quarantined int `json:"quarantined"`
	Skipped     int `json:"skipped"`
	TagLimit    int `json:"tag_limit_exceeded"`
	Errors      int `json:"errors"`
}

// Entry is the serializable form of one Outcome.
type Entry struct {
	EventID          string             `json:"event_id"`
	Source           string             `json:"source"`
	Target           string             `json:"target,omitempty"`
	Destination      string             `json:"destination,omitempty"`
	Verdict          object.Verdict     `json:"verdict,omitempty"`
	Detail           string             `json:"detail,omitempty"`
	Quarantined      bool               `json:"quarantined"`
	SourceDeleted    bool               `json:"source_deleted"`
	TagsApplied      bool               `json:"tags_applied"`
	Skipped          bool               `json:"skipped,omitempty"`
	TagLimitExceeded bool               `json:"tag_limit_exceeded,omitempty"`
	Changes          []object.TagChange `json:"changes,omitempty"`
	QuarantineError  string             `json:"quarantine_error,omitempty"`
	Error            string             `json:"error,omitempty"`
	DurationMS       int64              `json:"duration_ms"`
}

// NewData builds report data from outcomes.
func NewData(tool, version string, at time.Time, outcomes []object.Outcome) Data {
	d := Data{
		Tool:      tool,
		Version:   version,
		Timestamp: at,
		Results:   make([]Entry, 0, len(outcomes)),
	}
	for _, out := range outcomes {
		d.Results = append(d.Results, newEntry(out))
		d.Summary.add(out)
	}
	return d
}

func (s *Summary) add(out object.Outcome) {
	s.Total++
	switch out.Verdict {
	case object.VerdictClean:
		s.Clean++
	case object.VerdictMalicious:
		s.Malicious++
	case object.VerdictUnknown:
		s.Unknown++
	}
	if out.Quarantined {
		s.Quarantined++
	}
	if out.Skipped {
		s.Skipped++
	}
	if out.TagLimitExceeded {
		s.TagLimit++
	}
	if out.Err != nil {
		s.Errors++
	}
}

func newEntry(out object.Outcome) Entry {
	e := Entry{
		EventID:          out.EventID,
		Source:           locationString(out.Source),
		Target:           locationString(out.Target),
		Verdict:          out.Verdict,
		Detail:           out.Detail,
		Quarantined:      out.Quarantined,
		SourceDeleted:    out.SourceDeleted,
		TagsApplied:      out.TagsApplied,
		Skipped:          out.Skipped,
		TagLimitExceeded: out.TagLimitExceeded,
		Changes:          out.Changes,
		DurationMS:       out.Duration.Milliseconds(),
	}
	if out.Destination != nil {
		e.Destination = out.Destination.String()
	}
	if out.QuarantineErr != nil {
		e.QuarantineError = out.QuarantineErr.Error()
	}
	if out.Err != nil {
		e.Error = out.Err.Error()
	}
	return e
}

func locationString(l object.Location) string {
	if l.IsZero() {
		return ""
	}
	return l.String()
}
