// Package object defines the data model shared by the tagging engine.
package object

import (
	"strings"
	"time"
)

// Location identifies an object in a store (bucket or container) at a point in time.
type Location struct {
	Store string `json:"store"` // Bucket or container name
	Key   string `json:"key"`   // Object key or blob path
}

// String renders the location as store/key.
func (l Location) String() string {
	return l.Store + "/" + l.Key
}

// IsZero reports whether the location is unset.
func (l Location) IsZero() bool {
	return l.Store == "" && l.Key == ""
}

// Valid reports whether both parts of the location are present.
func (l Location) Valid() bool {
	return strings.TrimSpace(l.Store) != "" && strings.TrimSpace(l.Key) != ""
}

// Malware describes one detection reported by the scanner.
type Malware struct {
	Name     string `json:"malwareName"`
	FileName string `json:"fileName,omitempty"`
	Engine   string `json:"engine,omitempty"`
}

// Attributes are the object attributes the scanner observed.
type Attributes struct {
	Size        int64  `json:"size,omitempty"`
	ETag        string `json:"etag,omitempty"`
	MD5         string `json:"md5_hash,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// ScanEvent is one scan verdict for one object.
type ScanEvent struct {
	ID           string     `json:"event_id"`
	Location     Location   `json:"location"`
	Code         int        `json:"scan_code"`
	Malwares     []Malware  `json:"found_malwares"`
	ScannedAt    time.Time  `json:"scanned_at"`    // Zero when the scanner timestamp was missing or unparsable
	RawTimestamp string     `json:"raw_timestamp"` // Timestamp text exactly as the scanner sent it
	Duration     string     `json:"duration,omitempty"`
	FileName     string     `json:"file_name,omitempty"`
	Attributes   Attributes `json:"attributes"`
}

// MalwareNames returns the detection names, "unknown" for unnamed entries.
func (e ScanEvent) MalwareNames() []string {
	names := make([]string, 0, len(e.Malwares))
	for _, m := range e.Malwares {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			name = "unknown"
		}
		names = append(names, name)
	}
	return names
}

// QuarantineRecord describes a completed relocation. It is only ever stored
// as tags on the destination object.
type QuarantineRecord struct {
	Source      Location
	Destination Location
	Timestamp   time.Time
	Malwares    []string
	// EventID names the scan event that caused the relocation.
	EventID     string
	// ScannedAt is the scanner's timestamp, zero when it did not report one.
	ScannedAt   time.Time
}

// Outcome is the result of processing one ScanEvent.
type Outcome struct {
	EventID          string
	Source           Location
	Target           Location  // Location that was (or would have been) tagged
	Destination      *Location // Quarantine location, set only when quarantined
	Verdict          Verdict
	Detail           string
	Quarantined      bool
	SourceDeleted    bool
	TagsApplied      bool
	TagLimitExceeded bool
	Skipped          bool        // Filtered out; nothing was read or written
	Changes          []TagChange // Tag entries rewritten on Target
	QuarantineErr    error
	Err              error // Processing error, mirrored from Process's return
	Duration         time.Duration
}
