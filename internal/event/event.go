// Package event decodes scan-result messages into typed ScanEvents. It
// unwraps the delivery envelopes used by the supported triggers (SNS, SNS over
// SQS, Pub/Sub push, base64 queue bodies) and resolves the object location
// from whichever location fields the scanner populated.
package event

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yairfalse/scantag/internal/fault"
	"github.com/yairfalse/scantag/pkg/object"
)

// CodeMissing is the scan code used when the result omits scanResult.
const CodeMissing = -1

// maxEnvelopeDepth bounds nested envelope unwrapping.
const maxEnvelopeDepth = 4

// ErrMalformed is wrapped by every decoding failure.
var ErrMalformed = errors.New("malformed scan result message")

// Message is the scan-result payload produced by the scanner stage.
type Message struct {
	Timestamp      string          `json:"timestamp"`
	EventID        string          `json:"event_id"`
	FileURL        string          `json:"file_url"`
	BlobURL        string          `json:"blob_url"`
	Container      string          `json:"container"`
	ObjectName     string          `json:"object_name"`
	FileAttributes *Attributes     `json:"file_attributes"`
	BlobAttributes *Attributes     `json:"blob_attributes"`
	ScanningResult *ScanningResult `json:"scanning_result"`
}

// Attributes are object attributes as reported by the different scanners.
type Attributes struct {
	Size          int64  `json:"size"`
	ContentLength int64  `json:"content_length"`
	ETag          string `json:"etag"`
	ContentType   string `json:"content_type"`
	MD5           string `json:"md5_hash"`
}

// ScanningResult is the scanner SDK output.
type ScanningResult struct {
	ScanResult    *int             `json:"scanResult"`
	FoundMalwares []object.Malware `json:"foundMalwares"`
	ScanTimestamp string           `json:"scanTimestamp"`
	FileName      string           `json:"fileName"`
	ScanDuration  json.RawMessage  `json:"scanDuration"`
}

// Decode unwraps body and returns the ScanEvent it carries. Every failure is
// a fault.Configuration error wrapping ErrMalformed.
func Decode(body []byte) (object.ScanEvent, error) {
	msg, err := unwrap(body, 0)
	if err != nil {
		return object.ScanEvent{}, fault.New(fault.Configuration, "decode event", err)
	}

	ev, err := msg.ToScanEvent()
	if err != nil {
		return object.ScanEvent{}, fault.New(fault.Configuration, "decode event", err)
	}
	return ev, nil
}

func unwrap(body []byte, depth int) (Message, error) {
	if depth > maxEnvelopeDepth {
		return Message{}, malformed("envelopes nested too deeply")
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return Message{}, malformed("empty body")
	}

	if body[0] != '{' {
		decoded, err := decodeBase64(string(body))
		if err != nil {
			return Message{}, malformed("body is neither JSON nor base64")
		}
		return unwrap(decoded, depth+1)
	}

	fields, err := parseObject(body)
	if err != nil {
		return Message{}, err
	}

	if inner, ok := envelopeBody(fields); ok {
		return unwrap(inner, depth+1)
	}

	var msg Message
	if err := json.Unmarshal(normalizeQuotes(body), &msg); err != nil {
		return Message{}, malformed(err.Error())
	}
	return msg, nil
}

// parseObject reads the top-level fields of a JSON object, retrying with
// single quotes swapped for double quotes. Some scanners publish Python
// reprs instead of JSON.
func parseObject(body []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	err := json.Unmarshal(body, &fields)
	if err == nil {
		return fields, nil
	}
	if !bytes.ContainsRune(body, '\'') {
		return nil, malformed(err.Error())
	}
	if err := json.Unmarshal(normalizeQuotes(body), &fields); err != nil {
		return nil, malformed(err.Error())
	}
	return fields, nil
}

func normalizeQuotes(body []byte) []byte {
	if json.Valid(body) {
		return body
	}
	return bytes.ReplaceAll(body, []byte("'"), []byte(`"`))
}

type snsRecord struct {
	Sns struct {
		Message string `json:"Message"`
	} `json:"Sns"`
}

type pubsubMessage struct {
	Data string `json:"data"`
}

// envelopeBody extracts the inner payload of a known delivery envelope.
func envelopeBody(fields map[string]json.RawMessage) ([]byte, bool) {
	if raw, ok := fields["Records"]; ok {
		var records []snsRecord
		if err := json.Unmarshal(raw, &records); err == nil && len(records) > 0 && records[0].Sns.Message != "" {
			return []byte(records[0].Sns.Message), true
		}
	}

	if raw, ok := fields["Message"]; ok && hasString(fields, "Type", "Notification") {
		var inner string
		if err := json.Unmarshal(raw, &inner); err == nil {
			return []byte(inner), true
		}
	}

	if raw, ok := fields["message"]; ok {
		var push pubsubMessage
		if err := json.Unmarshal(raw, &push); err == nil && push.Data != "" {
			if decoded, err := decodeBase64(push.Data); err == nil {
				return decoded, true
			}
		}
	}

	return nil, false
}

func hasString(fields map[string]json.RawMessage, key, want string) bool {
	var got string
	if err := json.Unmarshal(fields[key], &got); err != nil {
		return false
	}
	return got == want
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if out, err := base64.StdEncoding.DecodeString(s); err == nil {
		return out, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

// ToScanEvent validates the message and converts it.
func (m Message) ToScanEvent() (object.ScanEvent, error) {
	if m.ScanningResult == nil {
		return object.ScanEvent{}, malformed("missing scanning_result")
	}
	sr := m.ScanningResult

	loc, err := m.Location()
	if err != nil {
		return object.ScanEvent{}, err
	}

	ev := object.ScanEvent{
		ID:           m.EventID,
		Location:     loc,
		Code:         CodeMissing,
		Malwares:     sr.FoundMalwares,
		RawTimestamp: sr.ScanTimestamp,
		ScannedAt:    ParseTimestamp(sr.ScanTimestamp),
		Duration:     rawText(sr.ScanDuration),
		FileName:     sr.FileName,
		Attributes:   m.attributes(),
	}
	if sr.ScanResult != nil {
		ev.Code = *sr.ScanResult
	}
	if ev.ID == "" {
		ev.ID = m.derivedID(loc)
	}
	return ev, nil
}

// idNamespace seeds IDs derived for messages without an event_id.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("scantag/event"))

// derivedID is stable across redeliveries of the same message and differs
// between scans of different uploads.
func (m Message) derivedID(loc object.Location) string {
	a := m.attributes()
	parts := []string{loc.String(), m.Timestamp, m.ScanningResult.ScanTimestamp, a.ETag, a.MD5}
	return uuid.NewSHA1(idNamespace, []byte(strings.Join(parts, "\n"))).String()
}

func (m Message) attributes() object.Attributes {
	a := m.FileAttributes
	if a == nil {
		a = m.BlobAttributes
	}
	if a == nil {
		return object.Attributes{}
	}
	size := a.Size
	if size == 0 {
		size = a.ContentLength
	}
	return object.Attributes{
		Size:        size,
		ETag:        strings.Trim(a.ETag, `"`),
		MD5:         a.MD5,
		ContentType: a.ContentType,
	}
}

func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses an ISO-8601 scanner timestamp. Timestamps without a
// zone are taken as UTC. Unparsable input yields the zero time.
func ParseTimestamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func malformed(reason string) error {
	return fmt.Errorf("%w: %s", ErrMalformed, reason)
}
