package object

// Verdict is the classification of a scan result.
type Verdict string

const (
	VerdictClean     Verdict = "clean"
	VerdictMalicious Verdict = "malicious"
	VerdictUnknown   Verdict = "unknown"
)

// TagValue is the text written to the scan-result tag.
func (v Verdict) TagValue() string {
	switch v {
	case VerdictClean:
		return "no issues found"
	case VerdictMalicious:
		return "malicious"
	default:
		return "unknown"
	}
}
