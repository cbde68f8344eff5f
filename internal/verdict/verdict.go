// Package verdict classifies raw scanner results.
package verdict

import (
	"fmt"
	"strings"

	"github.com/yairfalse/scantag/internal/sanitize"
	"github.com/yairfalse/scantag/pkg/object"
)

// Placeholder is the detail text used when there is nothing to report.
const Placeholder = "-"

// Scanner result codes.
const (
	CodeClean     = 0
	CodeMalicious = 1
)

// Classify maps a scan code and detections to a verdict and detail message.
// It is total over all inputs.
func Classify(code int, malwares []object.Malware) (object.Verdict, string) {
	switch {
	case code == CodeClean && len(malwares) == 0:
		return object.VerdictClean, Placeholder
	case code == CodeMalicious || len(malwares) > 0:
		return object.VerdictMalicious, maliciousDetail(malwares)
	default:
		detail := fmt.Sprintf("Scan code: %d, Malwares: %d", code, len(malwares))
		return object.VerdictUnknown, sanitize.Value(detail)
	}
}

// ClassifyEvent is Classify applied to a ScanEvent.
func ClassifyEvent(e object.ScanEvent) (object.Verdict, string) {
	return Classify(e.Code, e.Malwares)
}

func maliciousDetail(malwares []object.Malware) string {
	if len(malwares) == 0 {
		return Placeholder
	}
	names := object.ScanEvent{Malwares: malwares}.MalwareNames()
	return strings.Join(names, ", ")
}
