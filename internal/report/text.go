package report

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/yairfalse/scantag/pkg/object"
)

// TextReporter generates human-readable text reports
type TextReporter struct {
	writer io.Writer
}

// NewTextReporter creates a new text reporter
func NewTextReporter(w io.Writer) *TextReporter {
	return &TextReporter{writer: w}
}

// Generate generates a text report
func (r *TextReporter) Generate(data Data) error {
	fmt.Fprintf(r.writer, "scantag %s\n", data.Version)
	fmt.Fprintf(r.writer, "Processed: %s\n\n", data.Timestamp.UTC().Format("2006-01-02 15:04:05"))

	for _, e := range data.Results {
		r.printEntry(e)
	}

	r.printSummary(data.Summary)
	return nil
}

func (r *TextReporter) printEntry(e Entry) {
	fmt.Fprintf(r.writer, "%s %s\n", verdictLabel(e), e.Source)
	if e.EventID != "" {
		fmt.Fprintf(r.writer, "  event:       %s\n", e.EventID)
	}
	if e.Detail != "" {
		fmt.Fprintf(r.writer, "  detail:      %s\n", e.Detail)
	}
	if e.Destination != "" {
		fmt.Fprintf(r.writer, "  quarantine:  %s", e.Destination)
		if e.SourceDeleted {
			fmt.Fprintf(r.writer, " (source deleted)")
		}
		fmt.Fprintf(r.writer, "\n")
	}
	if e.QuarantineError != "" {
		fmt.Fprintf(r.writer, "  %s %s\n", color.YellowString("quarantine failed:"), e.QuarantineError)
	}
	switch {
	case e.TagLimitExceeded:
		fmt.Fprintf(r.writer, "  %s\n", color.YellowString("tags left untouched: tag limit exceeded"))
	case e.TagsApplied:
		fmt.Fprintf(r.writer, "  tagged:      %s (%d changes)\n", e.Target, len(e.Changes))
	}
	for _, c := range e.Changes {
		fmt.Fprintf(r.writer, "    %s\n", changeLine(c))
	}
	if e.Error != "" {
		fmt.Fprintf(r.writer, "  %s %s\n", color.RedString("error:"), e.Error)
	}
	fmt.Fprintf(r.writer, "\n")
}

func verdictLabel(e Entry) string {
	switch {
	case e.Error != "":
		return color.RedString("[ERROR]")
	case e.Verdict == object.VerdictMalicious:
		return color.RedString("[MALICIOUS]")
	case e.Verdict == object.VerdictClean:
		return color.GreenString("[CLEAN]")
	default:
		return color.YellowString("[UNKNOWN]")
	}
}

func changeLine(c object.TagChange) string {
	switch c.Type {
	case object.ChangeAdded:
		return color.GreenString("+ %s=%s", c.Key, c.Current)
	case object.ChangeRemoved:
		return color.RedString("- %s=%s", c.Key, c.Previous)
	default:
		return color.CyanString("~ %s: %s -> %s", c.Key, c.Previous, c.Current)
	}
}

func (r *TextReporter) printSummary(s Summary) {
	fmt.Fprintf(r.writer, "Summary\n")
	fmt.Fprintf(r.writer, "-------\n")
	fmt.Fprintf(r.writer, "Total: %d\n", s.Total)
	fmt.Fprintf(r.writer, "Clean: %d\n", s.Clean)
	if s.Malicious > 0 {
		fmt.Fprintf(r.writer, "%s\n", color.RedString("Malicious: %d", s.Malicious))
	} else {
		fmt.Fprintf(r.writer, "Malicious: 0\n")
	}
	if s.Unknown > 0 {
		fmt.Fprintf(r.writer, "%s\n", color.YellowString("Unknown: %d", s.Unknown))
	}
	if s.Quarantined > 0 {
		fmt.Fprintf(r.writer, "Quarantined: %d\n", s.Quarantined)
	}
	if s.Skipped > 0 {
		fmt.Fprintf(r.writer, "Skipped: %d\n", s.Skipped)
	}
	if s.TagLimit > 0 {
		fmt.Fprintf(r.writer, "%s\n", color.YellowString("Tag limit exceeded: %d", s.TagLimit))
	}
	if s.Errors > 0 {
		fmt.Fprintf(r.writer, "%s\n", color.RedString("Errors: %d", s.Errors))
	}
}
