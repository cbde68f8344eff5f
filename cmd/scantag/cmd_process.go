package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/scantag/internal/daemon"
	"github.com/yairfalse/scantag/internal/event"
	"github.com/yairfalse/scantag/internal/report"
	"github.com/yairfalse/scantag/pkg/object"
)

var processOutput string

// processCmd represents the process command
var processCmd = &cobra.Command{
	Use:   "process [file|-]...",
	Short: "Apply scan result messages read from files or stdin",
	Long: `Apply one scan result message per argument and print a report.

Each file holds one message in any accepted shape: a bare scan result, an
SNS notification, a Pub/Sub push body, or a base64 queue payload. With no
arguments, or "-", the message is read from stdin.`,
	Example: `  scantag process result.json
  scantag process -c scantag.toml -o json a.json b.json
  cat result.json | scantag process -`,
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)
	processCmd.Flags().StringVarP(&processOutput, "output", "o", "text", "Report format (text, json)")
}

func runProcess(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx := cmd.Context()

	bodies, err := readMessages(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	st, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	proc, err := buildProcessor(cfg, st)
	if err != nil {
		return err
	}

	outcomes := processMessages(ctx, proc, bodies)
	data := report.NewData("scantag", version, time.Now(), outcomes)
	if err := writeReport(cmd.OutOrStdout(), processOutput, data); err != nil {
		return err
	}
	if data.Summary.Errors > 0 {
		return fmt.Errorf("%d of %d messages failed", data.Summary.Errors, data.Summary.Total)
	}
	return nil
}

func readMessages(stdin io.Reader, args []string) ([][]byte, error) {
	if len(args) == 0 {
		args = []string{"-"}
	}
	bodies := make([][]byte, 0, len(args))
	for _, arg := range args {
		var (
			body []byte
			err  error
		)
		if arg == "-" {
			body, err = io.ReadAll(stdin)
		} else {
			body, err = os.ReadFile(arg)
		}
		if err != nil {
			return nil, fmt.Errorf("read message %s: %w", arg, err)
		}
		bodies = append(bodies, body)
	}
	return bodies, nil
}

// processMessages applies each body in order. Failures are carried on the
// outcomes so one bad message does not stop the rest.
func processMessages(ctx context.Context, h daemon.Handler, bodies [][]byte) []object.Outcome {
	outcomes := make([]object.Outcome, 0, len(bodies))
	for i, body := range bodies {
		ev, err := event.Decode(body)
		if err != nil {
			outcomes = append(outcomes, object.Outcome{EventID: fmt.Sprintf("message-%d", i+1), Err: err})
			continue
		}
		out, err := h.Process(ctx, ev)
		out.Err = err
		outcomes = append(outcomes, out)
	}
	return outcomes
}

func writeReport(w io.Writer, format string, data report.Data) error {
	switch format {
	case "json":
		return report.NewJSONReporter(w).Generate(data)
	case "text", "":
		return report.NewTextReporter(w).Generate(data)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
