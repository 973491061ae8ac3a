package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"chronicler/internal/pipeline"
	"chronicler/internal/window"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const timeLayout = "2006-01-02 15:04"

type statusKind int

const (
	statusOK statusKind = iota
	statusError
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := "OK"
	color := ansiGreen
	if kind == statusError {
		statusText = "ERROR"
		color = ansiRed
	}
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, message)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		return color + base + ansiReset
	}
	return base
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func colorFor(label string) string {
	switch label {
	case string(pipeline.OutcomeSucceeded):
		return ansiGreen
	case string(pipeline.OutcomeResumed):
		return ansiBlue
	case string(pipeline.OutcomePending), string(window.StatusRunning), string(window.StatusQuotaBlocked):
		return ansiYellow
	case string(pipeline.OutcomeFailed):
		return ansiRed
	default:
		return ""
	}
}

func colorize(label string, enabled bool) string {
	if !enabled {
		return label
	}
	if color := colorFor(label); color != "" {
		return color + label + ansiReset
	}
	return label
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Format(timeLayout)
}

func dash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func printRunResults(cmd *cobra.Command, results []pipeline.Result) {
	out := cmd.OutOrStdout()
	color := shouldColorize(out)
	for i, res := range results {
		if i > 0 {
			fmt.Fprintln(out)
		}
		if res.Report == nil {
			fmt.Fprintf(out, "%s: %v\n", res.Request.SourceName, res.Err)
			continue
		}
		fmt.Fprint(out, renderReport(res.Report, color))
	}
}

func renderReport(report *pipeline.Report, color bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s (%s)\n", report.RunID, report.Source)

	rows := make([][]string, 0, len(report.Windows))
	for _, w := range report.Windows {
		attempts := "-"
		if w.Attempts > 0 {
			attempts = strconv.Itoa(w.Attempts)
		}
		rows = append(rows, []string{
			strconv.Itoa(w.Index),
			w.WindowID,
			formatTime(w.Start),
			strconv.Itoa(w.Messages),
			colorize(string(w.Outcome), color),
			dash(w.Reason),
			attempts,
		})
	}
	if len(rows) > 0 {
		b.WriteString(renderTable([]column{
			numCol("#"), col("Window"), col("Start"), numCol("Messages"),
			col("Outcome"), col("Reason"), numCol("Attempts"),
		}, rows))
		b.WriteString("\n")
	} else {
		b.WriteString("No messages in range\n")
	}

	fmt.Fprintf(&b, "Succeeded: %d  Resumed: %d  Failed: %d  Pending: %d\n",
		report.Count(pipeline.OutcomeSucceeded),
		report.Count(pipeline.OutcomeResumed),
		report.Count(pipeline.OutcomeFailed),
		report.Count(pipeline.OutcomePending),
	)
	for _, q := range report.Quota {
		if q.Unlimited() {
			continue
		}
		fmt.Fprintf(&b, "Quota %s: %d of %d calls used this minute\n", q.Subsystem, q.CallsMade, q.LimitPerMinute)
	}
	if e := report.Enrichment; e.Hits+e.Fetches+e.Failures > 0 {
		fmt.Fprintf(&b, "Enrichment: %d fetched, %d from cache, %d failed\n", e.Fetches, e.Hits, e.Failures)
	}
	switch {
	case report.Aborted:
		fmt.Fprintf(&b, "Run aborted: %s\n", report.HaltReason)
	case report.Halted:
		fmt.Fprintf(&b, "Run halted (%s); rerun the same command to resume\n", report.HaltReason)
	case !report.Complete():
		b.WriteString("Some windows failed; rerun the same command to retry them\n")
	}
	return b.String()
}
