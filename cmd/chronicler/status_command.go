package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"chronicler/internal/checkpoint"
	"chronicler/internal/config"
)

type windowJSON struct {
	Index        int    `json:"index"`
	WindowID     string `json:"window_id"`
	Start        string `json:"start"`
	End          string `json:"end"`
	Messages     int    `json:"messages"`
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
	Attempts     int    `json:"attempts"`
	ArtifactPath string `json:"artifact_path,omitempty"`
}

type runJSON struct {
	RunID     string `json:"run_id"`
	Source    string `json:"source"`
	Windows   int    `json:"windows"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Pending   int    `json:"pending"`
	UpdatedAt string `json:"updated_at"`
}

var (
	runColumns = []column{
		col("Run"), col("Source"), numCol("Windows"), numCol("Succeeded"),
		numCol("Failed"), numCol("Pending"), col("Updated"),
	}
	windowColumns = []column{
		numCol("#"), col("Window"), col("Start"), col("End"), numCol("Messages"),
		col("Status"), col("Reason"), numCol("Attempts"), col("Artifact"),
	}
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var runID string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show runs, or the windows of one run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *checkpoint.Store) error {
				if strings.TrimSpace(runID) == "" {
					return printRuns(cmd, store, asJSON)
				}
				return printWindows(cmd, store, strings.TrimSpace(runID), asJSON)
			})
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "Show the windows of this run")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printRuns(cmd *cobra.Command, store *checkpoint.Store, asJSON bool) error {
	runs, err := store.ListRuns(cmd.Context())
	if err != nil {
		return err
	}
	if asJSON {
		out := make([]runJSON, 0, len(runs))
		for _, r := range runs {
			out = append(out, runJSON{
				RunID:     r.RunID,
				Source:    r.Source,
				Windows:   r.Windows,
				Succeeded: r.Succeeded,
				Failed:    r.Failed,
				Pending:   r.Pending,
				UpdatedAt: r.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
			})
		}
		return writeJSON(cmd, out)
	}

	w := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return nil
	}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.RunID,
			dash(r.Source),
			strconv.Itoa(r.Windows),
			strconv.Itoa(r.Succeeded),
			strconv.Itoa(r.Failed),
			strconv.Itoa(r.Pending),
			formatTime(r.UpdatedAt.Local()),
		})
	}
	fmt.Fprintln(w, renderTable(runColumns, rows))
	return nil
}

func printWindows(cmd *cobra.Command, store *checkpoint.Store, runID string, asJSON bool) error {
	cp, err := store.LoadCheckpoint(cmd.Context(), runID)
	if err != nil {
		return err
	}
	records, err := store.ListWindows(cmd.Context(), runID)
	if err != nil {
		return err
	}
	if asJSON {
		out := make([]windowJSON, 0, len(records))
		for _, rec := range records {
			out = append(out, windowJSON{
				Index:        rec.Index,
				WindowID:     rec.ID,
				Start:        rec.Start.Format("2006-01-02T15:04:05Z07:00"),
				End:          rec.End.Format("2006-01-02T15:04:05Z07:00"),
				Messages:     rec.MessageCount,
				Status:       string(rec.Status),
				Reason:       rec.Reason,
				Attempts:     rec.Attempts,
				ArtifactPath: rec.ArtifactPath,
			})
		}
		return writeJSON(cmd, out)
	}

	w := cmd.OutOrStdout()
	color := shouldColorize(w)
	fmt.Fprintf(w, "Run %s (%s)\n", cp.RunID, dash(cp.Source))
	if len(records) == 0 {
		fmt.Fprintln(w, "No windows registered")
		return nil
	}
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			strconv.Itoa(rec.Index),
			rec.ID,
			formatTime(rec.Start),
			formatTime(rec.End),
			strconv.Itoa(rec.MessageCount),
			colorize(string(rec.Status), color),
			dash(rec.Reason),
			strconv.Itoa(rec.Attempts),
			dash(rec.ArtifactPath),
		})
	}
	fmt.Fprintln(w, renderTable(windowColumns, rows))
	return nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
