package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/sheetimport/internal/core"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// progressLine formats a snapshot for the single progress line.
func progressLine(p core.RunProgress) string {
	if p.TotalRecords == 0 {
		return fmt.Sprintf("%-10s", p.Phase)
	}
	return fmt.Sprintf("%-10s %3d%%  %d/%d records  batch %d/%d  imported %d  skipped %d  failed %d",
		p.Phase, p.Percent(), p.RecordIndex, p.TotalRecords,
		p.BatchIndex+1, p.TotalBatches, p.Imported, p.Skipped, p.Failed)
}

func renderSummary(res *core.RunResult) string {
	rows := [][]string{
		{"Run", res.RunID},
		{"Status", string(res.Status)},
		{"Content type", res.ContentTypeID},
		{"Range", res.Range},
		{"Records", strconv.Itoa(res.TotalRecords)},
		{"Imported", strconv.Itoa(res.Imported)},
		{"Created", strconv.Itoa(res.Created)},
		{"Updated", strconv.Itoa(res.Updated)},
		{"Skipped", strconv.Itoa(res.Skipped)},
		{"Failed", strconv.Itoa(len(res.Failures))},
		{"Duration", (time.Duration(res.DurationMS) * time.Millisecond).String()},
	}
	if res.DryRun {
		rows = append(rows, []string{"Dry run", "yes"})
	}
	if res.Error != "" {
		rows = append(rows, []string{"Error", res.Error})
	}
	return renderTable([]string{"Field", "Value"}, rows, nil)
}

func renderFailures(failures []core.RecordFailure) string {
	rows := make([][]string, 0, len(failures))
	for _, f := range failures {
		rows = append(rows, []string{strconv.Itoa(f.Row), f.Slug, f.Reason})
	}
	return renderTable([]string{"Row", "Slug", "Error"}, rows, []columnAlignment{alignRight})
}

func renderPreviews(previews []core.RecordPreview) (string, error) {
	rows := make([][]string, 0, len(previews))
	for _, p := range previews {
		fields, err := json.Marshal(p.Fields)
		if err != nil {
			return "", err
		}
		rows = append(rows, []string{strconv.Itoa(p.Row), p.Slug, p.EntryID, string(fields)})
	}
	return renderTable([]string{"Row", "Slug", "Entry", "Fields"}, rows, []columnAlignment{alignRight}), nil
}

func renderHistory(runs []core.RunRecord) string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			shortID(r.ID),
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.ContentTypeID,
			string(r.Status),
			strconv.Itoa(r.TotalRecords),
			strconv.Itoa(r.Imported),
			strconv.Itoa(r.Skipped),
			strconv.Itoa(len(r.Failures)),
		})
	}
	return renderTable(
		[]string{"Run", "Started", "Type", "Status", "Records", "Imported", "Skipped", "Failed"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
	)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
