package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/JakeFAU/uiblocks-harvester/internal/pipeline"
)

var phases = []string{
	pipeline.PhaseDiscover,
	pipeline.PhaseKit,
	pipeline.PhaseFormat,
	pipeline.PhaseMerge,
	pipeline.PhaseFlatten,
	pipeline.PhaseIndex,
	pipeline.PhaseExtract,
	pipeline.PhaseManifest,
	pipeline.PhasePublish,
}

func writeSummary(w io.Writer, sum pipeline.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Run " + sum.Label)
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"Run ID", sum.RunID},
		{"Run dir", sum.RunDir},
		{"Resumed", sum.Resumed},
		{"Addresses", sum.Addresses},
		{"Fetched", sum.Fetched},
		{"Failed", sum.Failed},
		{"Merged", sum.Merged},
		{"Conflicts", sum.Conflicts},
		{"Flattened", sum.Flattened},
		{"Extracted", sum.Extracted},
		{"Published", sum.Published},
	})
	if len(sum.SkippedVariants) > 0 {
		t.AppendRow(table.Row{"Skipped variants", strings.Join(sum.SkippedVariants, ", ")})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()

	u := table.NewWriter()
	u.SetOutputMirror(w)
	u.AppendHeader(table.Row{"Phase", "Done", "Skipped", "Incomplete", "Failed"})
	for _, p := range phases {
		done := sum.Count(p, pipeline.UnitDone)
		skipped := sum.Count(p, pipeline.UnitSkipped)
		incomplete := sum.Count(p, pipeline.UnitIncomplete)
		failed := sum.Count(p, pipeline.UnitFailed)
		if done+skipped+incomplete+failed == 0 {
			continue
		}
		u.AppendRow(table.Row{p, done, skipped, incomplete, failed})
	}
	u.SetStyle(table.StyleRounded)
	u.Render()

	for _, warning := range sum.Warnings() {
		fmt.Fprintln(w, "warning:", warning)
	}
}
