package cmd

import (
	"fmt"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/uiblocks-harvester/internal/extract"
	"github.com/JakeFAU/uiblocks-harvester/internal/logging"
)

func newExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <components-dir>",
		Short: "Strips every record stream in a directory to metadata, in place",
		Long: `Rewrites each *.ndjson record stream under <components-dir> so that only
catalog metadata remains. Stripping is idempotent; already-stripped streams
are rewritten unchanged.`,
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"app": "none"},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(true)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			stats, err := extract.NewDriver(logger).Run(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("extract %s: %w", args[0], err)
			}

			files := make([]string, 0, len(stats.PerFile))
			for f := range stats.PerFile {
				files = append(files, f)
			}
			sort.Strings(files)
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Stream", "Records"})
			for _, f := range files {
				t.AppendRow(table.Row{f, stats.PerFile[f]})
			}
			t.AppendFooter(table.Row{"Total", stats.Records})
			t.SetStyle(table.StyleRounded)
			t.Render()
			return nil
		},
	}
}
