package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"persona-eval/internal/service"
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Rebuild the summary table from the run artifacts",
	Long:  "Scans runs/<condition>/*.json, recomputes every row the way the experiment does and rewrites the summary table atomically.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		runsDir, _ := cmd.Flags().GetString("runs")
		out, _ := cmd.Flags().GetString("out")
		xlsxPath, _ := cmd.Flags().GetString("xlsx")
		runsDir = orDefault(runsDir, cfg.RunsDir)
		out = summaryPath(out, runsDir)

		svc := service.NewSummaryService(logger)
		rows, err := svc.Scan(cmd.Context(), runsDir)
		if err != nil {
			return eris.Wrap(err, "summarize")
		}
		if err := svc.Write(rows, out, xlsxPath); err != nil {
			return eris.Wrap(err, "summarize")
		}

		fmt.Fprintf(os.Stdout, "%d rows -> %s\n", len(rows), out)
		if xlsxPath != "" {
			fmt.Fprintf(os.Stdout, "xlsx -> %s\n", xlsxPath)
		}
		return nil
	},
}

func init() {
	f := summarizeCmd.Flags()
	f.String("runs", "", "runs directory (default RUNS_DIR)")
	f.String("out", "", "summary table path (default <runs>/summary.csv)")
	f.String("xlsx", "", "also export the table to this .xlsx file")
}
