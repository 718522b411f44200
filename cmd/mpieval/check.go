package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"persona-eval/internal/config"
	"persona-eval/internal/domain"
	"persona-eval/internal/service"
)

const (
	colorGreen = "\033[32m"
	colorRed   = "\033[31m"
	colorReset = "\033[0m"
)

var errChecksFailed = eris.New("validation checks failed")

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the summary table against the quality gates",
	Long:  "Evaluates monotonicity, unknown rate and sensitivity gates. Exits 0 when every gate passes and 1 otherwise.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		runsDir, _ := cmd.Flags().GetString("runs")
		summary, _ := cmd.Flags().GetString("summary")
		planPath, _ := cmd.Flags().GetString("plan")
		runsDir = orDefault(runsDir, cfg.RunsDir)

		plan, err := config.LoadPlan(orDefault(planPath, cfg.PlanPath))
		if err != nil {
			return eris.Wrap(err, "check")
		}
		rows, err := service.ReadCheckRows(summaryPath(summary, runsDir))
		if err != nil {
			return eris.Wrap(err, "check")
		}

		verdict := service.NewChecksService(service.DefaultThresholds, logger).Run(rows, plan, runsDir)
		printVerdict(os.Stdout, verdict, isatty.IsTerminal(os.Stdout.Fd()))
		if !verdict.Passed {
			return errChecksFailed
		}
		return nil
	},
}

func printVerdict(w io.Writer, verdict domain.Verdict, color bool) {
	paint := func(c, s string) string {
		if !color {
			return s
		}
		return c + s + colorReset
	}
	for _, c := range verdict.Checks {
		status := paint(colorGreen, "PASS")
		if !c.Passed {
			status = paint(colorRed, "FAIL")
		}
		fmt.Fprintf(w, "[%s] %s: %s\n", status, c.Name, c.Message)
	}
	if verdict.Passed {
		fmt.Fprintln(w, paint(colorGreen, "all checks passed"))
		return
	}
	fmt.Fprintln(w, paint(colorRed, "some checks failed"))
}

func init() {
	f := checkCmd.Flags()
	f.String("runs", "", "runs directory (default RUNS_DIR)")
	f.String("summary", "", "summary table path (default <runs>/summary.csv)")
	f.String("plan", "", "experiment plan YAML (default PLAN_PATH, or the built-in plan)")
}
