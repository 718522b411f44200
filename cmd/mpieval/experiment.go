package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"persona-eval/internal/config"
	"persona-eval/internal/dialog"
	"persona-eval/internal/domain"
	"persona-eval/internal/persona"
	"persona-eval/internal/repository"
	"persona-eval/internal/service"
)

var experimentCmd = &cobra.Command{
	Use:   "experiment",
	Short: "Run the condition x seed x order-seed matrix",
	Long:  "Configures each condition's persona, runs the inventory for every seed and order seed, appends one summary row per combination and fits the sensitivity family.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		planPath, _ := cmd.Flags().GetString("plan")
		invPath, _ := cmd.Flags().GetString("inventory")
		runsDir, _ := cmd.Flags().GetString("runs")
		summary, _ := cmd.Flags().GetString("summary")
		runsDir = orDefault(runsDir, cfg.RunsDir)
		summary = summaryPath(summary, runsDir)

		plan, err := config.LoadPlan(orDefault(planPath, cfg.PlanPath))
		if err != nil {
			return eris.Wrap(err, "experiment")
		}
		inv, err := repository.LoadInventory(orDefault(invPath, cfg.InventoryPath))
		if err != nil {
			return eris.Wrap(err, "experiment")
		}

		cache, closeCache := newBaselineCache(ctx)
		defer closeCache()

		var mirror repository.SummaryMirror
		if repo, pool := newSummaryMirror(ctx); repo != nil {
			defer pool.Close()
			mirror = repo
		}

		client := dialog.NewHTTPClient(cfg.DialogURL, cfg.DialogTimeout, logger)
		reg := prometheus.NewRegistry()
		defer flushRunnerMetrics(reg, runsDir)
		runner := service.NewAssessmentService(client, cfg.ItemDelay, service.NewRunnerMetrics(reg), logger)
		svc := service.NewExperimentService(
			persona.NewHTTPStore(cfg.PersonaStoreURL, cfg.PersonaTimeout, logger),
			runner,
			repository.NewArtifactStore(runsDir),
			cache,
			mirror,
			logger,
		)

		report, err := svc.Run(ctx, plan, service.ExperimentOptions{
			Inventory:      inv,
			SummaryPath:    summary,
			RunsDir:        runsDir,
			StrictOutput:   cfg.StrictOutput,
			RetryOnUnknown: cfg.RetryOnUnknown,
			FormatID:       cfg.FormatID,
		})
		printExperimentReport(report, summary)
		if err != nil {
			return eris.Wrap(err, "experiment")
		}
		return nil
	},
}

func printExperimentReport(report domain.ExperimentReport, summary string) {
	failed := 0
	for _, row := range report.Rows {
		if row.Status == domain.RunStatusFailed {
			failed++
			fmt.Fprintf(os.Stdout, "FAILED %s: %s\n", domain.RunTag(row.Condition, row.Seed, row.OrderSeed), row.Error)
		}
	}
	fmt.Fprintf(os.Stdout, "experiment %s: %d rows (%d failed) -> %s\n", report.ExperimentID, len(report.Rows), failed, summary)
	if fit := report.Sensitivity; fit != nil {
		fmt.Fprintf(os.Stdout, "sensitivity %s: slope=%s intercept=%s r2=%s (%d points) -> %s\n",
			fit.TargetTrait,
			repository.FormatFloat(fit.Slope),
			repository.FormatFloat(fit.Intercept),
			repository.FormatFloat(fit.R2),
			len(fit.Pairs),
			report.SensitivityPath,
		)
	}
}

func init() {
	f := experimentCmd.Flags()
	f.String("plan", "", "experiment plan YAML (default PLAN_PATH, or the built-in plan)")
	f.String("inventory", "", "inventory CSV (default INVENTORY_PATH)")
	f.String("runs", "", "runs directory (default RUNS_DIR)")
	f.String("summary", "", "summary table path (default <runs>/summary.csv)")
}
