package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"persona-eval/internal/dialog"
	"persona-eval/internal/domain"
	"persona-eval/internal/persona"
	"persona-eval/internal/repository"
	"persona-eval/internal/service"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the inventory once against a single user id",
	Long:  "Sends every inventory item to the dialog endpoint for one user, writes the run artifact and its markdown report, and optionally compares with the persona stored for that user.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		userID, _ := cmd.Flags().GetString("user")
		invPath, _ := cmd.Flags().GetString("inventory")
		runsDir, _ := cmd.Flags().GetString("runs")
		compare, _ := cmd.Flags().GetBool("compare")
		noRetry, _ := cmd.Flags().GetBool("no-retry")
		runsDir = orDefault(runsDir, cfg.RunsDir)

		seed, err := optionalIntFlag(cmd, "seed")
		if err != nil {
			return err
		}
		orderSeed, err := optionalIntFlag(cmd, "order-seed")
		if err != nil {
			return err
		}

		inv, err := repository.LoadInventory(orDefault(invPath, cfg.InventoryPath))
		if err != nil {
			return eris.Wrap(err, "run")
		}

		var target domain.PersonaVector
		if compare {
			store := persona.NewHTTPStore(cfg.PersonaStoreURL, cfg.PersonaTimeout, logger)
			target, err = store.Get(ctx, userID)
			if err != nil {
				return eris.Wrap(err, "read persona")
			}
		}

		client := dialog.NewHTTPClient(cfg.DialogURL, cfg.DialogTimeout, logger)
		reg := prometheus.NewRegistry()
		defer flushRunnerMetrics(reg, runsDir)
		runner := service.NewAssessmentService(client, cfg.ItemDelay, service.NewRunnerMetrics(reg), logger)
		artifact, err := runner.Run(ctx, inv.Items, service.RunOptions{
			UserID:               userID,
			Seed:                 seed,
			StrictOutput:         cfg.StrictOutput,
			FormatID:             cfg.FormatID,
			ItemOrderSeed:        orderSeed,
			RetryOnUnknown:       cfg.RetryOnUnknown && !noRetry,
			InventoryPath:        inv.Path,
			InventoryFingerprint: inv.Fingerprint,
			Persona:              target,
		})
		if err != nil {
			return eris.Wrap(err, "run")
		}

		store := repository.NewArtifactStore(runsDir)
		path, err := store.Save(userID, domain.RunTag(userID, seed, orderSeed), artifact)
		if err != nil {
			return eris.Wrap(err, "save artifact")
		}

		agg := service.Aggregate(artifact)
		var cmp *domain.Comparison
		if len(target) > 0 {
			c := service.Compare(agg, target)
			cmp = &c
		}
		reportPath, err := store.SaveReport(path, service.RenderReport(artifact, agg, cmp))
		if err != nil {
			logger.Warn("report not written", zap.Error(err))
		}

		fmt.Fprintf(os.Stdout, "run %s: %d/%d valid (%.1f%%)\n",
			artifact.Metadata.RunID, agg.Totals.Valid, agg.Totals.Total, agg.Totals.CompletionRate*100)
		for _, code := range domain.TraitOrder {
			s := agg.Traits[code]
			fmt.Fprintf(os.Stdout, "  %s %-17s mean=%s n=%d\n", code, code.Name(), repository.FormatFloat(s.Mean), s.NItems)
		}
		if cmp != nil {
			fmt.Fprintf(os.Stdout, "  rmse=%s correlation=%s\n", repository.FormatFloat(cmp.RMSE), repository.FormatFloat(cmp.Correlation))
		}
		fmt.Fprintf(os.Stdout, "artifact: %s\n", path)
		if reportPath != "" {
			fmt.Fprintf(os.Stdout, "report:   %s\n", reportPath)
		}
		return nil
	},
}

func init() {
	f := runCmd.Flags()
	f.String("user", "", "user id sent to the dialog endpoint")
	f.String("seed", "", "generation seed (empty or None for no seed)")
	f.String("order-seed", "", "item order seed (empty keeps inventory order)")
	f.String("inventory", "", "inventory CSV (default INVENTORY_PATH)")
	f.String("runs", "", "runs directory (default RUNS_DIR)")
	f.Bool("compare", false, "compare against the persona stored for the user")
	f.Bool("no-retry", false, "do not retry items answered with an unknown choice")
	_ = runCmd.MarkFlagRequired("user")
}
