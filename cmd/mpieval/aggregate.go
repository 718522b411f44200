package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tidwall/jsonc"

	"persona-eval/internal/domain"
	"persona-eval/internal/repository"
	"persona-eval/internal/service"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate <artifact.json>",
	Short: "Aggregate a run artifact and write its markdown report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		personaPath, _ := cmd.Flags().GetString("persona")
		out, _ := cmd.Flags().GetString("out")
		asJSON, _ := cmd.Flags().GetBool("json")

		artifact, err := repository.LoadArtifact(args[0])
		if err != nil {
			return eris.Wrap(err, "aggregate")
		}

		target := artifact.Metadata.Configuration.Persona
		if personaPath != "" {
			target, err = loadPersonaFile(personaPath)
			if err != nil {
				return err
			}
		}

		agg := service.Aggregate(artifact)
		var cmp *domain.Comparison
		if len(target) > 0 {
			c := service.Compare(agg, target)
			cmp = &c
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Aggregation domain.Aggregation `json:"aggregation"`
				Comparison  *domain.Comparison `json:"comparison,omitempty"`
			}{agg, cmp})
		}

		reportPath := orDefault(out, repository.ReportPath(args[0]))
		if err := os.WriteFile(reportPath, []byte(service.RenderReport(artifact, agg, cmp)), 0o644); err != nil {
			return eris.Wrap(err, "write report")
		}
		fmt.Fprintf(os.Stdout, "report: %s\n", reportPath)
		return nil
	},
}

// loadPersonaFile lee un vector de persona en JSON (se admiten comentarios y comas finales).
func loadPersonaFile(path string) (domain.PersonaVector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "read persona file")
	}
	var raw map[string]any
	if err := json.Unmarshal(jsonc.ToJSON(data), &raw); err != nil {
		return nil, eris.Wrapf(err, "parse persona file %s", path)
	}
	// se acepta tambien la respuesta del persona store tal cual ({"data": {...}})
	if nested, ok := raw["data"].(map[string]any); ok {
		raw = nested
	}
	p := domain.NormalizePersona(raw)
	if len(p) == 0 {
		return nil, eris.Errorf("persona file %s has no trait values", path)
	}
	return p, nil
}

func init() {
	f := aggregateCmd.Flags()
	f.String("persona", "", "persona JSON file to compare against (default: persona stored in the artifact)")
	f.String("out", "", "report path (default: next to the artifact)")
	f.Bool("json", false, "print aggregation and comparison as JSON instead of writing the report")
}
