package service

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"persona-eval/internal/domain"
)

const maxUnknownInReport = 10

// RenderReport serializa una corrida ya agregada como markdown. Nunca se parsea de vuelta.
func RenderReport(artifact domain.RunArtifact, agg domain.Aggregation, cmp *domain.Comparison) string {
	var b strings.Builder
	meta := artifact.Metadata

	b.WriteString("# MPI Assessment Analysis Report\n\n")
	fmt.Fprintf(&b, "**User ID:** %s  \n", meta.UserID)
	fmt.Fprintf(&b, "**Run ID:** %s  \n", meta.RunID)
	if meta.Configuration.Condition != "" {
		fmt.Fprintf(&b, "**Condition:** %s  \n", meta.Configuration.Condition)
	}
	fmt.Fprintf(&b, "**Seed:** %s  \n", domain.OptionalInt(meta.Configuration.Seed))
	fmt.Fprintf(&b, "**Item Order Seed:** %s  \n", domain.OptionalInt(meta.Configuration.ItemOrderSeed))
	fmt.Fprintf(&b, "**Total Items:** %d  \n", agg.Totals.Total)
	fmt.Fprintf(&b, "**Valid Items:** %d  \n", agg.Totals.Valid)
	fmt.Fprintf(&b, "**Unknown Responses:** %d  \n", agg.Totals.Unknown)
	fmt.Fprintf(&b, "**Completion Rate:** %.1f%%\n\n", agg.Totals.CompletionRate*100)

	b.WriteString("## Response Distribution\n\n")
	b.WriteString("| Choice | Count | Percentage |\n")
	b.WriteString("|--------|-------|------------|\n")
	for _, c := range append(append([]domain.Choice{}, domain.Choices...), domain.ChoiceUnknown) {
		count := agg.ChoiceCounts[c]
		pct := 0.0
		if agg.Totals.Total > 0 {
			pct = float64(count) / float64(agg.Totals.Total) * 100
		}
		fmt.Fprintf(&b, "| %s | %d | %.1f%% |\n", c, count, pct)
	}
	b.WriteString("\n")

	b.WriteString("## Trait Summary\n\n")
	b.WriteString("| Trait | Name | Mean | Std | Median | N Items |\n")
	b.WriteString("|-------|------|------|-----|--------|---------|\n")
	for _, code := range domain.TraitOrder {
		s := agg.Traits[code]
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %d |\n",
			code, code.Name(), fmtFloat(s.Mean, 2), fmtFloat(s.Std, 2), fmtFloat(s.Median, 2), s.NItems)
	}
	b.WriteString("\n")

	if cmp != nil {
		b.WriteString("## Persona Comparison\n\n")
		b.WriteString("| Trait | Persona | Measured | Error | Abs Error |\n")
		b.WriteString("|-------|---------|----------|-------|-----------|\n")
		for _, code := range domain.TraitOrder {
			tc, ok := cmp.Traits[code]
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "| %s | %.1f | %.2f | %+.2f | %.2f |\n",
				code, tc.PersonaValue, tc.MeasuredValue, tc.Error, tc.AbsError)
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "**Overall Correlation:** %s  \n", fmtFloat(cmp.Correlation, 3))
		fmt.Fprintf(&b, "**Mean Absolute Error:** %s  \n", fmtFloat(cmp.MAE, 3))
		fmt.Fprintf(&b, "**RMSE:** %s\n\n", fmtFloat(cmp.RMSE, 3))
	}

	q := agg.Quality
	b.WriteString("## Quality Metrics\n\n")
	if q.ExtremeResponseBias.Defined() {
		fmt.Fprintf(&b, "**Extreme Response Bias (A+E):** %.1f%%  \n", float64(q.ExtremeResponseBias)*100)
	} else {
		b.WriteString("**Extreme Response Bias (A+E):** N/A  \n")
	}
	fmt.Fprintf(&b, "**Avg Within-Trait Consistency:** %s  \n", fmtFloat(q.AvgWithinTraitConsistency, 2))
	fmt.Fprintf(&b, "**Response Variability:** %s\n\n", fmtFloat(q.ResponseVariability, 2))

	if len(agg.UnknownItems) > 0 {
		b.WriteString("## Items with Unknown Responses\n\n")
		for i, item := range agg.UnknownItems {
			if i == maxUnknownInReport {
				fmt.Fprintf(&b, "... and %d more\n", len(agg.UnknownItems)-maxUnknownInReport)
				break
			}
			detail := item.RawOutput
			if item.Error != "" {
				detail = "error: " + item.Error
			}
			fmt.Fprintf(&b, "- **%s**: %q -> %q\n", item.LabelRaw, item.ItemText, detail)
		}
		b.WriteString("\n")
	}

	return b.String()
}

func fmtFloat(f domain.Float, prec int) string {
	if !f.Defined() {
		return "N/A"
	}
	return fmt.Sprintf("%.*f", prec, float64(f))
}

var (
	markdownOnce sync.Once
	markdown     goldmark.Markdown
)

func markdownRenderer() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return markdown
}

// RenderReportHTML convierte el markdown de un reporte a HTML (tablas GFM incluidas).
func RenderReportHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := markdownRenderer().Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("render report html: %w", err)
	}
	return buf.String(), nil
}
