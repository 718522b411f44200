package repository

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"persona-eval/internal/domain"
)

// ErrSummaryHeader se devuelve cuando la tabla no tiene las columnas esperadas.
var ErrSummaryHeader = errors.New("summary table header mismatch")

// SummaryColumns es el orden fijo de columnas de runs/summary.csv.
var SummaryColumns = []string{
	"condition", "user_id", "seed", "order_seed", "target", "status",
	"mean_O", "mean_C", "mean_E", "mean_A", "mean_N",
	"persona_O", "persona_C", "persona_E", "persona_A", "persona_N",
	"correlation", "mae", "rmse", "leakage",
	"valid_rate", "unk_count", "unk_rate", "extreme_bias", "consistency_std",
	"avg_latency_ms", "total_tokens",
	"results_path", "report_path", "error",
}

// FormatFloat escribe NaN/Inf como "nan".
func FormatFloat(f domain.Float) string {
	if !f.Defined() {
		return "nan"
	}
	return strconv.FormatFloat(float64(f), 'f', -1, 64)
}

// formatLeakage deja la celda vacia cuando no hay leakage definido.
func formatLeakage(f domain.Float) string {
	if !f.Defined() {
		return ""
	}
	return FormatFloat(f)
}

func parseFloat(s string) (domain.Float, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "nan", "none", "null":
		return domain.NaN(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return domain.NaN(), err
	}
	if math.IsInf(v, 0) {
		return domain.NaN(), nil
	}
	return domain.Float(v), nil
}

// SummaryRecord convierte una fila al registro CSV en el orden de SummaryColumns.
func SummaryRecord(row domain.SummaryRow) []string {
	target := "None"
	if row.Target != nil {
		target = string(*row.Target)
	}
	rec := []string{
		row.Condition,
		row.UserID,
		domain.OptionalInt(row.Seed),
		domain.OptionalInt(row.OrderSeed),
		target,
		string(row.Status),
	}
	for _, code := range domain.TraitOrder {
		rec = append(rec, FormatFloat(row.Means.Get(code)))
	}
	for _, code := range domain.TraitOrder {
		rec = append(rec, FormatFloat(row.Persona.Get(code)))
	}
	rec = append(rec,
		FormatFloat(row.Correlation),
		FormatFloat(row.MAE),
		FormatFloat(row.RMSE),
		formatLeakage(row.Leakage),
		FormatFloat(row.ValidRate),
		strconv.Itoa(row.UnkCount),
		FormatFloat(row.UnkRate),
		FormatFloat(row.ExtremeBias),
		FormatFloat(row.ConsistencyStd),
		FormatFloat(row.AvgLatencyMS),
		strconv.Itoa(row.TotalTokens),
		row.ResultsPath,
		row.ReportPath,
		row.Error,
	)
	return rec
}

func parseSummaryRecord(rec []string) (domain.SummaryRow, error) {
	if len(rec) != len(SummaryColumns) {
		return domain.SummaryRow{}, fmt.Errorf("expected %d columns, got %d", len(SummaryColumns), len(rec))
	}
	col := func(name string) string {
		for i, c := range SummaryColumns {
			if c == name {
				return rec[i]
			}
		}
		return ""
	}

	var err error
	row := domain.SummaryRow{
		Condition:   col("condition"),
		UserID:      col("user_id"),
		Status:      domain.RunStatus(col("status")),
		Means:       domain.TraitValues{},
		Persona:     domain.TraitValues{},
		ResultsPath: col("results_path"),
		ReportPath:  col("report_path"),
		Error:       col("error"),
	}
	if row.Seed, err = domain.ParseOptionalInt(col("seed")); err != nil {
		return row, fmt.Errorf("seed: %w", err)
	}
	if row.OrderSeed, err = domain.ParseOptionalInt(col("order_seed")); err != nil {
		return row, fmt.Errorf("order_seed: %w", err)
	}
	if t := col("target"); t != "" && t != "None" {
		code, ok := domain.ParseTraitCode(t)
		if !ok {
			return row, fmt.Errorf("target: invalid trait %q", t)
		}
		row.Target = &code
	}
	for _, code := range domain.TraitOrder {
		if row.Means[code], err = parseFloat(col("mean_" + string(code))); err != nil {
			return row, fmt.Errorf("mean_%s: %w", code, err)
		}
		if row.Persona[code], err = parseFloat(col("persona_" + string(code))); err != nil {
			return row, fmt.Errorf("persona_%s: %w", code, err)
		}
	}

	floats := []struct {
		name string
		dst  *domain.Float
	}{
		{"correlation", &row.Correlation},
		{"mae", &row.MAE},
		{"rmse", &row.RMSE},
		{"leakage", &row.Leakage},
		{"valid_rate", &row.ValidRate},
		{"unk_rate", &row.UnkRate},
		{"extreme_bias", &row.ExtremeBias},
		{"consistency_std", &row.ConsistencyStd},
		{"avg_latency_ms", &row.AvgLatencyMS},
	}
	for _, f := range floats {
		if *f.dst, err = parseFloat(col(f.name)); err != nil {
			return row, fmt.Errorf("%s: %w", f.name, err)
		}
	}
	if row.UnkCount, err = parseInt(col("unk_count")); err != nil {
		return row, fmt.Errorf("unk_count: %w", err)
	}
	if row.TotalTokens, err = parseInt(col("total_tokens")); err != nil {
		return row, fmt.Errorf("total_tokens: %w", err)
	}
	return row, nil
}

func parseInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// SummaryAppender agrega filas a la tabla, una por combinacion, sincronizando a disco cada vez.
// Un solo escritor por archivo.
type SummaryAppender struct {
	f *os.File
	w *csv.Writer
}

// OpenSummaryAppender abre (o crea) la tabla; el header solo se escribe si el archivo esta vacio.
func OpenSummaryAppender(path string) (*SummaryAppender, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create summary dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open summary: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat summary: %w", err)
	}
	a := &SummaryAppender{f: f, w: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := a.write(SummaryColumns); err != nil {
			f.Close()
			return nil, err
		}
	}
	return a, nil
}

// Append escribe la fila y la lleva a disco antes de volver.
func (a *SummaryAppender) Append(row domain.SummaryRow) error {
	return a.write(SummaryRecord(row))
}

func (a *SummaryAppender) write(rec []string) error {
	if err := a.w.Write(rec); err != nil {
		return fmt.Errorf("write summary row: %w", err)
	}
	a.w.Flush()
	if err := a.w.Error(); err != nil {
		return fmt.Errorf("flush summary row: %w", err)
	}
	if err := a.f.Sync(); err != nil {
		return fmt.Errorf("sync summary: %w", err)
	}
	return nil
}

func (a *SummaryAppender) Close() error {
	return a.f.Close()
}

// ReadSummary lee la tabla completa. Un header distinto o una fila mal formada es un error.
func ReadSummary(path string) ([]domain.SummaryRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open summary: %w", err)
	}
	defer f.Close()
	return DecodeSummary(f)
}

// DecodeSummary lee filas desde cualquier reader.
func DecodeSummary(r io.Reader) ([]domain.SummaryRow, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", ErrSummaryHeader)
		}
		return nil, fmt.Errorf("read summary header: %w", err)
	}
	if strings.Join(header, ",") != strings.Join(SummaryColumns, ",") {
		return nil, fmt.Errorf("%w: %v", ErrSummaryHeader, header)
	}

	var rows []domain.SummaryRow
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read summary line %d: %w", line, err)
		}
		row, err := parseSummaryRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("summary line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// EncodeSummary escribe header + filas.
func EncodeSummary(w io.Writer, rows []domain.SummaryRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(SummaryColumns); err != nil {
		return err
	}
	for _, row := range rows {
		if err := cw.Write(SummaryRecord(row)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSummary reescribe la tabla completa de forma atomica (temporal + rename).
func WriteSummary(path string, rows []domain.SummaryRow) error {
	var sb strings.Builder
	if err := EncodeSummary(&sb, rows); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	if err := writeFileAtomic(path, []byte(sb.String())); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}
