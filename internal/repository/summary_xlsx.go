package repository

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tealeg/xlsx/v2"

	"persona-eval/internal/domain"
)

const summarySheet = "summary"

// ExportSummaryXLSX escribe las mismas columnas que el CSV en una hoja "summary".
func ExportSummaryXLSX(path string, rows []domain.SummaryRow) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(summarySheet)
	if err != nil {
		return fmt.Errorf("xlsx: add sheet: %w", err)
	}
	addRow(sheet, SummaryColumns)
	for _, row := range rows {
		addRow(sheet, SummaryRecord(row))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("xlsx: create dir: %w", err)
	}
	if err := f.Save(path); err != nil {
		return fmt.Errorf("xlsx: save %s: %w", path, err)
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, values []string) {
	r := sheet.AddRow()
	for _, v := range values {
		r.AddCell().SetString(v)
	}
}

// ReadSummaryXLSX lee de vuelta una exportacion, util para verificar.
func ReadSummaryXLSX(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("xlsx: open %s: %w", path, err)
	}
	sheet, ok := f.Sheet[summarySheet]
	if !ok {
		return nil, fmt.Errorf("xlsx: sheet %q not found", summarySheet)
	}
	out := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for i, cell := range row.Cells {
			cells[i] = cell.String()
		}
		out = append(out, cells)
	}
	return out, nil
}
