package repository

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"persona-eval/internal/domain"
)

func sampleRow() domain.SummaryRow {
	target := domain.TraitExtraversion
	return domain.SummaryRow{
		Condition: "E_HIGH",
		UserID:    "E_HIGH",
		Seed:      domain.IntPtr(111),
		OrderSeed: nil,
		Target:    &target,
		Status:    domain.RunStatusOK,
		Means: domain.TraitValues{
			domain.TraitOpenness: 3.1, domain.TraitConscientiousness: 2.9, domain.TraitExtraversion: 4.4,
			domain.TraitAgreeableness: 3, domain.TraitNeuroticism: domain.NaN(),
		},
		Persona: domain.TraitValues{
			domain.TraitOpenness: 3, domain.TraitConscientiousness: 3, domain.TraitExtraversion: 4.5,
			domain.TraitAgreeableness: 3, domain.TraitNeuroticism: 3,
		},
		Correlation:    0.9,
		MAE:            0.1,
		RMSE:           0.12,
		Leakage:        0.0625,
		ValidRate:      0.99,
		UnkCount:       1,
		UnkRate:        0.01,
		ExtremeBias:    0.4,
		ConsistencyStd: domain.NaN(),
		AvgLatencyMS:   120.5,
		TotalTokens:    900,
		ResultsPath:    "runs/E_HIGH/E_HIGH__seed-111__order-None.json",
		ReportPath:     "runs/E_HIGH/E_HIGH__seed-111__order-None.md",
	}
}

func TestSummaryRecordFormatting(t *testing.T) {
	row := sampleRow()
	row.Leakage = domain.NaN()
	rec := SummaryRecord(row)
	require.Len(t, rec, len(SummaryColumns))

	idx := func(name string) int {
		for i, c := range SummaryColumns {
			if c == name {
				return i
			}
		}
		t.Fatalf("missing column %s", name)
		return -1
	}
	assert.Equal(t, "111", rec[idx("seed")])
	assert.Equal(t, "None", rec[idx("order_seed")])
	assert.Equal(t, "E", rec[idx("target")])
	assert.Equal(t, "nan", rec[idx("mean_N")])
	assert.Equal(t, "", rec[idx("leakage")])
	assert.Equal(t, "nan", rec[idx("consistency_std")])
	assert.Equal(t, "4.4", rec[idx("mean_E")])
}

func TestSummaryAppenderWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs", "summary.csv")

	a, err := OpenSummaryAppender(path)
	require.NoError(t, err)
	require.NoError(t, a.Append(sampleRow()))
	require.NoError(t, a.Close())

	// el archivo queda valido despues de cada fila
	rows, err := ReadSummary(path)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	a, err = OpenSummaryAppender(path)
	require.NoError(t, err)
	failed := domain.NewFailedRow(domain.ExperimentCondition{Name: "C_HIGH"}, domain.IntPtr(222), domain.IntPtr(7), errors.New("persona store down"))
	require.NoError(t, a.Append(failed))
	require.NoError(t, a.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "condition,user_id"))

	rows, err = ReadSummary(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	first := rows[0]
	assert.Equal(t, "E_HIGH", first.Condition)
	assert.Equal(t, 111, *first.Seed)
	assert.Nil(t, first.OrderSeed)
	assert.Equal(t, domain.TraitExtraversion, *first.Target)
	assert.InDelta(t, 4.4, float64(first.Means[domain.TraitExtraversion]), 1e-12)
	assert.True(t, math.IsNaN(float64(first.Means[domain.TraitNeuroticism])))
	assert.InDelta(t, 0.0625, float64(first.Leakage), 1e-12)
	assert.Equal(t, 900, first.TotalTokens)

	second := rows[1]
	assert.Equal(t, domain.RunStatusFailed, second.Status)
	assert.Equal(t, 7, *second.OrderSeed)
	assert.Nil(t, second.Target)
	assert.True(t, math.IsNaN(float64(second.UnkRate)))
	assert.True(t, math.IsNaN(float64(second.Leakage)))
	assert.Equal(t, "persona store down", second.Error)
}

func TestWriteSummaryAtomicReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.csv")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	require.NoError(t, WriteSummary(path, []domain.SummaryRow{sampleRow()}))
	rows, err := ReadSummary(path)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestReadSummaryRejectsBadHeader(t *testing.T) {
	path := writeTemp(t, "summary.csv", "a,b,c\n1,2,3\n")
	_, err := ReadSummary(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSummaryHeader))
}

func TestReadSummaryRejectsMalformedNumber(t *testing.T) {
	rec := SummaryRecord(sampleRow())
	rec[6] = "abc"
	content := strings.Join(SummaryColumns, ",") + "\n" + strings.Join(rec, ",") + "\n"
	path := writeTemp(t, "summary.csv", content)
	_, err := ReadSummary(path)
	require.Error(t, err)
}

func TestExportSummaryXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.xlsx")
	require.NoError(t, ExportSummaryXLSX(path, []domain.SummaryRow{sampleRow()}))

	rows, err := ReadSummaryXLSX(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, SummaryColumns, rows[0])
	assert.Equal(t, "E_HIGH", rows[1][0])
}
