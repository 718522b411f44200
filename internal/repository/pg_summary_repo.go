package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pgvector "github.com/pgvector/pgvector-go"

	"persona-eval/internal/db"
	"persona-eval/internal/domain"
)

// SummaryMirror replica filas de la tabla consolidada en otro almacenamiento.
type SummaryMirror interface {
	Insert(ctx context.Context, experimentID string, row domain.SummaryRow) error
}

// NearestRun es una fila del espejo ordenada por distancia a un vector de persona.
type NearestRun struct {
	ExperimentID string             `json:"experiment_id"`
	Condition    string             `json:"condition"`
	Seed         *int               `json:"seed"`
	OrderSeed    *int               `json:"order_seed"`
	Means        domain.TraitValues `json:"means"`
	Distance     float64            `json:"distance"`
	ResultsPath  string             `json:"results_path"`
}

// PgSummaryRepository guarda las filas en mpi_summary_rows; las medias van como vector(5) de pgvector.
type PgSummaryRepository struct {
	pool db.Pool
}

func NewPgSummaryRepository(pool db.Pool) *PgSummaryRepository {
	return &PgSummaryRepository{pool: pool}
}

// EnsureSchema crea la extension y la tabla si no existen.
func (r *PgSummaryRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("create extension vector: %w", err)
	}
	const query = `
		CREATE TABLE IF NOT EXISTS mpi_summary_rows (
			id UUID PRIMARY KEY,
			experiment_id TEXT NOT NULL,
			condition TEXT NOT NULL,
			user_id TEXT NOT NULL,
			seed INTEGER,
			order_seed INTEGER,
			target TEXT,
			status TEXT NOT NULL,
			means vector(5),
			correlation DOUBLE PRECISION,
			mae DOUBLE PRECISION,
			rmse DOUBLE PRECISION,
			leakage DOUBLE PRECISION,
			valid_rate DOUBLE PRECISION,
			unk_count INTEGER NOT NULL,
			unk_rate DOUBLE PRECISION,
			extreme_bias DOUBLE PRECISION,
			consistency_std DOUBLE PRECISION,
			avg_latency_ms DOUBLE PRECISION,
			total_tokens INTEGER NOT NULL,
			results_path TEXT,
			report_path TEXT,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`
	if _, err := r.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table mpi_summary_rows: %w", err)
	}
	return nil
}

func (r *PgSummaryRepository) Insert(ctx context.Context, experimentID string, row domain.SummaryRow) error {
	const query = `
		INSERT INTO mpi_summary_rows (
			id, experiment_id, condition, user_id, seed, order_seed, target, status, means,
			correlation, mae, rmse, leakage, valid_rate, unk_count, unk_rate, extreme_bias,
			consistency_std, avg_latency_ms, total_tokens, results_path, report_path, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
	`

	var target interface{}
	if row.Target != nil {
		target = string(*row.Target)
	}

	_, err := r.pool.Exec(ctx, query,
		uuid.New(),
		experimentID,
		row.Condition,
		row.UserID,
		row.Seed,
		row.OrderSeed,
		target,
		string(row.Status),
		meansVector(row.Means),
		nullFloat(row.Correlation),
		nullFloat(row.MAE),
		nullFloat(row.RMSE),
		nullFloat(row.Leakage),
		nullFloat(row.ValidRate),
		row.UnkCount,
		nullFloat(row.UnkRate),
		nullFloat(row.ExtremeBias),
		nullFloat(row.ConsistencyStd),
		nullFloat(row.AvgLatencyMS),
		row.TotalTokens,
		row.ResultsPath,
		row.ReportPath,
		row.Error,
	)
	if err != nil {
		return fmt.Errorf("insert summary row: %w", err)
	}
	return nil
}

// Nearest devuelve las k corridas ok cuyo vector medido esta mas cerca (L2) del vector dado.
func (r *PgSummaryRepository) Nearest(ctx context.Context, target domain.PersonaVector, k int) ([]NearestRun, error) {
	if k <= 0 {
		k = 5
	}
	values := make([]float32, 0, len(domain.TraitOrder))
	for _, code := range domain.TraitOrder {
		v, ok := target[code]
		if !ok {
			v = domain.PersonaDefault
		}
		values = append(values, float32(v))
	}

	const query = `
		SELECT experiment_id, condition, seed, order_seed, means, means <-> $1 AS distance, results_path
		FROM mpi_summary_rows
		WHERE status = 'ok' AND means IS NOT NULL
		ORDER BY means <-> $1
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, pgvector.NewVector(values), k)
	if err != nil {
		return nil, fmt.Errorf("query nearest runs: %w", err)
	}
	defer rows.Close()

	var out []NearestRun
	for rows.Next() {
		var (
			n     NearestRun
			means pgvector.Vector
		)
		if err := rows.Scan(&n.ExperimentID, &n.Condition, &n.Seed, &n.OrderSeed, &means, &n.Distance, &n.ResultsPath); err != nil {
			return nil, fmt.Errorf("scan nearest run: %w", err)
		}
		n.Means = make(domain.TraitValues, len(domain.TraitOrder))
		for i, v := range means.Slice() {
			if i < len(domain.TraitOrder) {
				n.Means[domain.TraitOrder[i]] = domain.Float(v)
			}
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// meansVector devuelve nil (NULL) si alguna media no esta definida; pgvector no admite NaN.
func meansVector(means domain.TraitValues) interface{} {
	values := make([]float32, 0, len(domain.TraitOrder))
	for _, code := range domain.TraitOrder {
		v := means.Get(code)
		if !v.Defined() {
			return nil
		}
		values = append(values, float32(v))
	}
	return pgvector.NewVector(values)
}

func nullFloat(f domain.Float) interface{} {
	if !f.Defined() {
		return nil
	}
	return float64(f)
}
