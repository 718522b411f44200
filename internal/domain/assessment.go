package domain

import "time"

const (
	// EvalTypeMPIAE es el tipo de evaluacion que el endpoint de dialogo debe honrar.
	EvalTypeMPIAE = "mpi_ae"
	// DefaultFormatID identifica el formato del inventario de 120 items.
	DefaultFormatID = "MPI-120"
)

// AssessmentResult es el resultado de un item procesado. Se agrega, nunca se modifica.
type AssessmentResult struct {
	Position         int       `json:"position"`
	LabelRaw         string    `json:"label_raw"`
	ItemText         string    `json:"item_text"`
	LabelOcean       TraitCode `json:"label_ocean"`
	Key              int       `json:"key"`
	Response         string    `json:"response"`
	ParsedChoice     Choice    `json:"parsed_choice"`
	RawOutput        string    `json:"raw_output"`
	Attempts         int       `json:"attempts"`
	LatencyMS        int64     `json:"latency_ms"` // suma de todos los intentos
	Model            string    `json:"model,omitempty"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	Timestamp        time.Time `json:"timestamp"`
	Error            string    `json:"error,omitempty"`
}

// Failed indica si el item termino con error de transporte o de protocolo.
func (r AssessmentResult) Failed() bool { return r.Error != "" }

// RunConfiguration describe como se genero una corrida.
type RunConfiguration struct {
	Seed                 *int          `json:"seed"`
	StrictOutput         bool          `json:"strict_output"`
	FormatID             string        `json:"format_id"`
	ItemOrderSeed        *int          `json:"item_order_seed"`
	RetryOnUnknown       bool          `json:"retry_on_unknown"`
	InventoryPath        string        `json:"inventory_path,omitempty"`
	InventoryFingerprint string        `json:"inventory_fingerprint,omitempty"`
	ExperimentID         string        `json:"experiment_id,omitempty"`
	Condition            string        `json:"condition,omitempty"`
	TargetTrait          *TraitCode    `json:"target_trait,omitempty"`
	BaselineCondition    string        `json:"baseline_condition,omitempty"`
	Persona              PersonaVector `json:"persona,omitempty"`
}

// RunStatistics resume la corrida completa.
type RunStatistics struct {
	TotalItems            int     `json:"total_items"`
	ValidItems            int     `json:"valid_items"`
	UnknownItems          int     `json:"unknown_items"`
	FailedItems           int     `json:"failed_items"`
	RetriedItems          int     `json:"retried_items"`
	CompletionRate        float64 `json:"completion_rate"`
	DurationSeconds       float64 `json:"duration_seconds"`
	AvgLatencyMS          float64 `json:"avg_latency_ms"`
	TotalPromptTokens     int     `json:"total_prompt_tokens"`
	TotalCompletionTokens int     `json:"total_completion_tokens"`
	TotalTokens           int     `json:"total_tokens"`
}

// RunMetadata acompana a los resultados en el artefacto persistido.
type RunMetadata struct {
	RunID         string           `json:"run_id"`
	UserID        string           `json:"user_id"`
	Timestamp     time.Time        `json:"timestamp"`
	Configuration RunConfiguration `json:"configuration"`
	Statistics    RunStatistics    `json:"statistics"`
}

// RunArtifact es la unidad de estado durable: se escribe una vez y se lee muchas.
type RunArtifact struct {
	Metadata RunMetadata        `json:"metadata"`
	Results  []AssessmentResult `json:"results"`
}
