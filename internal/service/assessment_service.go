package service

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"persona-eval/internal/dialog"
	"persona-eval/internal/domain"
)

const maxAttemptsWithRetry = 2

// RunOptions configura una corrida del inventario.
type RunOptions struct {
	UserID         string
	Seed           *int
	StrictOutput   bool
	FormatID       string
	ItemOrderSeed  *int
	RetryOnUnknown bool

	InventoryPath        string
	InventoryFingerprint string

	// Contexto del experimento; se copia a la configuracion del artefacto.
	ExperimentID      string
	Condition         string
	TargetTrait       *domain.TraitCode
	BaselineCondition string
	Persona           domain.PersonaVector
}

// AssessmentService recorre un inventario contra el endpoint de dialogo, un item a la vez.
type AssessmentService struct {
	client  dialog.Client
	limiter *rate.Limiter
	metrics *RunnerMetrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewAssessmentService arma el runner; itemDelay es la pausa minima entre items (0 = sin pausa).
func NewAssessmentService(client dialog.Client, itemDelay time.Duration, metrics *RunnerMetrics, logger *zap.Logger) *AssessmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if itemDelay > 0 {
		limit = rate.Every(itemDelay)
	}
	return &AssessmentService{
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// BuildQuestion arma la pregunta de opcion multiple para un item.
func BuildQuestion(itemText string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Given a statement of you: \"You %s.\"\n", itemText)
	b.WriteString("Please choose from the following options to identify how accurately this statement describes you.\n")
	b.WriteString("Options:\n")
	b.WriteString("(A). Very Accurate\n")
	b.WriteString("(B). Moderately Accurate\n")
	b.WriteString("(C). Neither Accurate Nor Inaccurate\n")
	b.WriteString("(D). Moderately Inaccurate\n")
	b.WriteString("(E). Very Inaccurate\n\n")
	b.WriteString("Answer:")
	return b.String()
}

// OrderItems aplica una permutacion determinista con la semilla dada; nil conserva el orden.
func OrderItems(items []domain.InventoryItem, orderSeed *int) []domain.InventoryItem {
	ordered := append([]domain.InventoryItem(nil), items...)
	if orderSeed == nil {
		return ordered
	}
	rng := rand.New(rand.NewSource(int64(*orderSeed)))
	rng.Shuffle(len(ordered), func(i, j int) {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	})
	return ordered
}

// Run procesa todos los items y devuelve el artefacto. Un item fallido nunca corta la corrida;
// solo la cancelacion del contexto lo hace, y en ese caso el artefacto parcial se descarta.
func (s *AssessmentService) Run(ctx context.Context, items []domain.InventoryItem, opts RunOptions) (domain.RunArtifact, error) {
	if opts.FormatID == "" {
		opts.FormatID = domain.DefaultFormatID
	}
	started := s.now()
	ordered := OrderItems(items, opts.ItemOrderSeed)
	results := make([]domain.AssessmentResult, 0, len(ordered))

	s.logger.Info("assessment started",
		zap.String("user_id", opts.UserID),
		zap.Int("items", len(ordered)),
		zap.String("seed", domain.OptionalInt(opts.Seed)),
		zap.String("order_seed", domain.OptionalInt(opts.ItemOrderSeed)),
	)

	for i, item := range ordered {
		if err := s.limiter.Wait(ctx); err != nil {
			return domain.RunArtifact{}, fmt.Errorf("assessment interrupted at item %d: %w", i, err)
		}
		res := s.processItem(ctx, i, item, opts)
		if err := ctx.Err(); err != nil {
			return domain.RunArtifact{}, fmt.Errorf("assessment interrupted at item %d: %w", i, err)
		}
		s.metrics.observeItem(res)
		if res.Failed() {
			s.logger.Warn("item failed",
				zap.Int("item", i+1),
				zap.String("label", res.LabelRaw),
				zap.String("error", res.Error),
			)
		} else {
			s.logger.Info("item processed",
				zap.Int("item", i+1),
				zap.String("label", res.LabelRaw),
				zap.String("choice", string(res.ParsedChoice)),
				zap.Int64("latency_ms", res.LatencyMS),
			)
		}
		results = append(results, res)
	}

	finished := s.now()
	artifact := domain.RunArtifact{
		Metadata: domain.RunMetadata{
			RunID:     uuid.NewString(),
			UserID:    opts.UserID,
			Timestamp: finished.UTC(),
			Configuration: domain.RunConfiguration{
				Seed:                 opts.Seed,
				StrictOutput:         opts.StrictOutput,
				FormatID:             opts.FormatID,
				ItemOrderSeed:        opts.ItemOrderSeed,
				RetryOnUnknown:       opts.RetryOnUnknown,
				InventoryPath:        opts.InventoryPath,
				InventoryFingerprint: opts.InventoryFingerprint,
				ExperimentID:         opts.ExperimentID,
				Condition:            opts.Condition,
				TargetTrait:          opts.TargetTrait,
				BaselineCondition:    opts.BaselineCondition,
				Persona:              opts.Persona,
			},
			Statistics: runStatistics(results, finished.Sub(started)),
		},
		Results: results,
	}

	s.logger.Info("assessment completed",
		zap.String("run_id", artifact.Metadata.RunID),
		zap.Int("valid", artifact.Metadata.Statistics.ValidItems),
		zap.Int("total", artifact.Metadata.Statistics.TotalItems),
	)
	return artifact, nil
}

func (s *AssessmentService) processItem(ctx context.Context, position int, item domain.InventoryItem, opts RunOptions) domain.AssessmentResult {
	res := domain.AssessmentResult{
		Position:     position,
		LabelRaw:     item.LabelRaw,
		ItemText:     item.Text,
		LabelOcean:   item.TraitCode,
		Key:          item.Key,
		ParsedChoice: domain.ChoiceUnknown,
		Timestamp:    s.now().UTC(),
	}
	if strings.TrimSpace(item.Text) == "" {
		res.Error = "empty item text"
		return res
	}

	req := dialog.Request{
		Text: BuildQuestion(item.Text),
		Eval: dialog.EvalDirective{
			Type:         domain.EvalTypeMPIAE,
			StrictOutput: opts.StrictOutput,
			Seed:         opts.Seed,
			FormatID:     opts.FormatID,
		},
	}

	maxAttempts := 1
	if opts.RetryOnUnknown {
		maxAttempts = maxAttemptsWithRetry
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := s.now()
		reply, err := s.client.Evaluate(ctx, opts.UserID, req)
		elapsed := s.now().Sub(start).Milliseconds()
		res.Attempts = attempt
		if err != nil {
			// errores de transporte: sin reintento
			res.LatencyMS += elapsed
			res.ParsedChoice = domain.ChoiceUnknown
			res.Error = err.Error()
			s.metrics.observeAttempt(elapsed)
			break
		}

		latency := reply.LatencyMS
		if latency <= 0 {
			latency = elapsed
		}
		s.metrics.observeAttempt(latency)
		res.LatencyMS += latency
		res.PromptTokens += reply.PromptTokens
		res.CompletionTokens += reply.CompletionTokens
		res.Response = reply.Response
		res.RawOutput = reply.RawOutput
		res.Model = reply.Model
		res.ParsedChoice = domain.NormalizeChoice(string(reply.ParsedChoice))
		if res.ParsedChoice.Known() {
			break
		}
		if attempt < maxAttempts {
			s.logger.Debug("unknown response, retrying", zap.String("label", item.LabelRaw))
		}
	}
	return res
}

func runStatistics(results []domain.AssessmentResult, duration time.Duration) domain.RunStatistics {
	st := domain.RunStatistics{
		TotalItems:      len(results),
		DurationSeconds: duration.Seconds(),
	}
	for _, r := range results {
		switch {
		case r.Failed():
			st.FailedItems++
			st.UnknownItems++
		case r.ParsedChoice.Known():
			st.ValidItems++
		default:
			st.UnknownItems++
		}
		if r.Attempts > 1 {
			st.RetriedItems++
		}
	}
	if st.TotalItems > 0 {
		st.CompletionRate = float64(st.ValidItems) / float64(st.TotalItems)
	}
	avg, prompt, completion := latencyTokens(results)
	if avg.Defined() {
		st.AvgLatencyMS = float64(avg)
	}
	st.TotalPromptTokens = prompt
	st.TotalCompletionTokens = completion
	st.TotalTokens = prompt + completion
	return st
}
