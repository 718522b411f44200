package service

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"persona-eval/internal/dialog"
	"persona-eval/internal/domain"
)

func items(texts ...string) []domain.InventoryItem {
	out := make([]domain.InventoryItem, 0, len(texts))
	for i, text := range texts {
		out = append(out, domain.InventoryItem{
			LabelRaw:  "E" + string(rune('1'+i)),
			Text:      text,
			TraitCode: domain.TraitExtraversion,
			Key:       1,
		})
	}
	return out
}

func reply(choice domain.Choice, latency int64) dialog.Reply {
	return dialog.Reply{
		Response:         string(choice),
		ParsedChoice:     choice,
		RawOutput:        string(choice),
		LatencyMS:        latency,
		Model:            "test-model",
		PromptTokens:     10,
		CompletionTokens: 1,
	}
}

func TestRunRetriesOnUnknown(t *testing.T) {
	client := &dialog.MockClient{Replies: []dialog.Reply{reply(domain.ChoiceUnknown, 100), reply(domain.ChoiceB, 50)}}
	svc := NewAssessmentService(client, 0, nil, nil)

	art, err := svc.Run(context.Background(), items("talk a lot"), RunOptions{UserID: "E_high", RetryOnUnknown: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.Calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(client.Calls))
	}
	r := art.Results[0]
	if r.Attempts != 2 || r.ParsedChoice != domain.ChoiceB {
		t.Fatalf("unexpected result: %+v", r)
	}
	if r.LatencyMS != 150 {
		t.Fatalf("expected latency summed over attempts (150), got %d", r.LatencyMS)
	}
	if r.PromptTokens != 20 || r.CompletionTokens != 2 {
		t.Fatalf("expected tokens summed over attempts, got %d/%d", r.PromptTokens, r.CompletionTokens)
	}
	st := art.Metadata.Statistics
	if st.RetriedItems != 1 || st.ValidItems != 1 || st.TotalTokens != 22 || st.CompletionRate != 1 {
		t.Fatalf("unexpected statistics: %+v", st)
	}
}

func TestRunWithoutRetryKeepsUnknown(t *testing.T) {
	client := &dialog.MockClient{Replies: []dialog.Reply{reply(domain.ChoiceUnknown, 10), reply(domain.ChoiceA, 10)}}
	svc := NewAssessmentService(client, 0, nil, nil)

	art, err := svc.Run(context.Background(), items("talk a lot"), RunOptions{UserID: "u"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := art.Results[0]
	if r.Attempts != 1 || r.ParsedChoice != domain.ChoiceUnknown || len(client.Calls) != 1 {
		t.Fatalf("unexpected result: %+v (calls=%d)", r, len(client.Calls))
	}
}

func TestRunRetryStillUnknown(t *testing.T) {
	client := &dialog.MockClient{Replies: []dialog.Reply{reply(domain.ChoiceUnknown, 10)}}
	svc := NewAssessmentService(client, 0, nil, nil)

	art, err := svc.Run(context.Background(), items("talk a lot"), RunOptions{UserID: "u", RetryOnUnknown: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := art.Results[0]
	if r.Attempts != 2 || r.ParsedChoice != domain.ChoiceUnknown || r.Error != "" {
		t.Fatalf("unexpected result: %+v", r)
	}
	if art.Metadata.Statistics.UnknownItems != 1 || art.Metadata.Statistics.FailedItems != 0 {
		t.Fatalf("unexpected statistics: %+v", art.Metadata.Statistics)
	}
}

func TestRunTransportErrorIsNotRetried(t *testing.T) {
	client := &dialog.MockClient{
		Errs:    []error{errors.New("connection refused")},
		Replies: []dialog.Reply{reply(domain.ChoiceA, 10)},
	}
	reg := prometheus.NewRegistry()
	metrics := NewRunnerMetrics(reg)
	svc := NewAssessmentService(client, 0, metrics, nil)

	art, err := svc.Run(context.Background(), items("talk a lot", "make friends easily"), RunOptions{UserID: "u", RetryOnUnknown: true})
	if err != nil {
		t.Fatalf("item errors must not abort the run: %v", err)
	}
	if len(client.Calls) != 2 {
		t.Fatalf("expected one call per item, got %d", len(client.Calls))
	}
	first := art.Results[0]
	if first.Attempts != 1 || first.ParsedChoice != domain.ChoiceUnknown || !strings.Contains(first.Error, "connection refused") {
		t.Fatalf("unexpected failed result: %+v", first)
	}
	if art.Results[1].ParsedChoice != domain.ChoiceA {
		t.Fatalf("run should continue after a failed item: %+v", art.Results[1])
	}
	if art.Metadata.Statistics.FailedItems != 1 {
		t.Fatalf("expected one failed item, got %+v", art.Metadata.Statistics)
	}

	if got := testutil.ToFloat64(metrics.failures); got != 1 {
		t.Fatalf("expected failure counter 1, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.attempts); got != 2 {
		t.Fatalf("expected attempts counter 2, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.items.WithLabelValues("A")); got != 1 {
		t.Fatalf("expected one A item, got %v", got)
	}
}

func TestRunEmptyItemTextSkipsEndpoint(t *testing.T) {
	client := &dialog.MockClient{Replies: []dialog.Reply{reply(domain.ChoiceA, 10)}}
	svc := NewAssessmentService(client, 0, nil, nil)

	art, err := svc.Run(context.Background(), items("   "), RunOptions{UserID: "u"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := art.Results[0]
	if len(client.Calls) != 0 || r.Attempts != 0 || r.ParsedChoice != domain.ChoiceUnknown || r.Error != "empty item text" {
		t.Fatalf("unexpected result: %+v", r)
	}
	if art.Metadata.Statistics.AvgLatencyMS != 0 {
		t.Fatalf("items without attempts must not count towards latency")
	}
}

func TestRunSendsEvalDirective(t *testing.T) {
	client := &dialog.MockClient{Replies: []dialog.Reply{reply(domain.ChoiceC, 10)}}
	svc := NewAssessmentService(client, 0, nil, nil)

	opts := RunOptions{
		UserID:        "N_low",
		Seed:          domain.IntPtr(222),
		StrictOutput:  true,
		ItemOrderSeed: domain.IntPtr(7),
		Condition:     "N_low",
		Persona:       domain.PersonaVector{domain.TraitNeuroticism: 1.5},
	}
	art, err := svc.Run(context.Background(), items("worry about things"), opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req := client.Calls[0]
	if req.Eval.Type != domain.EvalTypeMPIAE || !req.Eval.StrictOutput || req.Eval.FormatID != domain.DefaultFormatID {
		t.Fatalf("unexpected directive: %+v", req.Eval)
	}
	if req.Eval.Seed == nil || *req.Eval.Seed != 222 {
		t.Fatalf("expected seed 222 in directive")
	}
	if !strings.Contains(req.Text, `"You worry about things."`) || !strings.HasSuffix(req.Text, "Answer:") {
		t.Fatalf("unexpected question: %q", req.Text)
	}
	if client.UserIDs[0] != "N_low" {
		t.Fatalf("unexpected user id %q", client.UserIDs[0])
	}

	cfg := art.Metadata.Configuration
	if cfg.Condition != "N_low" || *cfg.ItemOrderSeed != 7 || cfg.Persona[domain.TraitNeuroticism] != 1.5 {
		t.Fatalf("configuration not recorded: %+v", cfg)
	}
	if art.Metadata.RunID == "" {
		t.Fatalf("expected run id")
	}
}

func TestRunCancelledContext(t *testing.T) {
	client := &dialog.MockClient{Replies: []dialog.Reply{reply(domain.ChoiceA, 10)}}
	svc := NewAssessmentService(client, 0, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.Run(ctx, items("talk a lot", "make friends easily"), RunOptions{UserID: "u"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestOrderItemsDeterministic(t *testing.T) {
	base := items("a", "b", "c", "d", "e", "f", "g", "h")

	if got := OrderItems(base, nil); !reflect.DeepEqual(got, base) {
		t.Fatalf("nil seed must preserve the inventory order")
	}

	first := OrderItems(base, domain.IntPtr(7))
	second := OrderItems(base, domain.IntPtr(7))
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("same seed must give the same order")
	}
	if reflect.DeepEqual(first, base) {
		t.Fatalf("expected seed 7 to permute the items")
	}

	seen := map[string]bool{}
	for _, it := range first {
		seen[it.Text] = true
	}
	if len(seen) != len(base) {
		t.Fatalf("ordering must be a permutation, got %v", first)
	}
	if base[0].Text != "a" {
		t.Fatalf("input slice must not be modified")
	}
}
