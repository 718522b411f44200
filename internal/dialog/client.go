package dialog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"persona-eval/internal/domain"
)

var (
	// ErrDialogStatus se devuelve cuando el endpoint responde con un status HTTP >= 400.
	ErrDialogStatus = errors.New("dialog http error")
	// ErrDialogEnvelope se devuelve cuando el sobre de respuesta no es "success" o no trae data.
	ErrDialogEnvelope = errors.New("dialog envelope error")
)

// Client envia un item del inventario al endpoint de dialogo y devuelve la letra calibrada.
type Client interface {
	Evaluate(ctx context.Context, userID string, req Request) (Reply, error)
}

// EvalDirective son las directivas de evaluacion que el endpoint debe honrar.
type EvalDirective struct {
	Type         string `json:"type"`
	StrictOutput bool   `json:"strict_output"`
	Seed         *int   `json:"seed"`
	FormatID     string `json:"format_id"`
}

// Request es el cuerpo enviado al endpoint.
type Request struct {
	Text string        `json:"text"`
	Eval EvalDirective `json:"eval"`
}

// Reply es la respuesta ya normalizada.
type Reply struct {
	Response         string
	ParsedChoice     domain.Choice
	RawOutput        string
	LatencyMS        int64
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// HTTPClient implementa Client contra POST {baseURL}/api/dialog/{user_id}.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPClient construye el cliente con el timeout por llamada indicado (30s si es 0).
func NewHTTPClient(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (c *HTTPClient) Evaluate(ctx context.Context, userID string, r Request) (Reply, error) {
	bodyBytes, err := json.Marshal(r)
	if err != nil {
		return Reply{}, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + "/api/dialog/" + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return Reply{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Reply{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Reply{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		c.logger.Warn("dialog error status",
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(respBody), 300)),
		)
		return Reply{}, fmt.Errorf("%w: status=%d", ErrDialogStatus, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return Reply{}, fmt.Errorf("unmarshal response: %w", err)
	}
	if env.Status != "success" || env.Data == nil {
		msg := env.Message
		if msg == "" {
			msg = env.Error
		}
		return Reply{}, fmt.Errorf("%w: status=%q %s", ErrDialogEnvelope, env.Status, msg)
	}

	return env.Data.toReply(), nil
}

type envelope struct {
	Status  string        `json:"status"`
	Message string        `json:"message,omitempty"`
	Error   string        `json:"error,omitempty"`
	Data    *envelopeData `json:"data"`
}

type envelopeData struct {
	Response string `json:"response"`
	Eval     struct {
		ParsedChoice *string `json:"parsed_choice"`
		RawOutput    string  `json:"raw_output"`
	} `json:"eval"`
	Meta struct {
		LatencyMS        int64  `json:"latency_ms"`
		Model            string `json:"model"`
		PromptTokens     int    `json:"prompt_tokens"`
		CompletionTokens int    `json:"completion_tokens"`
	} `json:"meta"`
}

func (d envelopeData) toReply() Reply {
	raw := d.Eval.RawOutput
	if raw == "" {
		raw = d.Response
	}
	var choice domain.Choice
	if d.Eval.ParsedChoice != nil {
		choice = domain.NormalizeChoice(*d.Eval.ParsedChoice)
	} else {
		choice = ParseChoice(raw)
	}
	return Reply{
		Response:         d.Response,
		ParsedChoice:     choice,
		RawOutput:        raw,
		LatencyMS:        d.Meta.LatencyMS,
		Model:            d.Meta.Model,
		PromptTokens:     d.Meta.PromptTokens,
		CompletionTokens: d.Meta.CompletionTokens,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
