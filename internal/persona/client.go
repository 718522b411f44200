package persona

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

// ErrPersonaStatus se devuelve cuando el persona store responde con error HTTP.
var ErrPersonaStatus = errors.New("persona store http error")

// Store es la interfaz del persona store remoto.
type Store interface {
	// Create es idempotente: crear una persona existente no es un error.
	Create(ctx context.Context, userID string) error
	UpdateTrait(ctx context.Context, userID string, trait domain.TraitCode, value float64) error
	Get(ctx context.Context, userID string) (domain.PersonaVector, error)
}

// HTTPStore implementa Store sobre la API REST /api/personas.
type HTTPStore struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPStore construye el cliente con timeout por llamada (10s si es 0).
func NewHTTPStore(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPStore {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (s *HTTPStore) Create(ctx context.Context, userID string) error {
	status, body, err := s.do(ctx, http.MethodPost, "/api/personas/", map[string]string{"user_id": userID})
	if err != nil {
		return err
	}
	// 409: ya existe
	if status == http.StatusConflict {
		return nil
	}
	return s.checkStatus("create", status, body)
}

func (s *HTTPStore) UpdateTrait(ctx context.Context, userID string, trait domain.TraitCode, value float64) error {
	payload := map[string]any{"trait": trait.Name(), "value": value}
	status, body, err := s.do(ctx, http.MethodPut, "/api/personas/"+url.PathEscape(userID), payload)
	if err != nil {
		return err
	}
	return s.checkStatus("update trait", status, body)
}

func (s *HTTPStore) Get(ctx context.Context, userID string) (domain.PersonaVector, error) {
	status, body, err := s.do(ctx, http.MethodGet, "/api/personas/"+url.PathEscape(userID), nil)
	if err != nil {
		return nil, err
	}
	if err := s.checkStatus("get", status, body); err != nil {
		return nil, err
	}

	var resp struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal persona: %w", err)
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("persona %s: respuesta sin data", userID)
	}
	// el store puede omitir rasgos nunca actualizados
	return domain.NormalizePersona(resp.Data).Complete(), nil
}

func (s *HTTPStore) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		bodyBytes, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (s *HTTPStore) checkStatus(op string, status int, body []byte) error {
	if status < 400 {
		return nil
	}
	s.logger.Warn("persona store error status",
		zap.String("op", op),
		zap.Int("status", status),
		zap.ByteString("body", body),
	)
	return fmt.Errorf("%w: %s status=%d", ErrPersonaStatus, op, status)
}
