package persona

import (
	"context"
	"fmt"
	"sync"

	"persona-eval/internal/domain"
)

// MemoryStore es un Store en memoria para tests y corridas en seco.
type MemoryStore struct {
	mu       sync.Mutex
	personas map[string]domain.PersonaVector
	// CreateErr, UpdateErr y GetErr fuerzan errores por user_id.
	CreateErr map[string]error
	UpdateErr map[string]error
	GetErr    map[string]error
	// Override reemplaza el valor leido de un rasgo (simula un store que no aplica el update).
	Override map[string]domain.PersonaVector
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{personas: make(map[string]domain.PersonaVector)}
}

func (m *MemoryStore) Create(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.CreateErr[userID]; err != nil {
		return err
	}
	if _, ok := m.personas[userID]; ok {
		return nil
	}
	p := make(domain.PersonaVector, len(domain.TraitOrder))
	for _, code := range domain.TraitOrder {
		p[code] = domain.PersonaDefault
	}
	m.personas[userID] = p
	return nil
}

func (m *MemoryStore) UpdateTrait(ctx context.Context, userID string, trait domain.TraitCode, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.UpdateErr[userID]; err != nil {
		return err
	}
	p, ok := m.personas[userID]
	if !ok {
		return fmt.Errorf("%w: update trait status=404", ErrPersonaStatus)
	}
	p[trait] = value
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, userID string) (domain.PersonaVector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.GetErr[userID]; err != nil {
		return nil, err
	}
	p, ok := m.personas[userID]
	if !ok {
		return nil, fmt.Errorf("%w: get status=404", ErrPersonaStatus)
	}
	raw := make(map[string]any, len(p))
	for k, v := range p {
		raw[string(k)] = v
	}
	for k, v := range m.Override[userID] {
		raw[string(k)] = v
	}
	return domain.NormalizePersona(raw), nil
}
