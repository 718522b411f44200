package dialog

import (
	"context"
	"sync"
)

// MockClient devuelve respuestas prefijadas en orden; permite tests sin endpoint real.
// Cuando se agotan las respuestas repite la ultima.
type MockClient struct {
	mu      sync.Mutex
	Replies []Reply
	Errs    []error
	Calls   []Request
	UserIDs []string
}

func (m *MockClient) Evaluate(ctx context.Context, userID string, req Request) (Reply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := len(m.Calls)
	m.Calls = append(m.Calls, req)
	m.UserIDs = append(m.UserIDs, userID)
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}
	if idx < len(m.Errs) && m.Errs[idx] != nil {
		return Reply{}, m.Errs[idx]
	}
	if len(m.Replies) == 0 {
		return Reply{}, nil
	}
	if idx >= len(m.Replies) {
		idx = len(m.Replies) - 1
	}
	return m.Replies[idx], nil
}
