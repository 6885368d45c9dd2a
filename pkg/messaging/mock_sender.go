package messaging

import (
	"context"
	"io"
	"sync"
)

// MockRequestSender records every envelope it is asked to send.
type MockRequestSender struct {
	mu   sync.Mutex
	sent []Envelope
	Err  error
}

// NewMockRequestSender creates a new MockRequestSender.
func NewMockRequestSender() *MockRequestSender {
	return &MockRequestSender{}
}

// Send records env, or returns Err when set.
func (m *MockRequestSender) Send(ctx context.Context, env Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, env)
	return nil
}

// Sent returns a copy of the recorded envelopes.
func (m *MockRequestSender) Sent() []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Envelope, len(m.sent))
	copy(out, m.sent)
	return out
}

// Close does nothing.
func (m *MockRequestSender) Close() error {
	return nil
}

// SliceSource replays a fixed list of envelopes, then reports io.EOF.
type SliceSource struct {
	mu   sync.Mutex
	envs []Envelope
}

// NewSliceSource creates a source over envs.
func NewSliceSource(envs ...Envelope) *SliceSource {
	return &SliceSource{envs: envs}
}

// Next returns the next envelope.
func (s *SliceSource) Next(ctx context.Context) (Envelope, error) {
	if err := ctx.Err(); err != nil {
		return Envelope{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.envs) == 0 {
		return Envelope{}, io.EOF
	}
	env := s.envs[0]
	s.envs = s.envs[1:]
	return env, nil
}

// Ensure the mocks implement the interfaces
var (
	_ RequestSender = (*MockRequestSender)(nil)
	_ EventSource   = (*SliceSource)(nil)
)
