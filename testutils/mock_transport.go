package testutils

import (
	"sync"

	"github.com/evdnx/gotick/broker"
)

// MockTransport implements broker.Sender in-memory and records every
// command it accepts.
type MockTransport struct {
	mu   sync.Mutex
	sent []broker.Command
	err  error
}

// NewMockTransport returns a transport that accepts everything.
func NewMockTransport() *MockTransport { return &MockTransport{} }

// Send records cmd, or returns the configured failure.
func (m *MockTransport) Send(cmd broker.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, cmd)
	return nil
}

// FailWith makes every following Send return err; nil restores it.
func (m *MockTransport) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Sent returns a copy of all accepted commands.
func (m *MockTransport) Sent() []broker.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]broker.Command(nil), m.sent...)
}

// Kinds lists the kinds of all accepted commands in order.
func (m *MockTransport) Kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, c := range m.sent {
		out[i] = c.Kind()
	}
	return out
}

// Count returns how many commands of kind were accepted.
func (m *MockTransport) Count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.sent {
		if c.Kind() == kind {
			n++
		}
	}
	return n
}

// Last returns the most recent command, or nil.
func (m *MockTransport) Last() broker.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return nil
	}
	return m.sent[len(m.sent)-1]
}

// Proposals returns every accepted proposal request.
func (m *MockTransport) Proposals() []broker.ProposalRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []broker.ProposalRequest
	for _, c := range m.sent {
		if p, ok := c.(broker.ProposalRequest); ok {
			out = append(out, p)
		}
	}
	return out
}
