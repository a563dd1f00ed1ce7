package agent

import (
	"context"
	"fmt"
	"sync"
)

const BackendMock = "mock"

// MockResponse is one scripted answer of a MockClient.
type MockResponse struct {
	Text string
	Err  error
}

// MockClient provides scripted LLM answers for tests and dry runs.
type MockClient struct {
	mu        sync.Mutex
	handler   func(call int, prompt string) (string, error)
	initErr   error
	initCalls int
	prompts   []string
}

// NewMockClient answers every Generate call through handler. A nil handler
// produces a short numbered section for each call.
func NewMockClient(handler func(call int, prompt string) (string, error)) *MockClient {
	if handler == nil {
		handler = func(call int, _ string) (string, error) {
			return fmt.Sprintf("<content>Section %d. The wind moved through the old forest, and the story went on.</content>", call), nil
		}
	}
	return &MockClient{handler: handler}
}

// NewScriptedClient replays responses in order and repeats the last one
// once the script runs out.
func NewScriptedClient(responses ...MockResponse) *MockClient {
	return NewMockClient(func(call int, _ string) (string, error) {
		if len(responses) == 0 {
			return "", fmt.Errorf("mock: no scripted responses")
		}
		r := responses[min(call, len(responses))-1]
		return r.Text, r.Err
	})
}

// FailInitialize makes Initialize return err.
func (m *MockClient) FailInitialize(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initErr = err
	return m
}

func (m *MockClient) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initCalls++
	return m.initErr
}

func (m *MockClient) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	call := len(m.prompts)
	m.mu.Unlock()

	return m.handler(call, prompt)
}

// Calls returns how many times Generate was invoked.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

func (m *MockClient) InitCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initCalls
}

// Prompts returns a copy of every prompt received so far.
func (m *MockClient) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}
