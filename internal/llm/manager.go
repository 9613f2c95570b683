package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aquamitra/aquamitra/internal/observability"
)

// Manager keeps named provider clients. Every registered client is
// instrumented and bounded by the manager's per-call timeout.
type Manager struct {
	mu      sync.RWMutex
	clients map[string]*instrumented
	timeout time.Duration
}

func NewManager(timeout time.Duration) *Manager {
	return &Manager{clients: make(map[string]*instrumented), timeout: timeout}
}

func (m *Manager) Register(ctx context.Context, name string, cfg Config) error {
	var (
		client Completer
		err    error
	)
	switch cfg.Provider {
	case "gemini":
		client, err = NewGeminiClient(ctx, cfg)
	case "openai":
		client, err = NewOpenAIClient(cfg)
	case "anthropic":
		client, err = NewAnthropicClient(cfg)
	default:
		return fmt.Errorf("unsupported llm provider: %q", cfg.Provider)
	}
	if err != nil {
		return fmt.Errorf("create %s client: %w", cfg.Provider, err)
	}
	m.Add(name, cfg.Provider, client)
	return nil
}

// Add registers an already constructed client, replacing any client with the
// same name.
func (m *Manager) Add(name, provider string, client Completer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if previous, ok := m.clients[name]; ok {
		_ = previous.close()
	}
	m.clients[name] = &instrumented{provider: provider, inner: client, timeout: m.timeout}
}

func (m *Manager) Completer(name string) (Completer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	client, ok := m.clients[name]
	if !ok {
		return nil, fmt.Errorf("llm client not found: %s", name)
	}
	return client, nil
}

func (m *Manager) Embedder(name string) (Embedder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	client, ok := m.clients[name]
	if !ok {
		return nil, fmt.Errorf("llm client not found: %s", name)
	}
	if _, ok := client.inner.(Embedder); !ok {
		return nil, fmt.Errorf("llm client %s (%s) does not support embeddings", name, client.provider)
	}
	return client, nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for name, client := range m.clients {
		if err := client.close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(m.clients, name)
	}
	return errors.Join(errs...)
}

type instrumented struct {
	provider string
	inner    Completer
	timeout  time.Duration
}

func (c *instrumented) Complete(ctx context.Context, prompt Prompt) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	start := time.Now()
	text, err := c.inner.Complete(ctx, prompt)
	observability.ObserveLLMRequest(c.provider, time.Since(start), err)
	return text, err
}

func (c *instrumented) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	embedder, ok := c.inner.(Embedder)
	if !ok {
		return nil, fmt.Errorf("%s does not support embeddings", c.provider)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	start := time.Now()
	vectors, err := embedder.Embed(ctx, texts)
	observability.ObserveLLMRequest(c.provider, time.Since(start), err)
	return vectors, err
}

func (c *instrumented) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *instrumented) close() error {
	if closer, ok := c.inner.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
