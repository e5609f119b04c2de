package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type NamedLLMProvider struct {
	Ref      ProviderRef
	Provider LLMProvider
}

// Manager holds the configured providers and falls back between them.
type Manager struct {
	llmProviders []NamedLLMProvider
}

// NewManager builds providers from a "|"-separated list such as
// "openai:work|groq|mock".
func NewManager(list string) (*Manager, error) {
	m := &Manager{}
	for _, ref := range ParseProviderList(list) {
		p, err := buildProvider(ref)
		if err != nil {
			return nil, err
		}
		m.llmProviders = append(m.llmProviders, NamedLLMProvider{Ref: ref, Provider: p})
	}
	return m, nil
}

// NewManagerWith wraps already-built providers.
func NewManagerWith(ps ...NamedLLMProvider) *Manager {
	return &Manager{llmProviders: ps}
}

func (m *Manager) LLMCount() int {
	return len(m.llmProviders)
}

func (m *Manager) PreferredLLMOrder() []int {
	return preferredOrder(len(m.llmProviders), func(i int) string { return strings.ToLower(m.llmProviders[i].Ref.Name) })
}

// Generate tries providers in preferred order. Quota, rate, context and
// transient failures move on to the next provider; a permanent failure stops.
func (m *Manager) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	if len(m.llmProviders) == 0 {
		return GenerateResponse{}, ProviderInfo{}, errors.New("no llm providers configured")
	}
	var errs []error
	for _, i := range m.PreferredLLMOrder() {
		np := m.llmProviders[i]
		resp, info, err := np.Provider.Generate(ctx, req)
		if err == nil {
			return resp, info, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", np.Ref.Raw, err))
		if ctx.Err() != nil || !Retryable(err) {
			break
		}
	}
	return GenerateResponse{}, ProviderInfo{}, errors.Join(errs...)
}

func preferredOrder(n int, nameAt func(i int) string) []int {
	if n <= 0 {
		return nil
	}
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if nameAt(i) != "mock" {
			out = append(out, i)
		}
	}
	for i := 0; i < n; i++ {
		if nameAt(i) == "mock" {
			out = append(out, i)
		}
	}
	return out
}

func buildProvider(ref ProviderRef) (LLMProvider, error) {
	switch strings.ToLower(ref.Name) {
	case "mock":
		return NewMockProvider(), nil
	case "openai":
		return NewOpenAIProvider(ref.KeyAlias), nil
	case "groq":
		return NewGroqProvider(ref.KeyAlias), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", ref.Name)
	}
}
