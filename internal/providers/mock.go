package providers

import (
	"context"
	"strings"
)

// MockProvider returns a deterministic extractive summary: the first few
// sentences of the document.
type MockProvider struct {
	sentences int
}

func NewMockProvider() *MockProvider {
	return &MockProvider{sentences: 3}
}

func (m *MockProvider) Generate(_ context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	info := ProviderInfo{Name: "mock", Model: "mock-llm-v1", Key: "mock"}
	doc := strings.Join(strings.Fields(req.Document), " ")
	if doc == "" {
		return GenerateResponse{Text: "Mock summary: empty document."}, info, nil
	}
	var b strings.Builder
	count := 0
	start := 0
	for i, ch := range doc {
		if ch != '.' && ch != '!' && ch != '?' {
			continue
		}
		b.WriteString(strings.TrimSpace(doc[start : i+1]))
		b.WriteByte(' ')
		start = i + 1
		if count++; count == m.sentences {
			break
		}
	}
	if count == 0 {
		b.WriteString(truncateRunes(doc, 280))
	}
	text := strings.TrimSpace(b.String())
	if req.Language != "" && !strings.EqualFold(req.Language, "en") {
		text = "[" + req.Language + "] " + text
	}
	return GenerateResponse{Text: text}, info, nil
}
