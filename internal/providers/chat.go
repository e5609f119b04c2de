package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// maxDocumentRunes caps the document text sent to hosted models.
const maxDocumentRunes = 60000

// ChatProvider talks to an OpenAI-compatible chat completions endpoint.
// OpenAI and Groq both use it.
type ChatProvider struct {
	name     string
	endpoint string
	model    string
	keyName  string
	apiKey   string
	client   *http.Client
}

func NewOpenAIProvider(keyName string) *ChatProvider {
	return &ChatProvider{
		name:     "openai",
		endpoint: "https://api.openai.com/v1/chat/completions",
		model:    envOr("PAPERFLOW_OPENAI_MODEL", "gpt-4o-mini"),
		keyName:  keyName,
		apiKey:   resolveKey("OPENAI", keyName),
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

func NewGroqProvider(keyName string) *ChatProvider {
	return &ChatProvider{
		name:     "groq",
		endpoint: "https://api.groq.com/openai/v1/chat/completions",
		model:    envOr("PAPERFLOW_GROQ_MODEL", "llama-3.1-8b-instant"),
		keyName:  keyName,
		apiKey:   resolveKey("GROQ", keyName),
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

// WithEndpoint points the provider at another base URL and key; used by tests.
func (c *ChatProvider) WithEndpoint(endpoint, apiKey string) *ChatProvider {
	c.endpoint, c.apiKey = endpoint, apiKey
	return c
}

func (c *ChatProvider) info() ProviderInfo {
	return ProviderInfo{Name: c.name, Model: c.model, Key: c.keyName}
}

func (c *ChatProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	if c.apiKey == "" {
		return GenerateResponse{}, c.info(), fmt.Errorf("%s key missing for alias %q", c.name, c.keyName)
	}
	system := "You summarize research papers. Be concise and faithful to the text."
	if req.Language != "" {
		system += " Answer in language: " + req.Language + "."
	}
	user := req.Prompt
	if req.Document != "" {
		user += "\n\nPaper:\n" + truncateRunes(req.Document, maxDocumentRunes)
	}
	payload, _ := json.Marshal(map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
	})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return GenerateResponse{}, c.info(), fmt.Errorf("build %s request: %w", c.name, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return GenerateResponse{}, c.info(), fmt.Errorf("%s chat request failed: %w", c.name, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return GenerateResponse{}, c.info(), &StatusError{Provider: c.name, Code: resp.StatusCode, Body: string(body)}
	}
	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return GenerateResponse{}, c.info(), fmt.Errorf("decode %s response: %w", c.name, err)
	}
	if len(parsed.Choices) == 0 {
		return GenerateResponse{}, c.info(), fmt.Errorf("%s returned empty choices", c.name)
	}
	return GenerateResponse{Text: strings.TrimSpace(parsed.Choices[0].Message.Content)}, c.info(), nil
}

func resolveKey(provider, alias string) string {
	if alias != "" {
		if v := os.Getenv("PAPERFLOW_" + provider + "_KEY_" + strings.ToUpper(alias)); v != "" {
			return v
		}
	}
	return os.Getenv(provider + "_API_KEY")
}

func envOr(k, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return fallback
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
