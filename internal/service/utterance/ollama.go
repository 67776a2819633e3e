package utterance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaGenerator produces utterances with a local Ollama server's chat API.
// Transcripts stay on the operator's machine.
type OllamaGenerator struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllamaGenerator creates a generator that calls Ollama's /api/chat.
// model is the default used when a request carries no route.
func NewOllamaGenerator(baseURL, model string, timeout time.Duration) *OllamaGenerator {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &OllamaGenerator{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type ollamaChatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// Generate produces one utterance.
func (g *OllamaGenerator) Generate(ctx context.Context, req Request) (string, error) {
	modelID := req.Route
	if modelID == "" {
		modelID = g.model
	}
	return g.chat(ctx, modelID, BuildMessages(req))
}

// Summarize condenses a completed session's transcript.
func (g *OllamaGenerator) Summarize(ctx context.Context, req SummaryRequest) (string, error) {
	return g.chat(ctx, g.model, summaryMessages(req))
}

func (g *OllamaGenerator) chat(ctx context.Context, modelID string, msgs []ChatMessage) (string, error) {
	reqBody, err := json.Marshal(ollamaChatRequest{
		Model:    modelID,
		Messages: msgs,
		Stream:   false,
	})
	if err != nil {
		return "", fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/chat", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("ollama: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ollama: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &StatusError{Backend: "ollama", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("ollama: decode response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("ollama: %s", result.Error)
	}

	content := strings.TrimSpace(result.Message.Content)
	if content == "" {
		return "", fmt.Errorf("ollama: empty reply from model %q", modelID)
	}
	return content, nil
}

// StatusError is returned when a backend answers with a non-2xx status.
type StatusError struct {
	Backend    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Backend, e.StatusCode, e.Body)
}

// Ping checks that the Ollama server answers its tags endpoint.
func (g *OllamaGenerator) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("ollama: create request: %w", err)
	}
	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ollama: ping: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Backend: "ollama", StatusCode: resp.StatusCode}
	}
	return nil
}
