package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

// OpenAICompatClient calls any OpenAI-compatible /v1 API (vLLM, LiteLLM,
// LocalAI, OpenRouter, ...). baseURL includes the /v1 prefix; apiKey may be
// empty for local models.
type OpenAICompatClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewOpenAICompatClient builds a client for an OpenAI-compatible endpoint.
func NewOpenAICompatClient(baseURL, apiKey string) (*OpenAICompatClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("openai-compat base url required")
	}
	return &OpenAICompatClient{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// ChatCompletion returns the first choice of a chat completion.
func (c *OpenAICompatClient) ChatCompletion(ctx context.Context, model, systemPrompt, userPrompt string, temperature float64) (string, error) {
	if strings.TrimSpace(model) == "" {
		return "", fmt.Errorf("openai-compat generation model required")
	}
	messages := make([]oaiMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, oaiMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, oaiMessage{Role: "user", Content: userPrompt})

	reqBody := oaiChatRequest{Model: model, Messages: messages, Temperature: temperature}
	var resp oaiChatResponse
	if err := c.doJSON(ctx, "/chat/completions", reqBody, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from openai-compat api")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty response from openai-compat api")
	}
	return text, nil
}

// Embeddings embeds texts in one request and returns vectors in input order.
func (c *OpenAICompatClient) Embeddings(ctx context.Context, model string, texts []string, dimensions int) ([][]float32, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("openai-compat embedding model required")
	}
	if len(texts) == 0 {
		return nil, nil
	}
	reqBody := oaiEmbeddingRequest{Model: model, Input: texts, Dimensions: dimensions}
	var resp oaiEmbeddingResponse
	if err := c.doJSON(ctx, "/embeddings", reqBody, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai-compat returned %d embeddings for %d texts", len(resp.Data), len(texts))
	}
	sort.SliceStable(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

func (c *OpenAICompatClient) doJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("openai-compat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp oaiErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return fmt.Errorf("openai-compat api error: %s", errResp.Error.Message)
		}
		return fmt.Errorf("openai-compat api error: %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("openai-compat decode: %w", err)
	}
	return nil
}

// OpenAICompatEmbedder binds an OpenAICompatClient to one embedding model.
type OpenAICompatEmbedder struct {
	client     *OpenAICompatClient
	model      string
	dimensions int
}

// NewOpenAICompatEmbedder builds an OpenAI-compatible embedder.
func NewOpenAICompatEmbedder(client *OpenAICompatClient, model string, dimensions int) *OpenAICompatEmbedder {
	return &OpenAICompatEmbedder{client: client, model: strings.TrimSpace(model), dimensions: dimensions}
}

func (e *OpenAICompatEmbedder) EmbedText(ctx context.Context, text, _ string) ([]float32, error) {
	vectors, err := e.client.Embeddings(ctx, e.model, []string{text}, e.dimensions)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *OpenAICompatEmbedder) EmbedTexts(ctx context.Context, texts []string, _ string) ([][]float32, error) {
	return e.client.Embeddings(ctx, e.model, texts, e.dimensions)
}

// OpenAICompatGenerator binds an OpenAICompatClient to one chat model.
type OpenAICompatGenerator struct {
	client      *OpenAICompatClient
	model       string
	temperature float64
}

// NewOpenAICompatGenerator builds an OpenAI-compatible TextGenerator.
func NewOpenAICompatGenerator(client *OpenAICompatClient, model string, temperature float64) *OpenAICompatGenerator {
	return &OpenAICompatGenerator{client: client, model: strings.TrimSpace(model), temperature: temperature}
}

func (g *OpenAICompatGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.client.ChatCompletion(ctx, g.model, systemPrompt, userPrompt, g.temperature)
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiChatRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	Temperature float64      `json:"temperature"`
}

type oaiChatResponse struct {
	Choices []struct {
		Message oaiMessage `json:"message"`
	} `json:"choices"`
}

type oaiEmbeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type oaiEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type oaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
