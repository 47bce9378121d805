// Package openai talks to OpenAI-compatible APIs (OpenAI, Groq, vLLM, ...).
package openai

import (
	"context"
	"fmt"
	"math"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"docqa/src/core/rag"
)

const (
	DefaultEmbeddingModel = string(goopenai.SmallEmbedding3)
	DefaultChatModel      = "llama-3.3-70b-versatile"
	GroqBaseURL           = "https://api.groq.com/openai/v1"
)

// NewClient returns a client for apiKey. An empty baseURL means api.openai.com.
func NewClient(apiKey, baseURL string) (*goopenai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("an API key is required")
	}
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return goopenai.NewClientWithConfig(cfg), nil
}

type Embedder struct {
	client *goopenai.Client
	model  string
}

func NewEmbedder(client *goopenai.Client, model string) *Embedder {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &Embedder{client: client, model: model}
}

func (e *Embedder) Model() string {
	return e.model
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: []string{text},
		Model: goopenai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned for model %s", e.model)
	}
	return resp.Data[0].Embedding, nil
}

type Generator struct {
	client      *goopenai.Client
	model       string
	temperature float32
	maxTokens   int
}

func NewGenerator(client *goopenai.Client, model string, temperature float32, maxTokens int) *Generator {
	if model == "" {
		model = DefaultChatModel
	}
	return &Generator{client: client, model: model, temperature: temperature, maxTokens: maxTokens}
}

func (g *Generator) Generate(ctx context.Context, prompt rag.Prompt) (string, error) {
	temperature := g.temperature
	if temperature == 0 {
		// a zero value is dropped by omitempty and the server default applies
		temperature = math.SmallestNonzeroFloat32
	}

	resp, err := g.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: g.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: prompt.System},
			{Role: goopenai.ChatMessageRoleUser, Content: prompt.User},
		},
		Temperature: temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned for model %s", g.model)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
