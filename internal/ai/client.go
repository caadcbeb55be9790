package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
}

// Client completes a single system+user exchange against the configured
// provider.
type Client struct {
	config  Config
	backend backend
}

type backend interface {
	complete(ctx context.Context, systemPrompt, userText string, maxTokens int) (string, error)
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.Provider == "" {
		return nil, fmt.Errorf("llm provider is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm api key is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.Model = resolveModelAlias(cfg.Provider, cfg.Model)

	var b backend
	switch cfg.Provider {
	case "openai":
		b = newOpenAIBackend(cfg)
	case "google":
		g, err := newGoogleBackend(cfg)
		if err != nil {
			return nil, err
		}
		b = g
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
	return &Client{config: cfg, backend: b}, nil
}

func (c *Client) Provider() string { return c.config.Provider }
func (c *Client) Model() string    { return c.config.Model }

// Complete returns the generated text. The call is bounded by the configured
// timeout.
func (c *Client) Complete(ctx context.Context, systemPrompt, userText string, maxTokens int) (string, error) {
	if c == nil || c.backend == nil {
		return "", errors.New("client is nil")
	}
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()
	return c.backend.complete(ctx, systemPrompt, userText, maxTokens)
}

func resolveModelAlias(provider, model string) string {
	alias := strings.ToLower(strings.TrimSpace(model))
	switch provider {
	case "openai":
		switch alias {
		case "", "default":
			return openai.GPT3Dot5Turbo
		case "fast":
			return openai.GPT4oMini
		case "smart":
			return openai.GPT4o
		}
	case "google":
		switch alias {
		case "", "default", "fast":
			return "gemini-2.0-flash"
		case "smart":
			return "gemini-2.5-pro"
		}
	}
	return model
}

type openAIBackend struct {
	client *openai.Client
	model  string
}

func newOpenAIBackend(cfg Config) *openAIBackend {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &openAIBackend{client: openai.NewClientWithConfig(oc), model: cfg.Model}
}

func (o *openAIBackend) complete(ctx context.Context, systemPrompt, userText string, maxTokens int) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userText},
		},
		MaxCompletionTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

type googleBackend struct {
	client *genai.Client
	model  string
}

func newGoogleBackend(cfg Config) (*googleBackend, error) {
	gc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.BaseURL != "" {
		gc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(context.Background(), gc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &googleBackend{client: client, model: cfg.Model}, nil
}

func (g *googleBackend) complete(ctx context.Context, systemPrompt, userText string, maxTokens int) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(userText), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		MaxOutputTokens:   int32(maxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("genai generate content: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", errors.New("genai returned no candidates")
	}
	return resp.Text(), nil
}
