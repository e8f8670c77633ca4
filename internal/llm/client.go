package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/fjwyyds6668/ai-tourguide/internal/metrics"
	"github.com/fjwyyds6668/ai-tourguide/pkg/circuitbreaker"
	"github.com/fjwyyds6668/ai-tourguide/pkg/logger"
	"github.com/fjwyyds6668/ai-tourguide/pkg/retry"
)

var ErrEmptyResponse = errors.New("model returned no choices")

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message, independent of the provider SDK.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Options struct {
	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
	Temperature    float32
	MaxTokens      int
	Timeout        time.Duration
}

// Client talks to any OpenAI-compatible endpoint for chat completions and
// embeddings.
type Client struct {
	client         *openai.Client
	model          string
	embeddingModel string
	temperature    float32
	maxTokens      int
	timeout        time.Duration
	chatCB         *circuitbreaker.Breaker
	embedCB        *circuitbreaker.Breaker
	batchRetry     retry.Policy
}

func NewClient(opts Options) *Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	settings := func() circuitbreaker.Settings {
		return circuitbreaker.Settings{
			MaxRequests:      2,
			Interval:         time.Minute,
			OpenTimeout:      30 * time.Second,
			FailureThreshold: 5,
			OnStateChange:    metrics.BreakerStateChanged,
			Logger:           logger.GetLogger(),
		}
	}

	logger.Info("LLM client initialized",
		zap.String("base_url", cfg.BaseURL),
		zap.String("model", opts.Model),
		zap.String("embedding_model", opts.EmbeddingModel),
	)

	return &Client{
		client:         openai.NewClientWithConfig(cfg),
		model:          opts.Model,
		embeddingModel: opts.EmbeddingModel,
		temperature:    opts.Temperature,
		maxTokens:      opts.MaxTokens,
		timeout:        opts.Timeout,
		chatCB:         circuitbreaker.New("llm", settings()),
		embedCB:        circuitbreaker.New("embedding", settings()),
		batchRetry: retry.Policy{
			MaxAttempts:    3,
			InitialDelay:   500 * time.Millisecond,
			MaxDelay:       5 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
			Logger:         logger.GetLogger(),
		},
	}
}

func (c *Client) Model() string { return c.model }

func (c *Client) EmbeddingModel() string { return c.embeddingModel }

// Complete sends the conversation and returns the assistant reply. It makes a
// single attempt; retrying a generation is the caller's decision.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toOpenAI(messages),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	var content string
	err := c.chatCB.Call(ctx, func(ctx context.Context) error {
		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return fmt.Errorf("failed to create completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return ErrEmptyResponse
		}

		metrics.LLMTokensUsed.WithLabelValues(c.model, "prompt").Add(float64(resp.Usage.PromptTokens))
		metrics.LLMTokensUsed.WithLabelValues(c.model, "completion").Add(float64(resp.Usage.CompletionTokens))
		logger.Debug("LLM completion generated",
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		)

		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

// Embed embeds one query on the request path, without retries.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var embedding []float32
	err := c.embedCB.Call(ctx, func(ctx context.Context) error {
		vecs, err := c.createEmbeddings(ctx, []string{text})
		if err != nil {
			return err
		}
		embedding = vecs[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return embedding, nil
}

// EmbedBatch embeds passages for indexing, retrying transient failures.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	const batchSize = 64
	embeddings := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += batchSize {
		batch := texts[i:min(i+batchSize, len(texts))]

		vecs, err := retry.DoValue(ctx, c.batchRetry, func(ctx context.Context) ([][]float32, error) {
			var out [][]float32
			err := c.embedCB.Call(ctx, func(ctx context.Context) error {
				var err error
				out, err = c.createEmbeddings(ctx, batch)
				return err
			})
			if errors.Is(err, circuitbreaker.ErrOpen) {
				return nil, retry.Permanent(err)
			}
			return out, err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch at %d: %w", i, err)
		}
		embeddings = append(embeddings, vecs...)
	}

	logger.Debug("batch embeddings generated", zap.Int("count", len(embeddings)))
	return embeddings, nil
}

func (c *Client) createEmbeddings(ctx context.Context, input []string) ([][]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: input,
		Model: openai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(resp.Data) != len(input) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", len(input), len(resp.Data))
	}

	out := make([][]float32, len(input))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func toOpenAI(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
