package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/sop-monitor/backend/internal/metrics"
	"github.com/sop-monitor/backend/pkg/circuitbreaker"
	"github.com/sop-monitor/backend/pkg/logger"
	"github.com/sop-monitor/backend/pkg/retry"
)

const (
	DefaultEmbeddingModel = "text-embedding-3-small"
	defaultBatchSize      = 100
	defaultTimeout        = 15 * time.Second
)

// Config configures the embedding client. BaseURL points at any
// OpenAI-compatible endpoint; empty uses api.openai.com.
type Config struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	Timeout        time.Duration
	BatchSize      int
	Retry          retry.Config
	Breaker        circuitbreaker.Config
}

// Client produces text embeddings through the OpenAI embeddings API.
type Client struct {
	client         *openai.Client
	embeddingModel string
	timeout        time.Duration
	batchSize      int
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

func NewClient(cfg Config) *Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}

	breakerConfig := cfg.Breaker
	if breakerConfig.Logger == nil {
		breakerConfig.Logger = logger.GetLogger()
	}
	if breakerConfig.IsFailure == nil {
		breakerConfig.IsFailure = isTransient
	}

	retryConfig := cfg.Retry
	if retryConfig.Logger == nil {
		retryConfig.Logger = logger.GetLogger()
	}
	if retryConfig.RetryIf == nil {
		retryConfig.RetryIf = isTransient
	}

	logger.Info("Embedding client initialized",
		zap.String("embedding_model", cfg.EmbeddingModel),
		zap.String("base_url", clientConfig.BaseURL),
	)

	return &Client{
		client:         openai.NewClientWithConfig(clientConfig),
		embeddingModel: cfg.EmbeddingModel,
		timeout:        cfg.Timeout,
		batchSize:      cfg.BatchSize,
		cb:             circuitbreaker.NewCircuitBreaker("embeddings", breakerConfig),
		retryConfig:    retryConfig,
	}
}

// DefaultResilience returns the retry and breaker settings used by the service.
func DefaultResilience() (retry.Config, circuitbreaker.Config) {
	return retry.Config{
			MaxAttempts:    3,
			InitialDelay:   500 * time.Millisecond,
			MaxDelay:       5 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
		}, circuitbreaker.Config{
			MaxRequests:      5,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			SuccessThreshold: 2,
		}
}

func (c *Client) Model() string {
	return c.embeddingModel
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch embeds texts in request-sized batches and returns one vector per
// text, in input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	embeddings := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += c.batchSize {
		end := min(i+c.batchSize, len(texts))

		batch, err := c.embed(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, batch...)
	}

	logger.Debug("Embeddings generated", zap.Int("count", len(embeddings)))

	return embeddings, nil
}

func (c *Client) embed(ctx context.Context, batch []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var out [][]float32

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
				Input: batch,
				Model: openai.EmbeddingModel(c.embeddingModel),
			})
			if err != nil {
				metrics.EmbeddingRequests.WithLabelValues(c.embeddingModel, "error").Inc()
				return fmt.Errorf("failed to generate embeddings: %w", err)
			}
			metrics.EmbeddingRequests.WithLabelValues(c.embeddingModel, "ok").Inc()

			if len(resp.Data) != len(batch) {
				return retry.Permanent(fmt.Errorf("embedding count mismatch: got %d, want %d", len(resp.Data), len(batch)))
			}

			data := resp.Data
			sort.Slice(data, func(a, b int) bool { return data[a].Index < data[b].Index })

			out = make([][]float32, len(data))
			for j, d := range data {
				embedding := make([]float32, len(d.Embedding))
				copy(embedding, d.Embedding)
				out[j] = embedding
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// isTransient reports whether an API error is worth retrying: rate limits,
// server errors and transport failures are, request errors are not.
func isTransient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return !errors.Is(err, context.Canceled)
}
