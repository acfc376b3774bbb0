package similarity

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sop-monitor/backend/internal/metrics"
	"github.com/sop-monitor/backend/pkg/logger"
	"github.com/sop-monitor/backend/pkg/utils"
)

// EmbeddingCache stores embeddings by key. A miss is (nil, false, nil).
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, key string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, key string, embedding []float32) error
}

// CachedEncoder consults cache before delegating to the wrapped encoder.
// Cache failures are logged and treated as misses.
type CachedEncoder struct {
	encoder   Encoder
	cache     EmbeddingCache
	cacheType string
}

var _ Encoder = (*CachedEncoder)(nil)

func NewCachedEncoder(encoder Encoder, cache EmbeddingCache, cacheType string) *CachedEncoder {
	return &CachedEncoder{
		encoder:   encoder,
		cache:     cache,
		cacheType: cacheType,
	}
}

func (c *CachedEncoder) Model() string {
	return c.encoder.Model()
}

func (c *CachedEncoder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := utils.EmbeddingKey(c.encoder.Model(), text)
	if emb, ok := c.lookup(ctx, key); ok {
		return emb, nil
	}

	emb, err := c.encoder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, emb)
	return emb, nil
}

func (c *CachedEncoder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))

	var missTexts []string
	var missIdx []int
	for i, text := range texts {
		keys[i] = utils.EmbeddingKey(c.encoder.Model(), text)
		if emb, ok := c.lookup(ctx, keys[i]); ok {
			out[i] = emb
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	embeddings, err := c.encoder.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(embeddings) != len(missTexts) {
		return nil, fmt.Errorf("got %d embeddings for %d texts", len(embeddings), len(missTexts))
	}

	for j, emb := range embeddings {
		i := missIdx[j]
		out[i] = emb
		c.store(ctx, keys[i], emb)
	}

	return out, nil
}

func (c *CachedEncoder) lookup(ctx context.Context, key string) ([]float32, bool) {
	emb, ok, err := c.cache.GetEmbedding(ctx, key)
	if err != nil {
		logger.Warn("Embedding cache lookup failed", zap.String("cache", c.cacheType), zap.Error(err))
		ok = false
	}
	if ok {
		metrics.CacheHits.WithLabelValues(c.cacheType).Inc()
		return emb, true
	}
	metrics.CacheMisses.WithLabelValues(c.cacheType).Inc()
	return nil, false
}

func (c *CachedEncoder) store(ctx context.Context, key string, emb []float32) {
	if err := c.cache.SetEmbedding(ctx, key, emb); err != nil {
		logger.Warn("Embedding cache store failed", zap.String("cache", c.cacheType), zap.Error(err))
	}
}
