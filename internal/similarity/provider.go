// Package similarity provides the text similarity capabilities the
// evaluation engine is built on.
package similarity

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Provider scores one text against many candidates. Scores are in [0, 1].
type Provider interface {
	Similarities(ctx context.Context, text string, candidates []string) ([]float64, error)
}

// Encoder maps text to fixed-size vectors.
type Encoder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// EmbeddingProvider scores candidates by cosine similarity of their embeddings.
type EmbeddingProvider struct {
	encoder Encoder
}

var _ Provider = (*EmbeddingProvider)(nil)

func NewEmbeddingProvider(encoder Encoder) *EmbeddingProvider {
	return &EmbeddingProvider{encoder: encoder}
}

func (p *EmbeddingProvider) Similarities(ctx context.Context, text string, candidates []string) ([]float64, error) {
	if len(candidates) == 0 {
		return []float64{}, nil
	}

	query, err := p.encoder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}

	vectors, err := p.encoder.EmbedBatch(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("failed to embed candidates: %w", err)
	}
	if len(vectors) != len(candidates) {
		return nil, fmt.Errorf("got %d embeddings for %d candidates", len(vectors), len(candidates))
	}

	scores := make([]float64, len(vectors))
	for i, v := range vectors {
		sim, err := CosineSimilarity(query, v)
		if err != nil {
			return nil, fmt.Errorf("candidate %d: %w", i, err)
		}
		scores[i] = clamp(sim)
	}

	return scores, nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either vector has zero length.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

func clamp(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}
