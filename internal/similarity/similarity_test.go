package similarity

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// fakeEncoder maps each text to a vector from a fixed table and counts the
// texts it was asked to encode.
type fakeEncoder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	encoded []string
	err     error
}

func (f *fakeEncoder) Model() string { return "fake-model" }

func (f *fakeEncoder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (f *fakeEncoder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		f.encoded = append(f.encoded, t)
		v, ok := f.vectors[t]
		if !ok {
			v = []float32{0, 0, 1}
		}
		out[i] = v
	}
	return out, nil
}

type mapCache struct {
	mu      sync.Mutex
	entries map[string][]float32
	failGet bool
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string][]float32)}
}

func (m *mapCache) GetEmbedding(_ context.Context, key string) ([]float32, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return nil, false, errors.New("cache down")
	}
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *mapCache) SetEmbedding(_ context.Context, key string, emb []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = emb
	return nil
}

func TestCosineSimilarity(t *testing.T) {
	sim, err := CosineSimilarity([]float32{1, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-9)

	sim, err = CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, sim, 1e-9)

	sim, err = CosineSimilarity([]float32{0, 0}, []float32{1, 1})
	require.NoError(t, err)
	assert.Equal(t, 0.0, sim)

	_, err = CosineSimilarity([]float32{1}, []float32{1, 2})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestEmbeddingProviderClampsNegative(t *testing.T) {
	enc := &fakeEncoder{vectors: map[string][]float32{
		"push":     {1, 0, 0},
		"pull":     {-1, 0, 0},
		"push it":  {0.9, 0.1, 0},
		"unrelate": {0, 1, 0},
	}}
	p := NewEmbeddingProvider(enc)

	scores, err := p.Similarities(context.Background(), "push", []string{"pull", "push it", "unrelate"})
	require.NoError(t, err)
	require.Len(t, scores, 3)

	assert.Equal(t, 0.0, scores[0])
	assert.Greater(t, scores[1], 0.9)
	assert.Equal(t, 0.0, scores[2])
}

func TestEmbeddingProviderPropagatesErrors(t *testing.T) {
	cause := errors.New("quota exceeded")
	p := NewEmbeddingProvider(&fakeEncoder{err: cause})

	_, err := p.Similarities(context.Background(), "a", []string{"b"})
	assert.ErrorIs(t, err, cause)
}

func TestCachedEncoderEncodesOnlyMisses(t *testing.T) {
	enc := &fakeEncoder{vectors: map[string][]float32{"a": {1, 0, 0}, "b": {0, 1, 0}}}
	cache := newMapCache()
	cached := NewCachedEncoder(enc, cache, "test")
	ctx := context.Background()

	first, err := cached.EmbedBatch(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, enc.encoded)

	second, err := cached.EmbedBatch(ctx, []string{"b", "c", "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, enc.encoded)

	assert.Equal(t, first[1], second[0])
	assert.Equal(t, first[0], second[2])
	assert.Equal(t, "fake-model", cached.Model())

	_, err = cached.Embed(ctx, "c")
	require.NoError(t, err)
	assert.Len(t, enc.encoded, 3)
}

func TestCachedEncoderFallsThroughOnCacheError(t *testing.T) {
	enc := &fakeEncoder{}
	cache := newMapCache()
	cache.failGet = true
	cached := NewCachedEncoder(enc, cache, "test")

	v, err := cached.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 1}, v)
	assert.Equal(t, []string{"x"}, enc.encoded)
}

func TestTerms(t *testing.T) {
	terms, err := Terms("Worker measuring the wall, with a tape measure.")
	require.NoError(t, err)
	assert.Equal(t, []string{"measur", "wall", "tape", "measur"}, terms)
}

func TestTermsStemming(t *testing.T) {
	cases := map[string]string{
		"measuring":  "measur",
		"measure":    "measur",
		"measured":   "measur",
		"cutting":    "cut",
		"nails":      "nail",
		"glass":      "glass",
		"batteries":  "batteri",
		"drilling":   "drill",
		"hammering":  "hammer",
		"dimensions": "dimens",
		"tape":       "tape",
	}
	for in, want := range cases {
		terms, err := Terms(in)
		require.NoError(t, err)
		assert.Equal(t, []string{want}, terms, in)
	}
}

func TestLexicalProviderScenarios(t *testing.T) {
	p, err := NewLexicalProvider()
	require.NoError(t, err)
	ctx := context.Background()

	step := "Measure wall dimensions with tape measure"

	scores, err := p.Similarities(ctx, "Worker measuring wall with tape measure", []string{step})
	require.NoError(t, err)
	assert.InDelta(t, 0.926, scores[0], 0.001)

	scores, err = p.Similarities(ctx, "Worker hammering nails into the wall", []string{step})
	require.NoError(t, err)
	assert.InDelta(t, 0.218, scores[0], 0.001)

	scores, err = p.Similarities(ctx, "the and of", []string{step})
	require.NoError(t, err)
	assert.Equal(t, 0.0, scores[0])
}

func TestLexicalProviderCanceled(t *testing.T) {
	p, err := NewLexicalProvider()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.Similarities(ctx, "cut", []string{"cut sheet"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLexicalProviderProperties(t *testing.T) {
	p, err := NewLexicalProvider()
	require.NoError(t, err)
	words := []string{"cut", "sheet", "drill", "hole", "measure", "wall", "screw", "stud", "inspect"}

	phrase := rapid.Custom(func(t *rapid.T) string {
		parts := rapid.SliceOfN(rapid.SampledFrom(words), 1, 6).Draw(t, "words")
		out := parts[0]
		for _, w := range parts[1:] {
			out += " " + w
		}
		return out
	})

	rapid.Check(t, func(t *rapid.T) {
		a := phrase.Draw(t, "a")
		b := phrase.Draw(t, "b")

		ab, err := p.Similarities(context.Background(), a, []string{b, a})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ba, err := p.Similarities(context.Background(), b, []string{a})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if ab[0] < 0 || ab[0] > 1 {
			t.Fatalf("score %v out of [0, 1]", ab[0])
		}
		if ab[0] != ba[0] {
			t.Fatalf("asymmetric: %v vs %v", ab[0], ba[0])
		}
		if ab[1] < 0.999999 {
			t.Fatalf("self similarity %v", ab[1])
		}
	})
}
