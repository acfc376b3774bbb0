package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sop-monitor/backend/pkg/retry"
)

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// embeddingServer answers each input i with the vector [len(input), i] and
// returns the data in reverse order to exercise index sorting.
func embeddingServer(t *testing.T, failures int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		assert.Equal(t, "/v1/embeddings", r.URL.Path)

		if n <= failures {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		data := make([]map[string]any, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(len(req.Input[i])), float32(i)},
			})
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req.Model,
			"data":   data,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestClient(srv *httptest.Server, batchSize int) *Client {
	return NewClient(Config{
		APIKey:    "test-key",
		BaseURL:   srv.URL + "/v1",
		BatchSize: batchSize,
		Timeout:   5 * time.Second,
		Retry: retry.Config{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
		},
	})
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	srv, calls := embeddingServer(t, 0)
	c := newTestClient(srv, 2)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	embeddings, err := c.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, embeddings, len(texts))

	for i, text := range texts {
		assert.Equal(t, float32(len(text)), embeddings[i][0], "text %q", text)
	}
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, DefaultEmbeddingModel, c.Model())
}

func TestEmbedRetriesTransientErrors(t *testing.T) {
	srv, calls := embeddingServer(t, 2)
	c := newTestClient(srv, 10)

	embedding, err := c.Embed(context.Background(), "drill")
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 0}, embedding)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbedGivesUpAfterMaxAttempts(t *testing.T) {
	srv, calls := embeddingServer(t, 100)
	c := newTestClient(srv, 10)

	_, err := c.Embed(context.Background(), "drill")
	assert.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbedBatchEmpty(t *testing.T) {
	srv, calls := embeddingServer(t, 0)
	c := newTestClient(srv, 10)

	embeddings, err := c.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, embeddings)
	assert.Equal(t, int32(0), calls.Load())
}
