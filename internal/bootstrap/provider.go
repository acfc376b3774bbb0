// Package bootstrap turns configuration into the runtime components shared
// by the server and the command line tool.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sop-monitor/backend/internal/cache/memory"
	"github.com/sop-monitor/backend/internal/cache/redis"
	"github.com/sop-monitor/backend/internal/evaluation"
	"github.com/sop-monitor/backend/internal/llm"
	"github.com/sop-monitor/backend/internal/similarity"
	"github.com/sop-monitor/backend/pkg/config"
	"github.com/sop-monitor/backend/pkg/logger"
)

// Pinger is satisfied by every external dependency the provider may open.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Provider is a similarity provider plus whatever it holds open.
type Provider struct {
	evaluation.SimilarityProvider
	// Dependencies lists external services the provider relies on, by name.
	Dependencies map[string]Pinger
	closers      []func() error
}

func (p *Provider) Close() error {
	var firstErr error
	for _, closeFn := range p.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewProvider builds the similarity backend selected by cfg.Embedding and,
// for the openai backend, the embedding cache selected by cfg.Cache.
func NewProvider(cfg *config.Config) (*Provider, error) {
	p := &Provider{Dependencies: map[string]Pinger{}}

	switch cfg.Embedding.Provider {
	case "lexical":
		lexical, err := similarity.NewLexicalProvider()
		if err != nil {
			return nil, err
		}
		p.SimilarityProvider = lexical
		logger.Info("Using lexical similarity provider")
		return p, nil

	case "openai":
		retryCfg, breakerCfg := llm.DefaultResilience()
		client := llm.NewClient(llm.Config{
			APIKey:         cfg.Embedding.APIKey,
			BaseURL:        cfg.Embedding.BaseURL,
			EmbeddingModel: cfg.Embedding.Model,
			Timeout:        time.Duration(cfg.Embedding.TimeoutSec) * time.Second,
			BatchSize:      cfg.Embedding.BatchSize,
			Retry:          retryCfg,
			Breaker:        breakerCfg,
		})

		var encoder similarity.Encoder = client
		cache, err := p.newCache(cfg)
		if err != nil {
			return nil, err
		}
		if cache != nil {
			encoder = similarity.NewCachedEncoder(client, cache, cfg.Cache.Backend)
		}

		p.SimilarityProvider = similarity.NewEmbeddingProvider(encoder)
		logger.Info("Using embedding similarity provider",
			zap.String("model", client.Model()),
			zap.String("cache", cfg.Cache.Backend),
		)
		return p, nil

	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", config.ErrInvalidConfig, cfg.Embedding.Provider)
	}
}

func (p *Provider) newCache(cfg *config.Config) (similarity.EmbeddingCache, error) {
	ttl := time.Duration(cfg.Cache.TTLSec) * time.Second

	switch cfg.Cache.Backend {
	case "", "none":
		return nil, nil
	case "memory":
		return memory.New(cfg.Cache.Size, ttl)
	case "redis":
		client, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, ttl)
		if err != nil {
			return nil, err
		}
		p.Dependencies["redis"] = client
		p.closers = append(p.closers, client.Close)
		return client, nil
	default:
		return nil, fmt.Errorf("%w: unknown cache backend %q", config.ErrInvalidConfig, cfg.Cache.Backend)
	}
}

// NewEvaluator builds an evaluator over provider using cfg.Compliance.
func NewEvaluator(cfg *config.Config, provider evaluation.SimilarityProvider) (*evaluation.Evaluator, error) {
	return evaluation.NewEvaluator(provider, evaluation.Config{
		Threshold: cfg.Compliance.Threshold,
		Workers:   cfg.Compliance.Workers,
	})
}
