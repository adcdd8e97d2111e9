package main

import (
	"context"
	"fmt"
	"time"

	"icdcoder/internal/agent"
	"icdcoder/internal/config"
	"icdcoder/internal/corpus"
	"icdcoder/internal/domain"
	"icdcoder/internal/embedding"
	"icdcoder/internal/embedding/googleai"
	"icdcoder/internal/embedding/openai"
	"icdcoder/internal/embedding/tfidf"
	"icdcoder/internal/logger"
	"icdcoder/internal/metrics"
	"icdcoder/internal/service"
	"icdcoder/internal/vectorstore"
	"icdcoder/internal/vectorstore/memory"
	"icdcoder/internal/vectorstore/pgvector"
	"icdcoder/internal/vectorstore/qdrant"
)

// app holds the components shared by every command.
type app struct {
	cfg     *config.AppConfig
	log     logger.Logger
	metrics *metrics.Metrics
	svc     *service.CodingService
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp assembles both corpora and the coding service. With loadMemory set,
// corpora backed by the in-memory store are filled from their data_path.
func buildApp(ctx context.Context, cfg *config.AppConfig, log logger.Logger, loadMemory bool) (*app, error) {
	a := &app{cfg: cfg, log: log, metrics: metrics.New()}
	tab, err := a.buildCorpus(ctx, domain.SourceTabular, cfg.Corpora.Tabular)
	if err != nil {
		a.Close()
		return nil, err
	}
	idx, err := a.buildCorpus(ctx, domain.SourceIndex, cfg.Corpora.Index)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.svc = service.NewCodingService(tab, idx, service.Options{
		SingleConditionCap: cfg.Retrieval.SingleConditionCap,
		MultiConditionCap:  cfg.Retrieval.MultiConditionCap,
	}, a.metrics)
	if loadMemory {
		if err := a.loadMemoryCorpora(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) loadMemoryCorpora(ctx context.Context) error {
	for _, c := range []struct {
		source domain.Source
		cfg    config.CorpusConfig
	}{
		{domain.SourceTabular, a.cfg.Corpora.Tabular},
		{domain.SourceIndex, a.cfg.Corpora.Index},
	} {
		if c.cfg.VectorStore.Type != "memory" {
			continue
		}
		if c.cfg.DataPath == "" {
			return fmt.Errorf("%s corpus uses the memory store but has no data_path", c.source)
		}
		n, err := a.svc.IngestFile(logger.ContextWithLogger(ctx, a.log), c.source, c.cfg.DataPath)
		if err != nil {
			return fmt.Errorf("load %s corpus: %w", c.source, err)
		}
		a.log.Info("Corpus loaded", "corpus", c.source, "records", n, "path", c.cfg.DataPath)
	}
	return nil
}

func (a *app) buildCorpus(ctx context.Context, source domain.Source, cfg config.CorpusConfig) (*corpus.Adapter, error) {
	var emb embedding.Embedder
	switch cfg.Embedder.Type {
	case "tfidf", "":
		emb = tfidf.NewEmbedder()
	case "openai":
		if cfg.Embedder.OpenAI == nil {
			return nil, fmt.Errorf("%s: openai embedder config missing", source)
		}
		client, err := openai.NewClient(openai.Config{
			BaseURL:   cfg.Embedder.OpenAI.BaseURL,
			APIKeyEnv: cfg.Embedder.OpenAI.APIKeyEnv,
			Model:     cfg.Embedder.OpenAI.Model,
			Timeout:   time.Duration(cfg.Embedder.OpenAI.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: openai embedder init failed: %w", source, err)
		}
		emb = client
	case "googleai":
		if cfg.Embedder.GoogleAI == nil {
			return nil, fmt.Errorf("%s: googleai embedder config missing", source)
		}
		g, err := googleai.New(ctx, googleai.Config{
			APIKeyEnv: cfg.Embedder.GoogleAI.APIKeyEnv,
			Model:     cfg.Embedder.GoogleAI.Model,
			BatchSize: cfg.Embedder.GoogleAI.BatchSize,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: googleai embedder init failed: %w", source, err)
		}
		emb = g
	default:
		return nil, fmt.Errorf("%s: unknown embedder: %s", source, cfg.Embedder.Type)
	}
	if cfg.Embedder.CacheSize > 0 {
		cached, err := embedding.NewCached(emb, cfg.Embedder.CacheSize)
		if err != nil {
			return nil, err
		}
		emb = cached
	}

	var st vectorstore.Storage
	switch cfg.VectorStore.Type {
	case "memory", "":
		st = memory.NewStorage()
	case "qdrant":
		if cfg.VectorStore.Qdrant == nil {
			return nil, fmt.Errorf("%s: qdrant config missing", source)
		}
		st = qdrant.NewStorage(qdrant.Config{
			URL:        cfg.VectorStore.Qdrant.URL,
			APIKey:     cfg.VectorStore.Qdrant.APIKey,
			Collection: cfg.VectorStore.Qdrant.Collection,
			Timeout:    time.Duration(cfg.VectorStore.Qdrant.TimeoutSecs) * time.Second,
		})
	case "pgvector":
		if cfg.VectorStore.PGVector == nil {
			return nil, fmt.Errorf("%s: pgvector config missing", source)
		}
		pg, err := pgvector.Open(ctx, pgvector.Config{
			DSN:   cfg.VectorStore.PGVector.ResolveDSN(),
			Table: cfg.VectorStore.PGVector.Table,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", source, err)
		}
		a.closers = append(a.closers, pg.Close)
		st = pg
	default:
		return nil, fmt.Errorf("%s: unknown vector store: %s", source, cfg.VectorStore.Type)
	}
	return corpus.NewAdapter(source, emb, st, cfg.TopK), nil
}

// buildAgent returns nil when the LLM provider is disabled.
func (a *app) buildAgent(ctx context.Context) (*agent.Agent, error) {
	if a.cfg.LLM.Provider == "none" {
		return nil, nil
	}
	model, err := agent.NewModel(ctx, agent.ModelConfig{
		Provider:  a.cfg.LLM.Provider,
		Model:     a.cfg.LLM.Model,
		APIKeyEnv: a.cfg.LLM.APIKeyEnv,
		BaseURL:   a.cfg.LLM.BaseURL,
	})
	if err != nil {
		return nil, err
	}
	return agent.New(model, a.svc, agent.NewInterruptStore(), agent.Options{
		RequireApproval: a.cfg.Server.RequireApproval,
		Temperature:     a.cfg.LLM.Temperature,
	}, a.metrics), nil
}
