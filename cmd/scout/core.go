package main

import (
	"path/filepath"

	"scout/internal/agent"
	"scout/internal/config"
	scouterrors "scout/internal/errors"
	"scout/internal/llm"
	"scout/internal/memory"
	"scout/internal/session"
	"scout/internal/tools"
	"scout/internal/tools/builtin"
	"scout/internal/vector"
)

// core bundles the long-lived components shared by the serve and evolve
// commands.
type core struct {
	config     config.Config
	gateway    llm.StreamingClient
	sessions   *session.Store
	registry   *tools.Registry
	dispatcher *tools.Dispatcher
	runner     *agent.Runner
	memory     *memory.Store
}

func buildCore(cfg config.Config) (*core, error) {
	pool, err := llm.NewPool(cfg.LLM.BaseURLs, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.RequestTimeout)
	if err != nil {
		return nil, err
	}
	retry := scouterrors.DefaultRetryConfig()
	retry.MaxAttempts = cfg.LLM.MaxRetries
	gateway := llm.WithRetry(pool, retry)

	registry := tools.NewRegistry()
	builtin.RegisterAll(registry)

	dispatcher := tools.NewDispatcher(registry, tools.NewPendingCalls(), nil, tools.DispatcherConfig{
		LocalConcurrency: cfg.Agent.ToolConcurrency,
		RemoteTimeout:    cfg.Agent.RemoteToolTimeout,
	})

	sessions := session.NewStore(cfg.DataDir)
	runner := agent.NewRunner(sessions, gateway, registry,
		agent.NewSubTaskExecutor(dispatcher, cfg.Agent.SubTaskResultMax),
		agent.NewCompactor(gateway, agent.CompactorConfig{
			TokenBudget: cfg.Agent.TokenBudget,
			Retention:   cfg.Agent.CompactRetention,
		}),
		agent.Config{
			MaxIterations: cfg.Agent.MaxIterations,
			MaxRetries:    cfg.LLM.MaxRetries,
		})

	return &core{
		config:     cfg,
		gateway:    gateway,
		sessions:   sessions,
		registry:   registry,
		dispatcher: dispatcher,
		runner:     runner,
		memory:     memory.NewStore(cfg.DataDir),
	}, nil
}

func (c *core) newEmbedder() (vector.Embedder, error) {
	return vector.NewEmbedder(vector.EmbedderConfig{
		BaseURL:   c.config.Embedding.BaseURL,
		APIKey:    c.config.Embedding.APIKey,
		Model:     c.config.Embedding.Model,
		Dimension: c.config.Embedding.Dimension,
		CacheSize: c.config.Embedding.CacheSize,
	})
}

func (c *core) openVectorStore(projectKey string) (*vector.Store, error) {
	return vector.NewStore(vector.StoreConfig{
		Dir:            filepath.Join(c.config.ProjectDir(projectKey), "vector"),
		Dimension:      c.config.Embedding.Dimension,
		L1MaxBytes:     int(c.config.Vector.L1MaxBytes),
		ScoreThreshold: c.config.Vector.ScoreThreshold,
		Model:          c.config.Embedding.Model,
	})
}
