package main

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/danshapiro/uigen/internal/agent"
	"github.com/danshapiro/uigen/internal/config"
	"github.com/danshapiro/uigen/internal/llm"
	"github.com/danshapiro/uigen/internal/llm/providers/openaicompat"
	"github.com/danshapiro/uigen/internal/llm/providers/standin"
	"github.com/danshapiro/uigen/internal/ratelimit"
	"github.com/danshapiro/uigen/internal/review"
	"github.com/danshapiro/uigen/internal/server"
	"github.com/danshapiro/uigen/internal/store"
)

// app is the wired object graph behind every subcommand.
type app struct {
	cfg      *config.File
	logger   *zap.Logger
	client   *llm.Client
	orch     *agent.Orchestrator
	projects *store.ProjectStore
	limiter  *ratelimit.Limiter
	auth     *server.StaticTokens

	closers []func() error
}

func loadConfig(path string) (*config.File, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func newLogger(cfg *config.File) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if cfg.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// buildApp wires the model client, critic, store, limiter and orchestrator.
// An openai model without an API key falls back to the stand-in.
func buildApp(cfg *config.File, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	a.client = llm.NewClient()
	a.client.Use(llm.LoggingMiddleware(logger.Named("llm")))
	genProvider, genModel, standIn := a.registerModel(cfg.Model, "model")
	criticProvider, criticModel, _ := a.registerModel(cfg.Critic, "critic")

	critic, err := review.NewCritic(a.client, review.Config{
		Model:     criticModel,
		Provider:  criticProvider,
		MaxTokens: cfg.Critic.MaxTokens,
	}, logger.Named("review"))
	if err != nil {
		return nil, err
	}

	a.projects, err = store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, a.projects.Close)

	if *cfg.RateLimit.Enabled {
		a.limiter, err = a.buildLimiter()
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	tokens, err := cfg.ResolveTokens()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.auth = server.NewStaticTokens(tokens)

	policy := llm.DefaultRetryPolicy()
	policy.MaxRetries = *cfg.Orchestrator.MaxLLMRetries
	a.orch, err = agent.NewOrchestrator(a.client, critic, a.projects, logger.Named("agent"), agent.Config{
		Model:           genModel,
		Provider:        genProvider,
		StandIn:         standIn,
		MaxEdits:        cfg.Orchestrator.MaxEdits,
		MaxSteps:        cfg.Orchestrator.MaxSteps,
		StandInMaxSteps: cfg.Orchestrator.StandInMaxSteps,
		MaxTokens:       cfg.Model.MaxTokens,
		ReviewTimeout:   cfg.Orchestrator.ReviewTimeout(),
		SaveTimeout:     cfg.Orchestrator.SaveTimeout(),
		RetryPolicy:     &policy,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// registerModel registers the adapter for m and returns the provider and
// model names requests should carry. A remote provider without its API key
// falls back to the stand-in.
func (a *app) registerModel(m config.ModelConfig, section string) (provider, model string, standIn bool) {
	if !m.IsLocal() {
		key := m.APIKey()
		if key != "" || !m.RequiresKey() {
			// The critic gets its own adapter so it can point elsewhere.
			name := m.Provider
			if section != "model" {
				name = section + "-" + m.Provider
			}
			a.client.Register(openaicompat.NewAdapter(openaicompat.Config{
				Provider:     name,
				OptionsKey:   m.OptionsKey(),
				APIKey:       key,
				BaseURL:      m.BaseURL,
				Path:         m.Path,
				ExtraHeaders: m.Headers,
			}))
			return name, m.Model, false
		}
		a.logger.Warn("no API key, using the stand-in model",
			zap.String("section", section),
			zap.String("provider", m.Provider),
			zap.String("api_key_env", m.APIKeyEnv))
	}
	if !contains(a.client.ProviderNames(), standin.Name) {
		a.client.Register(standin.NewAdapter())
	}
	return standin.Name, standin.Name, true
}

func (a *app) buildLimiter() (*ratelimit.Limiter, error) {
	rl := a.cfg.RateLimit
	var counters ratelimit.CounterStore
	if url := rl.ResolveRedisURL(); url != "" {
		rs, err := ratelimit.NewRedisStoreFromURL(url)
		if err != nil {
			return nil, fmt.Errorf("rate limit redis: %w", err)
		}
		a.closers = append(a.closers, rs.Close)
		counters = rs
	} else {
		a.logger.Info("rate limit counters kept in process")
		counters = ratelimit.NewMemoryStore(time.Now)
	}
	return ratelimit.New(counters, ratelimit.Config{
		DailyLimit:  rl.DailyLimit,
		WindowLimit: rl.WindowLimit,
		Window:      rl.Window(),
	}, ratelimit.WithLogger(a.logger.Named("ratelimit"))), nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
