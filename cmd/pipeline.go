package cmd

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/smkim0508/Portable-Brain/config"
	"github.com/smkim0508/Portable-Brain/engine"
	"github.com/smkim0508/Portable-Brain/judge"
	"github.com/smkim0508/Portable-Brain/memory"
	"github.com/smkim0508/Portable-Brain/memory/embedder/cache"
	"github.com/smkim0508/Portable-Brain/memory/embedder/genai"
	"github.com/smkim0508/Portable-Brain/memory/embedder/mock"
	"github.com/smkim0508/Portable-Brain/memory/store/chromem"
	"github.com/smkim0508/Portable-Brain/memory/store/postgres"
	"github.com/smkim0508/Portable-Brain/monitor"
)

// pipeline is everything between a snapshot source and the memory stores.
type pipeline struct {
	judge    *judge.Judge
	emitter  *memory.Emitter
	embedder memory.Embedder
	vectors  *chromem.Store
	records  *postgres.Store
	closers  []func()
}

// Close releases resources in reverse order of acquisition.
func (p *pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
}

// engineOptions wires the pipeline into an engine configured from cfg.
func (p *pipeline) engineOptions(cfg *config.Config, logger *zap.Logger) []engine.Option {
	return []engine.Option{
		engine.WithJudge(p.judge),
		engine.WithWindow(monitor.NewWindow(cfg.Window.Monitor(), logger)),
		engine.WithLogger(logger),
		engine.WithBackoff(cfg.Tracker.ChangeCooldown, cfg.Tracker.ErrorBackoff),
		engine.WithStopTimeout(cfg.Tracker.StopTimeout),
	}
}

func buildPipeline(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pipeline, error) {
	p := &pipeline{}
	built := false
	defer func() {
		if !built {
			p.Close()
		}
	}()

	loc, err := cfg.Tracker.Location()
	if err != nil {
		return nil, err
	}
	judgeOpts := []judge.Option{judge.WithConfig(cfg.Judge), judge.WithLogger(logger)}
	if loc != nil {
		judgeOpts = append(judgeOpts, judge.WithLocation(loc))
	}
	if cfg.Anthropic.Enabled {
		client := anthropic.NewClient(option.WithAPIKey(cfg.Anthropic.APIKey))
		judgeOpts = append(judgeOpts, judge.WithRenderer(judge.NewClaudeRenderer(&client.Messages, cfg.Anthropic.ClaudeConfig, logger)))
	}
	p.judge = judge.New(judgeOpts...)

	embedder, err := p.newEmbedder(ctx, cfg.Embedder)
	if err != nil {
		return nil, err
	}

	store, err := p.newStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	p.embedder = embedder
	p.emitter = memory.NewEmitter(store, embedder, logger)
	built = true
	return p, nil
}

func (p *pipeline) newEmbedder(ctx context.Context, cfg config.EmbedderConfig) (memory.Embedder, error) {
	var base memory.Embedder
	switch cfg.Provider {
	case config.EmbedderGenAI:
		e, err := genai.New(ctx, cfg.GenAI)
		if err != nil {
			return nil, fmt.Errorf("create genai embedder: %w", err)
		}
		base = e
	default:
		base = mock.New(cfg.MockDimensions)
	}

	if cfg.CacheBytes <= 0 {
		return base, nil
	}
	cached, err := cache.New(base, cfg.CacheBytes)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	p.closers = append(p.closers, cached.Close)
	return cached, nil
}

func (p *pipeline) newStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (memory.Store, error) {
	var stores memory.MultiStore

	if cfg.Chromem.Enabled {
		if cfg.Chromem.Path != "" {
			s, err := chromem.NewPersistent(cfg.Chromem.Path, logger)
			if err != nil {
				return nil, fmt.Errorf("open vector store: %w", err)
			}
			p.vectors = s
		} else {
			p.vectors = chromem.New(logger)
		}
		stores = append(stores, p.vectors)
	}

	if cfg.Postgres.URL != "" {
		s, pool, err := postgres.Connect(ctx, cfg.Postgres.URL, logger)
		if err != nil {
			return nil, fmt.Errorf("connect structured store: %w", err)
		}
		p.closers = append(p.closers, pool.Close)
		if cfg.Postgres.EnsureSchema {
			if err := s.EnsureSchema(ctx); err != nil {
				return nil, err
			}
		}
		p.records = s
		stores = append(stores, s)
	}

	if len(stores) == 1 {
		return stores[0], nil
	}
	return stores, nil
}
