package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/malbeclabs/rwe/agent/pkg/pipeline"
	"github.com/malbeclabs/rwe/agent/pkg/rag"
	"github.com/malbeclabs/rwe/config"
	"github.com/malbeclabs/rwe/pkg/cohort"
	"github.com/malbeclabs/rwe/pkg/sandbox"
	"github.com/malbeclabs/rwe/pkg/tablestore"
	"github.com/malbeclabs/rwe/pkg/tracking"
	"github.com/malbeclabs/rwe/pkg/vectorindex"
)

// app holds the components shared by the subcommands. Fields are nil when
// the command did not ask for them.
type app struct {
	log *slog.Logger
	cfg *config.Config

	tables   *tablestore.Store
	resolver *cohort.Resolver
	executor *cohort.Executor
	prompts  *pipeline.Prompts
	chatLLM  pipeline.LLMClient
	codeLLM  pipeline.LLMClient
	tracker  *tracking.Tracker
	pipeline *pipeline.Pipeline

	embedder   vectorindex.Embedder
	indexStore *vectorindex.Store
	index      *vectorindex.Index

	closers []func() error
}

type appOptions struct {
	// llm creates the chat and code clients; pipeline implies it.
	llm      bool
	pipeline bool
	tracking bool
	index    bool
}

func newApp(ctx context.Context, log *slog.Logger, cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{log: log, cfg: cfg}
	if err := a.init(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context, opts appOptions) error {
	store, err := tablestore.New(ctx, tablestore.Config{
		Logger:    a.log,
		Tables:    tableConfigs(a.cfg.Tables),
		CacheSize: a.cfg.TableCacheSize,
	})
	if err != nil {
		return fmt.Errorf("failed to create table store: %w", err)
	}
	a.tables = store
	a.closers = append(a.closers, store.Close)
	a.resolver = cohort.NewResolver(store, a.cfg.Aliases)

	a.executor, err = cohort.NewExecutor(cohort.ExecutorConfig{
		Logger:       a.log,
		Resolver:     a.resolver,
		DefaultTable: a.cfg.DefaultTable,
	})
	if err != nil {
		return fmt.Errorf("failed to create cohort executor: %w", err)
	}

	if opts.pipeline || opts.llm {
		a.prompts, err = pipeline.LoadPrompts(a.cfg.Prompts)
		if err != nil {
			return fmt.Errorf("failed to load prompts: %w", err)
		}
		if err := a.initLLMs(); err != nil {
			return err
		}
	}

	if opts.tracking && a.cfg.Tracking.Enabled {
		a.tracker, err = tracking.Open(ctx, tracking.Config{
			Logger: a.log,
			Path:   a.cfg.Tracking.Path,
			Params: a.runParams(),
		})
		if err != nil {
			return fmt.Errorf("failed to open run tracking: %w", err)
		}
		a.closers = append(a.closers, a.tracker.Close)
	}

	if opts.pipeline {
		if err := a.initPipeline(); err != nil {
			return err
		}
	}

	if opts.index {
		if err := a.initIndex(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) initLLMs() error {
	llm := a.cfg.LLM
	newClient := func(model string) (pipeline.LLMClient, error) {
		switch llm.Provider {
		case config.ProviderAnthropic:
			return pipeline.NewAnthropicLLMClient(pipeline.AnthropicConfig{
				Logger:      a.log,
				APIKey:      llm.APIKey,
				Model:       model,
				MaxTokens:   llm.MaxTokens,
				Temperature: llm.Temperature,
				Timeout:     llm.Timeout,
				MaxAttempts: llm.MaxRetries,
			}), nil
		default:
			return pipeline.NewOpenAILLMClient(pipeline.OpenAIConfig{
				Logger:      a.log,
				APIKey:      llm.APIKey,
				BaseURL:     llm.BaseURL,
				Model:       model,
				MaxTokens:   llm.MaxTokens,
				Temperature: llm.Temperature,
				Timeout:     llm.Timeout,
				MaxAttempts: llm.MaxRetries,
			})
		}
	}

	var err error
	if a.chatLLM, err = newClient(llm.ChatModel); err != nil {
		return fmt.Errorf("failed to create %s chat client: %w", llm.Provider, err)
	}
	if a.codeLLM, err = newClient(llm.CodeModel); err != nil {
		return fmt.Errorf("failed to create %s code client: %w", llm.Provider, err)
	}
	return nil
}

func (a *app) initPipeline() error {
	var analyst pipeline.Analyst = a.executor
	if a.cfg.Analyst.Mode == config.AnalystModeCode {
		runtime, err := sandbox.NewRuntime(sandbox.RuntimeConfig{
			Logger:   a.log,
			Executor: a.executor,
			MaxSteps: a.cfg.Analyst.MaxSteps,
			Timeout:  a.cfg.Analyst.Timeout,
		})
		if err != nil {
			return fmt.Errorf("failed to create sandbox runtime: %w", err)
		}
		analyst, err = pipeline.NewCodeAnalyst(pipeline.CodeAnalystConfig{
			Logger:       a.log,
			LLM:          a.codeLLM,
			Prompts:      a.prompts,
			Runtime:      runtime,
			Tables:       a.tables,
			Aliases:      a.cfg.Aliases,
			ExcerptLimit: a.cfg.Analyst.CodeExcerptLimit,
		})
		if err != nil {
			return fmt.Errorf("failed to create code analyst: %w", err)
		}
	}

	pcfg := &pipeline.Config{
		Logger:       a.log,
		LLM:          a.chatLLM,
		Analyst:      analyst,
		Prompts:      a.prompts,
		MetadataPath: a.cfg.MetadataTextPath,
	}
	if a.tracker != nil {
		pcfg.Tracker = a.tracker
	}
	p, err := pipeline.New(pcfg)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	a.pipeline = p
	return nil
}

func (a *app) initIndex(ctx context.Context) error {
	if a.cfg.Index.APIKey == "" {
		return errors.New("OPENAI_API_KEY is required for the retrieval index")
	}
	// Embeddings always go to OpenAI; a custom base URL only applies when
	// chat goes there too.
	var baseURL string
	if a.cfg.LLM.Provider == config.ProviderOpenAI {
		baseURL = a.cfg.LLM.BaseURL
	}
	embedder, err := vectorindex.NewOpenAIEmbedder(a.cfg.Index.APIKey, baseURL, a.cfg.Index.EmbeddingModel)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	a.embedder = embedder
	a.indexStore, err = vectorindex.OpenStore(ctx, a.log, a.cfg.Index.Path)
	if err != nil {
		return fmt.Errorf("failed to open index store: %w", err)
	}
	a.closers = append(a.closers, a.indexStore.Close)

	a.index, err = vectorindex.New(vectorindex.Config{
		Logger:   a.log,
		Store:    a.indexStore,
		Embedder: embedder,
	})
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// answerer returns the single-agent retrieval answerer over the index.
func (a *app) answerer() (*rag.Answerer, error) {
	if a.index == nil || a.chatLLM == nil {
		return nil, errors.New("retrieval answerer needs the index and a chat client")
	}
	return rag.New(rag.Config{
		Logger:   a.log,
		LLM:      a.chatLLM,
		Searcher: a.index,
		Prompts:  a.prompts,
		TopK:     a.cfg.Index.TopK,
	})
}

// runParams are logged with every tracked run.
func (a *app) runParams() map[string]string {
	params := map[string]string{
		"llm_provider": a.cfg.LLM.Provider,
		"chat_model":   a.cfg.LLM.ChatModel,
		"code_model":   a.cfg.LLM.CodeModel,
		"analyst_mode": a.cfg.Analyst.Mode,
	}
	if a.prompts != nil {
		for _, name := range config.PromptNames {
			params["prompt_"+name] = a.prompts.PromptID(name)
		}
	}
	return params
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("cli: close failed", "error", err)
		}
	}
	a.closers = nil
}

func tableConfigs(tables []config.TableConfig) []tablestore.TableConfig {
	out := make([]tablestore.TableConfig, 0, len(tables))
	for _, t := range tables {
		out = append(out, tablestore.TableConfig{
			Name:        t.Name,
			Path:        t.Path,
			IDColumn:    t.IDColumn,
			TextColumns: t.TextColumns,
		})
	}
	return out
}
