package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/malbeclabs/rwe/pkg/analysis"
	"github.com/malbeclabs/rwe/pkg/metrics"
	"github.com/malbeclabs/rwe/pkg/sandbox"
	"github.com/malbeclabs/rwe/pkg/tablestore"
)

const (
	DefaultCodeExcerptLimit = 4000

	notesGenerated       = "Analyst executed a dynamically generated analysis script."
	notesSynthesisFailed = "synthesis failed"
	notesExecutionFailed = "execution of generated analysis code failed"
	notesInvalidResult   = "generated analysis code returned a non-dict result"
)

// TableCatalog lists the registered tables and loads them.
type TableCatalog interface {
	Tables() []tablestore.TableConfig
	Load(ctx context.Context, logicalName string) (*tablestore.Table, error)
}

type CodeAnalystConfig struct {
	Logger  *slog.Logger
	LLM     LLMClient
	Prompts PromptsProvider
	Runtime *sandbox.Runtime
	Tables  TableCatalog
	Aliases map[string]string

	// ExcerptLimit caps the code excerpt kept in the execution result.
	ExcerptLimit int
}

func (cfg *CodeAnalystConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.LLM == nil {
		return errors.New("LLM client is required")
	}
	if cfg.Prompts == nil {
		return errors.New("prompts are required")
	}
	if cfg.Runtime == nil {
		return errors.New("runtime is required")
	}
	if cfg.Tables == nil {
		return errors.New("table catalog is required")
	}
	if cfg.ExcerptLimit <= 0 {
		cfg.ExcerptLimit = DefaultCodeExcerptLimit
	}
	return nil
}

// CodeAnalyst asks the code model for an analysis program and runs it in
// the sandbox. Synthesis, execution and normalization each fail into a
// well-formed execution result.
type CodeAnalyst struct {
	cfg CodeAnalystConfig
	log *slog.Logger
}

func NewCodeAnalyst(cfg CodeAnalystConfig) (*CodeAnalyst, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &CodeAnalyst{cfg: cfg, log: cfg.Logger}, nil
}

func (a *CodeAnalyst) Analyze(ctx context.Context, req analysis.Request) analysis.Outcome {
	tables := a.cfg.Tables.Tables()
	names := make([]string, 0, len(tables))
	for _, t := range tables {
		names = append(names, t.Name)
	}

	src, err := a.Synthesize(ctx, req, tables)
	if err != nil {
		metrics.SandboxOutcomesTotal.WithLabelValues("synthesis_error").Inc()
		a.log.Warn("analyst: synthesis failed", "error", err)
		return analysis.Outcome{
			Result: analysis.FailedResult(notesSynthesisFailed, err.Error()),
			Error:  err.Error(),
		}
	}

	res, raw, err := a.cfg.Runtime.Execute(ctx, src, sandbox.Env{
		Query:              req.Query,
		InterpretationJSON: req.InterpretationJSON,
		PlanJSON:           req.PlanJSON,
		Tables:             names,
	})
	out := analysis.Outcome{GeneratedCode: src}
	switch {
	case errors.Is(err, sandbox.ErrInvalidResultShape):
		metrics.SandboxOutcomesTotal.WithLabelValues("invalid_result").Inc()
		res = analysis.FailedResult(notesInvalidResult, err.Error())
		res.RawReturn = raw
		out.Error = err.Error()
	case err != nil:
		metrics.SandboxOutcomesTotal.WithLabelValues("execution_fault").Inc()
		res = analysis.FailedResult(notesExecutionFailed, err.Error())
		out.Error = err.Error()
	default:
		metrics.SandboxOutcomesTotal.WithLabelValues("success").Inc()
		res.Notes = notesGenerated
	}
	if out.Error != "" {
		a.log.Warn("analyst: generated code failed", "error", out.Error)
	}
	res.GeneratedCodeExcerpt = truncateRunes(src, a.cfg.ExcerptLimit)
	out.Result = res
	return out
}

// Synthesize asks the code model for a program. Errors wrap
// sandbox.ErrSynthesis.
func (a *CodeAnalyst) Synthesize(ctx context.Context, req analysis.Request, tables []tablestore.TableConfig) (string, error) {
	var userPrompt strings.Builder
	userPrompt.WriteString("## Question\n\n")
	userPrompt.WriteString(req.Query)
	userPrompt.WriteString("\n\n## Interpretation\n\n")
	userPrompt.Write(nullIfEmpty(req.InterpretationJSON))
	userPrompt.WriteString("\n\n## Plan\n\n")
	userPrompt.Write(nullIfEmpty(req.PlanJSON))
	userPrompt.WriteString("\n\n## Available tables\n\n")
	userPrompt.WriteString(a.describeTables(ctx, tables))

	response, err := a.cfg.LLM.Complete(ctx, a.cfg.Prompts.GetPrompt(PromptAnalystCode), userPrompt.String(), WithCacheControl())
	if err != nil {
		return "", fmt.Errorf("%w: %w", sandbox.ErrSynthesis, err)
	}
	src := StripCodeFences(response)
	if src == "" {
		return "", fmt.Errorf("%w: code model returned an empty program", sandbox.ErrSynthesis)
	}
	return src + "\n", nil
}

// describeTables renders one line per registered table. Paths are never
// shown; programs reach tables by name only.
func (a *CodeAnalyst) describeTables(ctx context.Context, tables []tablestore.TableConfig) string {
	aliases := make(map[string][]string)
	for alias, target := range a.cfg.Aliases {
		aliases[target] = append(aliases[target], alias)
	}

	var b strings.Builder
	for _, tc := range tables {
		fmt.Fprintf(&b, "- logical_name: %s", tc.Name)
		if as := aliases[tc.Name]; len(as) > 0 {
			sort.Strings(as)
			fmt.Fprintf(&b, " (aliases: %s)", strings.Join(as, ", "))
		}
		if tc.IDColumn != "" {
			fmt.Fprintf(&b, ", id_column: %s", tc.IDColumn)
		}
		t, err := a.cfg.Tables.Load(ctx, tc.Name)
		if err != nil {
			fmt.Fprintf(&b, ", columns: unavailable (%v)\n", err)
			continue
		}
		fmt.Fprintf(&b, ", rows: %d, columns: %s\n", t.Len(), strings.Join(t.Columns, ", "))
	}
	return b.String()
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
