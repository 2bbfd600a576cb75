package pipeline

import (
	"fmt"
	"strings"

	"github.com/malbeclabs/rwe/agent/pkg/pipeline/prompts"
)

// Prompt names, as used by GetPrompt and by the RWE_PROMPT_<NAME> overrides.
const (
	PromptInterpreter = "interpreter"
	PromptPlanner     = "planner"
	PromptWriter      = "writer"
	PromptAnalystCode = "analyst_code"
	PromptRAG         = "rag"
)

// Prompt ids recorded with each run so answers can be traced to the prompt
// revision that produced them.
const (
	InterpreterPromptID = "interpreter_v1"
	PlannerPromptID     = "planner_v1"
	WriterPromptID      = "writer_v1"
	AnalystCodePromptID = "analyst_code_v1"
	RAGPromptID         = "rag_v1"
)

// Prompts contains all the pipeline prompts loaded from embedded files.
type Prompts struct {
	Interpreter string
	Planner     string
	Writer      string
	AnalystCode string
	RAG         string

	overridden map[string]bool
}

// GetPrompt returns the prompt content for the given name.
// This implements the PromptsProvider interface.
func (p *Prompts) GetPrompt(name string) string {
	switch name {
	case PromptInterpreter:
		return p.Interpreter
	case PromptPlanner:
		return p.Planner
	case PromptWriter:
		return p.Writer
	case PromptAnalystCode:
		return p.AnalystCode
	case PromptRAG:
		return p.RAG
	default:
		return ""
	}
}

// PromptID returns the id of the named prompt. Overridden prompts are
// suffixed with "+override".
func (p *Prompts) PromptID(name string) string {
	var id string
	switch name {
	case PromptInterpreter:
		id = InterpreterPromptID
	case PromptPlanner:
		id = PlannerPromptID
	case PromptWriter:
		id = WriterPromptID
	case PromptAnalystCode:
		id = AnalystCodePromptID
	case PromptRAG:
		id = RAGPromptID
	default:
		return ""
	}
	if p.overridden[name] {
		id += "+override"
	}
	return id
}

// LoadPrompts loads all prompts from the embedded filesystem, then applies
// overrides keyed by prompt name. Empty overrides are ignored.
func LoadPrompts(overrides map[string]string) (*Prompts, error) {
	p := &Prompts{overridden: map[string]bool{}}

	var err error
	if p.Interpreter, err = loadPrompt("INTERPRETER.md"); err != nil {
		return nil, fmt.Errorf("failed to load INTERPRETER: %w", err)
	}
	if p.Planner, err = loadPrompt("PLANNER.md"); err != nil {
		return nil, fmt.Errorf("failed to load PLANNER: %w", err)
	}
	if p.Writer, err = loadPrompt("WRITER.md"); err != nil {
		return nil, fmt.Errorf("failed to load WRITER: %w", err)
	}
	if p.AnalystCode, err = loadPrompt("ANALYST_CODE.md"); err != nil {
		return nil, fmt.Errorf("failed to load ANALYST_CODE: %w", err)
	}
	if p.RAG, err = loadPrompt("RAG.md"); err != nil {
		return nil, fmt.Errorf("failed to load RAG: %w", err)
	}

	for name, text := range overrides {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		switch name {
		case PromptInterpreter:
			p.Interpreter = text
		case PromptPlanner:
			p.Planner = text
		case PromptWriter:
			p.Writer = text
		case PromptAnalystCode:
			p.AnalystCode = text
		case PromptRAG:
			p.RAG = text
		default:
			return nil, fmt.Errorf("unknown prompt override %q", name)
		}
		p.overridden[name] = true
	}

	return p, nil
}

func loadPrompt(path string) (string, error) {
	data, err := prompts.FS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
