package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Prompt names that can be overridden with RWE_PROMPT_<NAME>.
var PromptNames = []string{"interpreter", "planner", "writer", "analyst_code", "rag"}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads a .env file if present. A missing file is not an error.
func LoadDotEnv(paths ...string) {
	_ = godotenv.Load(paths...)
}

// FromEnv applies environment overrides from the process environment.
func (c *Config) FromEnv() error {
	return c.ApplyEnv(os.LookupEnv)
}

// ApplyEnv applies environment overrides using the given lookup.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("RWE_LLM_PROVIDER", &c.LLM.Provider)
	str("OPENAI_CHAT_MODEL", &c.LLM.ChatModel)
	str("OPENAI_CODE_MODEL", &c.LLM.CodeModel)
	str("RWE_LLM_BASE_URL", &c.LLM.BaseURL)
	str("RWE_METADATA_PATH", &c.MetadataTextPath)
	str("RWE_DEFAULT_TABLE", &c.DefaultTable)
	str("RWE_ANALYST_MODE", &c.Analyst.Mode)
	str("RWE_INDEX_PATH", &c.Index.Path)
	str("RWE_EMBEDDING_MODEL", &c.Index.EmbeddingModel)
	str("RWE_TRACKING_PATH", &c.Tracking.Path)
	str("RWE_LISTEN_ADDR", &c.Server.ListenAddr)
	str("RWE_METRICS_ADDR", &c.Server.MetricsAddr)
	str("RWE_MCP_ADDR", &c.Server.MCPAddr)

	if v, ok := lookup("RWE_LLM_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid RWE_LLM_TIMEOUT %q: %w", v, err)
		}
		c.LLM.Timeout = d
	}
	if v, ok := lookup("RWE_ANALYST_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid RWE_ANALYST_TIMEOUT %q: %w", v, err)
		}
		c.Analyst.Timeout = d
	}
	if v, ok := lookup("RWE_TRACKING_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid RWE_TRACKING_ENABLED %q: %w", v, err)
		}
		c.Tracking.Enabled = b
	}

	// The embedder always talks to OpenAI; the chat key follows the provider.
	str("OPENAI_API_KEY", &c.Index.APIKey)
	switch c.LLM.Provider {
	case ProviderAnthropic:
		str("ANTHROPIC_API_KEY", &c.LLM.APIKey)
	default:
		str("OPENAI_API_KEY", &c.LLM.APIKey)
	}

	for _, name := range PromptNames {
		if v, ok := lookup("RWE_PROMPT_" + strings.ToUpper(name)); ok && v != "" {
			if c.Prompts == nil {
				c.Prompts = map[string]string{}
			}
			c.Prompts[name] = v
		}
	}
	return nil
}
