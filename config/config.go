package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TableConfig registers one tabular source under a logical name.
type TableConfig struct {
	Name        string   `yaml:"name"`
	Path        string   `yaml:"path"`
	IDColumn    string   `yaml:"id_column"`
	TextColumns []string `yaml:"text_columns,omitempty"`
}

type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	ChatModel   string        `yaml:"chat_model"`
	CodeModel   string        `yaml:"code_model"`
	MaxTokens   int64         `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	BaseURL     string        `yaml:"base_url,omitempty"`
	APIKey      string        `yaml:"-"`
}

type AnalystConfig struct {
	Mode             string        `yaml:"mode"`
	MaxSteps         uint64        `yaml:"max_steps"`
	Timeout          time.Duration `yaml:"timeout"`
	CodeExcerptLimit int           `yaml:"code_excerpt_limit"`
}

type IndexConfig struct {
	Path           string `yaml:"path"`
	EmbeddingModel string `yaml:"embedding_model"`
	ChunkTokenSize int    `yaml:"chunk_token_size"`
	ChunkOverlap   int    `yaml:"chunk_overlap"`
	BatchSize      int    `yaml:"batch_size"`
	Workers        int    `yaml:"workers"`
	TopK           int    `yaml:"top_k"`
	APIKey         string `yaml:"-"`
}

type TrackingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type ServerConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	MCPAddr     string `yaml:"mcp_addr"`
}

// Config is the full runtime configuration, loaded from YAML and then
// overridden from the environment.
type Config struct {
	Tables           []TableConfig     `yaml:"tables"`
	Aliases          map[string]string `yaml:"aliases"`
	DefaultTable     string            `yaml:"default_table"`
	MetadataTextPath string            `yaml:"metadata_text_path"`
	TableCacheSize   int               `yaml:"table_cache_size"`
	Prompts          map[string]string `yaml:"prompts,omitempty"`
	LLM              LLMConfig         `yaml:"llm"`
	Analyst          AnalystConfig     `yaml:"analyst"`
	Index            IndexConfig       `yaml:"index"`
	Tracking         TrackingConfig    `yaml:"tracking"`
	Server           ServerConfig      `yaml:"server"`
}

// Default returns the configuration used when no file is given: a single
// patients table and the "clinical" alias pointing at it.
func Default() *Config {
	cfg := &Config{
		Tables: []TableConfig{{
			Name:     DefaultTableName,
			Path:     DefaultTablePath,
			IDColumn: DefaultTableIDColumn,
		}},
		Aliases:          map[string]string{"clinical": DefaultTableName},
		MetadataTextPath: DefaultMetadataPath,
		Tracking:         TrackingConfig{Enabled: true},
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML config file. Fields missing from the file keep their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DefaultTable == "" && len(c.Tables) > 0 {
		c.DefaultTable = c.Tables[0].Name
	}
	for i := range c.Tables {
		if c.Tables[i].IDColumn == "" {
			c.Tables[i].IDColumn = "patient_id"
		}
	}
	if c.Aliases == nil {
		c.Aliases = map[string]string{}
	}
	if c.TableCacheSize == 0 {
		c.TableCacheSize = DefaultTableCacheCapacity
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = ProviderOpenAI
	}
	if c.LLM.ChatModel == "" {
		if c.LLM.Provider == ProviderAnthropic {
			c.LLM.ChatModel = DefaultAnthropicChatModel
		} else {
			c.LLM.ChatModel = DefaultChatModel
		}
	}
	if c.LLM.CodeModel == "" {
		c.LLM.CodeModel = c.LLM.ChatModel
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = DefaultMaxTokens
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = DefaultTemperature
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = DefaultLLMTimeout
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = DefaultLLMMaxRetries
	}

	if c.Analyst.Mode == "" {
		c.Analyst.Mode = AnalystModeCode
	}
	if c.Analyst.MaxSteps == 0 {
		c.Analyst.MaxSteps = DefaultAnalystMaxSteps
	}
	if c.Analyst.Timeout == 0 {
		c.Analyst.Timeout = DefaultAnalystTimeout
	}
	if c.Analyst.CodeExcerptLimit == 0 {
		c.Analyst.CodeExcerptLimit = DefaultCodeExcerptLimit
	}

	if c.Index.Path == "" {
		c.Index.Path = DefaultIndexPath
	}
	if c.Index.EmbeddingModel == "" {
		c.Index.EmbeddingModel = DefaultEmbeddingModel
	}
	if c.Index.ChunkTokenSize == 0 {
		c.Index.ChunkTokenSize = DefaultChunkTokenSize
	}
	if c.Index.ChunkOverlap == 0 {
		c.Index.ChunkOverlap = DefaultChunkOverlap
	}
	if c.Index.BatchSize == 0 {
		c.Index.BatchSize = DefaultIndexBatchSize
	}
	if c.Index.Workers == 0 {
		c.Index.Workers = DefaultIndexWorkers
	}
	if c.Index.TopK == 0 {
		c.Index.TopK = DefaultSearchTopK
	}

	if c.Tracking.Path == "" {
		c.Tracking.Path = DefaultTrackingPath
	}

	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = DefaultMetricsAddr
	}
	if c.Server.MCPAddr == "" {
		c.Server.MCPAddr = DefaultMCPAddr
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if len(c.Tables) == 0 {
		return errors.New("at least one table is required")
	}
	seen := make(map[string]bool, len(c.Tables))
	for _, t := range c.Tables {
		if t.Name == "" {
			return errors.New("table name is required")
		}
		if t.Path == "" {
			return fmt.Errorf("table %q: path is required", t.Name)
		}
		if seen[t.Name] {
			return fmt.Errorf("table %q is registered twice", t.Name)
		}
		seen[t.Name] = true
	}
	for alias, target := range c.Aliases {
		if !seen[target] {
			return fmt.Errorf("alias %q points at unregistered table %q", alias, target)
		}
	}
	if c.DefaultTable != "" && !seen[c.DefaultTable] {
		return fmt.Errorf("default table %q is not registered", c.DefaultTable)
	}
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	switch c.Analyst.Mode {
	case AnalystModeCode, AnalystModeDirect:
	default:
		return fmt.Errorf("unknown analyst mode %q", c.Analyst.Mode)
	}
	if c.Index.ChunkOverlap >= c.Index.ChunkTokenSize {
		return fmt.Errorf("chunk overlap (%d) must be smaller than chunk size (%d)", c.Index.ChunkOverlap, c.Index.ChunkTokenSize)
	}
	return nil
}

// Table returns the registered table config with the given name.
func (c *Config) Table(name string) (TableConfig, bool) {
	for _, t := range c.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableConfig{}, false
}
