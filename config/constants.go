package config

import "time"

const (
	// LLM providers.
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	// Analyst modes. The code mode synthesizes and sandboxes an analysis
	// program; the direct mode runs plan steps through the cohort executor.
	AnalystModeCode   = "code"
	AnalystModeDirect = "direct"

	DefaultTableName     = "patients"
	DefaultTablePath     = "data/patients.tsv"
	DefaultTableIDColumn = "PATIENT_ID"
	DefaultMetadataPath  = "data/metadata.txt"

	DefaultChatModel          = "gpt-4o-mini"
	DefaultAnthropicChatModel = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens          = 4096
	DefaultTemperature        = 0.2
	DefaultLLMTimeout         = 120 * time.Second
	DefaultLLMMaxRetries      = 3

	DefaultAnalystMaxSteps    = 5_000_000
	DefaultAnalystTimeout     = 30 * time.Second
	DefaultCodeExcerptLimit   = 4000
	DefaultTableCacheCapacity = 16

	DefaultIndexPath      = "rwe_index.duckdb"
	DefaultEmbeddingModel = "text-embedding-3-large"
	DefaultChunkTokenSize = 512
	DefaultChunkOverlap   = 64
	DefaultIndexBatchSize = 100
	DefaultIndexWorkers   = 4
	DefaultSearchTopK     = 5

	DefaultTrackingPath = "rwe_runs.duckdb"

	DefaultListenAddr  = ":8080"
	DefaultMetricsAddr = ":9090"
	DefaultMCPAddr     = ":8081"
)
