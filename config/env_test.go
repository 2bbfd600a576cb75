package config_test

import (
	"testing"
	"time"

	"github.com/malbeclabs/rwe/config"
	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestConfig_ApplyEnv(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		env     map[string]string
		check   func(t *testing.T, cfg *config.Config)
		wantErr bool
	}{
		{
			name: "models and paths",
			env: map[string]string{
				"OPENAI_CHAT_MODEL": "gpt-4.1",
				"OPENAI_CODE_MODEL": "gpt-4.1-code",
				"RWE_METADATA_PATH": "/tmp/meta.txt",
				"RWE_ANALYST_MODE":  config.AnalystModeDirect,
				"RWE_LLM_TIMEOUT":   "45s",
			},
			check: func(t *testing.T, cfg *config.Config) {
				require.Equal(t, "gpt-4.1", cfg.LLM.ChatModel)
				require.Equal(t, "gpt-4.1-code", cfg.LLM.CodeModel)
				require.Equal(t, "/tmp/meta.txt", cfg.MetadataTextPath)
				require.Equal(t, config.AnalystModeDirect, cfg.Analyst.Mode)
				require.Equal(t, 45*time.Second, cfg.LLM.Timeout)
			},
		},
		{
			name: "openai key feeds chat and embeddings",
			env:  map[string]string{"OPENAI_API_KEY": "sk-1", "ANTHROPIC_API_KEY": "ak-1"},
			check: func(t *testing.T, cfg *config.Config) {
				require.Equal(t, "sk-1", cfg.LLM.APIKey)
				require.Equal(t, "sk-1", cfg.Index.APIKey)
			},
		},
		{
			name: "anthropic provider uses anthropic key",
			env: map[string]string{
				"RWE_LLM_PROVIDER":  config.ProviderAnthropic,
				"OPENAI_API_KEY":    "sk-1",
				"ANTHROPIC_API_KEY": "ak-1",
			},
			check: func(t *testing.T, cfg *config.Config) {
				require.Equal(t, "ak-1", cfg.LLM.APIKey)
				require.Equal(t, "sk-1", cfg.Index.APIKey)
			},
		},
		{
			name: "prompt overrides",
			env:  map[string]string{"RWE_PROMPT_WRITER": "be brief"},
			check: func(t *testing.T, cfg *config.Config) {
				require.Equal(t, "be brief", cfg.Prompts["writer"])
			},
		},
		{
			name:    "bad timeout",
			env:     map[string]string{"RWE_LLM_TIMEOUT": "soon"},
			wantErr: true,
		},
		{
			name:    "bad tracking flag",
			env:     map[string]string{"RWE_TRACKING_ENABLED": "maybe"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.Default()
			err := cfg.ApplyEnv(lookupFrom(tt.env))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}
