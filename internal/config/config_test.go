package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"LIMINAL_HTTP_ADDR", "LIMINAL_DATA_DIR", "LIMINAL_DB_PATH", "LIMINAL_WEB_DIR",
	"LIMINAL_ALLOWED_ORIGINS", "LIMINAL_LLM_PROVIDER", "LIMINAL_LLM_MODEL",
	"LIMINAL_LLM_API_KEY", "LIMINAL_LLM_BASE_URL", "LIMINAL_LLM_TIMEOUT", "OPENAI_API_KEY",
}

// clearEnv unsets every config key for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	t.Chdir(t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg := Load()

	require.Equal(t, ":8000", cfg.HTTPAddr)
	require.Equal(t, filepath.Join("data", "liminal.db"), cfg.DBPath)
	require.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.AllowedOrigins)
	require.Equal(t, "openai", cfg.LLMProvider)
	require.Equal(t, 30*time.Second, cfg.LLMTimeout)
	require.False(t, cfg.LLMConfigured())
	require.True(t, cfg.LedgerEnabled())
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-legacy")
	t.Setenv("LIMINAL_DB_PATH", "off")
	t.Setenv("LIMINAL_LLM_TIMEOUT", "5s")
	t.Setenv("LIMINAL_ALLOWED_ORIGINS", " https://board.example , ,http://localhost:3000")

	cfg := Load()
	require.Equal(t, "sk-legacy", cfg.LLMAPIKey)
	require.True(t, cfg.LLMConfigured())
	require.False(t, cfg.LedgerEnabled())
	require.Equal(t, 5*time.Second, cfg.LLMTimeout)
	require.Equal(t, []string{"https://board.example", "http://localhost:3000"}, cfg.AllowedOrigins)

	t.Setenv("LIMINAL_LLM_API_KEY", "sk-new")
	t.Setenv("LIMINAL_LLM_TIMEOUT", "soon")
	cfg = Load()
	require.Equal(t, "sk-new", cfg.LLMAPIKey)
	require.Equal(t, 30*time.Second, cfg.LLMTimeout)
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("LIMINAL_HTTP_ADDR", ":9999")
	env := "# comment\nexport LIMINAL_LLM_MODEL=\"gpt-4o\"\nLIMINAL_HTTP_ADDR=:1234\nbroken line\n=novalue\n"
	require.NoError(t, os.WriteFile(".env", []byte(env), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("LIMINAL_LLM_MODEL") })

	cfg := Load()
	require.Equal(t, "gpt-4o", cfg.LLMModel)
	require.Equal(t, ":9999", cfg.HTTPAddr, "existing env wins over .env")
}
