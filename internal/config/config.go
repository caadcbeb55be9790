package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr       string
	DataDir        string
	DBPath         string
	WebDir         string
	AllowedOrigins []string

	LLMProvider string
	LLMModel    string
	LLMAPIKey   string
	LLMBaseURL  string
	LLMTimeout  time.Duration
}

// LedgerEnabled reports whether the session ledger should be opened.
func (c Config) LedgerEnabled() bool {
	return c.DBPath != "" && !strings.EqualFold(c.DBPath, "off")
}

// LLMConfigured reports whether a generation backend should be wired in. An
// API key alone decides it.
func (c Config) LLMConfigured() bool {
	return c.LLMAPIKey != ""
}

func Load() Config {
	loadDotEnv(".env")
	dataDir := getEnv("LIMINAL_DATA_DIR", "data")
	return Config{
		HTTPAddr:       getEnv("LIMINAL_HTTP_ADDR", ":8000"),
		DataDir:        dataDir,
		DBPath:         getEnv("LIMINAL_DB_PATH", filepath.Join(dataDir, "liminal.db")),
		WebDir:         getEnv("LIMINAL_WEB_DIR", ""),
		AllowedOrigins: splitList(getEnv("LIMINAL_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")),

		LLMProvider: getEnv("LIMINAL_LLM_PROVIDER", "openai"),
		LLMModel:    getEnv("LIMINAL_LLM_MODEL", ""),
		LLMAPIKey:   getEnv("LIMINAL_LLM_API_KEY", os.Getenv("OPENAI_API_KEY")),
		LLMBaseURL:  getEnv("LIMINAL_LLM_BASE_URL", ""),
		LLMTimeout:  getDuration("LIMINAL_LLM_TIMEOUT", 30*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(value string) []string {
	var out []string
	for _, p := range strings.Split(value, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func loadDotEnv(path string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, value)
	}
}
