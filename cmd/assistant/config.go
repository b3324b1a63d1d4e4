// In file: cmd/assistant/config.go
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/margo-ai/travel-assistant/internal/answercache"
	"github.com/margo-ai/travel-assistant/internal/rag"
	"github.com/margo-ai/travel-assistant/internal/session"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultConfigFile = "config.yaml"

// AppConfig holds all configuration for the assistant, loaded from the
// environment plus an optional config.yaml with pipeline tunables.
type AppConfig struct {
	Port          string
	ChatModel     string
	OpenAIKey     string
	GeminiKey     string
	TavilyKey     string
	SourceDataDir string
	RAGConfig     *rag.Config
	Tuning        TuningConfig
}

// TuningConfig is the config.yaml schema. Every field has a sensible
// default, so the file is optional.
type TuningConfig struct {
	Retrieval struct {
		TopK           int     `yaml:"top_k"`
		ScoreThreshold float64 `yaml:"score_threshold"`
	} `yaml:"retrieval"`
	Pipeline struct {
		TriggerWords          []string `yaml:"trigger_words"`
		WebTimeoutSeconds     int      `yaml:"web_timeout_seconds"`
		ComposeTimeoutSeconds int      `yaml:"compose_timeout_seconds"`
	} `yaml:"pipeline"`
	Cache struct {
		Path     string `yaml:"path"`
		Capacity int    `yaml:"capacity"`
	} `yaml:"cache"`
	Sessions struct {
		MaxHistory     int `yaml:"max_history"`
		IdleTTLMinutes int `yaml:"idle_ttl_minutes"`
	} `yaml:"sessions"`
}

// LoadConfig loads all configuration from a .env file, environment
// variables, and config.yaml.
func LoadConfig() (*AppConfig, error) {
	// In containers (GIN_MODE=release) configuration arrives as plain
	// environment variables; the .env file is for local development only.
	if os.Getenv("GIN_MODE") != "release" {
		if err := godotenv.Load(); err != nil {
			log.Println("WARNING: No .env file found for local development.")
		}
	}

	cfg := &AppConfig{
		Port:          getEnv("PORT", "8080"),
		ChatModel:     getEnv("CHAT_MODEL", "gpt-4o-mini"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		GeminiKey:     os.Getenv("GEMINI_API_KEY"),
		TavilyKey:     os.Getenv("TAVILY_API_KEY"),
		SourceDataDir: getEnv("SOURCE_DATA_DIR", "./data"),
	}

	ragCfg, err := rag.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load retrieval config: %w", err)
	}
	cfg.RAGConfig = ragCfg

	cfg.Tuning = defaultTuning()
	if raw, err := os.ReadFile(defaultConfigFile); err == nil {
		if err := yaml.Unmarshal(raw, &cfg.Tuning); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", defaultConfigFile, err)
		}
		applyTuningDefaults(&cfg.Tuning)
	} else {
		log.Printf("WARNING: No %s found, using built-in defaults.", defaultConfigFile)
	}

	return cfg, nil
}

func defaultTuning() TuningConfig {
	var t TuningConfig
	applyTuningDefaults(&t)
	return t
}

func applyTuningDefaults(t *TuningConfig) {
	if t.Retrieval.TopK <= 0 {
		t.Retrieval.TopK = rag.DefaultTopK
	}
	if t.Retrieval.ScoreThreshold <= 0 {
		t.Retrieval.ScoreThreshold = rag.DefaultScoreThreshold
	}
	if t.Pipeline.WebTimeoutSeconds <= 0 {
		t.Pipeline.WebTimeoutSeconds = 20
	}
	if t.Pipeline.ComposeTimeoutSeconds <= 0 {
		t.Pipeline.ComposeTimeoutSeconds = 90
	}
	if t.Cache.Path == "" {
		t.Cache.Path = "answer_cache.db"
	}
	if t.Cache.Capacity <= 0 {
		t.Cache.Capacity = answercache.DefaultCapacity
	}
	if t.Sessions.MaxHistory <= 0 {
		t.Sessions.MaxHistory = session.MaxHistory
	}
	if t.Sessions.IdleTTLMinutes <= 0 {
		t.Sessions.IdleTTLMinutes = int((12 * time.Hour).Minutes())
	}
}

// getEnv is a helper to read an env var or return a default.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
