// In file: cmd/assistant/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/margo-ai/travel-assistant/internal/answercache"
	"github.com/margo-ai/travel-assistant/internal/compose"
	"github.com/margo-ai/travel-assistant/internal/pipeline"
	"github.com/margo-ai/travel-assistant/internal/rag"
	"github.com/margo-ai/travel-assistant/internal/session"
	"github.com/margo-ai/travel-assistant/internal/websearch"

	"github.com/gin-gonic/gin"
)

// main is the composition root: it loads configuration, initializes all
// services, injects dependencies, and starts the server.
func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	buildInfo := GetBuildInfo()
	log.Printf("🚀 Starting travel assistant | Version: %s | Commit: %s", buildInfo.Version, buildInfo.GitCommit)

	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("❌ FATAL: Configuration Error: %v", err)
	}
	log.Println("✅ Configuration loaded.")

	// Answer cache. A broken cache file disables caching but must not take
	// the assistant down with it.
	cache, err := answercache.New(cfg.Tuning.Cache.Path, cfg.Tuning.Cache.Capacity)
	if err != nil {
		log.Printf("⚠️ Answer cache unavailable, continuing without it: %v", err)
		cache = nil
	}

	ragService := rag.NewService(cfg.RAGConfig, cfg.Tuning.Retrieval.TopK, cfg.Tuning.Retrieval.ScoreThreshold)

	var searcher pipeline.Searcher
	if cfg.TavilyKey != "" {
		tavily, err := websearch.NewClient(cfg.TavilyKey)
		if err != nil {
			log.Fatalf("❌ FATAL: %v", err)
		}
		searcher = tavily
	} else {
		log.Println("⚠️ TAVILY_API_KEY not set; web lookups will degrade to the unavailable sentinel.")
	}

	llmClient, err := initializeLLMClient(cfg)
	if err != nil {
		log.Fatalf("❌ FATAL: %v", err)
	}
	composer := compose.NewComposer(llmClient, cfg.ChatModel)

	sessions := session.NewStore(
		cfg.Tuning.Sessions.MaxHistory,
		time.Duration(cfg.Tuning.Sessions.IdleTTLMinutes)*time.Minute,
	)
	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	go sessions.RunJanitor(janitorCtx, 10*time.Minute)

	resolver := pipeline.NewResolver(cache, ragService, searcher, composer, sessions, pipeline.Config{
		TriggerWords:   cfg.Tuning.Pipeline.TriggerWords,
		WebTimeout:     time.Duration(cfg.Tuning.Pipeline.WebTimeoutSeconds) * time.Second,
		ComposeTimeout: time.Duration(cfg.Tuning.Pipeline.ComposeTimeoutSeconds) * time.Second,
	})
	log.Println("✅ All services initialized.")

	// Voice and vision collaborators are external black boxes; their routes
	// appear only when implementations are injected here.
	handler := NewHandler(resolver, ragService, cache, cfg.SourceDataDir, nil, nil)

	gin.SetMode(os.Getenv("GIN_MODE"))
	engine := gin.Default()
	v1 := engine.Group("/api/v1")
	{
		v1.POST("/resolve", handler.HandleResolve)
		v1.POST("/ingest", handler.HandleIngest)
		v1.GET("/cache/stats", handler.HandleCacheStats)
	}
	handler.RegisterMediaRoutes(v1)

	srv := &http.Server{Addr: fmt.Sprintf(":%s", cfg.Port), Handler: engine}
	runServerWithGracefulShutdown(srv)
}

// initializeLLMClient picks the composer's model client from the model ID
// prefix, the same way keys map to providers.
func initializeLLMClient(cfg *AppConfig) (compose.LLMClient, error) {
	switch {
	case strings.HasPrefix(cfg.ChatModel, "gpt"):
		return compose.NewOpenAIClient(cfg.OpenAIKey)
	case strings.HasPrefix(cfg.ChatModel, "gemini"):
		return compose.NewGeminiClient(cfg.GeminiKey, cfg.ChatModel)
	default:
		return nil, fmt.Errorf("unknown model provider for %q", cfg.ChatModel)
	}
}

// runServerWithGracefulShutdown handles the server lifecycle.
func runServerWithGracefulShutdown(srv *http.Server) {
	go func() {
		log.Printf("👂 Assistant is listening on http://localhost%s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ Listen error: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("❌ Server shutdown failed:", err)
	}

	log.Println("👋 Server exited gracefully.")
}
