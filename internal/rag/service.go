// In file: internal/rag/service.go
// Package rag retrieves passages relevant to a query from a persistent
// vector index, and owns the embedding and ingestion plumbing that keeps
// that index populated.
package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultEmbeddingModel = "text-embedding-3-small"
	defaultOpenAIAPIURL   = "https://api.openai.com/v1/embeddings"

	// DefaultTopK and DefaultScoreThreshold gate what the retriever returns:
	// top-5 candidates, keep only passages scoring above 0.4.
	DefaultTopK           = 5
	DefaultScoreThreshold = 0.4

	// PassageSeparator joins surviving passages into one context block.
	PassageSeparator = "\n---\n"

	embeddingCachePrefix = "embeddingcache:"
	embeddingCacheTTL    = 7 * 24 * time.Hour

	maxRetries        = 3
	initialRetryDelay = 2 * time.Second
)

// Config holds all the configuration for the retrieval service.
type Config struct {
	OpenAIKey      string
	PineconeKey    string
	PineconeHost   string
	RedisAddr      string
	EmbeddingModel string
	OpenAIAPIURL   string
}

// LoadConfig loads retrieval configuration from environment variables.
// REDIS_ADDR is optional; without it the embedding cache is simply disabled.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		PineconeKey:    os.Getenv("PINECONE_API_KEY"),
		PineconeHost:   os.Getenv("PINECONE_INDEX_HOST"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		EmbeddingModel: getEnv("EMBEDDING_MODEL", defaultEmbeddingModel),
		OpenAIAPIURL:   getEnv("OPENAI_API_URL", defaultOpenAIAPIURL),
	}
	if cfg.OpenAIKey == "" || cfg.PineconeKey == "" || cfg.PineconeHost == "" {
		return nil, errors.New("OPENAI_API_KEY, PINECONE_API_KEY, and PINECONE_INDEX_HOST must be set")
	}
	return cfg, nil
}

// getEnv is a helper to read an env var or return a default.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// Match is one candidate passage returned by the index.
type Match struct {
	Score float64
	Text  string
}

// Vector is an embedded chunk ready to be upserted into the index.
type Vector struct {
	ID       string                 `json:"id"`
	Values   []float32              `json:"values"`
	Metadata map[string]interface{} `json:"metadata"`
}

// Service encapsulates embedding, index queries and ingestion.
type Service struct {
	config      *Config
	httpClient  *http.Client
	redisClient *redis.Client
	topK        int
	threshold   float64
	retryDelay  time.Duration
}

// NewService constructs the retrieval service. If a Redis address is
// configured but unreachable, the service logs a warning and runs without
// the embedding cache instead of failing.
func NewService(cfg *Config, topK int, threshold float64) *Service {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if threshold <= 0 {
		threshold = DefaultScoreThreshold
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if _, err := rdb.Ping(context.Background()).Result(); err != nil {
			log.Printf("⚠️ Redis unreachable at %s, embedding cache disabled: %v", cfg.RedisAddr, err)
			rdb = nil
		}
	}

	return &Service{
		config:      cfg,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		redisClient: rdb,
		topK:        topK,
		threshold:   threshold,
		retryDelay:  initialRetryDelay,
	}
}

// Retrieve embeds the query, asks the index for the top-K candidates, and
// joins the passages that clear the relevance threshold into a single
// context block. Callers treat any error as "no local context".
func (s *Service) Retrieve(ctx context.Context, query string) (string, error) {
	embedding, err := s.GetEmbedding(ctx, query)
	if err != nil {
		return "", fmt.Errorf("embed query: %w", err)
	}
	matches, err := s.queryIndex(ctx, embedding, s.topK)
	if err != nil {
		return "", fmt.Errorf("query index: %w", err)
	}
	return BuildContext(matches, s.threshold), nil
}

// BuildContext filters matches by relevance score and joins the survivors
// with a visible separator. A low-scoring or empty result set yields "".
func BuildContext(matches []Match, threshold float64) string {
	var passages []string
	for _, m := range matches {
		if m.Score > threshold && strings.TrimSpace(m.Text) != "" {
			passages = append(passages, m.Text)
		}
	}
	return strings.Join(passages, PassageSeparator)
}

// GetEmbedding retrieves a vector embedding for the text, consulting the
// Redis cache first so repeated queries don't re-pay the embedding API.
func (s *Service) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	cacheKey := embeddingCachePrefix + cacheKeyHash(text)
	if s.redisClient != nil {
		cached, err := s.redisClient.Get(ctx, cacheKey).Bytes()
		if err == nil {
			var embedding []float32
			if json.Unmarshal(cached, &embedding) == nil {
				return embedding, nil
			}
		} else if err != redis.Nil {
			log.Printf("Redis GET error for embedding: %v", err)
		}
	}

	embeddings, err := s.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	embedding := embeddings[0]

	if s.redisClient != nil {
		if embeddingBytes, err := json.Marshal(embedding); err == nil {
			if err := s.redisClient.Set(ctx, cacheKey, embeddingBytes, embeddingCacheTTL).Err(); err != nil {
				log.Printf("Failed to set embedding cache in Redis: %v", err)
			}
		}
	}
	return embedding, nil
}

// embedBatch calls the OpenAI embeddings endpoint for one or more inputs.
func (s *Service) embedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	type APIRequest struct {
		Input []string `json:"input"`
		Model string   `json:"model"`
	}
	type APIResponse struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}

	payload := APIRequest{Input: inputs, Model: s.config.EmbeddingModel}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	body, err := s.doRequestWithRetry(ctx, "POST", s.config.OpenAIAPIURL, map[string]string{
		"Content-Type":  "application/json",
		"Authorization": "Bearer " + s.config.OpenAIKey,
	}, payloadBytes)
	if err != nil {
		return nil, fmt.Errorf("embedding API request failed: %w", err)
	}

	var apiResp APIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedding response: %w", err)
	}
	if len(apiResp.Data) != len(inputs) {
		return nil, errors.New("mismatch between inputs and embeddings count")
	}
	embeddings := make([][]float32, len(apiResp.Data))
	for i, d := range apiResp.Data {
		embeddings[i] = d.Embedding
	}
	return embeddings, nil
}

// queryIndex asks Pinecone for the nearest chunks to the embedding.
func (s *Service) queryIndex(ctx context.Context, embedding []float32, topK int) ([]Match, error) {
	type APIRequest struct {
		Vector          []float32 `json:"vector"`
		TopK            int       `json:"topK"`
		IncludeMetadata bool      `json:"includeMetadata"`
	}
	type APIResponse struct {
		Matches []struct {
			Score    float64 `json:"score"`
			Metadata struct {
				Text string `json:"text"`
			} `json:"metadata"`
		} `json:"matches"`
	}

	payload := APIRequest{Vector: embedding, TopK: topK, IncludeMetadata: true}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal index query: %w", err)
	}

	body, err := s.doRequestWithRetry(ctx, "POST", s.config.PineconeHost+"/query", map[string]string{
		"Content-Type": "application/json",
		"Api-Key":      s.config.PineconeKey,
	}, payloadBytes)
	if err != nil {
		return nil, fmt.Errorf("index query failed: %w", err)
	}

	var apiResp APIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal index response: %w", err)
	}

	matches := make([]Match, len(apiResp.Matches))
	for i, m := range apiResp.Matches {
		matches[i] = Match{Score: m.Score, Text: m.Metadata.Text}
	}
	return matches, nil
}

// doRequestWithRetry performs an HTTP request with exponential backoff.
// Client errors (4xx) are not retried. A fresh request is built per attempt:
// the transport consumes the body, so a retried *http.Request would go out
// empty.
func (s *Service) doRequestWithRetry(ctx context.Context, method, url string, headers map[string]string, payload []byte) ([]byte, error) {
	var lastErr error
	delay := s.retryDelay
	for i := 0; i < maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed (attempt %d/%d): %w", i+1, maxRetries, err)
			log.Println(lastErr)
			if ctx.Err() != nil {
				return nil, lastErr
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("failed to read response body: %w", readErr)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return body, nil
		}
		lastErr = fmt.Errorf("API error (attempt %d/%d): status %d, body: %s", i+1, maxRetries, resp.StatusCode, string(body))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, lastErr
		}
		time.Sleep(delay)
		delay *= 2
	}
	return nil, lastErr
}
