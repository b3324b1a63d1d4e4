// In file: internal/rag/ingest.go
package rag

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	// ChunkSize and ChunkOverlap control how source documents are split
	// before embedding: ~1000-character chunks with ~100-character overlap.
	ChunkSize    = 1000
	ChunkOverlap = 100

	pineconeUpsertPath = "/vectors/upsert"
	embedBatchSize     = 100
	upsertBatchSize    = 100
)

// Ingest walks sourceDir, splits every supported document (.txt, .md, .pdf)
// into chunks, embeds them in batches and upserts the vectors into the
// index. It returns the total number of chunks ingested. Re-running over the
// same directory adds duplicate chunks; deduplication is out of scope.
func (s *Service) Ingest(ctx context.Context, sourceDir string) (int, error) {
	var chunks []string
	var topics []string

	err := filepath.Walk(sourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		text, err := ExtractText(path)
		if err != nil {
			log.Printf("⚠️  Skipping %s: %v", path, err)
			return nil
		}
		if strings.TrimSpace(text) == "" {
			return nil
		}
		topic := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		for _, chunk := range SplitChunks(text, ChunkSize, ChunkOverlap) {
			chunks = append(chunks, chunk)
			topics = append(topics, topic)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk source dir: %w", err)
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	log.Printf("📚 Found %d chunks in %s. Embedding and upserting in batches...", len(chunks), sourceDir)
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		vectors, err := s.GenerateVectorsForChunks(ctx, chunks[start:end], topics[start:end])
		if err != nil {
			return 0, fmt.Errorf("embed batch starting at %d: %w", start, err)
		}
		if err := s.upsert(ctx, vectors); err != nil {
			return 0, fmt.Errorf("upsert batch starting at %d: %w", start, err)
		}
	}
	return len(chunks), nil
}

// GenerateVectorsForChunks embeds a batch of chunks and pairs each embedding
// with its source text and topic metadata.
func (s *Service) GenerateVectorsForChunks(ctx context.Context, chunks, topics []string) ([]Vector, error) {
	embeddings, err := s.embedBatch(ctx, chunks)
	if err != nil {
		return nil, err
	}
	vectors := make([]Vector, len(chunks))
	for i, chunk := range chunks {
		vectors[i] = Vector{
			ID:     cacheKeyHash(topics[i] + "::" + chunk),
			Values: embeddings[i],
			Metadata: map[string]interface{}{
				"text":  chunk,
				"topic": topics[i],
			},
		}
	}
	return vectors, nil
}

// upsert sends vectors to the index in bounded batches.
func (s *Service) upsert(ctx context.Context, vectors []Vector) error {
	type APIRequest struct {
		Vectors []Vector `json:"vectors"`
	}

	for start := 0; start < len(vectors); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(vectors) {
			end = len(vectors)
		}
		payloadBytes, err := json.Marshal(APIRequest{Vectors: vectors[start:end]})
		if err != nil {
			return fmt.Errorf("failed to marshal upsert payload: %w", err)
		}

		_, err = s.doRequestWithRetry(ctx, "POST", s.config.PineconeHost+pineconeUpsertPath, map[string]string{
			"Content-Type": "application/json",
			"Api-Key":      s.config.PineconeKey,
		}, payloadBytes)
		if err != nil {
			return fmt.Errorf("upsert request failed: %w", err)
		}
	}
	return nil
}

// ExtractText reads the plain text of a source document. PDF pages are
// concatenated; unsupported extensions are an error so the caller can skip
// the file with a log line.
func ExtractText(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		content, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(content), nil
	case ".pdf":
		f, r, err := pdf.Open(path)
		if err != nil {
			return "", fmt.Errorf("open pdf: %w", err)
		}
		defer f.Close()
		reader, err := r.GetPlainText()
		if err != nil {
			return "", fmt.Errorf("extract pdf text: %w", err)
		}
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, reader); err != nil {
			return "", fmt.Errorf("read pdf text: %w", err)
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
}

// SplitChunks splits text into overlapping fixed-size chunks. Sizes are in
// runes so multi-byte text never gets cut mid-character.
func SplitChunks(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(text)
	step := size - overlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// cacheKeyHash creates a stable, fixed-length SHA-256 hash of a string,
// used for embedding cache keys and vector IDs.
func cacheKeyHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
