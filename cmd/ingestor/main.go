// In file: cmd/ingestor/main.go

// Package main implements the offline ingestion tool for the travel
// assistant. It walks a directory of source documents (.txt, .md, .pdf),
// splits them into overlapping chunks, embeds the chunks in batches and
// upserts the vectors into the persistent index the retriever queries at
// answer time.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/margo-ai/travel-assistant/internal/rag"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var sourceDir string

var rootCmd = &cobra.Command{
	Use:   "ingestor",
	Short: "Ingest travel documents into the assistant's vector index",
	Long: `Splits every supported document under --source into ~1000-character
chunks with ~100-character overlap, embeds them, and upserts the vectors
into the index. Re-running adds duplicate chunks; it does not deduplicate.`,
	RunE: runIngest,
}

func init() {
	rootCmd.Flags().StringVar(&sourceDir, "source", "./data", "directory of source documents")
}

func runIngest(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found. Relying on environment variables.")
	}

	cfg, err := rag.LoadConfig()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	service := rag.NewService(cfg, 0, 0)

	log.Printf("🚀 Starting ingestion from %s...", sourceDir)
	count, err := service.Ingest(context.Background(), sourceDir)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	log.Printf("✅ Ingestion complete. %d chunks upserted.", count)
	return nil
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := rootCmd.Execute(); err != nil {
		log.Printf("❌ %v", err)
		os.Exit(1)
	}
}
