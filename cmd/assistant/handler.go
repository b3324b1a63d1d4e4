// In file: cmd/assistant/handler.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/margo-ai/travel-assistant/internal/answercache"
	"github.com/margo-ai/travel-assistant/internal/api"
	"github.com/margo-ai/travel-assistant/internal/pipeline"

	"github.com/gin-gonic/gin"
)

// couldNotUnderstand is the explicit reply for input faults: empty queries
// and unintelligible voice messages never proceed into the pipeline.
const couldNotUnderstand = "Sorry, I could not understand that. Please try again."

// resolverService is what the handler needs from the pipeline.
type resolverService interface {
	Resolve(ctx context.Context, userID, query string) (*pipeline.Result, error)
}

// ingestService re-indexes the source document directory.
type ingestService interface {
	Ingest(ctx context.Context, sourceDir string) (int, error)
}

// Transcriber converts an audio payload to text. External black box.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Describer produces a textual description of an image, optionally guided
// by a context hint. External black box.
type Describer interface {
	Describe(ctx context.Context, image []byte, hint string) (string, error)
}

// Handler exposes the resolution pipeline and its administrative operations
// over HTTP.
type Handler struct {
	resolver      resolverService
	ingester      ingestService
	cache         *answercache.Store
	sourceDataDir string
	transcriber   Transcriber
	describer     Describer
}

func NewHandler(resolver resolverService, ingester ingestService, cache *answercache.Store, sourceDataDir string, transcriber Transcriber, describer Describer) *Handler {
	return &Handler{
		resolver:      resolver,
		ingester:      ingester,
		cache:         cache,
		sourceDataDir: sourceDataDir,
		transcriber:   transcriber,
		describer:     describer,
	}
}

// RegisterMediaRoutes adds the voice and photo routes, but only for the
// collaborators that were actually injected.
func (h *Handler) RegisterMediaRoutes(group *gin.RouterGroup) {
	if h.transcriber != nil {
		group.POST("/voice", h.HandleVoice)
	}
	if h.describer != nil {
		group.POST("/photo", h.HandlePhoto)
	}
}

// HandleResolve is the pipeline's single inbound contract over HTTP.
func (h *Handler) HandleResolve(c *gin.Context) {
	startTime := time.Now()
	var req api.ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	log.Printf("--- New Request (User: %s, Query: '%.40s...') ---", req.UserID, req.Query)

	result, err := h.resolver.Resolve(c.Request.Context(), req.UserID, req.Query)
	if err != nil {
		if errors.Is(err, pipeline.ErrEmptyQuery) {
			c.JSON(http.StatusBadRequest, gin.H{"error": couldNotUnderstand})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, toResponse(result, startTime))
}

// HandleIngest re-indexes the source document directory and reports the
// number of chunks produced. Administrative; re-runs add duplicate chunks.
func (h *Handler) HandleIngest(c *gin.Context) {
	log.Printf("📚 Re-indexing knowledge base from %s...", h.sourceDataDir)
	count, err := h.ingester.Ingest(c.Request.Context(), h.sourceDataDir)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, api.IngestResponse{Chunks: count})
}

// HandleCacheStats reports answer cache size and hit/miss counters.
func (h *Handler) HandleCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.cache.Stats())
}

// HandleVoice transcribes an audio payload and feeds the text through the
// pipeline. An empty transcription is an input fault and gets the explicit
// could-not-understand reply rather than an empty-query resolution.
func (h *Handler) HandleVoice(c *gin.Context) {
	startTime := time.Now()
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	audio, err := io.ReadAll(c.Request.Body)
	if err != nil || len(audio) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "audio payload is required"})
		return
	}

	text, err := h.transcriber.Transcribe(c.Request.Context(), audio)
	if err != nil {
		log.Printf("⚠️ Transcription failed: %v", err)
		text = ""
	}
	if strings.TrimSpace(text) == "" {
		c.JSON(http.StatusOK, api.ResolveResponse{
			Answer:      couldNotUnderstand,
			CacheStatus: "MISS",
			LatencyMS:   time.Since(startTime).Milliseconds(),
		})
		return
	}

	result, err := h.resolver.Resolve(c.Request.Context(), userID, text)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := toResponse(result, startTime)
	resp.Answer = fmt.Sprintf("🎤 [Voice]: %s\n\n%s", text, result.Answer)
	c.JSON(http.StatusOK, resp)
}

// HandlePhoto describes an image and routes the description through the
// pipeline, so photos are checked against the knowledge base and cache the
// same way text is.
func (h *Handler) HandlePhoto(c *gin.Context) {
	startTime := time.Now()
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	image, err := io.ReadAll(c.Request.Body)
	if err != nil || len(image) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image payload is required"})
		return
	}

	description, err := h.describer.Describe(c.Request.Context(), image, c.Query("hint"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("image analysis failed: %v", err)})
		return
	}

	query := "The user sent a photo. It shows: " + description
	result, err := h.resolver.Resolve(c.Request.Context(), userID, query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := toResponse(result, startTime)
	resp.Answer = fmt.Sprintf("📸 [Photo analysis]:\n%s", result.Answer)
	c.JSON(http.StatusOK, resp)
}

func toResponse(result *pipeline.Result, startTime time.Time) api.ResolveResponse {
	status := "MISS"
	if result.CacheHit {
		status = "HIT"
	}
	return api.ResolveResponse{
		Answer:      result.Answer,
		CacheStatus: status,
		ContextUsed: result.ContextUsed,
		WebUsed:     result.WebUsed,
		Usage:       result.Usage,
		LatencyMS:   time.Since(startTime).Milliseconds(),
	}
}
