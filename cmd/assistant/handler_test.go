// In file: cmd/assistant/handler_test.go
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/margo-ai/travel-assistant/internal/api"
	"github.com/margo-ai/travel-assistant/internal/pipeline"

	"github.com/gin-gonic/gin"
)

type stubResolver struct {
	result    *pipeline.Result
	err       error
	lastQuery string
}

func (s *stubResolver) Resolve(_ context.Context, _, query string) (*pipeline.Result, error) {
	s.lastQuery = query
	return s.result, s.err
}

type stubIngester struct{ chunks int }

func (s *stubIngester) Ingest(context.Context, string) (int, error) { return s.chunks, nil }

type stubTranscriber struct{ text string }

func (s *stubTranscriber) Transcribe(context.Context, []byte) (string, error) { return s.text, nil }

func newTestRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	v1 := engine.Group("/api/v1")
	v1.POST("/resolve", h.HandleResolve)
	v1.POST("/ingest", h.HandleIngest)
	v1.GET("/cache/stats", h.HandleCacheStats)
	h.RegisterMediaRoutes(v1)
	return engine
}

func TestHandleResolve(t *testing.T) {
	resolver := &stubResolver{result: &pipeline.Result{Answer: "The budget is $2500.", CacheHit: true}}
	router := newTestRouter(NewHandler(resolver, &stubIngester{}, nil, "./data", nil, nil))

	body := bytes.NewBufferString(`{"user_id":"margo","query":"budget?"}`)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/resolve", body))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp api.ResolveResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Answer != "The budget is $2500." {
		t.Errorf("answer = %q", resp.Answer)
	}
	if resp.CacheStatus != "HIT" {
		t.Errorf("cache_status = %q, want HIT", resp.CacheStatus)
	}
}

func TestHandleResolveEmptyQuery(t *testing.T) {
	resolver := &stubResolver{err: pipeline.ErrEmptyQuery}
	router := newTestRouter(NewHandler(resolver, &stubIngester{}, nil, "./data", nil, nil))

	body := bytes.NewBufferString(`{"user_id":"margo","query":"   "}`)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/resolve", body))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "could not understand") {
		t.Errorf("body missing explicit reply: %s", w.Body.String())
	}
}

func TestHandleIngest(t *testing.T) {
	router := newTestRouter(NewHandler(&stubResolver{}, &stubIngester{chunks: 42}, nil, "./data", nil, nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/ingest", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp api.IngestResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Chunks != 42 {
		t.Errorf("chunks = %d, want 42", resp.Chunks)
	}
}

func TestVoiceRouteOnlyWithTranscriber(t *testing.T) {
	router := newTestRouter(NewHandler(&stubResolver{}, &stubIngester{}, nil, "./data", nil, nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/voice?user_id=margo", bytes.NewBufferString("audio")))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when no transcriber is wired", w.Code)
	}
}

func TestHandleVoiceEmptyTranscription(t *testing.T) {
	resolver := &stubResolver{result: &pipeline.Result{Answer: "should not be used"}}
	h := NewHandler(resolver, &stubIngester{}, nil, "./data", &stubTranscriber{text: "  "}, nil)
	router := newTestRouter(h)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/voice?user_id=margo", bytes.NewBufferString("audio")))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "could not understand") {
		t.Errorf("unintelligible audio should get the explicit reply: %s", w.Body.String())
	}
	if resolver.lastQuery != "" {
		t.Error("pipeline must not run on an empty transcription")
	}
}

func TestHandleVoiceEchoesTranscription(t *testing.T) {
	resolver := &stubResolver{result: &pipeline.Result{Answer: "surf is good"}}
	h := NewHandler(resolver, &stubIngester{}, nil, "./data", &stubTranscriber{text: "how is the surf"}, nil)
	router := newTestRouter(h)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/voice?user_id=margo", bytes.NewBufferString("audio")))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "how is the surf") || !strings.Contains(w.Body.String(), "surf is good") {
		t.Errorf("response should echo transcription and answer: %s", w.Body.String())
	}
	if resolver.lastQuery != "how is the surf" {
		t.Errorf("pipeline query = %q", resolver.lastQuery)
	}
}
