// In file: internal/websearch/tavily_test.go
package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c, err := NewClient("test-key")
	if err != nil {
		t.Fatal(err)
	}
	c.apiURL = server.URL
	return c
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient("  "); err == nil {
		t.Error("blank API key should be rejected")
	}
}

func TestSearchRequestShape(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if req["query"] != "usd rate today" {
			t.Errorf("query = %v", req["query"])
		}
		if req["max_results"] != float64(MaxResults) {
			t.Errorf("max_results = %v, want %d", req["max_results"], MaxResults)
		}
		if req["include_answer"] != true {
			t.Error("include_answer should be requested")
		}
		if req["search_depth"] != "advanced" {
			t.Errorf("search_depth = %v", req["search_depth"])
		}
		json.NewEncoder(w).Encode(map[string]any{"answer": "about 300 LKR per USD"})
	})

	got, err := c.Search(context.Background(), "usd rate today")
	if err != nil {
		t.Fatal(err)
	}
	if got != "about 300 LKR per USD" {
		t.Errorf("answer = %q", got)
	}
}

func TestSearchFallsBackToResults(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"answer": "",
			"results": []map[string]string{
				{"title": "Surf report", "content": "clean waves at Weligama"},
			},
		})
	})

	got, err := c.Search(context.Background(), "surf today")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "Weligama") {
		t.Errorf("digest missing result content: %q", got)
	}
}

func TestSearchNoAnswerSentinel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"answer": ""})
	})

	got, err := c.Search(context.Background(), "anything")
	if err != nil {
		t.Fatal(err)
	}
	if got != NoAnswer {
		t.Errorf("got %q, want NoAnswer sentinel", got)
	}
}

func TestSearchProviderError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	if _, err := c.Search(context.Background(), "anything"); err == nil {
		t.Fatal("expected error on non-200 status")
	}
}
