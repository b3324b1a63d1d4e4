// In file: internal/websearch/tavily.go
// Package websearch fetches supplementary live information from the Tavily
// search API. The pipeline calls it only for queries that imply
// time-sensitive facts or when no local context exists.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultAPIURL = "https://api.tavily.com/search"

	// MaxResults bounds every search call to control cost and latency.
	MaxResults = 3

	// NoAnswer is returned when the provider responds but has no concise
	// answer for the query.
	NoAnswer = "No clear answer found on the web."
)

// Client calls the Tavily search API.
type Client struct {
	apiKey     string
	apiURL     string
	httpClient *http.Client
}

// NewClient constructs a Tavily client. The API key may not be empty.
func NewClient(apiKey string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("tavily API key cannot be empty")
	}
	return &Client{
		apiKey:     apiKey,
		apiURL:     defaultAPIURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// Search asks Tavily for a direct answer to the query, requesting at most
// MaxResults supporting results at advanced depth.
func (c *Client) Search(ctx context.Context, query string) (string, error) {
	payload := map[string]any{
		"query":          query,
		"api_key":        c.apiKey,
		"search_depth":   "advanced",
		"max_results":    MaxResults,
		"include_answer": true,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payloadBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search API returned status %d: %s", resp.StatusCode, string(body))
	}

	var apiResp struct {
		Answer  string `json:"answer"`
		Results []struct {
			Title   string `json:"title"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("failed to parse search response: %w", err)
	}

	if strings.TrimSpace(apiResp.Answer) != "" {
		return apiResp.Answer, nil
	}

	// No direct answer: fall back to a short digest of the raw results.
	if len(apiResp.Results) > 0 {
		var b strings.Builder
		for i, r := range apiResp.Results {
			if i > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "%d. %s: %s", i+1, r.Title, r.Content)
		}
		return b.String(), nil
	}
	return NoAnswer, nil
}
