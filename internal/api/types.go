// In file: internal/api/types.go
// Package api defines the public request and response types exchanged over
// the assistant's HTTP surface, plus the token accounting shared with the
// model clients. Keeping these in one place decouples the wire contract from
// the internal pipeline types.
package api

// ResolveRequest is the single inbound contract of the resolution pipeline:
// a user identity plus the raw query text.
type ResolveRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Query  string `json:"query" binding:"required"`
}

// ResolveResponse is the answer envelope. CacheStatus is "HIT" or "MISS";
// the boolean flags report whether file context and web info made it into
// the prompt on a miss.
type ResolveResponse struct {
	Answer      string `json:"answer"`
	CacheStatus string `json:"cache_status"`
	ContextUsed bool   `json:"context_used"`
	WebUsed     bool   `json:"web_used"`
	Usage       Usage  `json:"usage"`
	LatencyMS   int64  `json:"latency_ms"`
}

// IngestResponse reports how many chunks an administrative re-index produced.
type IngestResponse struct {
	Chunks int `json:"chunks"`
}

// Usage holds token accounting for a single model invocation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage record into this one.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}
