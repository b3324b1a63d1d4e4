// In file: internal/compose/client.go
// Package compose builds the grounded prompt for a query and invokes a
// language model to produce the final answer. It is the only point in the
// pipeline that performs an open-domain, paid model call, which is exactly
// why the answer cache sits upstream of it.
package compose

import (
	"context"
	"time"

	"github.com/margo-ai/travel-assistant/internal/api"
)

// Role represents the originator of a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single message sent to a model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// GenerationConfig controls a model invocation. Temperature is a pointer so
// an explicit 0 (which the composer always sets, for reproducibility of
// cached answers) is distinguishable from unset.
type GenerationConfig struct {
	Model       string
	Temperature *float32
	MaxTokens   int
}

// GenerationResult is the complete output of one model call.
type GenerationResult struct {
	Content string
	Usage   api.Usage
}

// LLMClient is the interface every model provider implements. The pipeline
// is strictly sequential, so only blocking generation is needed.
type LLMClient interface {
	Generate(ctx context.Context, messages []Message, config *GenerationConfig) (*GenerationResult, error)
}

const (
	defaultTimeout    = 120 * time.Second
	maxRetries        = 3
	initialRetryDelay = 2 * time.Second
)
