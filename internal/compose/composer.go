// In file: internal/compose/composer.go
package compose

import (
	"context"
	"fmt"

	"github.com/margo-ai/travel-assistant/internal/api"
)

// systemPrompt establishes the persona, the fixed trip constraints, and the
// grounding priority rule applied to every composition.
const systemPrompt = "You are Margo's strict travel assistant for Sri Lanka. " +
	"The trip budget is $2500 for 3 months, all-inclusive. " +
	"A proper work desk (not a coffee table) is a hard requirement for any accommodation. " +
	"Your answer must be precise. " +
	"Use the context from files first; only fall back to web info when the files have nothing. " +
	"Take the dialogue history into account so answers stay coherent."

// Composer turns (query, history, context, web info) into a single grounded
// model call.
type Composer struct {
	client LLMClient
	model  string
}

// NewComposer wires a model client and the model ID every composition uses.
func NewComposer(client LLMClient, model string) *Composer {
	return &Composer{client: client, model: model}
}

// Compose issues one model call with the grounded prompt and returns the
// completion verbatim. Temperature is pinned at 0 so identical inputs
// reproduce the answers the cache hands out.
func (c *Composer) Compose(ctx context.Context, query, history, contextBlock, webInfo string) (string, api.Usage, error) {
	temperature := float32(0)
	config := &GenerationConfig{
		Model:       c.model,
		Temperature: &temperature,
	}

	result, err := c.client.Generate(ctx, BuildMessages(query, history, contextBlock, webInfo), config)
	if err != nil {
		return "", api.Usage{}, fmt.Errorf("model generation failed: %w", err)
	}
	return result.Content, result.Usage, nil
}

// BuildMessages assembles the grounded prompt: the system instruction plus a
// single user turn embedding the serialized history, the retrieved context
// block, the web-info block, and the literal query.
func BuildMessages(query, history, contextBlock, webInfo string) []Message {
	userTurn := fmt.Sprintf(
		"DIALOGUE HISTORY (up to 20 messages):\n%s\n\nCONTEXT FROM FILES:\n%s\n\nWEB INFO:\n%s\n\nQUESTION: %s",
		history, contextBlock, webInfo, query,
	)
	return []Message{
		{Role: RoleSystem, Content: systemPrompt},
		{Role: RoleUser, Content: userTurn},
	}
}
