// In file: internal/compose/gemini_test.go
package compose

import (
	"testing"
)

func TestNewGeminiClientRequiresKey(t *testing.T) {
	if _, err := NewGeminiClient("", "gemini-1.5-flash"); err == nil {
		t.Error("empty API key should be rejected")
	}
}

func TestGeminiModelConfiguredPerCall(t *testing.T) {
	c, err := NewGeminiClient("test-key", "gemini-1.5-flash")
	if err != nil {
		t.Fatal(err)
	}

	temp := float32(0)
	m1 := c.buildModel(&GenerationConfig{Temperature: &temp, MaxTokens: 64})
	m2 := c.buildModel(&GenerationConfig{})

	// Each call gets its own handle; concurrent generations for different
	// users must not write temperature or system instruction into a shared
	// struct.
	if m1 == m2 {
		t.Fatal("each call must configure a fresh model handle")
	}
	if m1.Temperature == nil || *m1.Temperature != 0 {
		t.Error("first handle should carry the pinned temperature")
	}
	if m2.Temperature != nil {
		t.Error("configuration leaked from one call's handle into another")
	}
	if m2.MaxOutputTokens != nil {
		t.Error("max tokens leaked from one call's handle into another")
	}
}
