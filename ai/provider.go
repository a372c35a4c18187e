// Package ai generates session insight through an OpenAI-compatible chat
// completions endpoint.
package ai

import "context"

// Provider generates enrichment content from prompts
type Provider interface {
	// Chat sends a prompt pair and returns the model's text response
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// IsConfigured reports whether the provider has credentials
	IsConfigured() bool
}

// ChatRequest is a high-level request to the provider
type ChatRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  *float64 // Override default temperature
	MaxTokens    *int     // Override default max tokens
	Model        *string  // Override default model
}

// ChatResponse is the provider's reply
type ChatResponse struct {
	Content string
	Usage   Usage
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Chapter is one section of a session narrative
type Chapter struct {
	Title     string  `json:"title"`
	StartTime float64 `json:"startTime,omitempty"`
	EndTime   float64 `json:"endTime,omitempty"`
	Summary   string  `json:"summary,omitempty"`
}

// EnrichmentResult is the structured insight generated for a session
type EnrichmentResult struct {
	Summary   string    `json:"summary"`
	Narrative string    `json:"narrative,omitempty"`
	Chapters  []Chapter `json:"chapters,omitempty"`
	Tasks     []string  `json:"tasks,omitempty"`
	Notes     string    `json:"notes,omitempty"`
}
