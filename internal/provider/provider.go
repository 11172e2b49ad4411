// Package provider defines the provider adapter contract: a uniform
// streaming interface over whatever vendor transport an adapter wraps.
// This package contains no vendor HTTP clients, only the contract, a
// token-counting fallback, and composition helpers (registry, circuit
// breaker) that any concrete adapter can sit behind.
package provider

import (
	"context"
	"math"

	"github.com/haasonsaas/agentrun/internal/catalog"
	"github.com/haasonsaas/agentrun/pkg/agentmsg"
)

// Descriptor names the model a completion request targets, alongside the
// catalog entry describing its capabilities.
type Descriptor struct {
	Model catalog.Identifier
	Entry catalog.Model
}

// Chunk is one unit of a streamed completion.
type Chunk struct {
	Text         string
	Thinking     string
	FinishReason string
	Usage        *Usage
	RawEvent     any
	Err          error
}

// Usage is the token accounting a provider reports for one completion.
type Usage struct {
	InputTokens              int
	OutputTokens             int
	TotalTokens              int
	CachedInputTokens        int
	CacheCreationInputTokens int
	ReasoningTokens          int
}

// Options carries the per-call generation parameters the loop computes
// (max tokens, temperature, thinking budget) independent of the message
// history, which is passed separately.
type Options struct {
	MaxTokens            int
	Temperature          *float64
	EnableThinking       bool
	ThinkingBudgetTokens int
}

// Tool is the subset of a registered tool a provider needs to advertise
// function-calling support to the model.
type Tool struct {
	Name        string
	Description string
	Schema      any // JSON-Schema-shaped map, produced by internal/schema
}

// Provider is the adapter contract every LLM backend implements.
//
// Stream's returned channel is single-consumer and lazy: nothing is sent
// to the transport until the caller starts ranging over the channel.
// Canceling ctx MUST cause the underlying request to abort; the channel is
// then closed after a final Chunk carrying context.Canceled in Err.
type Provider interface {
	// Supports reports whether this adapter can serve the given
	// descriptor.
	Supports(d Descriptor) bool

	// Stream sends messages/tools under opts and streams the response.
	Stream(ctx context.Context, d Descriptor, messages []agentmsg.Message, tools []Tool, opts Options) (<-chan Chunk, error)

	// CountTokens estimates the token cost of messages for this
	// descriptor. Adapters with a precise tokenizer should use it;
	// CountTokensFallback below is the prescribed estimate otherwise.
	CountTokens(d Descriptor, messages []agentmsg.Message) int

	// Priority breaks ties when multiple registered providers support
	// the same descriptor; higher wins. Mock/test adapters conventionally
	// use 100, real adapters 0.
	Priority() int
}

// CountTokensFallback is the character-based estimate
// ceil(totalChars / 4) + 765*imageCount, used when a precise tokenizer
// isn't available for the model. totalChars counts text content only;
// image and audio parts add no characters.
func CountTokensFallback(messages []agentmsg.Message) int {
	var chars, images int
	for _, m := range messages {
		if len(m.Parts) == 0 {
			chars += len(m.Text)
		}
		for _, p := range m.Parts {
			if p.Kind == agentmsg.PartText {
				chars += len(p.Text)
			}
		}
		images += m.ImageCount()
	}
	return int(math.Ceil(float64(chars)/4.0)) + 765*images
}
