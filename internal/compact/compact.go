// Package compact implements the context-window compactor: before
// each LLM call the agent loop asks ShouldCompact whether the conversation needs
// shrinking, and if so a Strategy (sliding-window, summarization, or
// hybrid) rewrites everything after the base/initial regions toward a
// target size.
package compact

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/agentrun/pkg/agentmsg"
)

// Config controls when and how hard compaction shrinks the
// conversation.
type Config struct {
	// TriggerThresholdPercent: compaction runs once estimated tokens
	// reach this fraction of the model's context window.
	TriggerThresholdPercent float64

	// TargetPercent: the strategy shrinks toward this fraction of the
	// context window.
	TargetPercent float64

	// PreserveRecentTurns: the sliding-window and hybrid strategies
	// always keep at least this many of the most recent turns verbatim.
	PreserveRecentTurns int
}

// DefaultConfig triggers at 80% of the window, shrinks toward 50%, and
// keeps the last 3 turns.
func DefaultConfig() Config {
	return Config{TriggerThresholdPercent: 0.8, TargetPercent: 0.5, PreserveRecentTurns: 3}
}

// TokenEstimator estimates the token cost of a message slice. The agent
// loop wires this to the active provider's CountTokens (precise) or
// provider.CountTokensFallback.
type TokenEstimator func(msgs []agentmsg.Message) int

// Summarizer asks a (possibly secondary) model to summarize older turns
// into a single message body, used by the summarization and hybrid
// strategies.
type Summarizer interface {
	Summarize(ctx context.Context, turns [][]agentmsg.Message) (string, error)
}

// Result is what a Strategy's Compact returns.
type Result struct {
	NewMessages  []agentmsg.Message
	StrategyName string
	TokensBefore int
	TokensAfter  int
}

// Strategy is a polymorphic compaction algorithm.
type Strategy interface {
	Name() string
	Compact(ctx context.Context, turns [][]agentmsg.Message, cfg Config, estimate TokenEstimator) (Result, error)
}

// Turns groups messages into turns: one user->assistant exchange (plus any tool-call records
// between them): each turn starts at a genuine user message and runs up
// to (but not including) the next one.
func Turns(msgs []agentmsg.Message) [][]agentmsg.Message {
	var turns [][]agentmsg.Message
	var cur []agentmsg.Message
	for _, m := range msgs {
		if m.Role == agentmsg.RoleUser && !m.IsToolRecord() && len(cur) > 0 {
			turns = append(turns, cur)
			cur = nil
		}
		cur = append(cur, m)
	}
	if len(cur) > 0 {
		turns = append(turns, cur)
	}
	return turns
}

func flatten(turns [][]agentmsg.Message) []agentmsg.Message {
	var out []agentmsg.Message
	for _, t := range turns {
		out = append(out, t...)
	}
	return out
}

// ShouldCompact reports whether estimatedTokens has reached the
// trigger threshold of contextWindow.
func ShouldCompact(estimatedTokens, contextWindow int, cfg Config) bool {
	if contextWindow <= 0 {
		return false
	}
	threshold := cfg.TriggerThresholdPercent
	if threshold <= 0 {
		threshold = DefaultConfig().TriggerThresholdPercent
	}
	return float64(estimatedTokens) >= threshold*float64(contextWindow)
}

// Marker is the synthetic message sliding-window prepends in place of
// the turns it dropped.
func Marker(droppedTurns int) agentmsg.Message {
	return agentmsg.NewText(agentmsg.RoleUser, fmt.Sprintf(
		"[Previous conversation truncated. Removed %d turn(s) to fit the context window.]", droppedTurns))
}

// SlidingWindow keeps the last cfg.PreserveRecentTurns turns verbatim
// and prepends Marker describing how many turns were dropped. It makes
// zero LLM calls. Applying it twice to an unchanged tail yields the
// same result as once: a leading marker from an earlier pass is not
// counted as a turn, so the second application sees a conversation
// already at or under PreserveRecentTurns turns and is a no-op beyond
// re-estimating tokens.
type SlidingWindow struct{}

func (SlidingWindow) Name() string { return "sliding-window" }

func (SlidingWindow) Compact(ctx context.Context, turns [][]agentmsg.Message, cfg Config, estimate TokenEstimator) (Result, error) {
	before := estimate(flatten(turns))
	keep := cfg.PreserveRecentTurns
	if keep <= 0 {
		keep = DefaultConfig().PreserveRecentTurns
	}
	body := turns
	if len(body) > 0 && len(body[0]) == 1 && body[0][0].Role == agentmsg.RoleUser &&
		strings.HasPrefix(body[0][0].Text, "[Previous conversation truncated.") {
		body = body[1:]
	}
	if keep >= len(body) {
		after := estimate(flatten(turns))
		return Result{NewMessages: flatten(turns), StrategyName: "sliding-window", TokensBefore: before, TokensAfter: after}, nil
	}

	dropped := len(body) - keep
	kept := body[len(body)-keep:]
	out := append([]agentmsg.Message{Marker(dropped)}, flatten(kept)...)
	return Result{
		NewMessages:  out,
		StrategyName: "sliding-window",
		TokensBefore: before,
		TokensAfter:  estimate(out),
	}, nil
}

// Summarization asks Summarizer to compress every turn older than the
// preserved tail into one message, prepended ahead of the preserved
// turns verbatim.
type Summarization struct {
	Summarizer Summarizer
}

func (Summarization) Name() string { return "summarization" }

func (s Summarization) Compact(ctx context.Context, turns [][]agentmsg.Message, cfg Config, estimate TokenEstimator) (Result, error) {
	before := estimate(flatten(turns))
	keep := cfg.PreserveRecentTurns
	if keep <= 0 {
		keep = DefaultConfig().PreserveRecentTurns
	}
	if keep >= len(turns) || s.Summarizer == nil {
		return Result{NewMessages: flatten(turns), StrategyName: "summarization", TokensBefore: before, TokensAfter: before}, nil
	}

	older := turns[:len(turns)-keep]
	kept := turns[len(turns)-keep:]

	summary, err := s.Summarizer.Summarize(ctx, older)
	if err != nil {
		return Result{}, fmt.Errorf("compact: summarization failed: %w", err)
	}

	summaryMsg := agentmsg.NewText(agentmsg.RoleUser, "[Summary of earlier conversation]\n"+summary)
	out := append([]agentmsg.Message{summaryMsg}, flatten(kept)...)
	return Result{
		NewMessages:  out,
		StrategyName: "summarization",
		TokensBefore: before,
		TokensAfter:  estimate(out),
	}, nil
}

// Hybrid falls back to SlidingWindow when the summarizable region (every
// turn older than the preserved tail) has fewer than 3 turns; otherwise
// it summarizes. Result.StrategyName always reflects the strategy
// actually used.
type Hybrid struct {
	Summarizer Summarizer
}

func (Hybrid) Name() string { return "hybrid" }

func (h Hybrid) Compact(ctx context.Context, turns [][]agentmsg.Message, cfg Config, estimate TokenEstimator) (Result, error) {
	keep := cfg.PreserveRecentTurns
	if keep <= 0 {
		keep = DefaultConfig().PreserveRecentTurns
	}
	var summarizable int
	if keep < len(turns) {
		summarizable = len(turns) - keep
	}
	if summarizable < 3 {
		return SlidingWindow{}.Compact(ctx, turns, cfg, estimate)
	}
	return Summarization{Summarizer: h.Summarizer}.Compact(ctx, turns, cfg, estimate)
}
