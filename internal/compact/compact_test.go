package compact

import (
	"context"
	"strings"
	"testing"

	"github.com/haasonsaas/agentrun/pkg/agentmsg"
)

func charEstimate(msgs []agentmsg.Message) int {
	total := 0
	for _, m := range msgs {
		total += len(m.Flatten())
	}
	return total
}

func turnsOf(n int) [][]agentmsg.Message {
	var turns [][]agentmsg.Message
	for i := 0; i < n; i++ {
		turns = append(turns, []agentmsg.Message{
			agentmsg.NewText(agentmsg.RoleUser, "question"),
			agentmsg.NewText(agentmsg.RoleAssistant, "answer"),
		})
	}
	return turns
}

func TestShouldCompact(t *testing.T) {
	cfg := DefaultConfig()
	if ShouldCompact(15000, 20000, cfg) {
		t.Fatalf("15000/20000 < 80%% threshold, should not trigger")
	}
	if !ShouldCompact(16000, 20000, cfg) {
		t.Fatalf("16000/20000 == 80%% threshold, should trigger")
	}
}

func TestSlidingWindowPreservesRecentTurns(t *testing.T) {
	turns := turnsOf(6)
	cfg := Config{PreserveRecentTurns: 3}
	res, err := SlidingWindow{}.Compact(context.Background(), turns, cfg, charEstimate)
	if err != nil {
		t.Fatal(err)
	}
	if res.StrategyName != "sliding-window" {
		t.Fatalf("strategy = %q", res.StrategyName)
	}
	if !strings.Contains(res.NewMessages[0].Text, "Removed 3 turn(s)") {
		t.Fatalf("expected marker mentioning dropped turns, got %q", res.NewMessages[0].Text)
	}
	// Marker + 3 preserved turns * 2 messages each.
	if len(res.NewMessages) != 1+6 {
		t.Fatalf("len(NewMessages) = %d, want 7", len(res.NewMessages))
	}
}

func TestSlidingWindowIdempotent(t *testing.T) {
	turns := turnsOf(6)
	cfg := Config{PreserveRecentTurns: 3}
	first, err := SlidingWindow{}.Compact(context.Background(), turns, cfg, charEstimate)
	if err != nil {
		t.Fatal(err)
	}
	secondTurns := Turns(first.NewMessages)
	second, err := SlidingWindow{}.Compact(context.Background(), secondTurns, cfg, charEstimate)
	if err != nil {
		t.Fatal(err)
	}
	if len(first.NewMessages) != len(second.NewMessages) {
		t.Fatalf("compaction not idempotent: %d vs %d messages", len(first.NewMessages), len(second.NewMessages))
	}
}

type fakeSummarizer struct{ calls int }

func (f *fakeSummarizer) Summarize(ctx context.Context, turns [][]agentmsg.Message) (string, error) {
	f.calls++
	return "condensed history", nil
}

func TestHybridFallsBackUnderThreeTurns(t *testing.T) {
	turns := turnsOf(4) // preserve 3, summarizable region = 1 turn < 3
	summarizer := &fakeSummarizer{}
	res, err := Hybrid{Summarizer: summarizer}.Compact(context.Background(), turns, Config{PreserveRecentTurns: 3}, charEstimate)
	if err != nil {
		t.Fatal(err)
	}
	if res.StrategyName != "sliding-window" {
		t.Fatalf("expected hybrid to fall back to sliding-window, got %q", res.StrategyName)
	}
	if summarizer.calls != 0 {
		t.Fatalf("summarizer should not have been called")
	}
}

func TestHybridSummarizesWhenEnoughTurns(t *testing.T) {
	turns := turnsOf(10) // preserve 3, summarizable region = 7 turns >= 3
	summarizer := &fakeSummarizer{}
	res, err := Hybrid{Summarizer: summarizer}.Compact(context.Background(), turns, Config{PreserveRecentTurns: 3}, charEstimate)
	if err != nil {
		t.Fatal(err)
	}
	if res.StrategyName != "summarization" {
		t.Fatalf("expected hybrid to summarize, got %q", res.StrategyName)
	}
	if summarizer.calls != 1 {
		t.Fatalf("summarizer should have been called once, got %d", summarizer.calls)
	}
}

func TestTurnsGroupsUserAssistantAndToolRecords(t *testing.T) {
	msgs := []agentmsg.Message{
		agentmsg.NewText(agentmsg.RoleUser, "q1"),
		{Role: agentmsg.RoleAssistant, Text: "call tool", Name: agentmsg.ToolRecordName},
		{Role: agentmsg.RoleUser, Text: "tool result", Name: agentmsg.ToolRecordName},
		agentmsg.NewText(agentmsg.RoleAssistant, "a1"),
		agentmsg.NewText(agentmsg.RoleUser, "q2"),
		agentmsg.NewText(agentmsg.RoleAssistant, "a2"),
	}
	turns := Turns(msgs)
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if len(turns[0]) != 4 {
		t.Fatalf("first turn should include the tool-call pair, got %d messages", len(turns[0]))
	}
}
