package hooks

import (
	"time"

	"github.com/haasonsaas/agentrun/pkg/agentmsg"
)

// LLMCallEvent is the payload for LLM-call attachment points fired before
// or around a provider Stream call.
type LLMCallEvent struct {
	Iteration int
	Model     string
	Messages  []agentmsg.Message
}

// LLMCallResult is the payload for attachment points fired once a
// provider stream has finished.
type LLMCallResult struct {
	Iteration     int
	AssistantText string
	ToolCalls     []agentmsg.ToolCall
	InputTokens   int
	OutputTokens  int
	Duration      time.Duration
}

// LLMCallError is the payload for onLLMCallError.
type LLMCallError struct {
	Iteration int
	Err       error
}

// GadgetCallEvent is the payload fired before a tool executes.
type GadgetCallEvent struct {
	Iteration    int
	InvocationID string
	GadgetName   string
	Parameters   map[string]any
}

// GadgetResultEvent is the payload fired once a tool has executed (or
// failed).
type GadgetResultEvent struct {
	Iteration    int
	InvocationID string
	GadgetName   string
	Result       agentmsg.ToolResult
	Err          error
	Duration     time.Duration
}

// GadgetSkippedEvent is the payload for onDependencySkipped and
// onGadgetSkipped: a call whose dependency failed or was itself skipped.
type GadgetSkippedEvent struct {
	Iteration        int
	InvocationID     string
	GadgetName       string
	FailedDependency string
	CycleMembers     []string
}

// CompactionEvent is the payload for onCompaction.
type CompactionEvent struct {
	Strategy     string
	TokensBefore int
	TokensAfter  int
}

// AbortEvent is the payload for onAbort.
type AbortEvent struct {
	Iteration int
	Reason    string
}
