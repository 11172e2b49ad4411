// Package agentloop implements the agent loop: the iteration
// driver that streams a conversation to a provider, parses emitted
// gadget blocks out of the text, hands them to the dispatcher, folds
// results back into the conversation, and decides whether to run
// another iteration.
package agentloop

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/agentrun/internal/backoff"
	"github.com/haasonsaas/agentrun/internal/blockparse"
	"github.com/haasonsaas/agentrun/internal/compact"
	"github.com/haasonsaas/agentrun/internal/convo"
	"github.com/haasonsaas/agentrun/internal/dispatch"
	"github.com/haasonsaas/agentrun/internal/events"
	"github.com/haasonsaas/agentrun/internal/hooks"
	"github.com/haasonsaas/agentrun/internal/ledger"
	"github.com/haasonsaas/agentrun/internal/provider"
	"github.com/haasonsaas/agentrun/internal/schema"
	"github.com/haasonsaas/agentrun/internal/toolkit"
	"github.com/haasonsaas/agentrun/pkg/agentmsg"
)

// TextOnlyHandler controls what the loop does when an iteration produces
// assistant text but zero tool calls.
type TextOnlyHandler string

const (
	// TextOnlyTerminate ends the run once the model replies with no tool
	// calls. The default.
	TextOnlyTerminate TextOnlyHandler = "terminate"

	// TextOnlyAcknowledge keeps the loop running, treating a
	// tool-call-free reply as the model "thinking out loud".
	TextOnlyAcknowledge TextOnlyHandler = "acknowledge"
)

// Config controls one Loop's termination and generation policy.
type Config struct {
	MaxIterations int

	// MonetaryCapUSD stops the run once the ledger's accumulated cost
	// reaches this amount. Zero means uncapped.
	MonetaryCapUSD float64

	TextOnlyHandler TextOnlyHandler

	// StopOnGadgetError breaks the loop after an iteration in which a
	// gadget raised an unrecovered execution error (exception or
	// timeout), instead of feeding the error back to the model as an
	// observation. The failing call's result is recorded either way.
	StopOnGadgetError bool

	// Temperature is forwarded to the provider unless nil.
	Temperature *float64

	// EnableThinking and ThinkingBudgetTokens are forwarded verbatim to
	// provider.Options.
	EnableThinking       bool
	ThinkingBudgetTokens int

	RetryPolicy    backoff.Policy
	DispatchConfig dispatch.Config
	CompactConfig  compact.Config
	BlockConfig    blockparse.Config

	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults: 25 iterations, no monetary
// cap, terminate on a tool-call-free reply.
func DefaultConfig() Config {
	return Config{
		MaxIterations:   25,
		TextOnlyHandler: TextOnlyTerminate,
		RetryPolicy:     backoff.DefaultPolicy(),
		DispatchConfig:  dispatch.DefaultConfig(),
		CompactConfig:   compact.DefaultConfig(),
		BlockConfig:     blockparse.DefaultConfig(),
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultConfig().MaxIterations
	}
	if cfg.TextOnlyHandler == "" {
		cfg.TextOnlyHandler = TextOnlyTerminate
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RetryPolicy.MaxTimeout <= 0 {
		cfg.RetryPolicy = backoff.DefaultPolicy()
	}
	if cfg.DispatchConfig.DefaultTimeout <= 0 {
		cfg.DispatchConfig = dispatch.DefaultConfig()
	}
	if cfg.CompactConfig.TriggerThresholdPercent <= 0 {
		cfg.CompactConfig = compact.DefaultConfig()
	}
	if cfg.BlockConfig.StartPrefix == "" {
		cfg.BlockConfig = blockparse.DefaultConfig()
	}
	return cfg
}

// Status is the terminal state a Run returns.
type Status string

const (
	StatusCompleted      Status = "completed"       // zero tool calls, textOnlyHandler=terminate
	StatusTaskCompletion Status = "task_completion" // a tool raised toolkit.OutcomeComplete
	StatusSuspended      Status = "suspended"       // a tool raised toolkit.OutcomeNeedInput
	StatusMaxIterations  Status = "max_iterations"
	StatusBudgetExceeded Status = "budget_exceeded"
	StatusGadgetError    Status = "gadget_error" // a gadget failed and StopOnGadgetError is set
	StatusAborted        Status = "aborted"
)

// Result is what Run returns once the loop stops advancing.
type Result struct {
	Status     Status
	FinalText  string
	Summary    string // set when Status == StatusTaskCompletion
	Iterations int
	Usage      ledger.Usage
	CostUSD    float64

	// PendingQuestion and PendingInvocationID are set when Status ==
	// StatusSuspended.
	PendingQuestion     string
	PendingInvocationID string
}

// Loop drives one run's iterations against a fixed model Descriptor,
// tool registry, and conversation store.
type Loop struct {
	providers  *provider.Registry
	descriptor provider.Descriptor
	tools      *toolkit.Registry
	hooks      *hooks.HookSet
	store      *convo.Store
	dispatcher *dispatch.Dispatcher
	tree       *events.Tree
	ledger     *ledger.Ledger
	strategy   compact.Strategy
	serializer agentmsg.Serializer
	cfg        Config

	aborted atomic.Bool

	// iteration is the next iteration number Run will execute. It
	// persists across a Resume so a suspended run's iteration count
	// continues rather than restarting at zero.
	iteration int

	// pendingInvocation, when non-empty, names the tool call Run
	// suspended on; Resume feeds its answer back in as that call's
	// result and continues with the following iteration.
	pendingInvocation string
	pendingQuestion   string
}

// New constructs a Loop. hookSet and strategy may be nil; strategy
// defaults to compact.SlidingWindow{}.
func New(
	providers *provider.Registry,
	descriptor provider.Descriptor,
	tools *toolkit.Registry,
	hookSet *hooks.HookSet,
	store *convo.Store,
	tree *events.Tree,
	led *ledger.Ledger,
	strategy compact.Strategy,
	serializer agentmsg.Serializer,
	cfg Config,
) *Loop {
	cfg = sanitizeConfig(cfg)
	if hookSet == nil {
		hookSet = hooks.New()
	}
	if strategy == nil {
		strategy = compact.SlidingWindow{}
	}
	if cfg.StopOnGadgetError {
		cfg.DispatchConfig.StopOnGadgetError = true
	}
	return &Loop{
		providers:  providers,
		descriptor: descriptor,
		tools:      tools,
		hooks:      hookSet,
		store:      store,
		dispatcher: dispatch.New(tools, hookSet, cfg.DispatchConfig),
		tree:       tree,
		ledger:     led,
		strategy:   strategy,
		serializer: serializer,
		cfg:        cfg,
	}
}

// Abort requests the loop stop at its next suspension point. Safe to
// call from any goroutine.
func (l *Loop) Abort() { l.aborted.Store(true) }

// Resume answers a pending HumanInputRequired suspension: answer becomes
// the suspended call's result text, folded into the conversation as if
// the tool had returned it, and the loop continues from the following
// iteration.
func (l *Loop) Resume(ctx context.Context, answer string) (Result, error) {
	if l.pendingInvocation == "" {
		return Result{}, fmt.Errorf("agentloop: Resume called with no pending suspension")
	}
	invocationID := l.pendingInvocation
	result := agentmsg.ToolResult{InvocationID: invocationID, Text: answer}
	callMsg := agentmsg.Message{Role: agentmsg.RoleAssistant, Text: "[resumed: " + invocationID + "]", Name: agentmsg.ToolRecordName}
	resultMsg := agentmsg.Message{Role: agentmsg.RoleUser, Text: l.serializer.SerializeResult(agentmsg.ToolCall{InvocationID: invocationID}, result), Name: agentmsg.ToolRecordName}
	l.store.AppendToolRecord(callMsg, resultMsg)
	l.pendingInvocation = ""
	l.pendingQuestion = ""
	return l.Run(ctx)
}

// Run advances the loop, iteration by iteration, until a terminal Status
// is reached.
func (l *Loop) Run(ctx context.Context) (Result, error) {
	var rootCtx context.Context
	var root events.Node
	if parent, ok := events.NodeFromContext(ctx); ok {
		// Nested invocation (internal/subagent): root as a child of the
		// tool-call node that spawned this Loop, instead of a fresh root,
		// so the event tree reflects the true call hierarchy.
		rootCtx, root = l.tree.Child(ctx, parent, events.NodeSubagent, "agent.run.subagent")
	} else {
		rootCtx, root = l.tree.Root(ctx)
	}
	defer l.tree.End(rootCtx, &root)
	defer func() { l.tree.Emit(root, events.KindStreamComplete, nil) }()

	var lastText string

	for {
		iteration := l.iteration

		if l.aborted.Load() || ctx.Err() != nil {
			l.hooks.OnAbort.Fire(rootCtx, l.cfg.Logger, hooks.AbortEvent{Iteration: iteration, Reason: "aborted"})
			return l.finish(StatusAborted, lastText, "", iteration), nil
		}

		iterCtx, iterNode := l.tree.Child(rootCtx, root, events.NodeIteration, fmt.Sprintf("iteration.%d", iteration))

		if err := l.maybeCompact(iterCtx, iterNode); err != nil {
			l.tree.End(iterCtx, &iterNode)
			return Result{}, err
		}

		text, toolCalls, err := l.runOneCall(iterCtx, iterNode, iteration)
		if err != nil {
			l.tree.End(iterCtx, &iterNode)
			return Result{}, err
		}
		lastText = text

		results, dispErr := l.dispatcher.Dispatch(iterCtx, l.tree, iterNode, l.store, toolCalls, l.serializer, iteration)
		l.tree.End(iterCtx, &iterNode)

		if l.ledger != nil {
			for _, r := range results {
				if r.MonetaryCost != 0 {
					l.ledger.RecordToolCost(r.MonetaryCost)
				}
			}
		}

		if summary, ok := dispatch.IsTaskCompletion(dispErr); ok {
			l.iteration = iteration + 1
			return l.finish(StatusTaskCompletion, lastText, summary, l.iteration), nil
		}
		if question, invocationID, ok := dispatch.IsHumanInputRequired(dispErr); ok {
			l.pendingInvocation = invocationID
			l.pendingQuestion = question
			l.iteration = iteration + 1
			l.tree.Emit(iterNode, events.KindHumanInputRequired, question)
			res := l.finish(StatusSuspended, lastText, "", l.iteration)
			res.PendingQuestion = question
			res.PendingInvocationID = invocationID
			return res, nil
		}
		if invocationID, ok := dispatch.IsGadgetFailure(dispErr); ok {
			l.cfg.Logger.Warn("stopping after gadget failure", "invocation_id", invocationID)
			l.iteration = iteration + 1
			return l.finish(StatusGadgetError, lastText, "", l.iteration), nil
		}

		l.iteration = iteration + 1

		if len(toolCalls) == 0 {
			switch l.cfg.TextOnlyHandler {
			case TextOnlyAcknowledge:
				// fall through, run another iteration.
			default:
				return l.finish(StatusCompleted, lastText, "", l.iteration), nil
			}
		}

		if l.iteration >= l.cfg.MaxIterations {
			return l.finish(StatusMaxIterations, lastText, "", l.iteration), nil
		}
		if l.ledger != nil && l.ledger.ExceedsCap(l.cfg.MonetaryCapUSD) {
			return l.finish(StatusBudgetExceeded, lastText, "", l.iteration), nil
		}
	}
}

func (l *Loop) finish(status Status, finalText, summary string, iterations int) Result {
	res := Result{Status: status, FinalText: finalText, Summary: summary, Iterations: iterations}
	if l.ledger != nil {
		usage, llmUSD, toolUSD := l.ledger.Totals()
		res.Usage = usage
		res.CostUSD = llmUSD + toolUSD
	}
	return res
}

// maybeCompact asks the compactor whether the conversation needs
// shrinking and, if so, installs the strategy's output.
func (l *Loop) maybeCompact(ctx context.Context, root events.Node) error {
	msgs := l.store.GetMessages()
	estimate := l.estimateTokens(msgs)
	contextWindow := l.descriptor.Entry.ContextWindow
	if !compact.ShouldCompact(estimate, contextWindow, l.cfg.CompactConfig) {
		return nil
	}

	baseLen, initialLen := l.store.BaseLen(), l.store.InitialLen()
	compactable := msgs[baseLen+initialLen:]
	turns := compact.Turns(compactable)

	res, err := l.strategy.Compact(ctx, turns, l.cfg.CompactConfig, l.estimateTokens)
	if err != nil {
		return fmt.Errorf("agentloop: compaction failed: %w", err)
	}
	l.store.ReplaceAppended(res.NewMessages)
	l.hooks.OnCompaction.Fire(ctx, l.cfg.Logger, hooks.CompactionEvent{
		Strategy: res.StrategyName, TokensBefore: res.TokensBefore, TokensAfter: res.TokensAfter,
	})
	l.tree.Emit(root, events.KindCompaction, res)
	return nil
}

func (l *Loop) estimateTokens(msgs []agentmsg.Message) int {
	p, err := l.providers.Resolve(l.descriptor)
	if err != nil {
		return provider.CountTokensFallback(msgs)
	}
	return p.CountTokens(l.descriptor, msgs)
}

// runOneCall builds generation options, runs beforeLLMCall, streams (or
// synthesizes) the response, parses it, and appends the assistant
// message.
func (l *Loop) runOneCall(ctx context.Context, root events.Node, iteration int) (string, []agentmsg.ToolCall, error) {
	msgs := l.store.GetMessages()

	maxTokens := l.descriptor.Entry.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	// Never ask for more output than the context window has left.
	if cw := l.descriptor.Entry.ContextWindow; cw > 0 {
		if remaining := cw - l.estimateTokens(msgs); remaining > 0 && remaining < maxTokens {
			maxTokens = remaining
		}
	}
	opts := provider.Options{
		MaxTokens:            maxTokens,
		Temperature:          l.cfg.Temperature,
		EnableThinking:       l.cfg.EnableThinking,
		ThinkingBudgetTokens: l.cfg.ThinkingBudgetTokens,
	}

	before, err := l.hooks.BeforeLLMCall.Fire(ctx, hooks.LLMCallEvent{Iteration: iteration, Model: l.descriptor.Model.String(), Messages: msgs})
	if err != nil {
		return "", nil, fmt.Errorf("agentloop: beforeLLMCall: %w", err)
	}

	var assistantText string
	var toolCalls []agentmsg.ToolCall
	var usage provider.Usage
	var duration time.Duration

	if before.Action == hooks.ActionSkip {
		synthetic, _ := before.Value.(string)
		assistantText = synthetic
	} else {
		l.hooks.OnLLMCallStart.Fire(ctx, l.cfg.Logger, hooks.LLMCallEvent{Iteration: iteration, Model: l.descriptor.Model.String(), Messages: msgs})
		l.tree.Emit(root, events.KindLLMCallStart, iteration)

		tools := l.providerTools()
		start := time.Now()

		err := backoff.Do(ctx, l.cfg.RetryPolicy, func(ctx context.Context) error {
			p, resolveErr := l.providers.Resolve(l.descriptor)
			if resolveErr != nil {
				return resolveErr
			}
			l.hooks.OnLLMCallReady.Fire(ctx, l.cfg.Logger, hooks.LLMCallEvent{Iteration: iteration, Model: l.descriptor.Model.String(), Messages: msgs})

			stream, streamErr := p.Stream(ctx, l.descriptor, msgs, tools, opts)
			if streamErr != nil {
				return streamErr
			}

			assistantText = ""
			toolCalls = nil
			usage = provider.Usage{}
			parser := blockparse.New(l.cfg.BlockConfig)

			for chunk := range stream {
				if chunk.Err != nil {
					return chunk.Err
				}
				if chunk.Thinking != "" {
					// Reported through the event tree, never appended to
					// the conversation.
					l.tree.Emit(root, events.KindThinking, chunk.Thinking)
				}
				text := chunk.Text
				text, kept := l.hooks.InterceptRawChunk.Fire(ctx, text)
				if !kept {
					continue
				}
				l.tree.Emit(root, events.KindLLMCallStream, text)
				for _, ev := range parser.Feed(text) {
					switch ev.Kind {
					case blockparse.EventText:
						out, keep := l.hooks.InterceptTextChunk.Fire(ctx, ev.Text)
						if keep {
							assistantText += out
							l.tree.Emit(root, events.KindText, out)
						}
					case blockparse.EventToolCall:
						toolCalls = append(toolCalls, ev.Call)
					}
				}
				if chunk.Usage != nil {
					usage = *chunk.Usage
				}
			}
			for _, ev := range parser.Close() {
				switch ev.Kind {
				case blockparse.EventText:
					out, keep := l.hooks.InterceptTextChunk.Fire(ctx, ev.Text)
					if keep {
						assistantText += out
						l.tree.Emit(root, events.KindText, out)
					}
				case blockparse.EventToolCall:
					toolCalls = append(toolCalls, ev.Call)
				}
			}
			return nil
		})

		duration = time.Since(start)
		if err != nil {
			l.hooks.OnLLMCallError.Fire(ctx, l.cfg.Logger, hooks.LLMCallError{Iteration: iteration, Err: err})
			l.tree.Emit(root, events.KindLLMCallError, err)
			return "", nil, fmt.Errorf("agentloop: provider stream: %w", err)
		}
		l.tree.Emit(root, events.KindLLMResponseEnd, assistantText)
	}

	after, err := l.hooks.AfterLLMCall.Fire(ctx, hooks.LLMCallResult{
		Iteration: iteration, AssistantText: assistantText, ToolCalls: toolCalls,
		InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens, Duration: duration,
	})
	if err != nil {
		return "", nil, fmt.Errorf("agentloop: afterLLMCall: %w", err)
	}
	switch after.Action {
	case hooks.ActionModifyAndContinue, hooks.ActionAppendAndModify:
		if after.Text != "" {
			assistantText = after.Text
		}
	}

	assistantMsg := agentmsg.NewText(agentmsg.RoleAssistant, assistantText)
	assistantMsg, kept := l.hooks.InterceptAssistantMessage.Fire(ctx, assistantMsg)
	if kept {
		l.store.Append(assistantMsg)
	}

	switch after.Action {
	case hooks.ActionAppendMessages, hooks.ActionAppendAndModify:
		l.store.Append(after.Messages...)
	}

	l.recordUsage(usage)
	l.hooks.OnLLMCallComplete.Fire(ctx, l.cfg.Logger, hooks.LLMCallResult{
		Iteration: iteration, AssistantText: assistantText, ToolCalls: toolCalls,
		InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens, Duration: duration,
	})
	l.tree.Emit(root, events.KindLLMCallComplete, iteration)

	return assistantText, toolCalls, nil
}

func (l *Loop) recordUsage(u provider.Usage) {
	if l.ledger == nil {
		return
	}
	// Unknown catalog entries carry zero pricing, so tokens still
	// accumulate while the cost contribution stays zero.
	l.ledger.RecordLLM(l.descriptor.Entry, ledger.FromProviderUsage(&u))
}

func (l *Loop) providerTools() []provider.Tool {
	specs := l.tools.Specs()
	out := make([]provider.Tool, 0, len(specs))
	for _, spec := range specs {
		var schemaJSON any
		if spec.ParameterSchema != nil {
			schemaJSON = schema.ToJSONSchema(spec.ParameterSchema)
		}
		out = append(out, provider.Tool{Name: spec.Name, Description: spec.Description, Schema: schemaJSON})
	}
	return out
}
