// Package subagent implements subagent invocation: a toolkit.Tool that
// recursively constructs and runs a nested agentloop.Loop against a
// (possibly restricted) tool registry, returning its final text as this
// call's result instead of reporting completion through a side channel,
// since a subagent invoked mid-stream must be awaited like any other
// gadget.
package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/haasonsaas/agentrun/internal/agentloop"
	"github.com/haasonsaas/agentrun/internal/convo"
	"github.com/haasonsaas/agentrun/internal/events"
	"github.com/haasonsaas/agentrun/internal/hooks"
	"github.com/haasonsaas/agentrun/internal/ledger"
	"github.com/haasonsaas/agentrun/internal/provider"
	"github.com/haasonsaas/agentrun/internal/schema"
	"github.com/haasonsaas/agentrun/internal/toolkit"
	"github.com/haasonsaas/agentrun/pkg/agentmsg"
)

// Config controls how Tool bounds and configures the nested loops it
// spawns.
type Config struct {
	// MaxDepth bounds how many subagents deep a call chain may recurse.
	// A top-level run is depth 0; a subagent it spawns runs at depth 1,
	// and so on. Zero is treated as DefaultConfig's value.
	MaxDepth int

	// LoopConfig seeds every nested Loop's configuration; MaxIterations
	// in particular should usually be smaller than the parent's, so a
	// runaway subagent can't consume the parent's entire iteration
	// budget on its own.
	LoopConfig agentloop.Config
}

// DefaultConfig bounds recursion to a modest depth, since this Tool runs
// subagents synchronously rather than bounding concurrent background
// spawns; runaway depth, not concurrency, is the risk here.
func DefaultConfig() Config {
	cfg := agentloop.DefaultConfig()
	cfg.MaxIterations = 10
	return Config{MaxDepth: 3, LoopConfig: cfg}
}

// Tool is the "spawn_subagent" gadget: given a name, a task description,
// and optional tool allow/deny lists, it runs a fresh agent loop to
// completion and returns its final text (or task-completion summary) as
// this call's result.
type Tool struct {
	providers  *provider.Registry
	descriptor provider.Descriptor
	baseTools  *toolkit.Registry
	hookSet    *hooks.HookSet
	tree       *events.Tree
	ledger     *ledger.Ledger
	serializer agentmsg.Serializer
	systemMsg  agentmsg.Message
	cfg        Config
}

// New returns a Tool. baseTools is the full registry subagents select a
// subset of via allowed_tools/denied_tools; systemMsg, if non-empty, is
// prepended as every subagent's sole base message.
func New(
	providers *provider.Registry,
	descriptor provider.Descriptor,
	baseTools *toolkit.Registry,
	hookSet *hooks.HookSet,
	tree *events.Tree,
	led *ledger.Ledger,
	serializer agentmsg.Serializer,
	systemMsg agentmsg.Message,
	cfg Config,
) *Tool {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultConfig().MaxDepth
	}
	return &Tool{
		providers:  providers,
		descriptor: descriptor,
		baseTools:  baseTools,
		hookSet:    hookSet,
		tree:       tree,
		ledger:     led,
		serializer: serializer,
		systemMsg:  systemMsg,
		cfg:        cfg,
	}
}

// Spec describes the spawn_subagent gadget.
func (t *Tool) Spec() toolkit.ToolSpec {
	return toolkit.ToolSpec{
		Name:        "spawn_subagent",
		Description: "Run a subagent to completion on a focused task, returning its final answer. Use this to delegate a self-contained piece of work instead of doing it inline.",
		ParameterSchema: schema.ObjectSchema{
			Fields: map[string]schema.Value{
				"name": schema.StringSchema{Description: "A short name for the subagent (e.g. 'researcher', 'reviewer')."},
				"task": schema.StringSchema{Description: "The task for the subagent to complete."},
				"allowed_tools": schema.ArraySchema{
					Item:        schema.StringSchema{},
					Description: "Tool names the subagent may use. Omit to allow every tool this agent has, minus denied_tools.",
				},
				"denied_tools": schema.ArraySchema{
					Item:        schema.StringSchema{},
					Description: "Tool names to withhold from the subagent.",
				},
			},
			Required: []string{"name", "task"},
		},
		Timeout: 5 * time.Minute,
	}
}

type params struct {
	Name         string   `json:"name"`
	Task         string   `json:"task"`
	AllowedTools []string `json:"allowed_tools"`
	DeniedTools  []string `json:"denied_tools"`
}

// Execute constructs a fresh conversation store seeded with the task as
// its sole initial message, a tool registry restricted per
// allowed_tools/denied_tools, and a nested Loop, then runs it to
// completion.
func (t *Tool) Execute(ctx context.Context, raw json.RawMessage) (toolkit.Outcome, error) {
	var p params
	if err := json.Unmarshal(raw, &p); err != nil {
		return toolkit.Outcome{}, fmt.Errorf("subagent: invalid parameters: %w", err)
	}
	if p.Name == "" || p.Task == "" {
		return toolkit.Outcome{}, fmt.Errorf("subagent: name and task are both required")
	}

	depth := depthFromContext(ctx)
	if depth >= t.cfg.MaxDepth {
		return toolkit.Outcome{}, fmt.Errorf("subagent: max recursion depth %d reached, refusing to spawn %q", t.cfg.MaxDepth, p.Name)
	}

	subTools := filterRegistry(t.baseTools, p.AllowedTools, p.DeniedTools)

	var base []agentmsg.Message
	if !t.systemMsg.IsEmpty() {
		base = []agentmsg.Message{t.systemMsg}
	}
	store := convo.New(base, []agentmsg.Message{agentmsg.NewText(agentmsg.RoleUser, p.Task)})

	loop := agentloop.New(t.providers, t.descriptor, subTools, t.hookSet, store, t.tree, t.ledger, nil, t.serializer, t.cfg.LoopConfig)

	runCtx := withDepth(ctx, depth+1)
	res, err := loop.Run(runCtx)
	if err != nil {
		return toolkit.Outcome{}, fmt.Errorf("subagent %q failed: %w", p.Name, err)
	}

	switch res.Status {
	case agentloop.StatusTaskCompletion:
		return toolkit.Text(res.Summary), nil
	case agentloop.StatusSuspended:
		return toolkit.Outcome{}, fmt.Errorf("subagent %q suspended awaiting human input (%q); subagents cannot be resumed mid-call", p.Name, res.PendingQuestion)
	case agentloop.StatusMaxIterations:
		return toolkit.Text(res.FinalText + "\n\n[subagent stopped: reached its iteration limit before finishing]"), nil
	case agentloop.StatusBudgetExceeded:
		return toolkit.Text(res.FinalText + "\n\n[subagent stopped: reached its cost cap before finishing]"), nil
	default:
		return toolkit.Text(res.FinalText), nil
	}
}

func filterRegistry(base *toolkit.Registry, allowed, denied []string) *toolkit.Registry {
	out := toolkit.NewRegistry()
	allowSet := toSet(allowed)
	denySet := toSet(denied)
	for _, tool := range base.List() {
		name := tool.Spec().Name
		if len(allowSet) > 0 {
			if _, ok := allowSet[name]; !ok {
				continue
			}
		}
		if _, ok := denySet[name]; ok {
			continue
		}
		_ = out.Register(tool)
	}
	return out
}

func toSet(names []string) map[string]struct{} {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

type depthCtxKey struct{}

func depthFromContext(ctx context.Context) int {
	if d, ok := ctx.Value(depthCtxKey{}).(int); ok {
		return d
	}
	return 0
}

func withDepth(ctx context.Context, d int) context.Context {
	return context.WithValue(ctx, depthCtxKey{}, d)
}
