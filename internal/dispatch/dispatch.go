// Package dispatch implements the dispatcher: it takes the ordered
// list of ToolCalls a single iteration's stream parser produced, builds
// a dependency DAG from their Dependencies field, and executes them
// through a worker pool honoring concurrency limits, per-tool timeouts,
// run-wide cancellation, and failure propagation.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/haasonsaas/agentrun/internal/convo"
	"github.com/haasonsaas/agentrun/internal/events"
	"github.com/haasonsaas/agentrun/internal/hooks"
	"github.com/haasonsaas/agentrun/internal/toolkit"
	"github.com/haasonsaas/agentrun/pkg/agentmsg"
)

// Config controls dispatcher behavior.
type Config struct {
	// MaxConcurrency bounds the worker pool size. 0 means unbounded.
	MaxConcurrency int

	// DefaultTimeout is used for calls whose ToolSpec.Timeout is zero.
	DefaultTimeout time.Duration

	// StopOnGadgetError makes Dispatch report the first unrecovered
	// gadget execution error (exception or timeout) back to the caller
	// so the agent loop can break instead of running another iteration.
	// The failing call's result is still recorded as a synthetic error
	// string either way. Validation failures and dependency skips never
	// trigger this.
	StopOnGadgetError bool

	// RateLimit, if positive, caps the steady-state rate of gadget
	// invocation starts (calls/sec) alongside the hard MaxConcurrency
	// semaphore. Zero disables throttling.
	RateLimit float64
	// RateBurst is the limiter's burst size; ignored when RateLimit is 0.
	// Defaults to 1 if RateLimit is set and this is <= 0.
	RateBurst int

	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults: unbounded concurrency, a
// 30s per-call fallback timeout, no rate limiting.
func DefaultConfig() Config {
	return Config{MaxConcurrency: 0, DefaultTimeout: 30 * time.Second}
}

// Dispatcher executes one iteration's tool calls against a Registry.
type Dispatcher struct {
	registry *toolkit.Registry
	hooks    *hooks.HookSet
	cfg      Config
	limiter  *rate.Limiter
}

// New returns a Dispatcher. hookSet may be nil (treated as empty).
func New(registry *toolkit.Registry, hookSet *hooks.HookSet, cfg Config) *Dispatcher {
	if hookSet == nil {
		hookSet = hooks.New()
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	d := &Dispatcher{registry: registry, hooks: hookSet, cfg: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return d
}

// Dispatch resolves and executes calls, appending a tool-call record to
// store for each call in parse order, and emitting the
// gadget_call/gadget_start/gadget_complete|gadget_error|gadget_skipped
// quartet through tree for every invocation. iteration identifies the
// current loop iteration for hook payloads.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	tree *events.Tree,
	parent events.Node,
	store *convo.Store,
	calls []agentmsg.ToolCall,
	ser agentmsg.Serializer,
	iteration int,
) ([]agentmsg.ToolResult, error) {
	n := len(calls)
	results := make([]agentmsg.ToolResult, n)
	callErrs := make([]error, n)
	if n == 0 {
		return results, nil
	}

	index := make(map[string]int, n)
	for i, c := range calls {
		if c.InvocationID != "" {
			index[c.InvocationID] = i
		}
	}

	cyclic, cycleMembers := detectCycles(calls, index)

	done := make([]chan struct{}, n)
	for i := range done {
		done[i] = make(chan struct{})
	}

	maxConc := d.cfg.MaxConcurrency
	var sem chan struct{}
	if maxConc > 0 {
		sem = make(chan struct{}, maxConc)
	}

	var wg sync.WaitGroup
	for i := range calls {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer close(done[i])
			call := calls[i]

			ctx, node := tree.Child(ctx, parent, events.NodeToolCall, "gadget."+call.GadgetName)
			ctx = events.WithNode(ctx, node)
			tree.Emit(node, events.KindGadgetCall, call)

			if cyclic[call.InvocationID] {
				msg := cycleErrorMessage(cycleMembers)
				res := agentmsg.ToolResult{InvocationID: call.InvocationID, GadgetName: call.GadgetName, Skipped: true, SkipReason: msg, Text: msg}
				results[i] = res
				d.hooks.OnGadgetSkipped.Fire(ctx, d.cfg.Logger, hooks.GadgetSkippedEvent{
					Iteration: iteration, InvocationID: call.InvocationID, GadgetName: call.GadgetName, CycleMembers: cycleMembers,
				})
				tree.Emit(node, events.KindGadgetSkipped, res)
				tree.End(ctx, &node)
				return
			}

			// Await dependencies, tracking the first one that failed or
			// was itself skipped.
			failedDep := ""
			for _, depID := range call.Dependencies {
				di, ok := index[depID]
				if !ok {
					continue
				}
				<-done[di]
				if results[di].IsError || results[di].Skipped {
					failedDep = depID
					break
				}
			}

			if failedDep != "" {
				action, err := d.hooks.OnDependencySkipped.Fire(ctx, hooks.GadgetSkippedEvent{
					Iteration: iteration, InvocationID: call.InvocationID, GadgetName: call.GadgetName, FailedDependency: failedDep,
				})
				if err != nil {
					action = hooks.Result{Action: hooks.ActionSkip}
				}
				switch action.Action {
				case hooks.ActionExecuteAnyway:
					// fall through to normal execution below.
				case hooks.ActionUseFallback:
					text, _ := action.Value.(string)
					res := agentmsg.ToolResult{InvocationID: call.InvocationID, GadgetName: call.GadgetName, Text: text}
					results[i] = res
					tree.Emit(node, events.KindGadgetComplete, res)
					tree.End(ctx, &node)
					return
				default: // ActionSkip or anything else: propagate.
					res := agentmsg.ToolResult{
						InvocationID: call.InvocationID, GadgetName: call.GadgetName,
						Skipped: true, SkipReason: fmt.Sprintf("dependency %q failed", failedDep),
						Text: fmt.Sprintf("skipped: dependency %q failed or was skipped", failedDep),
					}
					results[i] = res
					d.hooks.OnGadgetSkipped.Fire(ctx, d.cfg.Logger, hooks.GadgetSkippedEvent{
						Iteration: iteration, InvocationID: call.InvocationID, GadgetName: call.GadgetName, FailedDependency: failedDep,
					})
					tree.Emit(node, events.KindGadgetSkipped, res)
					tree.End(ctx, &node)
					return
				}
			}

			if sem != nil {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					res := d.cancelledResult(call)
					results[i] = res
					tree.Emit(node, events.KindGadgetError, res)
					tree.End(ctx, &node)
					return
				}
			}
			if d.limiter != nil {
				if err := d.limiter.Wait(ctx); err != nil {
					res := d.cancelledResult(call)
					results[i] = res
					tree.Emit(node, events.KindGadgetError, res)
					tree.End(ctx, &node)
					return
				}
			}

			tree.Emit(node, events.KindGadgetStart, call)
			start := time.Now()
			res, execErr := d.executeOne(ctx, call, iteration)
			duration := time.Since(start)
			results[i] = res
			callErrs[i] = execErr

			d.hooks.OnGadgetExecutionComplete.Fire(ctx, d.cfg.Logger, hooks.GadgetResultEvent{
				Iteration: iteration, InvocationID: call.InvocationID, GadgetName: call.GadgetName,
				Result: res, Err: execErr, Duration: duration,
			})
			if res.IsError {
				tree.Emit(node, events.KindGadgetError, res)
			} else {
				tree.Emit(node, events.KindGadgetComplete, res)
			}
			tree.End(ctx, &node)
		}(i)
	}
	wg.Wait()

	// Append tool-call records in parse order, not completion order.
	for i, call := range calls {
		callMsg, resultMsg := agentmsg.Record(call, results[i], ser)
		store.AppendToolRecord(callMsg, resultMsg)
	}

	return results, firstSignal(callErrs, d.cfg.StopOnGadgetError)
}

// firstSignal picks the control-flow sentinel the agent loop must act on,
// in parse order: a TaskCompletion always wins over a HumanInputRequired
// raised by a later call in the same iteration, since the run is ending
// either way and the completion summary takes priority. Unrecovered
// execution failures rank last and surface only when stopOnError is set;
// otherwise they stay folded into the recorded results so the model can
// see and correct them on the next iteration.
func firstSignal(errs []error, stopOnError bool) error {
	for _, err := range errs {
		if _, ok := err.(errTaskCompletion); ok {
			return err
		}
	}
	for _, err := range errs {
		if _, ok := err.(errHumanInputRequired); ok {
			return err
		}
	}
	if stopOnError {
		for _, err := range errs {
			if _, ok := err.(errGadgetFailure); ok {
				return err
			}
		}
	}
	return nil
}

func (d *Dispatcher) cancelledResult(call agentmsg.ToolCall) agentmsg.ToolResult {
	return agentmsg.ToolResult{
		InvocationID: call.InvocationID, GadgetName: call.GadgetName,
		IsError: true, Text: "gadget execution cancelled",
	}
}

// executeOne runs the intercept-params -> validation -> before-controller
// -> Execute -> intercept-result -> after-controller pipeline for one
// call.
func (d *Dispatcher) executeOne(ctx context.Context, call agentmsg.ToolCall, iteration int) (agentmsg.ToolResult, error) {
	base := agentmsg.ToolResult{InvocationID: call.InvocationID, GadgetName: call.GadgetName}

	if call.HasParseError() {
		base.IsError = true
		base.Text = "parameter parse error: " + call.ParseError
		return base, nil
	}

	tool, ok := d.registry.Get(call.GadgetName)
	if !ok {
		base.IsError = true
		base.Text = fmt.Sprintf("unknown gadget %q", call.GadgetName)
		return base, nil
	}

	params := call.Parameters
	if params == nil {
		params = map[string]any{}
	}

	// Parameter interception: the returned map replaces the call's
	// parameters for every later observer.
	params, kept := d.hooks.InterceptGadgetParameters.Fire(ctx, params)
	if !kept {
		base.IsError = true
		base.Text = "gadget parameters suppressed by interceptor"
		return base, nil
	}

	vt := toolkit.ValidatingTool{Inner: tool}
	rawParams, err := json.Marshal(params)
	if err != nil {
		base.IsError = true
		base.Text = "failed to marshal intercepted parameters: " + err.Error()
		return base, nil
	}
	coerced, valErrs, err := vt.Validate(rawParams)
	if err != nil {
		base.IsError = true
		base.Text = "failed to validate parameters: " + err.Error()
		return base, nil
	}
	if len(valErrs) > 0 {
		base.IsError = true
		base.Text = "parameter validation failed: " + valErrs.Error()
		return base, nil
	}
	if coerced != nil {
		rawParams, _ = json.Marshal(coerced)
	}

	before, err := d.hooks.BeforeGadgetExecution.Fire(ctx, hooks.GadgetCallEvent{
		Iteration: iteration, InvocationID: call.InvocationID, GadgetName: call.GadgetName, Parameters: params,
	})
	if err != nil {
		base.IsError = true
		base.Text = "beforeGadgetExecution controller error: " + err.Error()
		return base, nil
	}
	if before.Action == hooks.ActionSkip {
		text, _ := before.Value.(string)
		base.Text = text
		return base, nil
	}
	d.hooks.OnGadgetExecutionStart.Fire(ctx, d.cfg.Logger, hooks.GadgetCallEvent{
		Iteration: iteration, InvocationID: call.InvocationID, GadgetName: call.GadgetName, Parameters: params,
	})

	spec := tool.Spec()
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = d.cfg.DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outcome, execErr := tool.Execute(execCtx, rawParams)
	if execErr != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			base.IsError = true
			base.Text = fmt.Sprintf("gadget %q timed out after %s", call.GadgetName, timeout)
			return d.maybeRecover(ctx, call, iteration, base, execErr)
		}
		base.IsError = true
		base.Text = execErr.Error()
		return d.maybeRecover(ctx, call, iteration, base, execErr)
	}

	switch outcome.Kind {
	case toolkit.OutcomeComplete:
		base.Text = outcome.Text
		return base, errTaskCompletion{summary: outcome.Text}
	case toolkit.OutcomeNeedInput:
		base.Text = outcome.Question
		return base, errHumanInputRequired{question: outcome.Question, invocationID: call.InvocationID}
	default:
		base.Text = outcome.Text
	}

	if spec.CostReporter != nil {
		base.MonetaryCost = spec.CostReporter(params, outcome)
	}

	result, kept := d.hooks.InterceptGadgetResult.Fire(ctx, base)
	if !kept {
		result = base
	}

	after, err := d.hooks.AfterGadgetExecution.Fire(ctx, hooks.GadgetResultEvent{
		Iteration: iteration, InvocationID: call.InvocationID, GadgetName: call.GadgetName, Result: result,
	})
	if err == nil && after.Action == hooks.ActionAppendAndModify {
		if after.Text != "" {
			result.Text = after.Text
		}
	}
	return result, nil
}

func (d *Dispatcher) maybeRecover(ctx context.Context, call agentmsg.ToolCall, iteration int, failed agentmsg.ToolResult, execErr error) (agentmsg.ToolResult, error) {
	after, err := d.hooks.AfterGadgetExecution.Fire(ctx, hooks.GadgetResultEvent{
		Iteration: iteration, InvocationID: call.InvocationID, GadgetName: call.GadgetName, Result: failed, Err: execErr,
	})
	if err == nil && after.Action == hooks.ActionRecover {
		text, _ := after.Value.(string)
		return agentmsg.ToolResult{InvocationID: call.InvocationID, GadgetName: call.GadgetName, Text: text}, nil
	}
	return failed, errGadgetFailure{invocationID: call.InvocationID, gadgetName: call.GadgetName, cause: execErr}
}

// errTaskCompletion and errHumanInputRequired are the two control-flow
// sentinels a gadget can raise instead of an ordinary result; they are
// plain error values surfaced by executeOne so the agent loop (which
// already receives toolkit.Outcome for the "normal" case via the result
// text) can detect and act on them without type-switching on strings.
type errTaskCompletion struct{ summary string }

func (e errTaskCompletion) Error() string { return "task completion: " + e.summary }

// Summary returns the completion summary text.
func (e errTaskCompletion) Summary() string { return e.summary }

type errHumanInputRequired struct {
	question     string
	invocationID string
}

func (e errHumanInputRequired) Error() string { return "human input required: " + e.question }

// Question returns the posed question.
func (e errHumanInputRequired) Question() string { return e.question }

// InvocationID returns the invocation awaiting an answer.
func (e errHumanInputRequired) InvocationID() string { return e.invocationID }

// IsTaskCompletion reports whether err is (or wraps) a task-completion
// signal, returning its summary.
func IsTaskCompletion(err error) (string, bool) {
	var e errTaskCompletion
	if errors.As(err, &e) {
		return e.Summary(), true
	}
	return "", false
}

// IsHumanInputRequired reports whether err is (or wraps) a
// human-input-required signal.
func IsHumanInputRequired(err error) (question, invocationID string, ok bool) {
	var e errHumanInputRequired
	if errors.As(err, &e) {
		return e.Question(), e.InvocationID(), true
	}
	return "", "", false
}

// errGadgetFailure marks an unrecovered gadget execution error (exception
// or timeout). executeOne returns it alongside the synthetic error result
// so Dispatch can surface the failure to the loop when StopOnGadgetError
// is set; with the flag off it is simply dropped.
type errGadgetFailure struct {
	invocationID string
	gadgetName   string
	cause        error
}

func (e errGadgetFailure) Error() string {
	return fmt.Sprintf("gadget %s (%s) failed: %v", e.gadgetName, e.invocationID, e.cause)
}

func (e errGadgetFailure) Unwrap() error { return e.cause }

// IsGadgetFailure reports whether err is an unrecovered gadget execution
// failure, returning the failing invocation's id.
func IsGadgetFailure(err error) (invocationID string, ok bool) {
	if e, ok := err.(errGadgetFailure); ok {
		return e.invocationID, true
	}
	return "", false
}

// detectCycles finds every invocationId that participates in a
// dependency cycle among calls, using Kahn's algorithm: after
// repeatedly removing nodes with zero remaining in-degree, any node left
// over is part of (or depends only on) a cycle.
func detectCycles(calls []agentmsg.ToolCall, index map[string]int) (map[string]bool, []string) {
	n := len(calls)
	indegree := make([]int, n)
	adj := make([][]int, n)
	for i, c := range calls {
		for _, dep := range c.Dependencies {
			di, ok := index[dep]
			if !ok {
				continue
			}
			adj[di] = append(adj[di], i)
			indegree[i]++
		}
	}

	removed := make([]bool, n)
	queue := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			queue = append(queue, i)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		removed[cur] = true
		for _, next := range adj[cur] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	cyclic := make(map[string]bool)
	var members []string
	for i, c := range calls {
		if !removed[i] {
			cyclic[c.InvocationID] = true
			members = append(members, c.InvocationID)
		}
	}
	sort.Strings(members)
	return cyclic, members
}

func cycleErrorMessage(members []string) string {
	if len(members) == 0 {
		return "cyclic dependency detected"
	}
	return fmt.Sprintf("cyclic dependency among gadget calls: %v", members)
}
