package hooks

import (
	"fmt"

	"github.com/haasonsaas/agentrun/pkg/agentmsg"
)

// Action is the closed set of outcomes a controller result may carry.
type Action string

const (
	ActionProceed           Action = "proceed"
	ActionSkip              Action = "skip"
	ActionContinue          Action = "continue"
	ActionAppendMessages    Action = "append_messages"
	ActionModifyAndContinue Action = "modify_and_continue"
	ActionAppendAndModify   Action = "append_and_modify"
	ActionRecover           Action = "recover"
	ActionRethrow           Action = "rethrow"
	ActionExecuteAnyway     Action = "execute_anyway"
	ActionUseFallback       Action = "use_fallback"
)

func (a Action) validate() error {
	switch a {
	case ActionProceed, ActionSkip, ActionContinue, ActionAppendMessages,
		ActionModifyAndContinue, ActionAppendAndModify, ActionRecover,
		ActionRethrow, ActionExecuteAnyway, ActionUseFallback:
		return nil
	default:
		return fmt.Errorf("hooks: unknown controller action %q", string(a))
	}
}

// Result is what a controller returns. Which fields are meaningful
// depends on Action:
//   - skip / use_fallback: Value carries the synthetic result.
//   - append_messages / append_and_modify: Messages carries the messages
//     to append.
//   - modify_and_continue / append_and_modify: Text carries the rewritten
//     assistant text.
//   - recover: Value carries the fallback result after a tool error.
type Result struct {
	Action   Action
	Value    any
	Text     string
	Messages []agentmsg.Message
}

// Proceed is the default, no-op controller result.
func Proceed() Result { return Result{Action: ActionProceed} }

// Skip returns a skip result carrying a synthetic value recorded as if
// produced by the tool/LLM call.
func Skip(value any) Result { return Result{Action: ActionSkip, Value: value} }

// Recover returns a recover result carrying a fallback value after an
// error.
func Recover(value any) Result { return Result{Action: ActionRecover, Value: value} }

// UseFallback returns a use_fallback result for dependency-skip handling.
func UseFallback(value any) Result { return Result{Action: ActionUseFallback, Value: value} }

// ExecuteAnyway overrides a would-be skip, forcing execution.
func ExecuteAnyway() Result { return Result{Action: ActionExecuteAnyway} }
