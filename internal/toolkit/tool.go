// Package toolkit defines the tool ("gadget") contract: a
// schema-typed callable the dispatcher invokes, plus the closed sum type
// tools use to signal loop-level control flow instead of exceptions.
package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/haasonsaas/agentrun/internal/schema"
)

// Example is one illustrative call recorded on a ToolSpec, surfaced to
// the model alongside the description and schema.
type Example struct {
	Description string
	Parameters  map[string]any
	Result      string
}

// ToolSpec is the immutable metadata registered for one tool. Once
// registered it is never mutated; a tool author who needs different
// behavior registers a new name or a new registry.
type ToolSpec struct {
	Name            string
	Description     string
	ParameterSchema schema.Value
	Examples        []Example
	Timeout         time.Duration

	// CostReporter, if set, is consulted after a successful Execute to
	// attribute a monetary cost to the call, folded into the run's cost
	// ledger.
	CostReporter func(params map[string]any, outcome Outcome) float64
}

// OutcomeKind tags the variant held by an Outcome.
type OutcomeKind int

const (
	// OutcomeText is an ordinary result folded back into the
	// conversation as the tool-call record's result text.
	OutcomeText OutcomeKind = iota

	// OutcomeComplete signals the agent loop to terminate after this
	// call, using Text as the run's summary (a task-completion signal).
	OutcomeComplete

	// OutcomeNeedInput signals the loop to emit a humanInputRequired
	// event and suspend until the caller resumes with an answer, which
	// is then treated as this call's result text.
	OutcomeNeedInput
)

// Media is a file or binary artifact a tool produces alongside its text
// result.
type Media struct {
	MimeType string
	Filename string
	Data     []byte
	URL      string
}

// Outcome is the sum-type return value every Tool.Execute produces in
// place of throwing control-flow sentinels.
type Outcome struct {
	Kind     OutcomeKind
	Text     string
	Media    []Media
	Question string
}

// Text builds an ordinary OutcomeText result.
func Text(text string, media ...Media) Outcome {
	return Outcome{Kind: OutcomeText, Text: text, Media: media}
}

// Complete builds an OutcomeComplete result carrying the run's summary.
func Complete(summary string) Outcome {
	return Outcome{Kind: OutcomeComplete, Text: summary}
}

// NeedInput builds an OutcomeNeedInput result carrying the question to
// pose to the caller.
func NeedInput(question string) Outcome {
	return Outcome{Kind: OutcomeNeedInput, Question: question}
}

// Tool is one callable gadget the model may invoke.
type Tool interface {
	Spec() ToolSpec
	Execute(ctx context.Context, params json.RawMessage) (Outcome, error)
}

// ValidatingTool wraps an inner Tool, running its ParameterSchema against
// params before delegating to Execute. The dispatcher uses this so a
// validation failure never reaches a tool implementation.
type ValidatingTool struct {
	Inner Tool
}

// Validate decodes params and runs them through the tool's parameter
// schema, returning the coerced value (suitable for re-marshaling) or
// the validation errors.
func (v ValidatingTool) Validate(params json.RawMessage) (map[string]any, schema.ValidationErrors, error) {
	if len(params) > MaxParamsSize {
		return nil, nil, fmt.Errorf("toolkit: parameters exceed %d bytes", MaxParamsSize)
	}
	spec := v.Inner.Spec()
	if spec.ParameterSchema == nil {
		var m map[string]any
		if len(params) > 0 {
			if err := json.Unmarshal(params, &m); err != nil {
				return nil, nil, err
			}
		}
		return m, nil, nil
	}

	var decoded any
	if len(params) == 0 {
		decoded = map[string]any{}
	} else if err := json.Unmarshal(params, &decoded); err != nil {
		return nil, nil, err
	}

	coerced, errs := schema.Validate(spec.ParameterSchema, decoded)
	m, _ := coerced.(map[string]any)
	return m, errs, nil
}
