package agentmsg

import "encoding/json"

// ToolCall is the event the stream parser emits for one parsed gadget
// block and the dispatcher consumes. It is also what a tool-call
// record serializes back into the conversation.
type ToolCall struct {
	// InvocationID is unique within a run. Supplied by the model via the
	// opening marker's metadata line, or auto-generated when omitted.
	InvocationID string `json:"invocation_id"`

	// GadgetName is the tool name parsed from the opening marker.
	GadgetName string `json:"gadget_name"`

	// Parameters holds the coerced argument map: string, float64, bool,
	// nil, or []any for repeated arg names.
	Parameters map[string]any `json:"parameters,omitempty"`

	// ParametersRaw is the unparsed payload between the markers, kept for
	// round-tripping and for error messages.
	ParametersRaw string `json:"parameters_raw,omitempty"`

	// ParseError is set when the block grammar could not be fully
	// interpreted. The call is still emitted so the dispatcher can
	// surface the failure back to the model as a tool result.
	ParseError string `json:"parse_error,omitempty"`

	// Dependencies lists invocationIds this call must wait on. Every
	// element must name an invocationId already emitted earlier in the
	// same iteration.
	Dependencies []string `json:"dependencies,omitempty"`
}

// HasParseError reports whether the block grammar failed for this call.
func (tc ToolCall) HasParseError() bool { return tc.ParseError != "" }

// ParametersJSON marshals Parameters to a compact JSON object, the shape
// most Tool.Execute implementations expect as their params argument.
func (tc ToolCall) ParametersJSON() (json.RawMessage, error) {
	if tc.Parameters == nil {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(tc.Parameters)
}

// ToolResult is the outcome of executing (or skipping) one ToolCall.
type ToolResult struct {
	InvocationID string `json:"invocation_id"`
	GadgetName   string `json:"gadget_name"`

	// Text is the content folded back into the conversation.
	Text string `json:"text"`

	// IsError marks a failed execution (validation, exception, timeout).
	IsError bool `json:"is_error,omitempty"`

	// Skipped marks a call that never executed because an ancestor in
	// the dependency DAG failed or was itself skipped.
	Skipped bool `json:"skipped,omitempty"`

	// SkipReason names the failed dependency or cycle when Skipped.
	SkipReason string `json:"skip_reason,omitempty"`

	// MonetaryCost is an optional tool-reported cost, folded into the
	// run's cost ledger.
	MonetaryCost float64 `json:"monetary_cost,omitempty"`
}

// ToolRecordName tags the synthetic messages Record produces so
// consumers (e.g. the compactor's turn-grouping) can tell a tool-record
// result apart from a genuine user message, even though both carry
// RoleUser.
const ToolRecordName = "tool_record"

// Record renders a tool-call record: the pair of synthetic messages the
// conversation store appends after a call executes (one recording the
// call, one recording the result) using the given serializer so later
// iterations can reparse the call deterministically.
func Record(tc ToolCall, res ToolResult, ser Serializer) (call Message, result Message) {
	call = Message{Role: RoleAssistant, Text: ser.SerializeCall(tc), Name: ToolRecordName}
	result = Message{Role: RoleUser, Text: ser.SerializeResult(tc, res), Name: ToolRecordName}
	return call, result
}

// IsToolRecord reports whether m is one half of a tool-call record
// produced by Record, rather than genuine model or user content.
func (m Message) IsToolRecord() bool { return m.Name == ToolRecordName }

// Serializer renders a ToolCall/ToolResult pair back into the wire grammar
// so a subsequent iteration's stream parser can reparse it if needed.
type Serializer interface {
	SerializeCall(tc ToolCall) string
	SerializeResult(tc ToolCall, res ToolResult) string
}
