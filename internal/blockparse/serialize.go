package blockparse

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/haasonsaas/agentrun/pkg/agentmsg"
)

// Serializer renders ToolCalls back into the same marker grammar Parser
// consumes, so a later iteration can reparse a tool-call record
// deterministically, and renders ToolResults as plain text. It implements
// agentmsg.Serializer.
type Serializer struct {
	cfg Config
}

// NewSerializer returns a Serializer using cfg's marker trio.
func NewSerializer(cfg Config) Serializer { return Serializer{cfg: cfg} }

// SerializeCall renders the opening marker, metadata line, and one ARG
// line per parameter (heredoc form for multi-line values).
func (s Serializer) SerializeCall(tc agentmsg.ToolCall) string {
	var b strings.Builder
	b.WriteString(s.cfg.StartPrefix)
	b.WriteString(tc.GadgetName)
	if tc.InvocationID != "" {
		b.WriteString(":")
		b.WriteString(tc.InvocationID)
		if len(tc.Dependencies) > 0 {
			b.WriteString(":")
			b.WriteString(strings.Join(tc.Dependencies, ","))
		}
	}
	b.WriteString("\n")

	names := make([]string, 0, len(tc.Parameters))
	for name := range tc.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		writeArg(&b, s.cfg, name, tc.Parameters[name])
	}

	b.WriteString(s.cfg.EndPrefix)
	b.WriteString("\n")
	return b.String()
}

// SerializeResult renders a synthetic message carrying the tool name, the
// invocation id, and the result text (or the skip reason). The parameters
// are not repeated here; SerializeCall renders them.
func (s Serializer) SerializeResult(tc agentmsg.ToolCall, res agentmsg.ToolResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Result for %s (%s):\n", tc.GadgetName, tc.InvocationID)
	if res.Skipped {
		fmt.Fprintf(&b, "[skipped: %s]\n", res.SkipReason)
		return b.String()
	}
	if res.IsError {
		b.WriteString("[error] ")
	}
	b.WriteString(res.Text)
	return b.String()
}

func writeArg(b *strings.Builder, cfg Config, name string, value any) {
	if list, ok := value.([]any); ok {
		for _, v := range list {
			writeArg(b, cfg, name, v)
		}
		return
	}
	if s, ok := value.(string); ok && strings.Contains(s, "\n") {
		sentinel := "EOF"
		b.WriteString(cfg.ArgPrefix)
		b.WriteString(name)
		b.WriteString("\n<<<")
		b.WriteString(sentinel)
		b.WriteString("\n")
		b.WriteString(s)
		b.WriteString("\n")
		b.WriteString(sentinel)
		b.WriteString("\n")
		return
	}
	b.WriteString(cfg.ArgPrefix)
	b.WriteString(name)
	b.WriteString(" ")
	b.WriteString(renderScalar(value))
	b.WriteString("\n")
}

func renderScalar(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
