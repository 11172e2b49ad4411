// Package events implements the execution event tree: every state
// transition the runtime publishes carries a monotonic eventId plus the
// node/parent/depth/path coordinates of the ExecutionNode it occurred
// under. Nodes additionally mirror onto an OpenTelemetry span so a caller
// can export the tree to a tracing backend without re-deriving the
// parent/child edges.
package events

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Kind enumerates the event names the tree can publish.
type Kind string

const (
	KindLLMCallStart       Kind = "llm_call_start"
	KindLLMCallStream      Kind = "llm_call_stream"
	KindLLMResponseEnd     Kind = "llm_response_end"
	KindLLMCallComplete    Kind = "llm_call_complete"
	KindLLMCallError       Kind = "llm_call_error"
	KindGadgetCall         Kind = "gadget_call"
	KindGadgetStart        Kind = "gadget_start"
	KindGadgetComplete     Kind = "gadget_complete"
	KindGadgetError        Kind = "gadget_error"
	KindGadgetSkipped      Kind = "gadget_skipped"
	KindText               Kind = "text"
	KindThinking           Kind = "thinking"
	KindCompaction         Kind = "compaction"
	KindHumanInputRequired Kind = "human_input_required"
	KindStreamComplete     Kind = "stream_complete"
)

// NodeKind distinguishes the three ExecutionNode variants.
type NodeKind string

const (
	NodeIteration NodeKind = "iteration"
	NodeToolCall  NodeKind = "toolCall"
	NodeSubagent  NodeKind = "subagent"
)

// Node is an ExecutionNode: a point in the run's hierarchy. depth>0 is
// the only thing distinguishing a subagent node from a top-level one;
// there is no separate wrapping representation.
type Node struct {
	ID       string
	ParentID string
	Depth    int
	Path     []string
	Kind     NodeKind
	Started  time.Time
	Ended    time.Time
}

// Event is one published state transition.
type Event struct {
	ID        int64
	Timestamp time.Time
	NodeID    string
	ParentID  string
	Depth     int
	Path      []string
	Kind      Kind
	Payload   any
}

// Sink receives every Event a Tree emits, in emission order.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

// Tree manages ExecutionNode creation and event emission for one run.
// Child and Emit are safe for concurrent use: eventIds come from an
// atomic counter, and the dispatcher's worker goroutines call both at
// once. The Sink is called on whichever goroutine calls Emit.
type Tree struct {
	runID   string
	counter atomic.Int64
	sink    Sink
	tracer  trace.Tracer
}

// NewTree returns a Tree publishing into sink, identified by runID (used
// as the OTel span's run attribute).
func NewTree(runID string, sink Sink) *Tree {
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Tree{
		runID:  runID,
		sink:   sink,
		tracer: otel.Tracer("agentrun/events"),
	}
}

// Root creates the run's root node and an OTel span to match, returning a
// context carrying that span for descendants to attach to.
func (t *Tree) Root(ctx context.Context) (context.Context, Node) {
	ctx, span := t.tracer.Start(ctx, "agent.run")
	span.SetAttributes(attribute.String("run.id", t.runID))
	node := Node{ID: uuid.NewString(), Depth: 0, Started: time.Now()}
	node.Path = []string{node.ID}
	return ctx, node
}

// Child creates a new node under parent, with a matching child OTel span.
func (t *Tree) Child(ctx context.Context, parent Node, kind NodeKind, spanName string) (context.Context, Node) {
	ctx, _ = t.tracer.Start(ctx, spanName)
	node := Node{
		ID:       uuid.NewString(),
		ParentID: parent.ID,
		Depth:    parent.Depth + 1,
		Kind:     kind,
		Started:  time.Now(),
	}
	node.Path = append(append([]string(nil), parent.Path...), node.ID)
	return ctx, node
}

// End closes the OTel span associated with ctx and stamps node.Ended.
// Callers pass the ctx returned by Root/Child for the matching node.
func (t *Tree) End(ctx context.Context, node *Node) {
	node.Ended = time.Now()
	span := trace.SpanFromContext(ctx)
	span.End()
}

// Emit publishes an Event for node, stamping a fresh monotonic eventId.
func (t *Tree) Emit(node Node, kind Kind, payload any) Event {
	ev := Event{
		ID:        t.counter.Add(1),
		Timestamp: time.Now(),
		NodeID:    node.ID,
		ParentID:  node.ParentID,
		Depth:     node.Depth,
		Path:      append([]string(nil), node.Path...),
		Kind:      kind,
		Payload:   payload,
	}
	if t.sink != nil {
		t.sink.Publish(ev)
	}
	return ev
}

// RunID returns the run identifier this tree was constructed with.
func (t *Tree) RunID() string { return t.runID }

type nodeCtxKey struct{}

// WithNode stashes n on ctx so a callee several layers down (a tool's
// Execute, in particular) can discover which ExecutionNode it is running
// under without the Tool interface carrying a Node parameter. Dispatch
// sets this for every tool call it starts.
func WithNode(ctx context.Context, n Node) context.Context {
	return context.WithValue(ctx, nodeCtxKey{}, n)
}

// NodeFromContext retrieves the Node stashed by WithNode, if any.
func NodeFromContext(ctx context.Context) (Node, bool) {
	n, ok := ctx.Value(nodeCtxKey{}).(Node)
	return n, ok
}
