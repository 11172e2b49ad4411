package agentloop

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/haasonsaas/agentrun/internal/blockparse"
	"github.com/haasonsaas/agentrun/internal/catalog"
	"github.com/haasonsaas/agentrun/internal/convo"
	"github.com/haasonsaas/agentrun/internal/events"
	"github.com/haasonsaas/agentrun/internal/ledger"
	"github.com/haasonsaas/agentrun/internal/provider"
	"github.com/haasonsaas/agentrun/internal/toolkit"
	"github.com/haasonsaas/agentrun/pkg/agentmsg"
)

// scriptedProvider replays one text response per call, in order; the
// last response repeats once the script is exhausted.
type scriptedProvider struct {
	responses []string
	calls     int
}

func (p *scriptedProvider) Supports(d provider.Descriptor) bool { return true }

func (p *scriptedProvider) Stream(ctx context.Context, d provider.Descriptor, messages []agentmsg.Message, tools []provider.Tool, opts provider.Options) (<-chan provider.Chunk, error) {
	idx := p.calls
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	p.calls++
	text := p.responses[idx]

	ch := make(chan provider.Chunk, 1)
	ch <- provider.Chunk{Text: text, Usage: &provider.Usage{InputTokens: 10, OutputTokens: 5}}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) CountTokens(d provider.Descriptor, messages []agentmsg.Message) int {
	return provider.CountTokensFallback(messages)
}

func (p *scriptedProvider) Priority() int { return 100 }

func testDescriptor() provider.Descriptor {
	return provider.Descriptor{
		Model: catalog.Identifier{Provider: "test", Name: "model-1"},
		Entry: catalog.Model{
			ID:              catalog.Identifier{Provider: "test", Name: "model-1"},
			ContextWindow:   100000,
			MaxOutputTokens: 4096,
			Pricing:         catalog.Pricing{InputPerMTok: 1, OutputPerMTok: 2},
		},
	}
}

func newTestLoop(t *testing.T, reg *toolkit.Registry, p provider.Provider, cfg Config) *Loop {
	t.Helper()
	providers := provider.NewRegistry(p)
	store := convo.New(nil, nil)
	tree := events.NewTree("test-run", nil)
	led := ledger.New("test-run", ledger.DefaultConfig(), nil)
	ser := blockparse.NewSerializer(blockparse.DefaultConfig())
	return New(providers, testDescriptor(), reg, nil, store, tree, led, nil, ser, cfg)
}

func gadgetBlock(name, invocationID, argName, argValue string) string {
	ser := blockparse.NewSerializer(blockparse.DefaultConfig())
	return ser.SerializeCall(agentmsg.ToolCall{
		GadgetName:   name,
		InvocationID: invocationID,
		Parameters:   map[string]any{argName: argValue},
	})
}

type echoTool struct{}

func (echoTool) Spec() toolkit.ToolSpec { return toolkit.ToolSpec{Name: "Echo"} }
func (echoTool) Execute(ctx context.Context, params json.RawMessage) (toolkit.Outcome, error) {
	var p map[string]any
	_ = json.Unmarshal(params, &p)
	msg, _ := p["message"].(string)
	return toolkit.Text("echo: " + msg), nil
}

func TestTextOnlyTerminates(t *testing.T) {
	p := &scriptedProvider{responses: []string{"All done, nothing to do."}}
	reg := toolkit.NewRegistry()
	cfg := DefaultConfig()
	loop := newTestLoop(t, reg, p, cfg)

	res, err := loop.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed", res.Status)
	}
	if res.Iterations != 1 {
		t.Fatalf("iterations = %d, want 1", res.Iterations)
	}
	if res.FinalText != "All done, nothing to do." {
		t.Fatalf("finalText = %q", res.FinalText)
	}
}

func TestToolCallThenTerminate(t *testing.T) {
	block := gadgetBlock("Echo", "e1", "message", "hi")
	p := &scriptedProvider{responses: []string{block, "done"}}
	reg := toolkit.NewRegistry()
	if err := reg.Register(echoTool{}); err != nil {
		t.Fatal(err)
	}
	loop := newTestLoop(t, reg, p, DefaultConfig())

	res, err := loop.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed", res.Status)
	}
	if res.Iterations != 2 {
		t.Fatalf("iterations = %d, want 2", res.Iterations)
	}
	if p.calls != 2 {
		t.Fatalf("provider called %d times, want 2", p.calls)
	}

	msgs := loop.store.GetMessages()
	foundToolRecord := false
	for _, m := range msgs {
		if m.IsToolRecord() {
			foundToolRecord = true
		}
	}
	if !foundToolRecord {
		t.Fatalf("expected a tool-call record in the conversation, got %+v", msgs)
	}
}

type completingTool struct{}

func (completingTool) Spec() toolkit.ToolSpec { return toolkit.ToolSpec{Name: "Finish"} }
func (completingTool) Execute(ctx context.Context, params json.RawMessage) (toolkit.Outcome, error) {
	return toolkit.Complete("all good"), nil
}

func TestTaskCompletionStopsLoop(t *testing.T) {
	block := gadgetBlock("Finish", "f1", "x", "y")
	p := &scriptedProvider{responses: []string{block, "should never be reached"}}
	reg := toolkit.NewRegistry()
	if err := reg.Register(completingTool{}); err != nil {
		t.Fatal(err)
	}
	loop := newTestLoop(t, reg, p, DefaultConfig())

	res, err := loop.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusTaskCompletion {
		t.Fatalf("status = %q, want task_completion", res.Status)
	}
	if res.Summary != "all good" {
		t.Fatalf("summary = %q", res.Summary)
	}
	if p.calls != 1 {
		t.Fatalf("provider called %d times, want 1 (loop should have stopped)", p.calls)
	}
}

type askingTool struct{}

func (askingTool) Spec() toolkit.ToolSpec { return toolkit.ToolSpec{Name: "Ask"} }
func (askingTool) Execute(ctx context.Context, params json.RawMessage) (toolkit.Outcome, error) {
	return toolkit.NeedInput("What's your name?"), nil
}

func TestSuspendAndResume(t *testing.T) {
	block := gadgetBlock("Ask", "a1", "x", "y")
	p := &scriptedProvider{responses: []string{block, "Nice to meet you, Alice"}}
	reg := toolkit.NewRegistry()
	if err := reg.Register(askingTool{}); err != nil {
		t.Fatal(err)
	}
	loop := newTestLoop(t, reg, p, DefaultConfig())

	res, err := loop.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusSuspended {
		t.Fatalf("status = %q, want suspended", res.Status)
	}
	if res.PendingQuestion != "What's your name?" {
		t.Fatalf("pendingQuestion = %q", res.PendingQuestion)
	}
	if res.PendingInvocationID != "a1" {
		t.Fatalf("pendingInvocationID = %q", res.PendingInvocationID)
	}

	res, err = loop.Resume(context.Background(), "Alice")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("status after resume = %q, want completed", res.Status)
	}
	if res.FinalText != "Nice to meet you, Alice" {
		t.Fatalf("finalText after resume = %q", res.FinalText)
	}
	if res.Iterations != 2 {
		t.Fatalf("iterations after resume = %d, want 2", res.Iterations)
	}
}

func TestMaxIterationsEnforced(t *testing.T) {
	block := gadgetBlock("Echo", "e1", "message", "again")
	p := &scriptedProvider{responses: []string{block}} // repeats forever
	reg := toolkit.NewRegistry()
	if err := reg.Register(echoTool{}); err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.MaxIterations = 3
	loop := newTestLoop(t, reg, p, cfg)

	res, err := loop.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusMaxIterations {
		t.Fatalf("status = %q, want max_iterations", res.Status)
	}
	if res.Iterations != 3 {
		t.Fatalf("iterations = %d, want 3", res.Iterations)
	}
}

func TestMonetaryCapStopsLoop(t *testing.T) {
	block := gadgetBlock("Echo", "e1", "message", "again")
	p := &scriptedProvider{responses: []string{block}}
	reg := toolkit.NewRegistry()
	if err := reg.Register(echoTool{}); err != nil {
		t.Fatal(err)
	}

	providers := provider.NewRegistry(p)
	store := convo.New(nil, nil)
	tree := events.NewTree("test-run", nil)
	led := ledger.New("test-run", ledger.DefaultConfig(), nil)
	ser := blockparse.NewSerializer(blockparse.DefaultConfig())
	cfg := DefaultConfig()
	cfg.MonetaryCapUSD = 0.000001 // first LLM call already exceeds this
	loop := New(providers, testDescriptor(), reg, nil, store, tree, led, nil, ser, cfg)

	res, err := loop.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusBudgetExceeded {
		t.Fatalf("status = %q, want budget_exceeded", res.Status)
	}
}

func TestAbortStopsLoop(t *testing.T) {
	block := gadgetBlock("Echo", "e1", "message", "again")
	p := &scriptedProvider{responses: []string{block}}
	reg := toolkit.NewRegistry()
	if err := reg.Register(echoTool{}); err != nil {
		t.Fatal(err)
	}
	loop := newTestLoop(t, reg, p, DefaultConfig())
	loop.Abort()

	res, err := loop.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusAborted {
		t.Fatalf("status = %q, want aborted", res.Status)
	}
	if p.calls != 0 {
		t.Fatalf("provider should never have been called once aborted, got %d calls", p.calls)
	}
}

type failingTool struct{}

func (failingTool) Spec() toolkit.ToolSpec { return toolkit.ToolSpec{Name: "Boom"} }
func (failingTool) Execute(ctx context.Context, params json.RawMessage) (toolkit.Outcome, error) {
	return toolkit.Outcome{}, errExplode
}

var errExplode = &explodeError{}

type explodeError struct{}

func (*explodeError) Error() string { return "explode" }

func TestStopOnGadgetErrorBreaksLoop(t *testing.T) {
	block := gadgetBlock("Boom", "b1", "x", "y")
	p := &scriptedProvider{responses: []string{block, "should never be reached"}}
	reg := toolkit.NewRegistry()
	if err := reg.Register(failingTool{}); err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.StopOnGadgetError = true
	loop := newTestLoop(t, reg, p, cfg)

	res, err := loop.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusGadgetError {
		t.Fatalf("status = %q, want gadget_error", res.Status)
	}
	if res.Iterations != 1 {
		t.Fatalf("iterations = %d, want 1", res.Iterations)
	}
	if p.calls != 1 {
		t.Fatalf("provider called %d times, want 1 (loop should have stopped)", p.calls)
	}
}

func TestGadgetErrorContinuesByDefault(t *testing.T) {
	block := gadgetBlock("Boom", "b1", "x", "y")
	p := &scriptedProvider{responses: []string{block, "recovered and done"}}
	reg := toolkit.NewRegistry()
	if err := reg.Register(failingTool{}); err != nil {
		t.Fatal(err)
	}
	loop := newTestLoop(t, reg, p, DefaultConfig())

	res, err := loop.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed (error fed back as an observation)", res.Status)
	}
	if res.Iterations != 2 {
		t.Fatalf("iterations = %d, want 2", res.Iterations)
	}
}
