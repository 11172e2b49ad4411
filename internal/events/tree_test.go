package events

import (
	"context"
	"testing"
)

func collectSink() (*[]Event, Sink) {
	var events []Event
	return &events, SinkFunc(func(e Event) { events = append(events, e) })
}

func TestEmitMonotonicEventIDs(t *testing.T) {
	got, sink := collectSink()
	tree := NewTree("run-1", sink)
	_, root := tree.Root(context.Background())

	tree.Emit(root, KindLLMCallStart, nil)
	tree.Emit(root, KindText, "hello")
	tree.Emit(root, KindLLMCallComplete, nil)

	if len(*got) != 3 {
		t.Fatalf("sink received %d events, want 3", len(*got))
	}
	for i := 1; i < len(*got); i++ {
		if (*got)[i].ID <= (*got)[i-1].ID {
			t.Fatalf("event ids not monotonic: %d then %d", (*got)[i-1].ID, (*got)[i].ID)
		}
	}
}

func TestChildDepthAndPath(t *testing.T) {
	tree := NewTree("run-2", nil)
	ctx, root := tree.Root(context.Background())

	ctx, iter := tree.Child(ctx, root, NodeIteration, "iteration.0")
	_, call := tree.Child(ctx, iter, NodeToolCall, "gadget.Echo")

	if root.Depth != 0 || iter.Depth != 1 || call.Depth != 2 {
		t.Fatalf("depths = %d/%d/%d, want 0/1/2", root.Depth, iter.Depth, call.Depth)
	}
	if iter.ParentID != root.ID || call.ParentID != iter.ID {
		t.Fatal("parent ids do not form a chain")
	}
	if len(call.Path) != 3 || call.Path[0] != root.ID || call.Path[1] != iter.ID || call.Path[2] != call.ID {
		t.Fatalf("path = %v, want root->iter->call", call.Path)
	}
}

func TestEmitCarriesNodeCoordinates(t *testing.T) {
	got, sink := collectSink()
	tree := NewTree("run-3", sink)
	ctx, root := tree.Root(context.Background())
	_, iter := tree.Child(ctx, root, NodeIteration, "iteration.0")

	tree.Emit(iter, KindGadgetCall, "payload")

	ev := (*got)[0]
	if ev.NodeID != iter.ID || ev.ParentID != root.ID || ev.Depth != 1 {
		t.Fatalf("event coordinates = %+v, want iter node under root", ev)
	}
	if ev.Kind != KindGadgetCall || ev.Payload != "payload" {
		t.Fatalf("event content = %+v", ev)
	}
}

func TestEndStampsNode(t *testing.T) {
	tree := NewTree("run-4", nil)
	ctx, root := tree.Root(context.Background())
	if !root.Ended.IsZero() {
		t.Fatal("node should not be ended at creation")
	}
	tree.End(ctx, &root)
	if root.Ended.IsZero() {
		t.Fatal("End must stamp the node's end time")
	}
}

func TestWithNodeRoundTrip(t *testing.T) {
	tree := NewTree("run-5", nil)
	_, root := tree.Root(context.Background())

	ctx := WithNode(context.Background(), root)
	got, ok := NodeFromContext(ctx)
	if !ok || got.ID != root.ID {
		t.Fatalf("NodeFromContext = (%+v, %v), want the stashed node", got, ok)
	}

	if _, ok := NodeFromContext(context.Background()); ok {
		t.Fatal("bare context must carry no node")
	}
}

func TestConfigureTracingNoEndpointIsNoop(t *testing.T) {
	shutdown, err := ConfigureTracing(TracingConfig{})
	if err != nil {
		t.Fatalf("ConfigureTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
