package hooks

import "github.com/haasonsaas/agentrun/pkg/agentmsg"

// HookSet bundles every lifecycle attachment point. A nil *HookSet
// anywhere it's accepted behaves as an empty set.
type HookSet struct {
	// LLM call.
	OnLLMCallStart            Observers[LLMCallEvent]
	BeforeLLMCall             Controllers[LLMCallEvent]
	OnLLMCallReady            Observers[LLMCallEvent]
	InterceptRawChunk         Interceptors[string]
	InterceptTextChunk        Interceptors[string]
	AfterLLMCall              Controllers[LLMCallResult]
	InterceptAssistantMessage Interceptors[agentmsg.Message]
	OnLLMCallComplete         Observers[LLMCallResult]
	OnLLMCallError            Observers[LLMCallError]

	// Tool call.
	InterceptGadgetParameters Interceptors[map[string]any]
	BeforeGadgetExecution     Controllers[GadgetCallEvent]
	OnGadgetExecutionStart    Observers[GadgetCallEvent]
	InterceptGadgetResult     Interceptors[agentmsg.ToolResult]
	AfterGadgetExecution      Controllers[GadgetResultEvent]
	OnGadgetExecutionComplete Observers[GadgetResultEvent]
	OnGadgetSkipped           Observers[GadgetSkippedEvent]
	OnDependencySkipped       Controllers[GadgetSkippedEvent]

	// Loop.
	OnCompaction Observers[CompactionEvent]
	OnAbort      Observers[AbortEvent]
}

// New returns an empty HookSet ready for Register calls on its fields.
func New() *HookSet { return &HookSet{} }

// Merge composes two HookSets into a fresh one where, for every named
// attachment point, both sides' callbacks are present: observers as the
// concatenated multiset, interceptors and controllers in a followed by b,
// registration order preserved. Merge is associative: merge(merge(a,b),c)
// and merge(a,merge(b,c)) register the same functions for every callback,
// in the same order.
func Merge(a, b *HookSet) *HookSet {
	if a == nil {
		a = New()
	}
	if b == nil {
		b = New()
	}
	out := New()
	mergeObservers(&out.OnLLMCallStart, &a.OnLLMCallStart, &b.OnLLMCallStart)
	mergeControllers(&out.BeforeLLMCall, &a.BeforeLLMCall, &b.BeforeLLMCall)
	mergeObservers(&out.OnLLMCallReady, &a.OnLLMCallReady, &b.OnLLMCallReady)
	mergeInterceptors(&out.InterceptRawChunk, &a.InterceptRawChunk, &b.InterceptRawChunk)
	mergeInterceptors(&out.InterceptTextChunk, &a.InterceptTextChunk, &b.InterceptTextChunk)
	mergeControllers(&out.AfterLLMCall, &a.AfterLLMCall, &b.AfterLLMCall)
	mergeInterceptors(&out.InterceptAssistantMessage, &a.InterceptAssistantMessage, &b.InterceptAssistantMessage)
	mergeObservers(&out.OnLLMCallComplete, &a.OnLLMCallComplete, &b.OnLLMCallComplete)
	mergeObservers(&out.OnLLMCallError, &a.OnLLMCallError, &b.OnLLMCallError)

	mergeInterceptors(&out.InterceptGadgetParameters, &a.InterceptGadgetParameters, &b.InterceptGadgetParameters)
	mergeControllers(&out.BeforeGadgetExecution, &a.BeforeGadgetExecution, &b.BeforeGadgetExecution)
	mergeObservers(&out.OnGadgetExecutionStart, &a.OnGadgetExecutionStart, &b.OnGadgetExecutionStart)
	mergeInterceptors(&out.InterceptGadgetResult, &a.InterceptGadgetResult, &b.InterceptGadgetResult)
	mergeControllers(&out.AfterGadgetExecution, &a.AfterGadgetExecution, &b.AfterGadgetExecution)
	mergeObservers(&out.OnGadgetExecutionComplete, &a.OnGadgetExecutionComplete, &b.OnGadgetExecutionComplete)
	mergeObservers(&out.OnGadgetSkipped, &a.OnGadgetSkipped, &b.OnGadgetSkipped)
	mergeControllers(&out.OnDependencySkipped, &a.OnDependencySkipped, &b.OnDependencySkipped)

	mergeObservers(&out.OnCompaction, &a.OnCompaction, &b.OnCompaction)
	mergeObservers(&out.OnAbort, &a.OnAbort, &b.OnAbort)
	return out
}

// ObserverCounts returns the number of registered observers per
// attachment point, used by tests asserting Merge's associativity over
// the observer multiset.
func (h *HookSet) ObserverCounts() map[string]int {
	return map[string]int{
		"onLLMCallStart":            h.OnLLMCallStart.count(),
		"onLLMCallReady":            h.OnLLMCallReady.count(),
		"onLLMCallComplete":         h.OnLLMCallComplete.count(),
		"onLLMCallError":            h.OnLLMCallError.count(),
		"onGadgetExecutionStart":    h.OnGadgetExecutionStart.count(),
		"onGadgetExecutionComplete": h.OnGadgetExecutionComplete.count(),
		"onGadgetSkipped":           h.OnGadgetSkipped.count(),
		"onCompaction":              h.OnCompaction.count(),
		"onAbort":                   h.OnAbort.count(),
	}
}
