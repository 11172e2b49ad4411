// Package ledger implements the cost/usage ledger: running totals
// of token usage and monetary cost across one run, exposed as
// Prometheus gauges for scrape-based monitoring.
package ledger

import (
	"sync"

	"github.com/haasonsaas/agentrun/internal/catalog"
	"github.com/haasonsaas/agentrun/internal/provider"
	"github.com/prometheus/client_golang/prometheus"
)

// Usage records one call's token consumption. TotalTokens is always
// InputTokens+OutputTokens; cached/reasoning fields are informational
// add-ons some providers report.
type Usage struct {
	InputTokens              int
	OutputTokens             int
	CachedInputTokens        int
	CacheCreationInputTokens int
	ReasoningTokens          int
}

// TotalTokens returns InputTokens+OutputTokens.
func (u Usage) TotalTokens() int { return u.InputTokens + u.OutputTokens }

// Add accumulates other into u in place.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CachedInputTokens += other.CachedInputTokens
	u.CacheCreationInputTokens += other.CacheCreationInputTokens
	u.ReasoningTokens += other.ReasoningTokens
}

// FromProviderUsage converts the provider package's wire-shaped Usage
// into the ledger's accumulator type.
func FromProviderUsage(u *provider.Usage) Usage {
	if u == nil {
		return Usage{}
	}
	return Usage{
		InputTokens:              u.InputTokens,
		OutputTokens:             u.OutputTokens,
		CachedInputTokens:        u.CachedInputTokens,
		CacheCreationInputTokens: u.CacheCreationInputTokens,
		ReasoningTokens:          u.ReasoningTokens,
	}
}

// Config controls cost-accounting policy decisions.
type Config struct {
	// SubtractCachedFromBilled controls whether CachedInputTokens are
	// subtracted from the billed input-token count before pricing.
	// Default false, reflecting vendor invoice semantics (see DESIGN.md).
	SubtractCachedFromBilled bool
}

// DefaultConfig returns the accounting defaults.
func DefaultConfig() Config { return Config{SubtractCachedFromBilled: false} }

// Ledger accumulates usage and monetary cost across a single run. A
// Ledger is safe for concurrent use: the dispatcher's worker pool
// reports tool costs concurrently with the loop recording LLM usage.
type Ledger struct {
	mu      sync.Mutex
	cfg     Config
	usage   Usage
	llmUSD  float64
	toolUSD float64

	tokensGauge prometheus.Gauge
	costGauge   prometheus.Gauge
}

// New returns an empty Ledger. runID is used as a constant label on the
// Prometheus gauges so multiple concurrent runs don't collide when
// registered against a shared registerer; pass a nil registerer to skip
// metrics registration entirely (e.g. in tests).
func New(runID string, cfg Config, reg prometheus.Registerer) *Ledger {
	l := &Ledger{cfg: cfg}
	l.tokensGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "agentrun",
		Subsystem:   "ledger",
		Name:        "total_tokens",
		Help:        "Running total token count for one run.",
		ConstLabels: prometheus.Labels{"run_id": runID},
	})
	l.costGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "agentrun",
		Subsystem:   "ledger",
		Name:        "total_cost_usd",
		Help:        "Running total monetary cost (USD) for one run.",
		ConstLabels: prometheus.Labels{"run_id": runID},
	})
	if reg != nil {
		_ = reg.Register(l.tokensGauge)
		_ = reg.Register(l.costGauge)
	}
	return l
}

// RecordLLM folds one iteration's usage into the ledger and prices it
// against model, accumulating the USD cost.
func (l *Ledger) RecordLLM(model catalog.Model, u Usage) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.usage.Add(u)

	billedInput := u.InputTokens
	if l.cfg.SubtractCachedFromBilled {
		billedInput -= u.CachedInputTokens
		if billedInput < 0 {
			billedInput = 0
		}
	}
	l.llmUSD += model.EstimatedCost(billedInput, u.OutputTokens, u.CachedInputTokens)
	l.publishLocked()
}

// RecordToolCost folds a tool-reported monetary cost into the ledger.
func (l *Ledger) RecordToolCost(usd float64) {
	if usd == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.toolUSD += usd
	l.publishLocked()
}

func (l *Ledger) publishLocked() {
	if l.tokensGauge != nil {
		l.tokensGauge.Set(float64(l.usage.TotalTokens()))
	}
	if l.costGauge != nil {
		l.costGauge.Set(l.llmUSD + l.toolUSD)
	}
}

// Totals returns the current accumulated usage and cost breakdown.
func (l *Ledger) Totals() (usage Usage, llmUSD, toolUSD float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.usage, l.llmUSD, l.toolUSD
}

// TotalCostUSD returns llmUSD+toolUSD.
func (l *Ledger) TotalCostUSD() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.llmUSD + l.toolUSD
}

// ExceedsCap reports whether the run's total cost has reached capUSD.
// capUSD <= 0 means no cap is configured.
func (l *Ledger) ExceedsCap(capUSD float64) bool {
	if capUSD <= 0 {
		return false
	}
	return l.TotalCostUSD() >= capUSD
}
