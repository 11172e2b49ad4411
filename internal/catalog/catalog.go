// Package catalog implements model identifier parsing and the static model
// catalog: context window, output cap, pricing, and feature flags for
// known provider:model identifiers.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrInvalidIdentifier is returned by Parse when id has no name component.
var ErrInvalidIdentifier = errors.New("catalog: invalid model identifier")

// Identifier is a parsed provider:name pair.
type Identifier struct {
	Provider string
	Name     string
}

// String renders the canonical "provider:name" form.
func (id Identifier) String() string {
	if id.Provider == "" {
		return id.Name
	}
	return id.Provider + ":" + id.Name
}

// Parse accepts "provider:name" or a bare alias and returns its parts.
// Parse never resolves aliases itself (that's the Catalog's job); it only
// validates the lexical shape.
func Parse(id string) (Identifier, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Identifier{}, fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}
	if provider, name, ok := strings.Cut(id, ":"); ok {
		name = strings.TrimSpace(name)
		if name == "" {
			return Identifier{}, fmt.Errorf("%w: %q has no name", ErrInvalidIdentifier, id)
		}
		return Identifier{Provider: strings.TrimSpace(provider), Name: name}, nil
	}
	return Identifier{Name: id}, nil
}

// Pricing holds per-million-token prices in USD, mirroring vendor invoices.
type Pricing struct {
	InputPerMTok         float64
	OutputPerMTok        float64
	CachedInputPerMTok   float64
	CacheCreationPerMTok float64
}

// Features is the set of capability flags callers query before using a
// model for a given purpose.
type Features struct {
	Streaming       bool
	Vision          bool
	Reasoning       bool
	FunctionCalling bool
}

// Model is one catalog entry.
type Model struct {
	ID              Identifier
	DisplayName     string
	ContextWindow   int
	MaxOutputTokens int
	Pricing         Pricing
	Features        Features
	Metadata        map[string]string
	Aliases         []string
	Deprecated      bool
}

// Unknown is the sentinel returned by Lookup on a catalog miss. Callers
// must treat its token caps as "use the provider's default" rather than a
// hard limit.
var Unknown = Model{
	DisplayName:   "unknown",
	ContextWindow: 0,
	Metadata:      map[string]string{"unknown": "true"},
}

// IsUnknown reports whether m is the Unknown sentinel.
func IsUnknown(m Model) bool { return m.Metadata["unknown"] == "true" }

// Catalog is a thread-safe registry of Models, looked up by identifier or
// alias.
type Catalog struct {
	mu      sync.RWMutex
	models  map[string]*Model // key: provider:name
	aliases map[string]string // alias -> provider:name
}

// New returns an empty catalog. Use Register to populate it; the
// core deliberately ships with no built-in vendor pricing data since
// concrete vendor integrations are out of scope; callers wire in the
// models relevant to their deployment.
func New() *Catalog {
	return &Catalog{
		models:  make(map[string]*Model),
		aliases: make(map[string]string),
	}
}

// Register adds or replaces a Model, indexing its aliases.
func (c *Catalog) Register(m Model) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := m.ID.String()
	cp := m
	c.models[key] = &cp
	for _, alias := range m.Aliases {
		c.aliases[alias] = key
	}
}

// Lookup resolves id (already Parse'd) or the legacy bare-string form,
// returning Unknown on a miss.
func (c *Catalog) Lookup(id Identifier) Model {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if m, ok := c.models[id.String()]; ok {
		return *m
	}
	// Bare-name fallback: try the name alone as a key (provider omitted),
	// then as an alias.
	if id.Provider == "" {
		if m, ok := c.models[id.Name]; ok {
			return *m
		}
		if key, ok := c.aliases[id.Name]; ok {
			if m, ok := c.models[key]; ok {
				return *m
			}
		}
	}
	return Unknown
}

// Get parses and looks up id in one call.
func (c *Catalog) Get(id string) (Model, error) {
	parsed, err := Parse(id)
	if err != nil {
		return Model{}, err
	}
	return c.Lookup(parsed), nil
}

// Filter narrows List by provider, required features, and minimum context
// window.
type Filter struct {
	Provider               string
	RequireVision          bool
	RequireReasoning       bool
	RequireFunctionCalling bool
	MinContextWindow       int
	IncludeDeprecated      bool
}

func (f Filter) matches(m Model) bool {
	if f.Provider != "" && m.ID.Provider != f.Provider {
		return false
	}
	if f.RequireVision && !m.Features.Vision {
		return false
	}
	if f.RequireReasoning && !m.Features.Reasoning {
		return false
	}
	if f.RequireFunctionCalling && !m.Features.FunctionCalling {
		return false
	}
	if f.MinContextWindow > 0 && m.ContextWindow < f.MinContextWindow {
		return false
	}
	if m.Deprecated && !f.IncludeDeprecated {
		return false
	}
	return true
}

// List returns all models matching f, sorted by provider then name.
func (c *Catalog) List(f Filter) []Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Model, 0, len(c.models))
	for _, m := range c.models {
		if f.matches(*m) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID.Provider != out[j].ID.Provider {
			return out[i].ID.Provider < out[j].ID.Provider
		}
		return out[i].ID.Name < out[j].ID.Name
	})
	return out
}

// EstimatedCost computes the USD cost of a completion given token counts.
// cachedInput tokens are billed at CachedInputPerMTok but are not
// subtracted from input when the ledger's SubtractCachedFromBilled
// config (carried by the ledger, not here) is false.
func (m Model) EstimatedCost(inputTokens, outputTokens, cachedInputTokens int) float64 {
	const million = 1_000_000.0
	cost := float64(inputTokens) / million * m.Pricing.InputPerMTok
	cost += float64(outputTokens) / million * m.Pricing.OutputPerMTok
	cost += float64(cachedInputTokens) / million * m.Pricing.CachedInputPerMTok
	return cost
}
