// Package convo implements the conversation store: an ordered
// message log split into base (system prompt + tool instructions),
// initial (caller-supplied history), and appended (everything the loop
// writes) regions. Only the appended region is ever written to after
// construction. Besides the agent loop, the dispatcher appends tool-call
// records through AppendToolRecord; it does so only after every call of
// an iteration has finished, one record per call in parse order.
package convo

import (
	"sync"

	"github.com/haasonsaas/agentrun/pkg/agentmsg"
)

// Store holds one run's conversation. The zero value is not usable; use
// New.
type Store struct {
	mu       sync.Mutex
	base     []agentmsg.Message
	initial  []agentmsg.Message
	appended []agentmsg.Message
}

// New returns a Store seeded with base (system prompt + tool
// instructions, built once at agent construction) and initial
// (caller-supplied history). Neither region is ever compacted or
// mutated afterward.
func New(base, initial []agentmsg.Message) *Store {
	return &Store{
		base:    append([]agentmsg.Message(nil), base...),
		initial: append([]agentmsg.Message(nil), initial...),
	}
}

// GetMessages returns the concatenation of base, initial, and appended,
// in that order. The returned slice is a fresh copy safe for the caller
// to retain.
func (s *Store) GetMessages() []agentmsg.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]agentmsg.Message, 0, len(s.base)+len(s.initial)+len(s.appended))
	out = append(out, s.base...)
	out = append(out, s.initial...)
	out = append(out, s.appended...)
	return out
}

// Append adds messages to the appended region, in order.
func (s *Store) Append(msgs ...agentmsg.Message) {
	if len(msgs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appended = append(s.appended, msgs...)
}

// AppendToolRecord appends one tool-call record (the call message then
// the result message) for a single invocation. The dispatcher calls this
// once per ToolCall in parse order, not completion order, so the
// model always sees a stable transcript regardless of how the worker
// pool actually finished the calls.
func (s *Store) AppendToolRecord(call, result agentmsg.Message) {
	s.Append(call, result)
}

// BaseLen and InitialLen report region sizes; compaction strategies use
// these to determine which messages in GetMessages() are off-limits
// (base and initial are never compacted).
func (s *Store) BaseLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.base)
}

func (s *Store) InitialLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.initial)
}

// ReplaceAppended atomically swaps the appended region, used by the
// compactor to install a shrunk conversation tail without disturbing
// base/initial. The caller (the agent loop) hands compaction strategies
// only the messages after the first BaseLen()+InitialLen() entries of
// GetMessages(), and installs the strategy's output here unchanged.
func (s *Store) ReplaceAppended(msgs []agentmsg.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appended = append([]agentmsg.Message(nil), msgs...)
}

// Snapshot returns copies of all three regions independently, for
// callers (tests, persistence) that need to distinguish them.
func (s *Store) Snapshot() (base, initial, appended []agentmsg.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]agentmsg.Message(nil), s.base...),
		append([]agentmsg.Message(nil), s.initial...),
		append([]agentmsg.Message(nil), s.appended...)
}
