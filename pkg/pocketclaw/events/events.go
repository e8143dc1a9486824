// Package events – events.go defines the closed set of events the
// coordinator publishes for observers (web UI, console, tests).
//
// Each event kind has exactly one payload type. Observers subscribe by kind
// and type-switch (or use On) to read the payload.
package events

import "time"

// Kind identifies an event and, with it, the payload type.
type Kind string

const (
	KindStateChange      Kind = "state-change"
	KindMessage          Kind = "message"
	KindTyping           Kind = "typing"
	KindToolActivity     Kind = "tool-activity"
	KindThinkingLog      Kind = "thinking-log"
	KindError            Kind = "error"
	KindReady            Kind = "ready"
	KindSessionReset     Kind = "session-reset"
	KindContextCompacted Kind = "context-compacted"
	KindTokenUsage       Kind = "token-usage"
)

// Kinds lists every event kind in a stable order.
var Kinds = []Kind{
	KindStateChange,
	KindMessage,
	KindTyping,
	KindToolActivity,
	KindThinkingLog,
	KindError,
	KindReady,
	KindSessionReset,
	KindContextCompacted,
	KindTokenUsage,
}

// Event is implemented by every payload type in this package. The set is
// closed: the unexported method keeps other packages from adding kinds.
type Event interface {
	Kind() Kind
	event()
}

// StateChanged is published whenever the coordinator state moves.
type StateChanged struct {
	State    string `json:"state"`
	Previous string `json:"previous"`
}

// Message is published for every persisted chat message, inbound or outbound.
type Message struct {
	ID        string    `json:"id"`
	GroupID   string    `json:"group_id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	IsFromMe  bool      `json:"is_from_me"`
	IsTrigger bool      `json:"is_trigger"`
}

// Typing signals the assistant started or stopped composing a reply.
type Typing struct {
	GroupID string `json:"group_id"`
	Typing  bool   `json:"typing"`
}

// ToolActivity reports a tool the worker is running.
type ToolActivity struct {
	GroupID string `json:"group_id"`
	Tool    string `json:"tool"`
	Status  string `json:"status"`
}

// ThinkingLog carries a free-form progress line from the worker.
type ThinkingLog struct {
	GroupID string `json:"group_id"`
	Entry   string `json:"entry"`
}

// Error is a user-visible failure that did not become a chat reply.
type Error struct {
	GroupID string `json:"group_id,omitempty"`
	Message string `json:"message"`
}

// Ready is published once the coordinator finished starting.
type Ready struct{}

// SessionReset is published after a group's history was cleared.
type SessionReset struct {
	GroupID string `json:"group_id"`
}

// ContextCompacted is published after a group's history was replaced by a summary.
type ContextCompacted struct {
	GroupID string `json:"group_id"`
	Summary string `json:"summary"`
}

// TokenUsage reports the model usage of one worker invocation.
type TokenUsage struct {
	GroupID      string `json:"group_id"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

func (StateChanged) Kind() Kind     { return KindStateChange }
func (Message) Kind() Kind          { return KindMessage }
func (Typing) Kind() Kind           { return KindTyping }
func (ToolActivity) Kind() Kind     { return KindToolActivity }
func (ThinkingLog) Kind() Kind      { return KindThinkingLog }
func (Error) Kind() Kind            { return KindError }
func (Ready) Kind() Kind            { return KindReady }
func (SessionReset) Kind() Kind     { return KindSessionReset }
func (ContextCompacted) Kind() Kind { return KindContextCompacted }
func (TokenUsage) Kind() Kind       { return KindTokenUsage }

func (StateChanged) event()     {}
func (Message) event()          {}
func (Typing) event()           {}
func (ToolActivity) event()     {}
func (ThinkingLog) event()      {}
func (Error) event()            {}
func (Ready) event()            {}
func (SessionReset) event()     {}
func (ContextCompacted) event() {}
func (TokenUsage) event()       {}
