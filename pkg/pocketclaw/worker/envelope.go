// Package worker – envelope.go defines the messages exchanged across the
// worker boundary. Every envelope is serialized when it crosses, so the
// coordinator and the worker never share memory.
//
// Wire form: {"kind": "...", "id": "<invocation id>", "payload": {...}}.
package worker

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind tags an envelope.
type Kind string

// Inbound kinds (coordinator → worker). Cancel carries only the ID of the
// invocation to abandon.
const (
	KindInvoke  Kind = "invoke"
	KindCompact Kind = "compact"
	KindCancel  Kind = "cancel"
)

// Outbound kinds (worker → coordinator). Response, Error and CompactDone
// are terminal; the rest are progress.
const (
	KindResponse     Kind = "response"
	KindError        Kind = "error"
	KindCompactDone  Kind = "compact-done"
	KindTyping       Kind = "typing"
	KindToolActivity Kind = "tool-activity"
	KindThinkingLog  Kind = "thinking-log"
	KindTaskCreated  Kind = "task-created"
	KindTokenUsage   Kind = "token-usage"
)

// ErrUnknownKind is returned when decoding an envelope of an unknown kind.
var ErrUnknownKind = errors.New("unknown envelope kind")

// ChatMessage is one turn of the conversation handed to the model.
type ChatMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Request is the payload of invoke and compact envelopes. It carries
// everything the worker needs; the worker reads no shared state.
type Request struct {
	GroupID      string        `json:"group_id"`
	SystemPrompt string        `json:"system_prompt"`
	Messages     []ChatMessage `json:"messages"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	MaxTokens    int           `json:"max_tokens"`
	APIKey       string        `json:"api_key,omitempty"`
	OllamaURL    string        `json:"ollama_url,omitempty"`
}

// Inbound is an envelope sent to the worker.
type Inbound struct {
	Kind    Kind    `json:"kind"`
	ID      string  `json:"id"`
	Request Request `json:"payload"`
}

// Outbound is an envelope emitted by the worker.
type Outbound interface {
	Kind() Kind
	InvocationID() string
	Terminal() bool
}

// Header carries the invocation ID shared by all outbound envelopes.
type Header struct {
	ID      string `json:"-"`
	GroupID string `json:"group_id"`
}

func (h Header) InvocationID() string { return h.ID }

func (h *Header) setID(id string) { h.ID = id }

// Response is the assistant reply for an invoke.
type Response struct {
	Header
	Text string `json:"text"`
}

// Error reports a failed invocation. It is terminal for both kinds.
type Error struct {
	Header
	Message string `json:"message"`
}

// CompactDone carries the summary produced for a compact request.
type CompactDone struct {
	Header
	Summary string `json:"summary"`
}

// Typing asks the coordinator to show the typing indicator.
type Typing struct {
	Header
}

// ToolActivity reports a tool the worker is running.
type ToolActivity struct {
	Header
	Tool   string `json:"tool"`
	Status string `json:"status"`
}

// ThinkingLog is a free-form progress line.
type ThinkingLog struct {
	Header
	Entry string `json:"entry"`
}

// TaskSpec describes a recurring task the assistant asked to create.
type TaskSpec struct {
	GroupID  string `json:"group_id"`
	Schedule string `json:"schedule"`
	Prompt   string `json:"prompt"`
}

// TaskCreated asks the coordinator to persist a task.
type TaskCreated struct {
	Header
	Task TaskSpec `json:"task"`
}

// TokenUsage reports model usage for the invocation.
type TokenUsage struct {
	Header
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

func (Response) Kind() Kind     { return KindResponse }
func (Error) Kind() Kind        { return KindError }
func (CompactDone) Kind() Kind  { return KindCompactDone }
func (Typing) Kind() Kind       { return KindTyping }
func (ToolActivity) Kind() Kind { return KindToolActivity }
func (ThinkingLog) Kind() Kind  { return KindThinkingLog }
func (TaskCreated) Kind() Kind  { return KindTaskCreated }
func (TokenUsage) Kind() Kind   { return KindTokenUsage }

func (Response) Terminal() bool     { return true }
func (Error) Terminal() bool        { return true }
func (CompactDone) Terminal() bool  { return true }
func (Typing) Terminal() bool       { return false }
func (ToolActivity) Terminal() bool { return false }
func (ThinkingLog) Terminal() bool  { return false }
func (TaskCreated) Terminal() bool  { return false }
func (TokenUsage) Terminal() bool   { return false }

type wireEnvelope struct {
	Kind    Kind            `json:"kind"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeInbound serializes an inbound envelope.
func EncodeInbound(in Inbound) ([]byte, error) {
	switch in.Kind {
	case KindInvoke, KindCompact:
	case KindCancel:
		in.Request = Request{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, in.Kind)
	}
	return json.Marshal(in)
}

// DecodeInbound parses an inbound envelope.
func DecodeInbound(data []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Inbound{}, fmt.Errorf("decode inbound envelope: %w", err)
	}
	switch in.Kind {
	case KindInvoke, KindCompact, KindCancel:
		return in, nil
	default:
		return Inbound{}, fmt.Errorf("%w: %q", ErrUnknownKind, in.Kind)
	}
}

// EncodeOutbound serializes an outbound envelope.
func EncodeOutbound(out Outbound) ([]byte, error) {
	payload, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", out.Kind(), err)
	}
	return json.Marshal(wireEnvelope{Kind: out.Kind(), ID: out.InvocationID(), Payload: payload})
}

// DecodeOutbound parses an outbound envelope into its concrete type.
func DecodeOutbound(data []byte) (Outbound, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode outbound envelope: %w", err)
	}

	var (
		out Outbound
		err error
	)
	switch w.Kind {
	case KindResponse:
		out, err = decodePayload[Response](w)
	case KindError:
		out, err = decodePayload[Error](w)
	case KindCompactDone:
		out, err = decodePayload[CompactDone](w)
	case KindTyping:
		out, err = decodePayload[Typing](w)
	case KindToolActivity:
		out, err = decodePayload[ToolActivity](w)
	case KindThinkingLog:
		out, err = decodePayload[ThinkingLog](w)
	case KindTaskCreated:
		out, err = decodePayload[TaskCreated](w)
	case KindTokenUsage:
		out, err = decodePayload[TokenUsage](w)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, w.Kind)
	}
	return out, err
}

// decodePayload unmarshals w's payload into T and restores the invocation
// ID, which travels in the envelope rather than in the payload.
func decodePayload[T any, P interface {
	*T
	Outbound
	setID(string)
}](w wireEnvelope) (Outbound, error) {
	p := P(new(T))
	if len(w.Payload) > 0 {
		if err := json.Unmarshal(w.Payload, p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", w.Kind, err)
		}
	}
	p.setID(w.ID)
	return any(*p).(Outbound), nil
}
