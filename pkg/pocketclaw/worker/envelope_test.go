package worker

import (
	"errors"
	"reflect"
	"testing"
)

func TestOutboundCodec_PreservesKindAndID(t *testing.T) {
	t.Parallel()

	h := Header{ID: "inv-1", GroupID: "tg:42"}
	envelopes := []Outbound{
		Response{Header: h, Text: "hi"},
		Error{Header: h, Message: "boom"},
		CompactDone{Header: h, Summary: "sum"},
		Typing{Header: h},
		ToolActivity{Header: h, Tool: "schedule_task", Status: "running"},
		ThinkingLog{Header: h, Entry: "calling model"},
		TaskCreated{Header: h, Task: TaskSpec{GroupID: "tg:42", Schedule: "@daily", Prompt: "news"}},
		TokenUsage{Header: h, Provider: "anthropic", Model: "m", InputTokens: 10, OutputTokens: 2},
	}
	for _, env := range envelopes {
		data, err := EncodeOutbound(env)
		if err != nil {
			t.Fatalf("encode %s: %v", env.Kind(), err)
		}
		got, err := DecodeOutbound(data)
		if err != nil {
			t.Fatalf("decode %s: %v", env.Kind(), err)
		}
		if !reflect.DeepEqual(got, env) {
			t.Errorf("%s: got %#v, want %#v", env.Kind(), got, env)
		}
	}
}

func TestTerminalKinds(t *testing.T) {
	t.Parallel()

	terminal := map[Kind]bool{KindResponse: true, KindError: true, KindCompactDone: true}
	for _, env := range []Outbound{Response{}, Error{}, CompactDone{}, Typing{}, ToolActivity{}, ThinkingLog{}, TaskCreated{}, TokenUsage{}} {
		if env.Terminal() != terminal[env.Kind()] {
			t.Errorf("%s.Terminal() = %v", env.Kind(), env.Terminal())
		}
	}
}

func TestDecodeOutbound_Errors(t *testing.T) {
	t.Parallel()

	if _, err := DecodeOutbound([]byte(`{"kind":"telepathy","id":"x","payload":{}}`)); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("unknown kind err = %v", err)
	}
	if _, err := DecodeOutbound([]byte(`not json`)); err == nil {
		t.Error("expected error for garbage")
	}
	if _, err := DecodeOutbound([]byte(`{"kind":"response","id":"x","payload":{"text":5}}`)); err == nil {
		t.Error("expected error for mistyped payload")
	}
}

func TestInboundCodec(t *testing.T) {
	t.Parallel()

	in := Inbound{Kind: KindCompact, ID: "inv-2", Request: Request{
		GroupID:  "br:main",
		Messages: []ChatMessage{{Role: RoleUser, Content: "hello"}},
		Provider: "ollama",
	}}
	data, err := EncodeInbound(in)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeInbound(data)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, in) {
		t.Errorf("got %+v, want %+v", got, in)
	}

	cancel, err := EncodeInbound(Inbound{Kind: KindCancel, ID: "inv-2", Request: Request{GroupID: "dropped"}})
	if err != nil {
		t.Fatal(err)
	}
	if got, err := DecodeInbound(cancel); err != nil || got.Kind != KindCancel || got.ID != "inv-2" || got.Request.GroupID != "" {
		t.Errorf("cancel round trip = %+v, %v", got, err)
	}

	if _, err := EncodeInbound(Inbound{Kind: KindResponse}); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("encode outbound kind as inbound: err = %v", err)
	}
	if _, err := DecodeInbound([]byte(`{"kind":"response","id":"x"}`)); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("decode outbound kind as inbound: err = %v", err)
	}
}
