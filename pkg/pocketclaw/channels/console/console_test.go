package console

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels"
)

func TestParseCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line     string
		wantName string
		wantArgs string
		wantOK   bool
	}{
		{"/reset", "reset", "", true},
		{"/Compact now", "compact", "now", true},
		{"/remember  likes tea ", "remember", "likes tea", true},
		{"/", "", "", false},
		{"hello /reset", "", "", false},
	}

	for _, tt := range tests {
		name, args, ok := parseCommand(tt.line)
		if name != tt.wantName || args != tt.wantArgs || ok != tt.wantOK {
			t.Errorf("parseCommand(%q) = %q, %q, %v", tt.line, name, args, ok)
		}
	}
}

func TestHandleLine(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	c := New(Config{AssistantName: "Andy", Stdout: &out}, nil)

	var resetArgs string
	c.Handle("reset", func(_ context.Context, args string) bool {
		resetArgs = args
		return true
	})

	ctx := context.Background()
	if !c.handleLine(ctx, "  what time is it?  ") {
		t.Fatal("plain line should keep reading")
	}
	select {
	case msg := <-c.Receive():
		if msg.ChatID != ChatID || msg.Content != "what time is it?" || msg.Channel != "console" {
			t.Errorf("message = %+v", msg)
		}
	default:
		t.Fatal("no message emitted")
	}

	if !c.handleLine(ctx, "/reset all") || resetArgs != "all" {
		t.Errorf("reset handler args = %q", resetArgs)
	}
	if !c.handleLine(ctx, "/nope") || !strings.Contains(out.String(), "unknown command /nope") {
		t.Errorf("output = %q", out.String())
	}
	if c.handleLine(ctx, "/quit") {
		t.Error("/quit should stop the REPL")
	}
	if len(c.Receive()) != 0 {
		t.Error("commands must not become messages")
	}
}

func TestSend(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	c := New(Config{AssistantName: "Andy", Stdout: &out}, nil)

	if err := c.Send(context.Background(), ChatID, &channels.OutgoingMessage{Content: "hi"}); err != channels.ErrChannelDisconnected {
		t.Fatalf("Send before Connect = %v", err)
	}

	c.connected.Store(true)
	_ = c.SetTyping(context.Background(), ChatID, true)
	if err := c.Send(context.Background(), ChatID, &channels.OutgoingMessage{Content: "hi"}); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	if !strings.Contains(got, "Andy is thinking...") || !strings.Contains(got, "Andy: hi") {
		t.Errorf("output = %q", got)
	}
}
